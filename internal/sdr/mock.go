package sdr

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

// Burst records one Transmit call made against a MockRadio.
type Burst struct {
	Samples int
	Start   bool
	End     bool
}

// MockCalls counts the calls made against a MockRadio.
type MockCalls struct {
	Init, StartRX, StopRX, StartTX, StopTX, Receive, Transmit int
}

// MockRadio is an in-memory radio. Without a stream it receives low-level
// Gaussian noise; with one it loops over the stream chunk by chunk.
// ReceiveFunc and TransmitFunc override the default behaviour per call.
type MockRadio struct {
	mu     sync.Mutex
	cfg    Config
	stream []complex64
	pos    int
	rng    *rand.Rand
	calls  MockCalls
	bursts []Burst
	rxOn   bool
	txOn   bool

	// ReceiveFunc, when set, serves every Receive call. call counts from 0.
	ReceiveFunc func(call int, buf []complex64) (int, error)
	// TransmitFunc, when set, serves every Transmit call. call counts from 0.
	TransmitFunc func(call int, buf []complex64) (int, error)

	StartRXErr error
	StartTXErr error
	InitErr    error
}

func NewMock() *MockRadio { return &MockRadio{rng: rand.New(rand.NewSource(1))} }

// SetStream replaces the looped receive stream.
func (m *MockRadio) SetStream(samples []complex64) {
	m.mu.Lock()
	m.stream = append([]complex64(nil), samples...)
	m.pos = 0
	m.mu.Unlock()
}

func (m *MockRadio) Init(_ context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Init++
	m.cfg = cfg
	return m.InitErr
}

func (m *MockRadio) StartRX(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.StartRX++
	if m.StartRXErr != nil {
		return m.StartRXErr
	}
	m.rxOn = true
	return nil
}

func (m *MockRadio) StopRX() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.StopRX++
	m.rxOn = false
	return nil
}

func (m *MockRadio) Receive(buf []complex64) (int, error) {
	m.mu.Lock()
	call := m.calls.Receive
	m.calls.Receive++
	fn := m.ReceiveFunc
	on := m.rxOn
	m.mu.Unlock()

	if !on {
		return 0, errors.New("mock: receive while rx stream stopped")
	}
	if fn != nil {
		return fn(call, buf)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stream) == 0 {
		for i := range buf {
			buf[i] = complex(float32(m.rng.NormFloat64()*1e-4), float32(m.rng.NormFloat64()*1e-4))
		}
		return len(buf), nil
	}
	for i := range buf {
		buf[i] = m.stream[m.pos]
		m.pos = (m.pos + 1) % len(m.stream)
	}
	return len(buf), nil
}

func (m *MockRadio) StartTX(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.StartTX++
	if m.StartTXErr != nil {
		return m.StartTXErr
	}
	m.txOn = true
	return nil
}

func (m *MockRadio) StopTX() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.StopTX++
	m.txOn = false
	return nil
}

func (m *MockRadio) Transmit(buf []complex64, start, end bool) (int, error) {
	m.mu.Lock()
	call := m.calls.Transmit
	m.calls.Transmit++
	fn := m.TransmitFunc
	on := m.txOn
	m.mu.Unlock()

	if !on {
		return 0, errors.New("mock: transmit while tx stream stopped")
	}
	n := len(buf)
	if fn != nil {
		var err error
		if n, err = fn(call, buf); err != nil {
			return n, err
		}
	}
	m.mu.Lock()
	m.bursts = append(m.bursts, Burst{Samples: n, Start: start, End: end})
	m.mu.Unlock()
	return n, nil
}

func (m *MockRadio) Close() error { return nil }

// Calls returns a snapshot of the call counters.
func (m *MockRadio) Calls() MockCalls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Bursts returns a copy of the successful transmissions.
func (m *MockRadio) Bursts() []Burst {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Burst(nil), m.bursts...)
}

// Config returns the configuration passed to Init.
func (m *MockRadio) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}
