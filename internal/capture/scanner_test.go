package capture

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
)

const testRate = 192e3 // 192-sample chunks, 1920-sample windows

// tickClock advances by step on every reading.
type tickClock struct {
	t      time.Time
	step   time.Duration
	sleeps []time.Duration
}

func (c *tickClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func (c *tickClock) sleep(_ context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

// scriptedEngine records every window it is asked to search.
type scriptedEngine struct {
	windows [][]complex64
	foundAt int // 1-based search that reports a match; 0 never
}

func (e *scriptedEngine) Init(config.SSB, float64, float64) error { return nil }
func (e *scriptedEngine) Scan(w []complex64, target *uint32) phy.Detection {
	e.windows = append(e.windows, append([]complex64(nil), w...))
	if len(e.windows) == e.foundAt {
		return phy.Detection{Found: true, PCI: 1}
	}
	return phy.Detection{}
}
func (e *scriptedEngine) Encode(phy.MIB, uint32, bool) (phy.Message, error) {
	return phy.Message{}, nil
}
func (e *scriptedEngine) Synthesize(uint32, phy.Message, uint32) ([]complex64, error) {
	return nil, nil
}
func (e *scriptedEngine) SubframeSamples() int { return 0 }

func newTestScanner(radio sdr.Radio, engine phy.Engine, opts Options) (*Scanner, *tickClock) {
	if opts.SampleRateHz == 0 {
		opts.SampleRateHz = testRate
	}
	if opts.Budget == 0 {
		opts.Budget = time.Hour
	}
	clock := &tickClock{t: time.Unix(0, 0), step: time.Millisecond}
	s := NewScanner(radio, engine, logging.Nop(), opts)
	s.FlushChunks = 0
	s.Now = clock.now
	s.Sleep = clock.sleep
	return s, clock
}

func startedMock() *sdr.MockRadio {
	m := sdr.NewMock()
	_ = m.Init(context.Background(), sdr.Config{SampleRateHz: testRate})
	return m
}

func TestWindowAppendClipsToCapacity(t *testing.T) {
	w := NewWindow(10)
	if n := w.Append(make([]complex64, 6)); n != 6 || w.Full() {
		t.Fatalf("first append n=%d full=%v", n, w.Full())
	}
	if n := w.Append(make([]complex64, 6)); n != 4 || !w.Full() {
		t.Fatalf("second append n=%d full=%v", n, w.Full())
	}
	if n := w.Append(make([]complex64, 1)); n != 0 || w.Len() != 10 {
		t.Fatalf("append to full window n=%d len=%d", n, w.Len())
	}
	w.Reset()
	if w.Len() != 0 || w.Cap() != 10 {
		t.Fatalf("reset: len=%d cap=%d", w.Len(), w.Cap())
	}
}

func TestScanSearchesOnlyFullWindows(t *testing.T) {
	radio := startedMock()
	radio.ReceiveFunc = func(call int, buf []complex64) (int, error) {
		for i := range buf[:150] {
			buf[i] = complex(float32(call), 0)
		}
		return 150, nil
	}
	engine := &scriptedEngine{foundAt: 3}
	s, _ := newTestScanner(radio, engine, Options{})

	det, st, err := s.Scan(context.Background())
	if err != nil || !det.Found {
		t.Fatalf("scan: det=%+v err=%v", det, err)
	}
	// 12 full chunks (1800) plus 120 of the 13th fill each window
	if st.Searches != 3 || st.Receives != 39 {
		t.Fatalf("searches=%d receives=%d", st.Searches, st.Receives)
	}
	if st.SamplesDropped != 3*30 {
		t.Fatalf("dropped=%d", st.SamplesDropped)
	}
	for i, w := range engine.windows {
		if len(w) != 1920 {
			t.Fatalf("window %d has %d samples", i, len(w))
		}
		// each window starts with the first chunk received after the reset
		if got := real(w[0]); got != float32(13*i) {
			t.Fatalf("window %d starts with chunk %v, want %d", i, got, 13*i)
		}
	}
	if c := radio.Calls(); c.StopRX != 1 {
		t.Fatalf("StopRX called %d times", c.StopRX)
	}
}

func TestScanRetriesTransientMisses(t *testing.T) {
	radio := startedMock()
	radio.ReceiveFunc = func(call int, buf []complex64) (int, error) {
		switch call % 4 {
		case 1:
			return 0, nil
		case 2:
			return -1, errors.New("overflow")
		}
		return len(buf), nil
	}
	engine := &scriptedEngine{foundAt: 1}
	s, clock := newTestScanner(radio, engine, Options{})

	_, st, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if st.Receives != 10 || st.Misses != 10 {
		t.Fatalf("receives=%d misses=%d", st.Receives, st.Misses)
	}
	retries := 0
	for _, d := range clock.sleeps {
		if d == RetryDelay {
			retries++
		}
	}
	if retries != 10 {
		t.Fatalf("retry sleeps = %d", retries)
	}
}

func TestScanTimeoutStopsRX(t *testing.T) {
	radio := startedMock()
	engine := &scriptedEngine{}
	s, _ := newTestScanner(radio, engine, Options{Budget: 100 * time.Millisecond})

	_, st, err := s.Scan(context.Background())
	if !errors.Is(err, ErrScanTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if st.Elapsed <= 100*time.Millisecond {
		t.Fatalf("elapsed %v within budget", st.Elapsed)
	}
	if c := radio.Calls(); c.StartRX != 1 || c.StopRX != 1 {
		t.Fatalf("calls %+v", c)
	}
}

func TestScanCancellationExitsWithinOneIteration(t *testing.T) {
	radio := startedMock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	radio.ReceiveFunc = func(call int, buf []complex64) (int, error) {
		if call == 4 {
			cancel()
		}
		return len(buf), nil
	}
	s, _ := newTestScanner(radio, &scriptedEngine{}, Options{})

	_, _, err := s.Scan(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	c := radio.Calls()
	if c.Receive != 5 {
		t.Fatalf("receive called %d times after cancel at call 4", c.Receive)
	}
	if c.StopRX != 1 {
		t.Fatalf("StopRX called %d times", c.StopRX)
	}
}

func TestScanFlushDiscardsStartupChunks(t *testing.T) {
	radio := startedMock()
	radio.ReceiveFunc = func(call int, buf []complex64) (int, error) {
		v := complex64(1)
		if call < FlushChunks {
			v = 99
		}
		for i := range buf {
			buf[i] = v
		}
		return len(buf), nil
	}
	engine := &scriptedEngine{foundAt: 1}
	s, clock := newTestScanner(radio, engine, Options{})
	s.FlushChunks = FlushChunks

	if _, _, err := s.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, v := range engine.windows[0] {
		if v == 99 {
			t.Fatal("stale startup samples reached the search window")
		}
	}
	if len(clock.sleeps) == 0 || clock.sleeps[0] != WarmupDelay {
		t.Fatalf("expected warm-up delay first, sleeps=%v", clock.sleeps)
	}
}

func TestScanStartFailure(t *testing.T) {
	radio := startedMock()
	radio.StartRXErr = errors.New("no device")
	s, _ := newTestScanner(radio, &scriptedEngine{}, Options{})
	if _, _, err := s.Scan(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if c := radio.Calls(); c.StopRX != 0 || c.Receive != 0 {
		t.Fatalf("unexpected calls %+v", c)
	}
}

func TestScanPersistsRawChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.fc32")
	radio := startedMock()
	radio.ReceiveFunc = func(call int, buf []complex64) (int, error) {
		if call == 3 {
			return 100, nil
		}
		return len(buf), nil
	}
	s, _ := newTestScanner(radio, &scriptedEngine{foundAt: 1}, Options{SamplesFile: path})

	_, st, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != st.SamplesRead*sdr.BytesPerSample || st.SamplesSaved != st.SamplesRead {
		t.Fatalf("file size %d, read %d, saved %d", info.Size(), st.SamplesRead, st.SamplesSaved)
	}
}

func TestScanContinuesWhenCaptureFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "rx.fc32")
	radio := startedMock()
	s, _ := newTestScanner(radio, &scriptedEngine{foundAt: 2}, Options{SamplesFile: path})
	det, st, err := s.Scan(context.Background())
	if err != nil || !det.Found {
		t.Fatalf("scan should succeed without capture file: %v", err)
	}
	if st.SamplesSaved != 0 {
		t.Fatalf("saved %d samples", st.SamplesSaved)
	}
}

// beaconStream returns 20 ms of signal: one subframe carrying the block for
// pci followed by noise, repeated by the mock radio.
func beaconStream(t *testing.T, engine *phy.Beacon, pci uint32) []complex64 {
	t.Helper()
	mib := phy.MIB{SFN: 100, SCSCommon: 30, DMRSTypeAPos: 2, Coreset0Index: 3, SS0Index: 1}
	msg, err := engine.Encode(mib, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	sf, err := engine.Synthesize(pci, msg, 0)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(int64(pci)))
	stream := make([]complex64, 20*len(sf))
	for i := range stream {
		stream[i] = complex(float32(rng.NormFloat64()*0.02), float32(rng.NormFloat64()*0.02))
	}
	for i, v := range sf {
		stream[5*len(sf)+i] += v * 0.5
	}
	return stream
}

func newTestBeacon(t *testing.T) *phy.Beacon {
	t.Helper()
	b := phy.NewBeacon()
	if err := b.Init(config.SSB{Pattern: "C", SCSkHz: 30, PeriodicityMs: 20}, testRate, 3.5e9); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestScanFindsAnyCell(t *testing.T) {
	engine := newTestBeacon(t)
	radio := startedMock()
	radio.SetStream(beaconStream(t, engine, 321))
	s, _ := newTestScanner(radio, engine, Options{Budget: time.Second})

	det, _, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !det.Found || det.PCI != 321 || det.MIB.Coreset0Index != 3 {
		t.Fatalf("unexpected detection %+v", det)
	}
	if c := radio.Calls(); c.StopRX != 1 {
		t.Fatalf("StopRX called %d times", c.StopRX)
	}
}

func TestScanTargetFilterNeverMatchesOtherCell(t *testing.T) {
	engine := newTestBeacon(t)
	radio := startedMock()
	radio.SetStream(beaconStream(t, engine, 321))
	target := uint32(322)
	s, _ := newTestScanner(radio, engine, Options{Budget: 200 * time.Millisecond, Target: &target})

	det, st, err := s.Scan(context.Background())
	if !errors.Is(err, ErrScanTimeout) || det.Found {
		t.Fatalf("expected timeout without detection, got det=%+v err=%v", det, err)
	}
	if st.Searches == 0 {
		t.Fatal("expected searches before timeout")
	}
}
