package sdr

import (
	"context"
	"fmt"

	"github.com/rjboer/GoSSB/internal/config"
)

// Config carries parameters required to initialize a radio backend.
type Config struct {
	DeviceArgs   string
	SampleRateHz float64
	RxFreqHz     float64
	TxFreqHz     float64
	RxGainDB     float64
	TxGainDB     float64
}

// ConfigFromRF maps the RF section of the run configuration.
func ConfigFromRF(rf config.RF) Config {
	return Config{
		DeviceArgs:   rf.DeviceArgs,
		SampleRateHz: rf.SampleRateHz,
		RxFreqHz:     rf.RxFreqHz,
		TxFreqHz:     rf.TxFreqHz,
		RxGainDB:     rf.RxGainDB,
		TxGainDB:     rf.TxGainDB,
	}
}

// Radio is the streaming sample source and sink used by the attack pipeline.
//
// Receive and Transmit are synchronous and take no context: cancellation is
// observed by callers between calls, never in the middle of one.
type Radio interface {
	Init(ctx context.Context, cfg Config) error

	StartRX(ctx context.Context) error
	// Receive fills buf and returns the number of samples read, which may be
	// short. A zero count or an error is a transient miss.
	Receive(buf []complex64) (int, error)
	StopRX() error

	StartTX(ctx context.Context) error
	// Transmit sends buf, flagging burst start and end, and returns the
	// number of samples sent.
	Transmit(buf []complex64, startOfBurst, endOfBurst bool) (int, error)
	StopTX() error

	Close() error
}

// Open returns the backend registered under name.
func Open(name string) (Radio, error) {
	switch name {
	case "mock":
		return NewMock(), nil
	case "file":
		return NewFileRadio(), nil
	default:
		return nil, fmt.Errorf("unknown radio backend %q (want mock or file)", name)
	}
}
