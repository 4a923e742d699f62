// Package capture turns the continuous receive stream into fixed-size search
// windows and runs the SSB detector on each until a match, cancellation or
// the scan budget runs out.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
)

const (
	// ChunkDuration is the amount of signal requested per Receive call.
	ChunkDuration = time.Millisecond
	// WindowDuration is the search window length: one half frame, so every
	// SSB period has at least one occurrence that lies fully inside a window.
	WindowDuration = 10 * time.Millisecond

	// WarmupDelay and FlushChunks discard the transient samples a receive
	// pipeline emits right after the stream starts.
	WarmupDelay = 500 * time.Millisecond
	FlushChunks = 10

	// RetryDelay is the pause after a receive that returned nothing.
	RetryDelay = 10 * time.Millisecond

	shortReadWarnings = 5
	progressEvery     = 10
)

// ErrScanTimeout is returned when the scan budget elapses without a match.
var ErrScanTimeout = errors.New("scan budget exhausted without detection")

// Options configures one scan.
type Options struct {
	SampleRateHz float64
	Budget       time.Duration
	// Target restricts detections to one PCI; nil accepts any cell.
	Target *uint32
	// SamplesFile, when set, receives every raw chunk.
	SamplesFile string
}

// Stats describes what the scanner did.
type Stats struct {
	Receives       int
	Misses         int
	Searches       int
	SamplesRead    int64
	SamplesDropped int64
	SamplesSaved   int64
	Elapsed        time.Duration
}

// Scanner is the capture-and-search controller.
type Scanner struct {
	radio  sdr.Radio
	engine phy.Engine
	logger logging.Logger
	opts   Options

	WarmupDelay time.Duration
	FlushChunks int
	RetryDelay  time.Duration
	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

// NewScanner builds a scanner with the standard timing.
func NewScanner(radio sdr.Radio, engine phy.Engine, logger logging.Logger, opts Options) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scanner{
		radio:       radio,
		engine:      engine,
		logger:      logger.With(logging.F("subsystem", "capture")),
		opts:        opts,
		WarmupDelay: WarmupDelay,
		FlushChunks: FlushChunks,
		RetryDelay:  RetryDelay,
		Now:         time.Now,
		Sleep:       sleepCtx,
	}
}

// ChunkSamples returns the receive chunk length for rate.
func ChunkSamples(rate float64) int { return int(rate * ChunkDuration.Seconds()) }

// WindowSamples returns the search window length for rate.
func WindowSamples(rate float64) int { return int(rate * WindowDuration.Seconds()) }

// Scan runs until a detection (nil error), cancellation (ctx.Err()) or
// budget exhaustion (ErrScanTimeout). The receive stream is stopped on each
// of these paths.
func (s *Scanner) Scan(ctx context.Context) (det phy.Detection, st Stats, err error) {
	chunkLen := ChunkSamples(s.opts.SampleRateHz)
	windowLen := WindowSamples(s.opts.SampleRateHz)
	if chunkLen <= 0 || windowLen <= 0 {
		return phy.Detection{}, st, fmt.Errorf("sample rate %.0f Hz yields empty chunks", s.opts.SampleRateHz)
	}

	fields := []logging.Field{
		logging.F("rx_chunk", chunkLen),
		logging.F("search_window", windowLen),
		logging.F("budget_s", s.opts.Budget.Seconds()),
	}
	if s.opts.Target != nil {
		fields = append(fields, logging.F("target_pci", *s.opts.Target))
	} else {
		fields = append(fields, logging.F("target_pci", "any"))
	}
	s.logger.Info("starting SSB scan", fields...)

	rec := openRecorder(s.opts.SamplesFile, s.opts.SampleRateHz, s.logger)
	defer func() { st.SamplesSaved = rec.close() }()

	if err := s.radio.StartRX(ctx); err != nil {
		return phy.Detection{}, st, fmt.Errorf("start rx stream: %w", err)
	}
	defer func() {
		if err := s.radio.StopRX(); err != nil {
			s.logger.Warn("stop rx stream", logging.F("err", err))
		}
	}()

	chunk := make([]complex64, chunkLen)
	if err := s.warmup(ctx, chunk); err != nil {
		return phy.Detection{}, st, err
	}

	window := NewWindow(windowLen)
	start := s.Now()
	for {
		if err := ctx.Err(); err != nil {
			st.Elapsed = s.Now().Sub(start)
			s.logger.Info("scan cancelled", logging.F("searches", st.Searches), logging.F("elapsed_s", st.Elapsed.Seconds()))
			return phy.Detection{}, st, err
		}
		elapsed := s.Now().Sub(start)
		if elapsed > s.opts.Budget {
			st.Elapsed = elapsed
			s.logger.Warn("scan timeout reached",
				logging.F("budget_s", s.opts.Budget.Seconds()),
				logging.F("searches", st.Searches),
				logging.F("receives", st.Receives),
				logging.F("misses", st.Misses),
			)
			return phy.Detection{}, st, ErrScanTimeout
		}

		n, err := s.radio.Receive(chunk)
		if err != nil || n <= 0 {
			st.Misses++
			if err != nil {
				s.logger.Debug("receive miss", logging.F("err", err))
			}
			s.Sleep(ctx, s.RetryDelay)
			continue
		}
		if n > chunkLen {
			n = chunkLen
		}
		if n != chunkLen && st.Receives < shortReadWarnings {
			s.logger.Warn("short receive", logging.F("received", n), logging.F("expected", chunkLen))
		}
		st.Receives++
		st.SamplesRead += int64(n)

		rec.write(chunk[:n])

		taken := window.Append(chunk[:n])
		st.SamplesDropped += int64(n - taken)
		if !window.Full() {
			continue
		}

		st.Searches++
		if st.Searches%progressEvery == 0 {
			s.logger.Debug("scanning", logging.F("searches", st.Searches), logging.F("elapsed_s", elapsed.Seconds()))
		}
		det = s.engine.Scan(window.Samples(), s.opts.Target)
		window.Reset()
		if det.Found {
			st.Elapsed = s.Now().Sub(start)
			s.logger.Info("SSB detected", append([]logging.Field{
				logging.F("pci", det.PCI),
				logging.F("ssb_idx", det.SSBIndex),
				logging.F("snr_db", det.SNRdB),
				logging.F("rsrp_db", det.RSRPdB),
				logging.F("searches", st.Searches),
			}, det.MIB.Fields()...)...)
			return det, st, nil
		}
	}
}

func (s *Scanner) warmup(ctx context.Context, chunk []complex64) error {
	s.Sleep(ctx, s.WarmupDelay)
	for i := 0; i < s.FlushChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.radio.Receive(chunk); err != nil {
			s.logger.Debug("flush receive failed", logging.F("index", i), logging.F("err", err))
		}
	}
	s.logger.Debug("receiver ready", logging.F("flushed_chunks", s.FlushChunks))
	return nil
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
