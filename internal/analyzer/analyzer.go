// Package analyzer searches a recorded IQ capture for SSBs offline, using the
// same signal engine as the live scanner.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rjboer/GoSSB/internal/dsp"
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
)

const (
	DefaultWindow      = 10 * time.Millisecond
	DefaultSpectrumLen = 4096
	progressEvery      = 10
)

// ErrTooShort is returned when the capture cannot hold a single window.
var ErrTooShort = errors.New("capture shorter than one search window")

// Options controls an analysis pass.
type Options struct {
	SampleRateHz float64
	Window       time.Duration
	Target       *uint32
	SpectrumLen  int
}

// Hit is a detection at a position in the capture.
type Hit struct {
	Offset    int
	At        time.Duration
	Detection phy.Detection
}

// Cell aggregates the hits for one PCI.
type Cell struct {
	PCI        uint32
	Count      int
	MeanSNRdB  float64
	MeanRSRPdB float64
	SSBIndex   uint32
	MIB        phy.MIB
}

// Report is the result of Analyze.
type Report struct {
	Stats         dsp.Stats
	Duration      time.Duration
	WindowSamples int
	Windows       int
	Hits          []Hit
	Cells         []Cell
}

// Analyze slides a window over samples with 50 % overlap and records every
// window in which the engine finds a block. Cells are ordered by PCI.
func Analyze(ctx context.Context, samples []complex64, engine phy.Engine, opts Options, logger logging.Logger) (Report, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.SampleRateHz <= 0 {
		return Report{}, fmt.Errorf("invalid sample rate %v", opts.SampleRateHz)
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SpectrumLen <= 0 {
		opts.SpectrumLen = DefaultSpectrumLen
	}

	rep := Report{
		Stats:         dsp.Summarize(samples, opts.SpectrumLen),
		Duration:      samplesToDuration(len(samples), opts.SampleRateHz),
		WindowSamples: int(opts.SampleRateHz * opts.Window.Seconds()),
	}
	logger.Info("sample stats",
		logging.F("samples", rep.Stats.Samples),
		logging.F("duration_ms", float64(rep.Duration)/float64(time.Millisecond)),
		logging.F("max_mag", rep.Stats.MaxMag),
		logging.F("avg_power_db", rep.Stats.AvgPowerDB),
		logging.F("peak_dbfs", rep.Stats.PeakDBFS),
	)
	if rep.WindowSamples <= 1 || len(samples) < rep.WindowSamples {
		return rep, fmt.Errorf("%w: have %d samples, window is %d", ErrTooShort, len(samples), rep.WindowSamples)
	}

	step := rep.WindowSamples / 2
	for off := 0; off+rep.WindowSamples <= len(samples); off += step {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Windows++
		det := engine.Scan(samples[off:off+rep.WindowSamples], opts.Target)
		if det.Found {
			hit := Hit{Offset: off, At: samplesToDuration(off, opts.SampleRateHz), Detection: det}
			rep.Hits = append(rep.Hits, hit)
			logger.Info("SSB found",
				logging.F("n", len(rep.Hits)),
				logging.F("at_ms", float64(hit.At)/float64(time.Millisecond)),
				logging.F("pci", det.PCI),
				logging.F("ssb_idx", det.SSBIndex),
				logging.F("snr_db", det.SNRdB),
				logging.F("rsrp_db", det.RSRPdB),
			)
		}
		if rep.Windows%progressEvery == 0 {
			logger.Debug("analyzing", logging.F("windows", rep.Windows))
		}
	}
	rep.Cells = groupByPCI(rep.Hits)
	return rep, nil
}

func groupByPCI(hits []Hit) []Cell {
	byPCI := make(map[uint32]*Cell)
	for _, h := range hits {
		d := h.Detection
		c, ok := byPCI[d.PCI]
		if !ok {
			c = &Cell{PCI: d.PCI, SSBIndex: d.SSBIndex, MIB: d.MIB}
			byPCI[d.PCI] = c
		}
		c.Count++
		c.MeanSNRdB += d.SNRdB
		c.MeanRSRPdB += d.RSRPdB
	}
	cells := make([]Cell, 0, len(byPCI))
	for _, c := range byPCI {
		c.MeanSNRdB /= float64(c.Count)
		c.MeanRSRPdB /= float64(c.Count)
		cells = append(cells, *c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].PCI < cells[j].PCI })
	return cells
}

func samplesToDuration(n int, rate float64) time.Duration {
	return time.Duration(float64(n) / rate * float64(time.Second))
}
