// Command ssbanalyze decodes SSBs from a recorded complex float32 IQ file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjboer/GoSSB/internal/analyzer"
	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliConfig struct {
	file        string
	sampleRate  float64
	centerFreq  float64
	pattern     string
	scsKHz      uint
	periodicity uint
	freqOffset  float64
	targetPCI   int
	maxSamples  int
	windowMs    uint
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (cliConfig, error) {
	var cfg cliConfig
	fs := flag.NewFlagSet("ssbanalyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.file, "file", "", "Input file (complex float32)")
	fs.Float64Var(&cfg.sampleRate, "srate", 23.04e6, "Sample rate in Hz")
	fs.Float64Var(&cfg.centerFreq, "center-freq", 1842.5e6, "Center frequency in Hz")
	fs.StringVar(&cfg.pattern, "pattern", "A", "SSB pattern (A-E)")
	fs.UintVar(&cfg.scsKHz, "scs", 15, "Subcarrier spacing in kHz")
	fs.UintVar(&cfg.periodicity, "periodicity", 20, "SSB periodicity in ms")
	fs.Float64Var(&cfg.freqOffset, "freq-offset", 0, "SSB frequency offset in Hz")
	fs.IntVar(&cfg.targetPCI, "pci", -1, "Only report this PCI (-1 for any)")
	fs.IntVar(&cfg.maxSamples, "max-samples", 0, "Read at most this many samples (0 = all)")
	fs.UintVar(&cfg.windowMs, "window", 10, "Search window in ms")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Log every MIB field")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if cfg.file == "" {
		return cliConfig{}, errors.New("-file is required")
	}
	if cfg.targetPCI > config.MaxPCI {
		return cliConfig{}, fmt.Errorf("invalid PCI %d (max %d)", cfg.targetPCI, config.MaxPCI)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	level := logging.Info
	if cfg.verbose {
		level = logging.Debug
	}
	logger := logging.New(level, logging.Text, stderr)

	samples, err := sdr.ReadIQFile(cfg.file, cfg.maxSamples)
	if err != nil {
		logger.Error("read capture", logging.F("file", cfg.file), logging.F("err", err))
		return 1
	}

	engine := phy.NewBeacon()
	ssb := config.SSB{
		Pattern:       cfg.pattern,
		SCSkHz:        uint32(cfg.scsKHz),
		PeriodicityMs: uint32(cfg.periodicity),
		FreqOffsetHz:  cfg.freqOffset,
	}
	if err := engine.Init(ssb, cfg.sampleRate, cfg.centerFreq); err != nil {
		logger.Error("init signal engine", logging.F("err", err))
		return 1
	}

	opts := analyzer.Options{SampleRateHz: cfg.sampleRate, Window: time.Duration(cfg.windowMs) * time.Millisecond}
	if cfg.targetPCI >= 0 {
		pci := uint32(cfg.targetPCI)
		opts.Target = &pci
	}
	rep, err := analyzer.Analyze(ctx, samples, engine, opts, logger)
	if err != nil {
		logger.Error("analysis failed", logging.F("err", err))
		return 1
	}
	printReport(stdout, rep, cfg.verbose)
	return 0
}

func printReport(w io.Writer, rep analyzer.Report, verbose bool) {
	fmt.Fprintf(w, "windows: %d (%d samples each)\n", rep.Windows, rep.WindowSamples)
	fmt.Fprintf(w, "SSBs found: %d\n", len(rep.Hits))
	if len(rep.Cells) == 0 {
		fmt.Fprintln(w, "no SSBs found: check sample rate, frequency, SSB pattern and signal strength; at least one window of samples is needed")
		return
	}
	for _, c := range rep.Cells {
		fmt.Fprintf(w, "\nPCI %d:\n", c.PCI)
		fmt.Fprintf(w, "  count: %d\n", c.Count)
		fmt.Fprintf(w, "  avg SNR: %.1f dB\n", c.MeanSNRdB)
		fmt.Fprintf(w, "  avg RSRP: %.1f dB\n", c.MeanRSRPdB)
		fmt.Fprintf(w, "  SSB idx: %d\n", c.SSBIndex)
		if verbose {
			for _, f := range c.MIB.Fields() {
				fmt.Fprintf(w, "  %s: %v\n", f.Key, f.Value)
			}
		}
	}
}
