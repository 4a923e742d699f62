// Command ssbspoof scans for a 5G NR cell, rewrites its MIB and retransmits
// the tampered SSB.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/rjboer/GoSSB/internal/app"
	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/journal"
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
	"github.com/rjboer/GoSSB/internal/telemetry"
)

const defaultConfigPath = "config.json"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.LookupEnv, os.Stderr)
	stop()
	os.Exit(code)
}

type cliOptions struct {
	configPath string
	simPCI     uint
	set        map[string]bool

	device       string
	deviceArgs   string
	rxFreq       float64
	txFreq       float64
	sampleRate   float64
	targetPCI    uint
	continuous   bool
	scanDuration float64
	logLevel     string
	logFile      string
	saveSamples  bool
	journalPath  string
	webAddr      string
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	opts := cliOptions{set: map[string]bool{}}
	fs := flag.NewFlagSet("ssbspoof", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "JSON configuration file (created with defaults when missing)")
	fs.UintVar(&opts.simPCI, "sim-pci", 500, "PCI of the simulated cell served by the mock backend")
	fs.StringVar(&opts.device, "device", "", "Radio backend (mock|file)")
	fs.StringVar(&opts.deviceArgs, "device-args", "", "Backend arguments, e.g. rx=capture.fc32,tx=spoof.fc32")
	fs.Float64Var(&opts.rxFreq, "rx-freq", 0, "RX center frequency in Hz")
	fs.Float64Var(&opts.txFreq, "tx-freq", 0, "TX center frequency in Hz")
	fs.Float64Var(&opts.sampleRate, "sample-rate", 0, "Sample rate in Hz")
	fs.UintVar(&opts.targetPCI, "target-pci", 0, "Only attack this PCI")
	fs.BoolVar(&opts.continuous, "continuous", false, "Transmit until interrupted instead of a single burst")
	fs.Float64Var(&opts.scanDuration, "scan-duration", 0, "Scan budget in seconds")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.StringVar(&opts.logFile, "log-file", "", "Also append logs to this file")
	fs.BoolVar(&opts.saveSamples, "save-samples", false, "Persist received samples to the configured file")
	fs.StringVar(&opts.journalPath, "journal", "", "SQLite run journal path")
	fs.StringVar(&opts.webAddr, "web-addr", "", "Optional web telemetry listen address (e.g. :8080)")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// apply overlays the flags given on the command line; they take precedence
// over the file and the environment.
func (o cliOptions) apply(cfg *config.Config) {
	if o.set["device"] {
		cfg.RF.DeviceName = o.device
	}
	if o.set["device-args"] {
		cfg.RF.DeviceArgs = o.deviceArgs
	}
	if o.set["rx-freq"] {
		cfg.RF.RxFreqHz = o.rxFreq
	}
	if o.set["tx-freq"] {
		cfg.RF.TxFreqHz = o.txFreq
	}
	if o.set["sample-rate"] {
		cfg.RF.SampleRateHz = o.sampleRate
	}
	if o.set["target-pci"] {
		cfg.Attack.TargetPCI = uint32(o.targetPCI)
		cfg.Attack.ScanForTarget = true
	}
	if o.set["continuous"] {
		cfg.Attack.ContinuousTX = o.continuous
	}
	if o.set["scan-duration"] {
		cfg.Operation.ScanDurationSec = o.scanDuration
	}
	if o.set["log-level"] {
		cfg.Operation.LogLevel = o.logLevel
	}
	if o.set["log-file"] {
		cfg.Operation.LogFile = o.logFile
	}
	if o.set["save-samples"] {
		cfg.Operation.SaveSamples = o.saveSamples
	}
	if o.set["journal"] {
		cfg.Operation.JournalPath = o.journalPath
	}
	if o.set["web-addr"] {
		cfg.Operation.WebAddr = o.webAddr
	}
}

func loadConfig(opts cliOptions, lookup func(string) (string, bool)) (config.Config, error) {
	cfg, err := config.LoadOrCreate(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, lookup func(string) (string, bool), stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	cfg, err := loadConfig(opts, lookup)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logger, logCloser, err := logging.Open(cfg.Operation.LogLevel, cfg.Operation.LogFormat, cfg.Operation.LogFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer logCloser.Close()
	logging.SetDefault(logger)
	cfg.Log(logger)

	radio, err := sdr.Open(cfg.RF.DeviceName)
	if err != nil {
		logger.Error("select radio backend", logging.F("err", err))
		return 1
	}
	defer radio.Close()
	if mock, ok := radio.(*sdr.MockRadio); ok {
		stream, err := simulatedCell(cfg, uint32(opts.simPCI))
		if err != nil {
			logger.Error("build simulated cell", logging.F("err", err))
			return 1
		}
		mock.SetStream(stream)
		logger.Info("mock backend serving simulated cell", logging.F("pci", opts.simPCI))
	}

	reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(logger)}
	if cfg.Operation.JournalPath != "" {
		j, err := journal.Open(cfg.Operation.JournalPath, logger)
		if err != nil {
			logger.Error("open run journal", logging.F("err", err))
			return 1
		}
		defer j.Close()
		reporters = append(reporters, j)
	}
	if cfg.Operation.WebAddr != "" {
		hub := telemetry.NewHub(0, logger)
		reporters = append(reporters, hub)
		webCtx, cancelWeb := context.WithCancel(context.Background())
		defer cancelWeb()
		go telemetry.NewWebServer(cfg.Operation.WebAddr, hub).Start(webCtx)
	}

	orch := app.New(cfg, radio, phy.NewBeacon(), reporters, logger)
	logger.Info("starting attack (Ctrl+C to stop)", logging.F("run_id", orch.RunID().String()))
	res := orch.Run(ctx)

	fields := []logging.Field{
		logging.F("run_id", res.RunID.String()),
		logging.F("state", res.State.String()),
		logging.F("cancelled", res.Cancelled),
		logging.F("searches", res.ScanStats.Searches),
		logging.F("bursts", res.TxStats.Bursts),
		logging.F("tx_errors", res.TxStats.Errors),
	}
	if res.Detection.Found {
		fields = append(fields, logging.F("pci", res.Detection.PCI), logging.F("ssb_idx", res.Detection.SSBIndex))
	}
	if res.Err != nil {
		fields = append(fields, logging.F("err", res.Err))
		logger.Error("attack finished", fields...)
	} else {
		logger.Info("attack finished", fields...)
	}
	return res.ExitCode()
}

// simulatedCell renders 20 ms of air carrying one SSB from pci in the
// configured layout, for the mock backend to loop over.
func simulatedCell(cfg config.Config, pci uint32) ([]complex64, error) {
	b := phy.NewBeacon()
	if err := b.Init(cfg.SSB, cfg.RF.SampleRateHz, cfg.RF.RxFreqHz); err != nil {
		return nil, err
	}
	mib := phy.MIB{
		SFN:                  256,
		SCSCommon:            cfg.SSB.SCSkHz,
		SSBOffset:            4,
		DMRSTypeAPos:         2,
		Coreset0Index:        6,
		SS0Index:             0,
		IntraFreqReselection: true,
	}
	msg, err := b.Encode(mib, 0, false)
	if err != nil {
		return nil, err
	}
	sf, err := b.Synthesize(pci, msg, 0)
	if err != nil {
		return nil, err
	}
	periods := int(cfg.SSB.PeriodicityMs)
	if periods <= 0 {
		periods = 20
	}
	rng := rand.New(rand.NewSource(int64(pci)))
	stream := make([]complex64, periods*len(sf))
	for i := range stream {
		stream[i] = complex(float32(rng.NormFloat64()*0.01), float32(rng.NormFloat64()*0.01))
	}
	for i, v := range sf {
		stream[len(sf)+i] += v * 0.3
	}
	return stream, nil
}
