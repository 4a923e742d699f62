// Package app sequences one attack run: radio and engine initialization,
// scanning for a cell, building the spoofed block and transmitting it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/GoSSB/internal/capture"
	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/phy"
	"github.com/rjboer/GoSSB/internal/sdr"
	"github.com/rjboer/GoSSB/internal/spoof"
	"github.com/rjboer/GoSSB/internal/telemetry"
)

// State is a stage of the attack run.
type State int

const (
	Idle State = iota
	DeviceInit
	EngineInit
	Scanning
	Found
	Spoofing
	Transmitting
	Complete
	ScanTimeout
	InitError
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case DeviceInit:
		return "DeviceInit"
	case EngineInit:
		return "EngineInit"
	case Scanning:
		return "Scanning"
	case Found:
		return "Found"
	case Spoofing:
		return "Spoofing"
	case Transmitting:
		return "Transmitting"
	case Complete:
		return "Complete"
	case ScanTimeout:
		return "ScanTimeout"
	case InitError:
		return "InitError"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of Run.
type Result struct {
	RunID uuid.UUID
	// State is Complete or Failed.
	State State
	// Path lists every state entered, in order.
	Path      []State
	Detection phy.Detection
	Waveform  spoof.Waveform
	ScanStats capture.Stats
	TxStats   spoof.Stats
	// Cancelled is set when the run ended on an external stop request.
	Cancelled bool
	Err       error
}

// ExitCode maps the result to a process exit status.
func (r Result) ExitCode() int {
	if r.State == Complete {
		return 0
	}
	return 1
}

// Orchestrator drives the state machine for a single run.
type Orchestrator struct {
	cfg      config.Config
	radio    sdr.Radio
	engine   phy.Engine
	reporter telemetry.Reporter
	logger   logging.Logger
	runID    uuid.UUID
	now      func() time.Time

	// ConfigureScanner and ConfigureSpoofer adjust the stage controllers
	// before use; tests shorten their timing through them.
	ConfigureScanner func(*capture.Scanner)
	ConfigureSpoofer func(*spoof.Spoofer)
}

// New builds an orchestrator with a fresh run identifier. reporter may be nil.
func New(cfg config.Config, radio sdr.Radio, engine phy.Engine, reporter telemetry.Reporter, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	id := uuid.New()
	return &Orchestrator{
		cfg:      cfg,
		radio:    radio,
		engine:   engine,
		reporter: reporter,
		runID:    id,
		now:      time.Now,
		logger:   logger.With(logging.F("run_id", id.String())),
	}
}

// RunID identifies this run in logs, telemetry and the journal.
func (o *Orchestrator) RunID() uuid.UUID { return o.runID }

// Run executes the attack. Cancellation of ctx is honoured while scanning and
// while transmitting, and ends the run as Complete.
func (o *Orchestrator) Run(ctx context.Context) (res Result) {
	res.RunID = o.runID
	enter := func(s State) {
		prev := Idle
		if n := len(res.Path); n > 0 {
			prev = res.Path[n-1]
		}
		res.Path = append(res.Path, s)
		res.State = s
		o.logger.Info("state transition", logging.F("from", prev.String()), logging.F("to", s.String()))
		o.report(telemetry.Event{Kind: telemetry.KindState, State: s.String()})
	}
	fail := func(via State, err error) Result {
		if via != Failed {
			enter(via)
		}
		res.Err = err
		o.logger.Error("attack failed", logging.F("stage", via.String()), logging.F("err", err))
		o.report(telemetry.Event{Kind: telemetry.KindError, Message: err.Error()})
		enter(Failed)
		return res
	}
	complete := func() Result {
		enter(Complete)
		return res
	}
	enter(Idle)

	enter(DeviceInit)
	rf := sdr.ConfigFromRF(o.cfg.RF)
	if err := o.radio.Init(ctx, rf); err != nil {
		return fail(InitError, fmt.Errorf("init radio %q: %w", o.cfg.RF.DeviceName, err))
	}

	enter(EngineInit)
	if err := o.engine.Init(o.cfg.SSB, o.cfg.RF.SampleRateHz, o.cfg.RF.RxFreqHz); err != nil {
		return fail(InitError, fmt.Errorf("init signal engine: %w", err))
	}

	enter(Scanning)
	opts := capture.Options{
		SampleRateHz: o.cfg.RF.SampleRateHz,
		Budget:       o.cfg.Operation.ScanDuration(),
		Target:       o.cfg.Attack.TargetFilter(),
	}
	if o.cfg.Operation.SaveSamples {
		opts.SamplesFile = o.cfg.Operation.SamplesFile
	}
	scanner := capture.NewScanner(o.radio, o.engine, o.logger, opts)
	if o.ConfigureScanner != nil {
		o.ConfigureScanner(scanner)
	}
	det, scanStats, err := scanner.Scan(ctx)
	res.ScanStats = scanStats
	switch {
	case err == nil:
	case isCancellation(ctx, err):
		res.Cancelled = true
		o.logger.Info("stop requested during scan", logging.F("searches", scanStats.Searches))
		return complete()
	case errors.Is(err, capture.ErrScanTimeout):
		return fail(ScanTimeout, err)
	default:
		return fail(Failed, fmt.Errorf("scan: %w", err))
	}
	res.Detection = det

	enter(Found)
	o.report(telemetry.Event{Kind: telemetry.KindDetection, Detection: &telemetry.DetectionSummary{
		PCI:           det.PCI,
		SSBIndex:      det.SSBIndex,
		SNRdB:         det.SNRdB,
		RSRPdB:        det.RSRPdB,
		SFN:           det.MIB.SFN,
		Coreset0Index: det.MIB.Coreset0Index,
		SS0Index:      det.MIB.SS0Index,
		CellBarred:    det.MIB.CellBarred,
		Searches:      scanStats.Searches,
	}})

	enter(Spoofing)
	spoofer := spoof.New(o.radio, o.engine, o.cfg.Attack, o.logger)
	if o.ConfigureSpoofer != nil {
		o.ConfigureSpoofer(spoofer)
	}
	wf, err := spoofer.Build(det)
	if err != nil {
		return fail(Failed, fmt.Errorf("build spoofed block: %w", err))
	}
	res.Waveform = wf

	enter(Transmitting)
	txStats, err := spoofer.Transmit(ctx, wf)
	res.TxStats = txStats
	o.report(telemetry.Event{Kind: telemetry.KindTransmit, Transmit: &telemetry.TransmitSummary{
		Continuous:   txStats.Continuous,
		Bursts:       txStats.Bursts,
		Errors:       txStats.Errors,
		ElapsedSec:   txStats.Elapsed.Seconds(),
		BurstsPerSec: txStats.BurstsPerSec,
		Changes:      describeChanges(wf.Changes),
	}})
	switch {
	case err == nil:
	case isCancellation(ctx, err):
		res.Cancelled = true
		o.logger.Info("stop requested during transmission", logging.F("bursts", txStats.Bursts))
	default:
		return fail(Failed, fmt.Errorf("transmit: %w", err))
	}
	return complete()
}

func (o *Orchestrator) report(ev telemetry.Event) {
	if o.reporter == nil {
		return
	}
	ev.Time = o.now()
	ev.RunID = o.runID.String()
	o.reporter.Report(ev)
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func describeChanges(changes []phy.Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, fmt.Sprintf("%s: %v -> %v", c.Field, c.From, c.To))
	}
	return out
}
