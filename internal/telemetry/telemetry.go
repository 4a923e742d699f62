// Package telemetry carries run events from the orchestrator to the log, the
// run journal and the live web view.
package telemetry

import (
	"time"

	"github.com/rjboer/GoSSB/internal/logging"
)

// Kind classifies an Event.
type Kind string

const (
	KindState     Kind = "state"
	KindDetection Kind = "detection"
	KindTransmit  Kind = "transmit"
	KindError     Kind = "error"
)

// DetectionSummary is the part of a detection worth publishing.
type DetectionSummary struct {
	PCI           uint32  `json:"pci"`
	SSBIndex      uint32  `json:"ssbIndex"`
	SNRdB         float64 `json:"snrDb"`
	RSRPdB        float64 `json:"rsrpDb"`
	SFN           uint32  `json:"sfn"`
	Coreset0Index uint32  `json:"coreset0Idx"`
	SS0Index      uint32  `json:"ss0Idx"`
	CellBarred    bool    `json:"cellBarred"`
	Searches      int     `json:"searches"`
}

// TransmitSummary describes a finished transmit session.
type TransmitSummary struct {
	Continuous   bool     `json:"continuous"`
	Bursts       int64    `json:"bursts"`
	Errors       int64    `json:"errors"`
	ElapsedSec   float64  `json:"elapsedSec"`
	BurstsPerSec float64  `json:"burstsPerSec"`
	Changes      []string `json:"changes,omitempty"`
}

// Event is one published occurrence within a run.
type Event struct {
	Time      time.Time         `json:"time"`
	RunID     string            `json:"runId"`
	Kind      Kind              `json:"kind"`
	State     string            `json:"state,omitempty"`
	Message   string            `json:"message,omitempty"`
	Detection *DetectionSummary `json:"detection,omitempty"`
	Transmit  *TransmitSummary  `json:"transmit,omitempty"`
}

// Reporter consumes events. Implementations must not block the caller for
// long; the orchestrator reports from its own goroutine.
type Reporter interface {
	Report(Event)
}

// MultiReporter fans out events to multiple destinations.
type MultiReporter []Reporter

// Report forwards the event to each configured reporter.
func (m MultiReporter) Report(ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ev)
		}
	}
}

// StdoutReporter writes events through the structured logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(ev Event) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "run_id", Value: ev.RunID},
		{Key: "kind", Value: ev.Kind},
	}
	if ev.State != "" {
		fields = append(fields, logging.Field{Key: "state", Value: ev.State})
	}
	if ev.Message != "" {
		fields = append(fields, logging.Field{Key: "message", Value: ev.Message})
	}
	if d := ev.Detection; d != nil {
		fields = append(fields,
			logging.Field{Key: "pci", Value: d.PCI},
			logging.Field{Key: "ssb_idx", Value: d.SSBIndex},
			logging.Field{Key: "snr_db", Value: d.SNRdB},
		)
	}
	if tx := ev.Transmit; tx != nil {
		fields = append(fields,
			logging.Field{Key: "bursts", Value: tx.Bursts},
			logging.Field{Key: "tx_errors", Value: tx.Errors},
			logging.Field{Key: "bursts_per_s", Value: tx.BurstsPerSec},
		)
	}
	r.logger.Debug("telemetry event", fields...)
}
