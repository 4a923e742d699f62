package capture

import (
	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/sdr"
)

const recorderProgressEvery = 100

// sampleSink is the file side of a recorder; *sdr.IQWriter in production.
type sampleSink interface {
	Write(samples []complex64) error
	Samples() int64
	Close() error
}

// recorder persists raw receive chunks. It is best effort: an open or write
// failure is logged and recording stops, scanning does not.
type recorder struct {
	w      sampleSink
	path   string
	rate   float64
	chunks int
	logger logging.Logger
}

func openRecorder(path string, rate float64, logger logging.Logger) *recorder {
	if path == "" {
		return nil
	}
	w, err := sdr.CreateIQ(path)
	if err != nil {
		logger.Warn("could not open file for saving samples", logging.F("file", path), logging.F("err", err))
		return nil
	}
	logger.Info("file sink enabled",
		logging.F("file", path),
		logging.F("srate_mhz", rate/1e6),
		logging.F("format", "complex float32"),
	)
	return &recorder{w: w, path: path, rate: rate, logger: logger}
}

func (r *recorder) write(samples []complex64) {
	if r == nil || r.w == nil {
		return
	}
	if err := r.w.Write(samples); err != nil {
		r.logger.Warn("sample write failed, recording stopped", logging.F("file", r.path), logging.F("err", err))
		_ = r.w.Close()
		r.w = nil
		return
	}
	r.chunks++
	if r.chunks%recorderProgressEvery == 0 {
		r.logger.Debug("writing samples", logging.F("captured_s", float64(r.w.Samples())/r.rate))
	}
}

// close flushes the file and logs the summary. It returns the number of
// samples persisted, which is zero when the final flush fails.
func (r *recorder) close() int64 {
	if r == nil || r.w == nil {
		return 0
	}
	n := r.w.Samples()
	if err := r.w.Close(); err != nil {
		r.logger.Warn("closing sample file failed, samples may be lost", logging.F("file", r.path), logging.F("err", err))
		n = 0
	}
	r.w = nil
	r.logger.Info("file sink summary",
		logging.F("file", r.path),
		logging.F("total_samples", n),
		logging.F("duration_s", float64(n)/r.rate),
	)
	return n
}
