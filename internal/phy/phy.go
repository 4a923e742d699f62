// Package phy defines the signal engine contract used by the attack pipeline:
// SSB search with MIB decode, MIB tampering, PBCH re-encode and waveform
// synthesis.
package phy

import (
	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/logging"
)

// MIB is the decoded master information block carried by an SSB.
type MIB struct {
	SFN                  uint32
	SSBIndex             uint32
	HRF                  bool // half radio frame bit
	SCSCommon            uint32
	SSBOffset            uint32
	DMRSTypeAPos         uint32
	Coreset0Index        uint32
	SS0Index             uint32
	CellBarred           bool
	IntraFreqReselection bool
}

// Fields renders the MIB for structured logging.
func (m MIB) Fields() []logging.Field {
	return []logging.Field{
		logging.F("sfn", m.SFN),
		logging.F("ssb_idx", m.SSBIndex),
		logging.F("hrf", m.HRF),
		logging.F("scs_common_khz", m.SCSCommon),
		logging.F("ssb_offset", m.SSBOffset),
		logging.F("dmrs_typeA_pos", m.DMRSTypeAPos),
		logging.F("coreset0_idx", m.Coreset0Index),
		logging.F("ss0_idx", m.SS0Index),
		logging.F("cell_barred", m.CellBarred),
		logging.F("intra_freq_reselection", m.IntraFreqReselection),
	}
}

// Message is an encoded PBCH payload ready for synthesis.
type Message struct {
	Payload  uint32
	SSBIndex uint32
	HRF      bool
}

// Detection is the outcome of searching one window.
type Detection struct {
	Found    bool
	PCI      uint32
	SSBIndex uint32
	SNRdB    float64
	RSRPdB   float64
	MIB      MIB
	Message  Message
}

// Engine is the physical-layer collaborator.
type Engine interface {
	Init(cfg config.SSB, sampleRateHz, centerFreqHz float64) error
	// Scan searches window for an SSB whose PBCH decodes. A non-nil target
	// rejects every other PCI.
	Scan(window []complex64, target *uint32) Detection
	Encode(mib MIB, ssbIndex uint32, hrf bool) (Message, error)
	// Synthesize renders one subframe carrying the SSB for pci.
	Synthesize(pci uint32, msg Message, ssbIndex uint32) ([]complex64, error)
	SubframeSamples() int
}
