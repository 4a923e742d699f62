package phy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"math/cmplx"

	"github.com/rjboer/GoSSB/internal/config"
	"github.com/rjboer/GoSSB/internal/dsp"
)

const (
	preambleLen = 127
	frameBits   = 40
	checkBits   = 16
	// BeaconBlockLen is the number of samples one simulated SSB occupies.
	BeaconBlockLen = preambleLen + frameBits + checkBits

	beaconMinScore = 0.7
	beaconMaxPeaks = 8
)

// Beacon is a simulated signal engine. Its "SSB" is a BPSK burst: a length-127
// m-sequence preamble followed by the PCI, the packed MIB, the SSB index, the
// HRF bit and a 16-bit frame check. It honours the Engine contract so the
// pipeline can run against recordings and mocks without an NR physical layer.
type Beacon struct {
	cfg       config.SSB
	srate     float64
	center    float64
	sfLen     int
	preamble  []complex64
	corr      *dsp.Correlator
	ampPre    float32
	ampPBCH   float32
	initiated bool
}

func NewBeacon() *Beacon { return &Beacon{} }

// Init validates the layout and caches the preamble correlator.
func (b *Beacon) Init(cfg config.SSB, sampleRateHz, centerFreqHz float64) error {
	if b.initiated {
		return errors.New("beacon engine already initialized")
	}
	if sampleRateHz <= 0 {
		return fmt.Errorf("invalid sample rate %v", sampleRateHz)
	}
	sf := int(sampleRateHz / 1000)
	if sf < BeaconBlockLen {
		return fmt.Errorf("sample rate %.0f Hz too low: subframe of %d samples cannot hold a %d-sample block", sampleRateHz, sf, BeaconBlockLen)
	}
	b.cfg = cfg
	b.srate = sampleRateHz
	b.center = centerFreqHz
	b.sfLen = sf
	b.preamble = mSequence()
	b.corr = dsp.NewCorrelator(b.preamble)
	b.ampPre = dbToAmp(cfg.BetaPSS)
	b.ampPBCH = dbToAmp(cfg.BetaPBCH)
	b.initiated = true
	return nil
}

func (b *Beacon) SubframeSamples() int { return b.sfLen }

// Encode packs mib for transmission at ssbIndex with the given HRF bit.
func (b *Beacon) Encode(mib MIB, ssbIndex uint32, hrf bool) (Message, error) {
	payload, err := packMIB(mib)
	if err != nil {
		return Message{}, err
	}
	if ssbIndex > 7 {
		return Message{}, fmt.Errorf("ssb index %d out of range (max 7)", ssbIndex)
	}
	return Message{Payload: payload, SSBIndex: ssbIndex, HRF: hrf}, nil
}

// Synthesize renders one subframe with the block at its start.
func (b *Beacon) Synthesize(pci uint32, msg Message, ssbIndex uint32) ([]complex64, error) {
	if !b.initiated {
		return nil, errors.New("beacon engine not initialized")
	}
	if pci > config.MaxPCI {
		return nil, fmt.Errorf("pci %d out of range", pci)
	}
	if ssbIndex != msg.SSBIndex {
		return nil, fmt.Errorf("ssb index %d does not match encoded message (%d)", ssbIndex, msg.SSBIndex)
	}
	out := make([]complex64, b.sfLen)
	for i, v := range b.preamble {
		out[i] = v * complex(b.ampPre, 0)
	}
	bits := frameWord(pci, msg)
	for i := 0; i < frameBits+checkBits; i++ {
		out[preambleLen+i] = bpsk(bits, i) * complex(b.ampPBCH, 0)
	}
	return out, nil
}

// Scan correlates window against the preamble and returns the first
// candidate whose frame check passes and whose PCI passes the target filter.
func (b *Beacon) Scan(window []complex64, target *uint32) Detection {
	if !b.initiated || len(window) < BeaconBlockLen {
		return Detection{}
	}
	peaks := b.corr.Peaks(window, len(window)-BeaconBlockLen, beaconMinScore, beaconMaxPeaks)
	for _, p := range peaks {
		det, ok := b.demodulate(window[p.Lag:p.Lag+BeaconBlockLen], p)
		if !ok {
			continue
		}
		if target != nil && det.PCI != *target {
			continue
		}
		return det
	}
	return Detection{}
}

func (b *Beacon) demodulate(block []complex64, p dsp.Peak) (Detection, bool) {
	derot := complex64(cmplx.Conj(p.Corr) / complex(cmplx.Abs(p.Corr), 0))
	var word uint64
	for i := 0; i < frameBits+checkBits; i++ {
		word <<= 1
		if real(block[preambleLen+i]*derot) < 0 {
			word |= 1
		}
	}
	frame := word >> checkBits
	if uint64(check16(frame)) != word&0xffff {
		return Detection{}, false
	}

	pci := uint32(frame >> 30)
	payload := uint32(frame>>4) & (1<<26 - 1)
	ssbIdx := uint32(frame>>1) & 0x7
	hrf := frame&1 == 1
	if pci > config.MaxPCI {
		return Detection{}, false
	}
	mib := unpackMIB(payload)
	mib.SSBIndex = ssbIdx
	mib.HRF = hrf

	amp := cmplx.Abs(p.Corr) / preambleLen
	var noise float64
	for i, ref := range b.preamble {
		d := complex128(block[i]*derot) - complex(amp*float64(real(ref)), 0)
		noise += real(d)*real(d) + imag(d)*imag(d)
	}
	noise /= preambleLen
	sig := amp * amp

	return Detection{
		Found:    true,
		PCI:      pci,
		SSBIndex: ssbIdx,
		SNRdB:    10 * math.Log10(sig/(noise+dsp.NormEpsilon)),
		RSRPdB:   10 * math.Log10(sig+dsp.NormEpsilon),
		MIB:      mib,
		Message:  Message{Payload: payload, SSBIndex: ssbIdx, HRF: hrf},
	}, true
}

// mSequence returns the 127-chip BPSK preamble from x^7 + x^4 + 1.
func mSequence() []complex64 {
	x := make([]int, preambleLen+7)
	copy(x, []int{0, 1, 1, 0, 1, 1, 1})
	for i := 0; i < preambleLen; i++ {
		x[i+7] = (x[i+4] + x[i]) % 2
	}
	out := make([]complex64, preambleLen)
	for i := range out {
		out[i] = complex(float32(1-2*x[i]), 0)
	}
	return out
}

// frameWord returns PCI|MIB|SSB index|HRF followed by the frame check, MSB
// first in the low 56 bits.
func frameWord(pci uint32, msg Message) uint64 {
	frame := uint64(pci)<<30 | uint64(msg.Payload&(1<<26-1))<<4 | uint64(msg.SSBIndex&0x7)<<1
	if msg.HRF {
		frame |= 1
	}
	return frame<<checkBits | uint64(check16(frame))
}

func bpsk(word uint64, i int) complex64 {
	if word>>(frameBits+checkBits-1-i)&1 == 1 {
		return -1
	}
	return 1
}

// check16 is the frame check: the low 16 bits of the IEEE CRC-32 over the
// five frame bytes.
func check16(frame uint64) uint16 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], frame)
	return uint16(crc32.ChecksumIEEE(buf[3:]))
}

func dbToAmp(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

// MIB bit layout: sfn(10) scs(1) ssb_offset(4) dmrs(1) coreset0(4) ss0(4)
// barred(1) intra_freq(1).
func packMIB(m MIB) (uint32, error) {
	var errs []error
	if m.SFN > 1023 {
		errs = append(errs, fmt.Errorf("sfn %d out of range", m.SFN))
	}
	var scs uint32
	switch m.SCSCommon {
	case 15:
	case 30:
		scs = 1
	default:
		errs = append(errs, fmt.Errorf("scs common %d kHz unsupported", m.SCSCommon))
	}
	if m.SSBOffset > 15 {
		errs = append(errs, fmt.Errorf("ssb offset %d out of range", m.SSBOffset))
	}
	var dmrs uint32
	switch m.DMRSTypeAPos {
	case 2:
	case 3:
		dmrs = 1
	default:
		errs = append(errs, fmt.Errorf("dmrs type-A position %d unsupported", m.DMRSTypeAPos))
	}
	if m.Coreset0Index > config.MaxCoreset0 {
		errs = append(errs, fmt.Errorf("coreset0 index %d out of range", m.Coreset0Index))
	}
	if m.SS0Index > config.MaxSS0 {
		errs = append(errs, fmt.Errorf("ss0 index %d out of range", m.SS0Index))
	}
	if len(errs) > 0 {
		return 0, fmt.Errorf("encode mib: %w", errors.Join(errs...))
	}
	v := m.SFN<<16 | scs<<15 | m.SSBOffset<<11 | dmrs<<10 | m.Coreset0Index<<6 | m.SS0Index<<2
	if m.CellBarred {
		v |= 1 << 1
	}
	if m.IntraFreqReselection {
		v |= 1
	}
	return v, nil
}

func unpackMIB(v uint32) MIB {
	m := MIB{
		SFN:                  v >> 16 & 0x3ff,
		SCSCommon:            15,
		SSBOffset:            v >> 11 & 0xf,
		DMRSTypeAPos:         2,
		Coreset0Index:        v >> 6 & 0xf,
		SS0Index:             v >> 2 & 0xf,
		CellBarred:           v>>1&1 == 1,
		IntraFreqReselection: v&1 == 1,
	}
	if v>>15&1 == 1 {
		m.SCSCommon = 30
	}
	if v>>10&1 == 1 {
		m.DMRSTypeAPos = 3
	}
	return m
}
