package dsp

import (
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Peak is a correlation hit of the reference sequence inside a buffer.
type Peak struct {
	Lag   int
	Score float64    // normalized correlation magnitude in [0, 1]
	Corr  complex128 // sum over the reference of x[lag+m] * conj(ref[m])
}

// Correlator finds a fixed reference sequence in sample buffers using
// FFT-based cross-correlation. The FFT plan and the reference spectrum are
// cached and rebuilt only when the padded transform length changes.
type Correlator struct {
	mu        sync.Mutex
	ref       []complex128
	refEnergy float64
	size      int
	fft       *fourier.CmplxFFT
	refSpec   []complex128
	scale     float64
}

// NewCorrelator caches ref for repeated searches.
func NewCorrelator(ref []complex64) *Correlator {
	c := &Correlator{ref: make([]complex128, len(ref))}
	for i, v := range ref {
		c.ref[i] = complex128(v)
		c.refEnergy += real(c.ref[i])*real(c.ref[i]) + imag(c.ref[i])*imag(c.ref[i])
	}
	return c
}

// RefLen returns the reference length in samples.
func (c *Correlator) RefLen() int { return len(c.ref) }

func (c *Correlator) resize(n int) {
	c.size = n
	c.fft = fourier.NewCmplxFFT(n)

	padded := make([]complex128, n)
	copy(padded, c.ref)
	spec := c.fft.Coefficients(nil, padded)
	for i := range spec {
		spec[i] = cmplx.Conj(spec[i])
	}
	c.refSpec = spec

	// Calibrate the inverse transform gain with an impulse so the result does
	// not depend on whether Sequence normalizes by n.
	impulse := make([]complex128, n)
	impulse[0] = 1
	round := c.fft.Sequence(nil, c.fft.Coefficients(nil, impulse))
	c.scale = 1 / real(round[0])
}

// Peaks returns up to limit non-overlapping hits with a score of at least
// minScore, best first. Only lags in [0, maxLag] are considered; maxLag is
// clipped so the reference always lies fully inside x.
func (c *Correlator) Peaks(x []complex64, maxLag int, minScore float64, limit int) []Peak {
	p := len(c.ref)
	if p == 0 || len(x) < p || c.refEnergy == 0 {
		return nil
	}
	if last := len(x) - p; maxLag < 0 || maxLag > last {
		maxLag = last
	}

	c.mu.Lock()
	n := fftSize(len(x) + p)
	if c.size != n {
		c.resize(n)
	}
	buf := make([]complex128, n)
	for i, v := range x {
		buf[i] = complex128(v)
	}
	spec := c.fft.Coefficients(nil, buf)
	for i := range spec {
		spec[i] *= c.refSpec[i]
	}
	corr := c.fft.Sequence(nil, spec)
	scale := c.scale
	c.mu.Unlock()

	// prefix sums of |x|^2 give the local energy under the reference
	energy := make([]float64, len(x)+1)
	for i, v := range x {
		re, im := float64(real(v)), float64(imag(v))
		energy[i+1] = energy[i] + re*re + im*im
	}

	candidates := make([]Peak, 0, 16)
	for lag := 0; lag <= maxLag; lag++ {
		local := energy[lag+p] - energy[lag]
		if local <= 0 {
			continue
		}
		value := corr[lag] * complex(scale, 0)
		score := cmplx.Abs(value) / math.Sqrt(local*c.refEnergy)
		if score >= minScore {
			candidates = append(candidates, Peak{Lag: lag, Score: score, Corr: value})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	var peaks []Peak
	for _, cand := range candidates {
		if limit > 0 && len(peaks) >= limit {
			break
		}
		overlap := false
		for _, kept := range peaks {
			if abs(cand.Lag-kept.Lag) < p {
				overlap = true
				break
			}
		}
		if !overlap {
			peaks = append(peaks, cand)
		}
	}
	return peaks
}

// fftSize rounds n up to a power of two so capture lengths with large prime
// factors do not fall back to slow transforms.
func fftSize(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
