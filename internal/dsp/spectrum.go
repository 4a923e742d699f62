package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Stats summarizes a block of samples. Power figures are relative to a
// full-scale amplitude of 1.0.
type Stats struct {
	Samples    int
	MaxMag     float64
	AvgPowerDB float64
	PeakBin    int
	PeakDBFS   float64
}

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	return append(append([]complex128{}, data[half:]...), data[:half]...)
}

// hamming returns a Hamming window of length n.
func hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// FFTAndDBFS applies a Hamming window, transforms, normalizes by the window
// sum and returns the centered spectrum with its magnitude in dBFS.
func FFTAndDBFS(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	win := hamming(len(samples))
	windowed := make([]complex128, len(samples))
	for i, v := range samples {
		windowed[i] = complex(float64(real(v))*win[i], float64(imag(v))*win[i])
	}
	spec := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	sumWin := floats.Sum(win)
	for i := range spec {
		spec[i] /= complex(sumWin, 0)
	}
	shifted := FFTShift(spec)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = math.Inf(-1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag)
	}
	return shifted, dbfs
}

// Summarize computes magnitude, mean power and spectral peak of samples.
// The spectrum is taken over at most fftLen leading samples.
func Summarize(samples []complex64, fftLen int) Stats {
	st := Stats{Samples: len(samples), AvgPowerDB: math.Inf(-1), PeakDBFS: math.Inf(-1)}
	if len(samples) == 0 {
		return st
	}
	mags := make([]float64, len(samples))
	for i, s := range samples {
		mags[i] = cmplx.Abs(complex128(s))
	}
	st.MaxMag = floats.Max(mags)
	st.AvgPowerDB = 10 * math.Log10(MeanPower(samples)+NormEpsilon)

	if fftLen <= 0 || fftLen > len(samples) {
		fftLen = len(samples)
	}
	_, db := FFTAndDBFS(samples[:fftLen])
	st.PeakBin = floats.MaxIdx(db)
	st.PeakDBFS = db[st.PeakBin]
	return st
}
