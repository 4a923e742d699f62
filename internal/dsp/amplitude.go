package dsp

import "math"

const (
	// TargetAmplitude is the RMS level every synthesized burst is scaled to
	// before transmission. It is fixed and does not track the power of the
	// cell being impersonated.
	TargetAmplitude = 0.7

	// NormEpsilon keeps the scale factor finite for an all-zero waveform.
	NormEpsilon = 1e-12
)

// RMS returns the root-mean-square amplitude of samples, or 0 when empty.
func RMS(samples []complex64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(MeanPower(samples))
}

// MeanPower returns the mean |x|^2 of samples.
func MeanPower(samples []complex64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		re, im := float64(real(s)), float64(imag(s))
		sum += re*re + im*im
	}
	return sum / float64(len(samples))
}

// Normalize scales samples in place so their RMS equals target and returns
// the scale factor applied. A zero-power input stays zero.
func Normalize(samples []complex64, target float64) float64 {
	scale := target / (RMS(samples) + NormEpsilon)
	s := complex(float32(scale), 0)
	for i := range samples {
		samples[i] *= s
	}
	return scale
}
