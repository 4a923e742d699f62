package dsp

import (
	"math"
	"math/rand"
	"testing"
)

func tone(n int, cycles float64, amp float32) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * cycles * float64(i) / float64(n)
		out[i] = complex(amp*float32(math.Cos(phase)), amp*float32(math.Sin(phase)))
	}
	return out
}

func TestNormalizeHitsTargetRMS(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 17, 1920} {
		samples := make([]complex64, n)
		for i := range samples {
			samples[i] = complex(float32(rng.NormFloat64()*3), float32(rng.NormFloat64()*0.01))
		}
		Normalize(samples, TargetAmplitude)
		if got := RMS(samples); math.Abs(got-TargetAmplitude) > 1e-5 {
			t.Fatalf("n=%d: rms after normalize = %v", n, got)
		}
	}
}

func TestNormalizeZeroInput(t *testing.T) {
	samples := make([]complex64, 64)
	scale := Normalize(samples, TargetAmplitude)
	if math.IsInf(scale, 0) || math.IsNaN(scale) {
		t.Fatalf("scale not finite: %v", scale)
	}
	for i, s := range samples {
		if s != 0 {
			t.Fatalf("sample %d became %v", i, s)
		}
	}
}

func TestRMSEmpty(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatal("rms of empty slice should be zero")
	}
}

func TestCorrelatorLocatesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ref := make([]complex64, 63)
	for i := range ref {
		if rng.Intn(2) == 0 {
			ref[i] = 1
		} else {
			ref[i] = -1
		}
	}
	x := make([]complex64, 1000)
	for i := range x {
		x[i] = complex(float32(rng.NormFloat64()*0.05), float32(rng.NormFloat64()*0.05))
	}
	const at = 321
	rot := complex64(complex(math.Cos(1.1), math.Sin(1.1)))
	for i, v := range ref {
		x[at+i] += v * rot * 0.5
	}

	c := NewCorrelator(ref)
	peaks := c.Peaks(x, -1, 0.8, 2)
	if len(peaks) != 1 {
		t.Fatalf("expected one peak, got %+v", peaks)
	}
	if peaks[0].Lag != at {
		t.Fatalf("peak at %d, want %d", peaks[0].Lag, at)
	}
	// phase of the correlation recovers the applied rotation
	if got := math.Atan2(imag(peaks[0].Corr), real(peaks[0].Corr)); math.Abs(got-1.1) > 0.05 {
		t.Fatalf("phase %v, want 1.1", got)
	}

	// second call with a different length rebuilds the plan
	if p := c.Peaks(x[:600], -1, 0.8, 0); len(p) != 1 || p[0].Lag != at {
		t.Fatalf("resized search: %+v", p)
	}
	if p := c.Peaks(x[:300], -1, 0.8, 0); len(p) != 0 {
		t.Fatalf("reference absent, got %+v", p)
	}
}

func TestSummarizeFindsTone(t *testing.T) {
	samples := tone(256, 16, 0.5)
	st := Summarize(samples, 0)
	if math.Abs(st.MaxMag-0.5) > 1e-6 {
		t.Fatalf("max mag %v", st.MaxMag)
	}
	if st.PeakBin != 128+16 {
		t.Fatalf("peak bin %d, want %d", st.PeakBin, 128+16)
	}
	if math.Abs(st.AvgPowerDB-10*math.Log10(0.25)) > 1e-3 {
		t.Fatalf("avg power %v", st.AvgPowerDB)
	}
}

func TestFFTShift(t *testing.T) {
	out := FFTShift([]complex128{0, 1, 2, 3})
	want := []complex128{2, 3, 0, 1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("index %d expected %v got %v", i, want[i], out[i])
		}
	}
}
