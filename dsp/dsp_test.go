package dsp

import (
	"math"
	"testing"
)

func TestLowpassAttenuatesHighFrequency(t *testing.T) {
	const fs = 24000.0
	lp := NewLowpass(500, fs, 0.707)

	measure := func(freq float64) float64 {
		lp.Reset()
		var sum float64
		n := 4800
		for i := 0; i < n; i++ {
			y := lp.Process(math.Sin(2 * math.Pi * freq * float64(i) / fs))
			if i > n/2 {
				sum += y * y
			}
		}
		return math.Sqrt(sum / float64(n/2))
	}

	low := measure(100)
	high := measure(8000)
	if low < 0.6 {
		t.Fatalf("passband too attenuated: rms=%f", low)
	}
	if high > 0.05 {
		t.Fatalf("stopband not attenuated: rms=%f", high)
	}
}

func TestSetLowpassKeepsState(t *testing.T) {
	lp := NewLowpass(1000, 24000, 0.707)
	lp.Process(1)
	before := lp.y1
	lp.SetLowpass(2000, 24000, 0.707)
	if lp.y1 != before {
		t.Fatal("state reset by coefficient update")
	}
}

func TestHannWindows(t *testing.T) {
	p := HannPeriodic(8)
	if p[0] != 0 || math.Abs(p[4]-1) > 1e-12 {
		t.Fatalf("unexpected periodic window: %v", p)
	}
	s := HannSymmetric(9)
	if s[0] != 0 || math.Abs(s[8]) > 1e-12 || math.Abs(s[4]-1) > 1e-12 {
		t.Fatalf("unexpected symmetric window: %v", s)
	}
}

func TestFracDelayKernelIntegerDelayIsImpulse(t *testing.T) {
	k := make([]float64, 81)
	FracDelayKernel(k, 0)
	for i, v := range k {
		want := 0.0
		if i == 40 {
			want = 1
		}
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("tap %d = %g, want %g", i, v, want)
		}
	}
}

func TestFracDelayKernelHalfSampleIsSymmetric(t *testing.T) {
	k := make([]float64, 80)
	FracDelayKernel(k, 0.5)
	var sum float64
	for _, v := range k {
		sum += v
	}
	if math.Abs(sum-1) > 0.05 {
		t.Fatalf("dc gain %f, want ~1", sum)
	}
	if math.Abs(k[40]-k[41]) > 1e-9 {
		t.Fatalf("half-sample kernel not symmetric around 40.5: %g vs %g", k[40], k[41])
	}
}
