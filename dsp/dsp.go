package dsp

import (
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
)

// Biquad implements a second-order IIR filter (no heap allocations in Process)
type Biquad struct {
	// Coefficients
	b0, b1, b2 float64
	a1, a2     float64

	// State (previous samples)
	x1, x2 float64 // input history
	y1, y2 float64 // output history
}

// NewBiquad creates a new biquad filter with the given coefficients
func NewBiquad(b0, b1, b2, a1, a2 float64) *Biquad {
	return &Biquad{
		b0: b0,
		b1: b1,
		b2: b2,
		a1: a1,
		a2: a2,
	}
}

// Process processes one sample through the biquad filter
func (b *Biquad) Process(input float64) float64 {
	// Direct Form I implementation
	output := b.b0*input + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
	output = dspcore.FlushDenormals(output)

	b.x2 = b.x1
	b.x1 = input
	b.y2 = b.y1
	b.y1 = output

	return output
}

// Reset clears the filter state
func (b *Biquad) Reset() {
	b.x1, b.x2 = 0, 0
	b.y1, b.y2 = 0, 0
}

// SetLowpass recomputes lowpass coefficients in place and keeps the state,
// so the cutoff can be swept along a signal.
func (b *Biquad) SetLowpass(cutoff, sampleRate, q float64) {
	b.b0, b.b1, b.b2, b.a1, b.a2 = lowpassCoeffs(cutoff, sampleRate, q)
}

// NewLowpass creates a simple lowpass biquad filter
func NewLowpass(cutoff, sampleRate, q float64) *Biquad {
	b0, b1, b2, a1, a2 := lowpassCoeffs(cutoff, sampleRate, q)
	return NewBiquad(b0, b1, b2, a1, a2)
}

func lowpassCoeffs(cutoff, sampleRate, q float64) (b0, b1, b2, a1, a2 float64) {
	nyq := 0.5 * sampleRate
	if cutoff > 0.499*sampleRate {
		cutoff = 0.499 * sampleRate
	}
	if cutoff < 1e-3*nyq {
		cutoff = 1e-3 * nyq
	}
	w0 := 2.0 * math.Pi * cutoff / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	cosw0 := math.Cos(w0)

	a0 := 1.0 + alpha
	b0 = (1.0 - cosw0) / 2.0 / a0
	b1 = (1.0 - cosw0) / a0
	b2 = (1.0 - cosw0) / 2.0 / a0
	a1 = -2.0 * cosw0 / a0
	a2 = (1.0 - alpha) / a0
	return
}

// HannPeriodic returns the periodic (DFT-even) Hann window of length n, the
// variant scipy and torch use for spectral analysis.
func HannPeriodic(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// HannSymmetric returns the symmetric Hann window of length n (numpy.hanning).
func HannSymmetric(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// FracDelayKernel returns a Hann-windowed sinc of length taps that delays by
// frac samples (0 <= frac < 1) around the kernel centre taps/2.
func FracDelayKernel(dst []float64, frac float64) {
	taps := len(dst)
	center := float64(taps / 2)
	for i := range dst {
		x := float64(i) - center - frac
		w := 0.5 + 0.5*math.Cos(2*math.Pi*x/float64(taps))
		dst[i] = w * sinc(x)
	}
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// LinToDB converts an amplitude to decibels with a -240 dB floor.
func LinToDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

// DBToLin converts decibels to an amplitude factor.
func DBToLin(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}

// RMS returns the root-mean-square of x.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

// MaxAbs returns the largest absolute sample value.
func MaxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
