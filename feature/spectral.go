package feature

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrNonFinite is returned when a feature contains NaN or Inf values.
var ErrNonFinite = errors.New("feature: non-finite values in output")

// MelSpectrogramHTK projects the power of the first nfft/2+1 bins through an
// HTK filterbank ([filter][bin]) and returns 10 log10 of the result as
// [frame][channel*nfilt + filter]. Zero energies are floored at machine
// epsilon.
func MelSpectrogramHTK(s Spectra, fbank [][]float64) [][]float64 {
	frames, ch := s.Frames(), s.Channels()
	nfilt := len(fbank)
	out := make([][]float64, frames)
	for f := 0; f < frames; f++ {
		row := make([]float64, ch*nfilt)
		for c := 0; c < ch; c++ {
			for m, w := range fbank {
				var e float64
				for k, wk := range w {
					if wk == 0 || k >= s.Bins() {
						continue
					}
					v := s[f][k][c]
					e += wk * (real(v)*real(v) + imag(v)*imag(v))
				}
				if e == 0 {
					e = machineEps
				}
				row[c*nfilt+m] = 10 * math.Log10(e)
			}
		}
		out[f] = row
	}
	return out
}

const machineEps = 2.220446049250313e-16

// MelSpectrogram projects the power spectrum of each channel through
// weights ([bin][mel]), converts it with PowerToDB (ref 1, amin 1e-10,
// top 80 dB over the whole channel) and lays it out [frame][channel*mels + mel].
func MelSpectrogram(s Spectra, weights [][]float64) [][]float64 {
	frames, ch := s.Frames(), s.Channels()
	if len(weights) == 0 {
		return nil
	}
	nMels := len(weights[0])
	out := make([][]float64, frames)
	for f := range out {
		out[f] = make([]float64, ch*nMels)
	}
	mel := make([][]float64, frames)
	for f := range mel {
		mel[f] = make([]float64, nMels)
	}
	for c := 0; c < ch; c++ {
		for f := 0; f < frames; f++ {
			row := mel[f]
			for m := range row {
				row[m] = 0
			}
			for k := 0; k < s.Bins() && k < len(weights); k++ {
				v := s[f][k][c]
				p := real(v)*real(v) + imag(v)*imag(v)
				if p == 0 {
					continue
				}
				for m, w := range weights[k] {
					if w != 0 {
						row[m] += p * w
					}
				}
			}
		}
		PowerToDB(mel, 1.0, 1e-10, 80)
		for f := 0; f < frames; f++ {
			copy(out[f][c*nMels:], mel[f])
		}
	}
	return out
}

// FOAIntensityVectors computes the normalized active intensity of a
// first-order ambisonics spectrogram (channels W, X, Y, Z), projected
// through the mel weights and laid out [frame][axis*mels + mel].
func FOAIntensityVectors(s Spectra, weights [][]float64, eps float64) ([][]float64, error) {
	frames := s.Frames()
	if s.Channels() < 4 || len(weights) == 0 {
		return nil, errors.New("feature: foa intensity needs 4 channels and mel weights")
	}
	nMels := len(weights[0])
	out := make([][]float64, frames)
	for f := 0; f < frames; f++ {
		row := make([]float64, 3*nMels)
		for k := 0; k < s.Bins() && k < len(weights); k++ {
			bin := s[f][k]
			w := bin[0]
			wPow := real(w)*real(w) + imag(w)*imag(w)
			var xyz float64
			for a := 1; a <= 3; a++ {
				xyz += real(bin[a])*real(bin[a]) + imag(bin[a])*imag(bin[a])
			}
			e := eps + wPow + xyz/3
			for a := 0; a < 3; a++ {
				x := bin[a+1]
				iv := (real(w)*real(x) + imag(w)*imag(x)) / e
				if iv == 0 {
					continue
				}
				for m, wt := range weights[k] {
					if wt != 0 {
						row[a*nMels+m] += iv * wt
					}
				}
			}
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ErrNonFinite
			}
		}
		out[f] = row
	}
	return out, nil
}

// Pairs lists the channel pairs (m, n), m < n, in lexical order.
func Pairs(nch int) [][2]int {
	var out [][2]int
	for m := 0; m < nch; m++ {
		for n := m + 1; n < nch; n++ {
			out = append(out, [2]int{m, n})
		}
	}
	return out
}

// GCC computes the PHAT-weighted cross-correlation of every channel pair
// from a one-sided spectrogram and keeps nLags lags centred on zero,
// [frame][pair*nLags + lag]. Lag zero sits at index (nLags+1)/2.
func GCC(s Spectra, nLags int) [][]float64 {
	frames, bins := s.Frames(), s.Bins()
	n := 2 * (bins - 1)
	pairs := Pairs(s.Channels())
	fft := fourier.NewFFT(n)
	coeff := make([]complex128, bins)
	cc := make([]float64, n)
	// Negative lags take the larger half when nLags is odd.
	neg := (nLags + 1) / 2
	out := make([][]float64, frames)
	for f := 0; f < frames; f++ {
		row := make([]float64, len(pairs)*nLags)
		for p, pr := range pairs {
			for k := 0; k < bins; k++ {
				r := conj(s[f][k][pr[0]]) * s[f][k][pr[1]]
				coeff[k] = cmplx.Rect(1, cmplx.Phase(r))
			}
			fft.Sequence(cc, coeff)
			base := p * nLags
			for i := 0; i < neg; i++ {
				row[base+i] = cc[n-neg+i] / float64(n)
			}
			for i := 0; i < nLags-neg; i++ {
				row[base+neg+i] = cc[i] / float64(n)
			}
		}
		out[f] = row
	}
	return out
}

// salsaBins holds the SALSA-lite frequency bin limits.
type salsaBins struct {
	lower, upper, cutoff int
	delta                float64
}

func newSALSABins(p Params) salsaBins {
	nfft, fs := float64(p.NFFT), float64(p.FS)
	lower := int(math.Floor(p.FMinDOASALSALite * nfft / fs))
	if lower < 1 {
		lower = 1
	}
	upper := int(math.Floor(math.Min(p.FMaxDOASALSALite, float64(p.FS/2)) * nfft / fs))
	cutoff := int(math.Floor(p.FMaxSpectraSALSALite * nfft / fs))
	return salsaBins{
		lower:  lower,
		upper:  upper,
		cutoff: cutoff,
		delta:  2 * math.Pi * fs / (nfft * p.SpeedOfSound),
	}
}

func (b salsaBins) width() int { return b.cutoff - b.lower }

// SALSALite concatenates the log-power spectra of all channels with the
// normalized phase differences of channels 1.. against channel 0, both for
// bins [lower, cutoff). Phase values at sliced positions >= upper are zero.
// Layout: [frame][spectra ch*width | phase (ch-1)*width].
func SALSALite(s Spectra, b salsaBins) [][]float64 {
	frames, bins, ch := s.Frames(), s.Bins(), s.Channels()
	w := b.width()
	out := make([][]float64, frames)
	for f := range out {
		out[f] = make([]float64, (2*ch-1)*w)
	}

	pow := make([][]float64, frames)
	for f := range pow {
		pow[f] = make([]float64, bins)
	}
	for c := 0; c < ch; c++ {
		for f := 0; f < frames; f++ {
			for k := 0; k < bins; k++ {
				v := s[f][k][c]
				pow[f][k] = real(v)*real(v) + imag(v)*imag(v)
			}
		}
		PowerToDB(pow, 1.0, 1e-10, 0)
		for f := 0; f < frames; f++ {
			copy(out[f][c*w:(c+1)*w], pow[f][b.lower:b.cutoff])
		}
	}

	base := ch * w
	for f := 0; f < frames; f++ {
		for c := 1; c < ch; c++ {
			for i := 0; i < w && i < b.upper; i++ {
				k := b.lower + i
				freq := float64(k)
				if k == 0 {
					freq = 1
				}
				ph := cmplx.Phase(s[f][k][c] * conj(s[f][k][0]))
				out[f][base+(c-1)*w+i] = ph / (b.delta * freq)
			}
		}
	}
	return out
}
