package feature

import (
	"fmt"

	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-seld/dsp"
)

// Spectra is a multichannel spectrogram laid out [frame][bin][channel].
type Spectra [][][]complex128

// Frames, Bins and Channels report the dimensions of s.
func (s Spectra) Frames() int { return len(s) }

func (s Spectra) Bins() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

func (s Spectra) Channels() int {
	if len(s) == 0 || len(s[0]) == 0 {
		return 0
	}
	return len(s[0][0])
}

func newSpectra(frames, bins, ch int) Spectra {
	s := make(Spectra, frames)
	for f := range s {
		s[f] = make([][]complex128, bins)
		buf := make([]complex128, bins*ch)
		for k := range s[f] {
			s[f][k] = buf[k*ch : (k+1)*ch : (k+1)*ch]
		}
	}
	return s
}

// padded reads x as if padded by pad samples on both sides.
func padded(x []float64, i, pad int, mode string) float64 {
	j := i - pad
	n := len(x)
	if j >= 0 && j < n {
		return x[j]
	}
	if mode != "reflect" || n < 2 {
		return 0
	}
	period := 2 * (n - 1)
	j %= period
	if j < 0 {
		j += period
	}
	if j >= n {
		j = period - j
	}
	return x[j]
}

// STFT computes a centred short-time Fourier transform of every channel
// ([channel][sample] input). The periodic Hann window of winLen samples is
// centred in an nfft frame; frames are hop samples apart and the signal is
// padded by nfft/2 on both sides. Only the first nFrames frames are kept.
func STFT(audio [][]float64, nfft, winLen, hop, nFrames int, padMode string) (Spectra, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no channels")
	}
	if winLen > nfft || hop < 1 {
		return nil, fmt.Errorf("invalid stft geometry nfft=%d win=%d hop=%d", nfft, winLen, hop)
	}
	n := len(audio[0])
	total := 1 + n/hop
	if nFrames < 0 || nFrames > total {
		nFrames = total
	}
	plan, err := algofft.NewPlanReal64(nfft)
	if err != nil {
		return nil, fmt.Errorf("fft plan: %w", err)
	}
	win := make([]float64, nfft)
	lpad := (nfft - winLen) / 2
	copy(win[lpad:], dsp.HannPeriodic(winLen))

	bins := nfft/2 + 1
	out := newSpectra(nFrames, bins, len(audio))
	frame := make([]float64, nfft)
	spec := make([]complex128, bins)
	for c, x := range audio {
		if len(x) != n {
			return nil, fmt.Errorf("channel %d length %d != %d", c, len(x), n)
		}
		for f := 0; f < nFrames; f++ {
			start := f * hop
			for i := range frame {
				if win[i] == 0 {
					frame[i] = 0
					continue
				}
				frame[i] = win[i] * padded(x, start+i, nfft/2, padMode)
			}
			plan.Forward(spec, frame)
			for k := 0; k < bins; k++ {
				out[f][k][c] = spec[k]
			}
		}
	}
	return out, nil
}

// EnframeCenter splits x, reflect-padded by nfft/2 on both sides, into
// overlapping frames of frameLen samples as [frame][sample].
func EnframeCenter(x []float64, frameLen, hop, nfft int) [][]float64 {
	padLen := len(x) + 2*(nfft/2)
	diff := padLen - frameLen
	if diff < 0 {
		diff = -diff
	}
	nFrames := diff / hop
	out := make([][]float64, nFrames)
	for f := range out {
		row := make([]float64, frameLen)
		for i := range row {
			row[i] = padded(x, f*hop+i, nfft/2, "reflect")
		}
		out[f] = row
	}
	return out
}

// FullSpectrogram frames every channel with EnframeCenter, applies a
// symmetric Hann window and returns all nfft bins of the zero-padded FFT.
func FullSpectrogram(audio [][]float64, nfft, winLen, hop int) (Spectra, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no channels")
	}
	plan, err := algofft.NewPlanReal64(nfft)
	if err != nil {
		return nil, fmt.Errorf("fft plan: %w", err)
	}
	win := dsp.HannSymmetric(winLen)
	var out Spectra
	buf := make([]float64, nfft)
	half := make([]complex128, nfft/2+1)
	for c, x := range audio {
		frames := EnframeCenter(x, winLen, hop, nfft)
		if out == nil {
			out = newSpectra(len(frames), nfft, len(audio))
		}
		if len(frames) != len(out) {
			return nil, fmt.Errorf("channel %d yields %d frames, want %d", c, len(frames), len(out))
		}
		for f, fr := range frames {
			for i := range buf {
				buf[i] = 0
			}
			for i, v := range fr {
				if i < nfft {
					buf[i] = v * win[i]
				}
			}
			plan.Forward(half, buf)
			for k := 0; k < nfft; k++ {
				if k <= nfft/2 {
					out[f][k][c] = half[k]
				} else {
					out[f][k][c] = conj(half[nfft-k])
				}
			}
		}
	}
	return out, nil
}

// ExtendSpectrogram rebuilds the two-sided spectrum from a one-sided one:
// DC, positive bins, the real part of Nyquist, then the mirrored conjugates
// of the positive bins. The result is laid out [bin][frame][channel].
func ExtendSpectrogram(s Spectra) [][][]complex128 {
	frames, bins, ch := s.Frames(), s.Bins(), s.Channels()
	if bins < 2 {
		return nil
	}
	n := 2 * (bins - 1)
	out := make([][][]complex128, n)
	for k := range out {
		out[k] = make([][]complex128, frames)
		buf := make([]complex128, frames*ch)
		for f := range out[k] {
			out[k][f] = buf[f*ch : (f+1)*ch : (f+1)*ch]
		}
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < ch; c++ {
			out[0][f][c] = s[f][0][c]
			for k := 1; k < bins-1; k++ {
				out[k][f][c] = s[f][k][c]
				out[n-k][f][c] = conj(s[f][k][c])
			}
			out[bins-1][f][c] = complex(real(s[f][bins-1][c]), 0)
		}
	}
	return out
}

func conj(z complex128) complex128 { return complex(real(z), -imag(z)) }
