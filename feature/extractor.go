// Package feature extracts SELD input features from multichannel
// recordings: log-mel spectrograms, GCC-PHAT (plain and per mel band),
// SALSA-lite and first-order ambisonics intensity vectors.
package feature

import (
	"fmt"

	"github.com/cwbudde/algo-seld/internal/audioio"
)

// Extractor computes the feature matrix of a recording for one Params set.
// It is safe for concurrent use.
type Extractor struct {
	p       Params
	melWts  [][]float64
	htkBank [][]float64
	salsa   salsaBins
	bands   *GCCPHATBands
	nbBins  int
	workers int
}

// NewExtractor validates p and precomputes filterbanks and bin limits.
func NewExtractor(p Params) (*Extractor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Extractor{p: p}
	if p.UseSALSALite && p.Dataset == FormatMic {
		e.salsa = newSALSABins(p)
		if e.salsa.upper > e.salsa.cutoff {
			return nil, fmt.Errorf("upper bin for doa feature %d is higher than cutoff bin for spectrogram %d", e.salsa.upper, e.salsa.cutoff)
		}
		e.nbBins = e.salsa.width()
	} else {
		e.nbBins = p.NbMelBins
		e.melWts = MelFilterbank(p.FS, p.NFFT, p.NbMelBins, 0, float64(p.FS)/2)
		if p.MelScale == MelHTK {
			e.htkBank = MelFilters(p.NbMelBins, 0, float64(p.FS)/2, p.FS, p.NFFT)
		}
		e.bands = NewGCCPHATBands(p)
	}
	return e, nil
}

// SetWorkers bounds the goroutines used per file by the band statistics.
func (e *Extractor) SetWorkers(n int) {
	e.workers = n
}

func (e *Extractor) Params() Params { return e.p }

// NbMelBins is the number of frequency features per channel: the mel band
// count, or the SALSA-lite bin range width.
func (e *Extractor) NbMelBins() int { return e.nbBins }

// FrameStats returns the number of feature and label frames of a recording
// of numSamples samples.
func (e *Extractor) FrameStats(numSamples int) (featFrames, labelFrames int) {
	return numSamples / e.p.HopLen(), numSamples / e.p.LabelHopLen()
}

// FeatureWidth is the number of columns Extract produces.
func (e *Extractor) FeatureWidth() int {
	ch := e.p.NbChannels
	nPairs := ch * (ch - 1) / 2
	switch {
	case e.p.Dataset == FormatFOA:
		return ch*e.nbBins + 3*e.nbBins
	case e.p.UseSALSALite:
		return (2*ch - 1) * e.nbBins
	case e.p.MicFeature == MicGCC:
		return ch*e.nbBins + nPairs*e.nbBins
	default:
		return ch*e.nbBins + 4*nPairs*e.nbBins
	}
}

// SelectChannels picks the configured microphone channels from a recording.
func (e *Extractor) SelectChannels(audio [][]float64) ([][]float64, error) {
	sel := e.p.channels()
	out := make([][]float64, len(sel))
	for i, c := range sel {
		if c >= len(audio) {
			return nil, fmt.Errorf("channel %d requested, recording has %d", c, len(audio))
		}
		out[i] = audio[c]
	}
	return out, nil
}

// Spectrogram returns the truncated STFT of already selected channels.
func (e *Extractor) Spectrogram(audio [][]float64) (Spectra, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no channels")
	}
	nFrames, _ := e.FrameStats(len(audio[0]))
	if nFrames == 0 {
		return nil, fmt.Errorf("recording shorter than one hop (%d samples)", len(audio[0]))
	}
	return STFT(audio, e.p.NFFT, e.p.WinLen(), e.p.HopLen(), nFrames, e.p.PadMode)
}

// Extract computes the feature matrix [frame][feature] of selected channels
// ([channel][sample]).
func (e *Extractor) Extract(audio [][]float64) ([][]float64, error) {
	if len(audio) != e.p.NbChannels {
		return nil, fmt.Errorf("got %d channels, want %d", len(audio), e.p.NbChannels)
	}
	spect, err := e.Spectrogram(audio)
	if err != nil {
		return nil, err
	}

	switch {
	case e.p.Dataset == FormatFOA:
		mel, err := e.melBlock(audio, spect)
		if err != nil {
			return nil, err
		}
		iv, err := FOAIntensityVectors(spect, e.melWts, e.p.Eps)
		if err != nil {
			return nil, err
		}
		return concatRows(mel, iv), nil

	case e.p.UseSALSALite:
		return SALSALite(spect, e.salsa), nil

	case e.p.MicFeature == MicGCC:
		mel, err := e.melBlock(audio, spect)
		if err != nil {
			return nil, err
		}
		return concatRows(mel, GCC(spect, e.nbBins)), nil

	default:
		mel, err := e.melBlock(audio, spect)
		if err != nil {
			return nil, err
		}
		bands := *e.bands
		bands.Workers = e.workers
		st, err := bands.Compute(ExtendSpectrogram(spect), Pairs(e.p.NbChannels))
		if err != nil {
			return nil, err
		}
		return concatRows(mel, st.Concat()), nil
	}
}

// melBlock returns the log-mel features. The HTK flavour reframes the audio
// with a symmetric window and keeps the STFT frame count.
func (e *Extractor) melBlock(audio [][]float64, spect Spectra) ([][]float64, error) {
	if e.p.MelScale != MelHTK {
		return MelSpectrogram(spect, e.melWts), nil
	}
	full, err := FullSpectrogram(audio, e.p.NFFT, e.p.WinLen(), e.p.HopLen())
	if err != nil {
		return nil, err
	}
	if len(full) < len(spect) {
		return nil, fmt.Errorf("htk framing yields %d frames, want %d", len(full), len(spect))
	}
	return MelSpectrogramHTK(full[:len(spect)], e.htkBank), nil
}

// ExtractFile reads a WAV recording, checks its sample rate, selects the
// microphone channels and extracts its features.
func (e *Extractor) ExtractFile(path string) ([][]float64, error) {
	chans, sr, err := audioio.ReadWAV(path)
	if err != nil {
		return nil, err
	}
	if sr != e.p.FS {
		return nil, fmt.Errorf("%s: sample rate %d, want %d", path, sr, e.p.FS)
	}
	sel, err := e.SelectChannels(chans)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return e.Extract(sel)
}

func concatRows(blocks ...[][]float64) [][]float64 {
	if len(blocks) == 0 {
		return nil
	}
	out := make([][]float64, len(blocks[0]))
	for f := range out {
		n := 0
		for _, b := range blocks {
			n += len(b[f])
		}
		row := make([]float64, 0, n)
		for _, b := range blocks {
			row = append(row, b[f]...)
		}
		out[f] = row
	}
	return out
}
