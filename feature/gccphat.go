package feature

import (
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/cwbudde/algo-seld/dsp"
	"gonum.org/v1/gonum/dsp/fourier"
)

// BandStats holds per-band GCC-PHAT statistics, each [frame][pair*bands + band].
type BandStats struct {
	TDE [][]float64 // lag of the peak / maxLag
	MDE [][]float64 // peak magnitude / (0.5/nfft)
	Std [][]float64 // weighted lag spread / maxLag
	Avg [][]float64 // weighted mean lag / (0.5 maxLag)
}

// GCCPHATBands configures the mel-band GCC-PHAT analysis.
type GCCPHATBands struct {
	NFFT      int
	Bands     int
	MaxLag    int
	KLims     []int // Bands+2 FFT bin edges
	Window    string
	BatchSize int
	Workers   int
}

// NewGCCPHATBands derives band edges from Slaney mel frequencies between 0
// and fs/2 and the lag limit from the array aperture.
func NewGCCPHATBands(p Params) *GCCPHATBands {
	edges := MelFrequencies(p.NbMelBins+2, 0, float64(p.FS)/2)
	kl := make([]int, len(edges))
	for i, hz := range edges {
		kl[i] = int(math.RoundToEven(hz / float64(p.FS) * float64(p.NFFT)))
	}
	return &GCCPHATBands{
		NFFT:      p.NFFT,
		Bands:     p.NbMelBins,
		MaxLag:    int(math.RoundToEven(p.MaxMicDistance / p.SpeedOfSound * float64(p.FS))),
		KLims:     kl,
		Window:    p.GCCBandWindow,
		BatchSize: 100,
	}
}

type bandMask struct {
	bw    int
	shift int
	mask  []float64
}

func (g *GCCPHATBands) masks() []bandMask {
	n := g.NFFT
	out := make([]bandMask, g.Bands)
	for k := 0; k < g.Bands; k++ {
		bw := g.KLims[k+2] - g.KLims[k] + 1
		bw += bw % 2
		if bw > n {
			bw = n
		}
		var wind []float64
		if g.Window == "hann" {
			wind = dsp.HannPeriodic(bw)
		} else {
			wind = make([]float64, bw)
			for i := range wind {
				wind[i] = 1
			}
		}
		m := make([]float64, n)
		h := bw / 2
		copy(m[:h], wind[h:])
		copy(m[n-h:], wind[:h])
		out[k] = bandMask{bw: bw, shift: g.KLims[k+1], mask: m}
	}
	return out
}

// Compute runs the analysis on a two-sided spectrogram laid out
// [bin][frame][channel] (see ExtendSpectrogram) for the given channel pairs.
//
// Per band the PHAT spectrum is circularly shifted by the centre edge,
// windowed, inverse transformed, fftshifted, scaled by 1/BW and restricted to
// |lag| <= MaxLag before the per-frame peak and moment statistics are taken.
// A frame whose restricted magnitudes sum to zero gets zero mean and spread.
// x must have NFFT bins and every pair must index its channels.
func (g *GCCPHATBands) Compute(x [][][]complex128, pairs [][2]int) (BandStats, error) {
	n := g.NFFT
	if n <= 0 || len(x) != n {
		return BandStats{}, fmt.Errorf("gcc-phat bands: spectrum has %d bins, want nfft %d", len(x), n)
	}
	frames := len(x[0])
	nch := 0
	if frames > 0 {
		nch = len(x[0][0])
	}
	for _, pr := range pairs {
		if frames > 0 && (pr[0] < 0 || pr[1] < 0 || pr[0] >= nch || pr[1] >= nch) {
			return BandStats{}, fmt.Errorf("gcc-phat bands: pair %v out of range for %d channels", pr, nch)
		}
	}
	cols := len(pairs) * g.Bands
	alloc := func() [][]float64 {
		m := make([][]float64, frames)
		buf := make([]float64, frames*cols)
		for f := range m {
			m[f] = buf[f*cols : (f+1)*cols : (f+1)*cols]
		}
		return m
	}
	st := BandStats{TDE: alloc(), MDE: alloc(), Std: alloc(), Avg: alloc()}
	if frames == 0 {
		return st, nil
	}

	masks := g.masks()
	lo, hi := n/2-g.MaxLag, n/2+g.MaxLag
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	maxLag := float64(g.MaxLag)
	if maxLag == 0 {
		maxLag = 1
	}

	type job struct{ pair, start, end int }
	jobs := make(chan job)
	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	batch := g.BatchSize
	if batch <= 0 {
		batch = 100
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fft := fourier.NewCmplxFFT(n)
			phat := make([]complex128, n)
			shifted := make([]complex128, n)
			mag := make([]float64, n)
			for j := range jobs {
				p1, p2 := pairs[j.pair][0], pairs[j.pair][1]
				for f := j.start; f < j.end; f++ {
					for i := 0; i < n; i++ {
						phat[i] = cmplx.Rect(1, cmplx.Phase(x[i][f][p2]*conj(x[i][f][p1])))
					}
					for k, bm := range masks {
						for i := 0; i < n; i++ {
							if bm.mask[i] == 0 {
								shifted[i] = 0
								continue
							}
							src := (i - bm.shift) % n
							if src < 0 {
								src += n
							}
							shifted[i] = phat[src] * complex(bm.mask[i], 0)
						}
						fft.Sequence(shifted, shifted)

						scale := 1 / (float64(n) * float64(bm.bw))
						peak, peakIdx, sum := -1.0, lo, 0.0
						for i := lo; i <= hi; i++ {
							// fftshift: output index i holds lag i-n/2.
							v := cmplx.Abs(shifted[(i+n/2)%n]) * scale
							mag[i] = v
							sum += v
							if v > peak {
								peak = v
								peakIdx = i
							}
						}
						var avg, std float64
						if sum > 0 {
							for i := lo; i <= hi; i++ {
								avg += float64(i-n/2) * mag[i] / sum
							}
							for i := lo; i <= hi; i++ {
								d := float64(i-n/2) - avg
								std += d * d * mag[i] / sum
							}
							std = math.Sqrt(std)
						}
						col := j.pair*g.Bands + k
						st.TDE[f][col] = float64(peakIdx-n/2) / maxLag
						st.MDE[f][col] = peak / (0.5 / float64(n))
						st.Std[f][col] = std / maxLag
						st.Avg[f][col] = avg / (0.5 * maxLag)
					}
				}
			}
		}()
	}
	for p := range pairs {
		for start := 0; start < frames; start += batch {
			end := start + batch
			if end > frames {
				end = frames
			}
			jobs <- job{pair: p, start: start, end: end}
		}
	}
	close(jobs)
	wg.Wait()
	return st, nil
}

// Concat returns [TDE | MDE | Std | Avg] per frame.
func (s BandStats) Concat() [][]float64 {
	out := make([][]float64, len(s.TDE))
	for f := range out {
		row := make([]float64, 0, 4*len(s.TDE[f]))
		row = append(row, s.TDE[f]...)
		row = append(row, s.MDE[f]...)
		row = append(row, s.Std[f]...)
		row = append(row, s.Avg[f]...)
		out[f] = row
	}
	return out
}
