package feature

import "math"

// HzToMelHTK converts Hz to the HTK mel scale.
func HzToMelHTK(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

// MelToHzHTK is the inverse of HzToMelHTK.
func MelToHzHTK(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// MelBins returns the nfilt+2 FFT bin indices bounding an HTK mel
// filterbank between fMin and fMax.
func MelBins(nfilt int, fMin, fMax float64, sr, nfft int) []int {
	lo := HzToMelHTK(fMin)
	hi := HzToMelHTK(fMax)
	binSep := float64(sr) / float64(nfft)
	out := make([]int, nfilt+2)
	for i := range out {
		mel := lo + (hi-lo)*float64(i)/float64(nfilt+1)
		out[i] = int(math.RoundToEven(MelToHzHTK(mel) / binSep))
	}
	return out
}

// MelFilters builds an unnormalized triangular HTK filterbank as
// [nfilt][nfft/2+1].
func MelFilters(nfilt int, fMin, fMax float64, sr, nfft int) [][]float64 {
	bins := MelBins(nfilt, fMin, fMax, sr, nfft)
	nb := nfft/2 + 1
	fb := make([][]float64, nfilt)
	for m := 1; m <= nfilt; m++ {
		row := make([]float64, nb)
		left, center, right := bins[m-1], bins[m], bins[m+1]
		for k := left; k < center; k++ {
			if k >= 0 && k < nb {
				row[k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k < right; k++ {
			if k >= 0 && k < nb {
				row[k] = float64(right-k) / float64(right-center)
			}
		}
		fb[m-1] = row
	}
	return fb
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	slaneyFSp       = 200.0 / 3
	slaneyMinLogHz  = 1000.0
	slaneyMinLogMel = slaneyMinLogHz / slaneyFSp
)

var slaneyLogStep = math.Log(6.4) / 27

// HzToMelSlaney converts Hz to the Slaney mel scale.
func HzToMelSlaney(hz float64) float64 {
	if hz >= slaneyMinLogHz {
		return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
	}
	return hz / slaneyFSp
}

// MelToHzSlaney is the inverse of HzToMelSlaney.
func MelToHzSlaney(mel float64) float64 {
	if mel >= slaneyMinLogMel {
		return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
	}
	return slaneyFSp * mel
}

// MelFrequencies returns n frequencies evenly spaced on the Slaney mel scale
// between fMin and fMax.
func MelFrequencies(n int, fMin, fMax float64) []float64 {
	out := make([]float64, n)
	lo := HzToMelSlaney(fMin)
	hi := HzToMelSlaney(fMax)
	for i := range out {
		var mel float64
		if n > 1 {
			mel = lo + (hi-lo)*float64(i)/float64(n-1)
		} else {
			mel = lo
		}
		out[i] = MelToHzSlaney(mel)
	}
	return out
}

// MelFilterbank returns Slaney-normalized triangular weights laid out as
// [nfft/2+1][nMels], ready to right-multiply a power spectrum row.
func MelFilterbank(sr, nfft, nMels int, fMin, fMax float64) [][]float64 {
	nb := nfft/2 + 1
	melF := MelFrequencies(nMels+2, fMin, fMax)
	w := make([][]float64, nb)
	for k := range w {
		w[k] = make([]float64, nMels)
	}
	for m := 0; m < nMels; m++ {
		lower := melF[m+1] - melF[m]
		upper := melF[m+2] - melF[m+1]
		enorm := 2 / (melF[m+2] - melF[m])
		for k := 0; k < nb; k++ {
			f := float64(k) * float64(sr) / float64(nfft)
			l := (f - melF[m]) / lower
			u := (melF[m+2] - f) / upper
			v := math.Min(l, u)
			if v > 0 {
				w[k][m] = v * enorm
			}
		}
	}
	return w
}

// PowerToDB converts a power matrix to decibels in place:
// 10 log10(max(amin, S)) - 10 log10(max(amin, ref)). When topDB > 0 the
// result is floored at its maximum minus topDB.
func PowerToDB(s [][]float64, ref, amin, topDB float64) {
	refDB := 10 * math.Log10(math.Max(amin, ref))
	peak := math.Inf(-1)
	for _, row := range s {
		for i, v := range row {
			d := 10*math.Log10(math.Max(amin, v)) - refDB
			row[i] = d
			if d > peak {
				peak = d
			}
		}
	}
	if topDB <= 0 {
		return
	}
	floor := peak - topDB
	for _, row := range s {
		for i, v := range row {
			if v < floor {
				row[i] = floor
			}
		}
	}
}
