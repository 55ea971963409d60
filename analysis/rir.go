// Package analysis measures simulated room impulse responses and the
// inter-channel delays of rendered soundscapes.
package analysis

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/measure/ir"
)

// RIRMetrics summarizes one impulse response.
type RIRMetrics struct {
	SampleRate int `json:"sample_rate"`
	Samples    int `json:"samples"`

	DirectSample int     `json:"direct_sample"`
	DirectDelayS float64 `json:"direct_delay_s"`
	DRRDB        float64 `json:"drr_db"`

	DecayDBPerS float64 `json:"decay_db_per_s"`
	SlopeRT60   float64 `json:"slope_rt60"`

	RT60 float64 `json:"rt60"`
	EDT  float64 `json:"edt"`
	C80  float64 `json:"c80"`
	D50  float64 `json:"d50"`
}

// directWindowS is the half-width around the direct-path peak counted as
// direct energy.
const directWindowS = 0.0025

// AnalyzeRIR computes direct path, direct-to-reverberant ratio, envelope
// decay slope and the ISO 3382 parameters of rir.
func AnalyzeRIR(rir []float64, sampleRate int) (RIRMetrics, error) {
	m := RIRMetrics{SampleRate: sampleRate, Samples: len(rir)}
	if sampleRate <= 0 {
		return m, fmt.Errorf("sample rate must be > 0")
	}
	if len(rir) < 16 {
		return m, fmt.Errorf("impulse response too short: %d samples", len(rir))
	}

	peak := 0.0
	for i, v := range rir {
		if a := math.Abs(v); a > peak {
			peak = a
			m.DirectSample = i
		}
	}
	if peak <= 1e-12 {
		return m, fmt.Errorf("impulse response is silent")
	}
	m.DirectDelayS = float64(m.DirectSample) / float64(sampleRate)

	w := int(directWindowS * float64(sampleRate))
	var direct, reverb float64
	for i, v := range rir {
		e := v * v
		if i >= m.DirectSample-w && i <= m.DirectSample+w {
			direct += e
		} else if i > m.DirectSample+w {
			reverb += e
		}
	}
	m.DRRDB = 10 * math.Log10(math.Max(direct, 1e-24)/math.Max(reverb, 1e-24))

	const frame, hop = 256, 128
	env := rmsEnvelope(rir[m.DirectSample:], frame, hop)
	m.DecayDBPerS = decaySlopeDBPerS(env, float64(hop)/float64(sampleRate))
	if isFinite(m.DecayDBPerS) && m.DecayDBPerS < 0 {
		m.SlopeRT60 = -60.0 / m.DecayDBPerS
	} else {
		m.SlopeRT60 = math.NaN()
	}

	analyzer := ir.NewAnalyzer(float64(sampleRate))
	iso, err := analyzer.Analyze(rir)
	if err != nil {
		return m, fmt.Errorf("ir analysis: %w", err)
	}
	m.RT60 = iso.RT60
	m.EDT = iso.EDT
	m.C80 = iso.C80
	m.D50 = iso.D50
	return m, nil
}

// EstimateTDOA returns the lag in samples, within ±maxLag, that best aligns
// cand with ref. A positive lag means cand leads ref.
func EstimateTDOA(ref, cand []float64, maxLag int) int {
	if maxLag < 0 {
		maxLag = -maxLag
	}
	return estimateLag(ref, cand, maxLag, 1)
}

func estimateLag(ref []float64, cand []float64, maxLag int, step int) int {
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}
	if step < 1 {
		step = 1
	}
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		s := dotAtLag(ref, cand, lag, step)
		if s > best {
			best = s
			bestLag = lag
		}
	}
	return bestLag
}

func dotAtLag(a []float64, b []float64, lag int, step int) float64 {
	var ai, bi int
	if lag >= 0 {
		ai = lag
		bi = 0
	} else {
		ai = 0
		bi = -lag
	}
	n := len(a) - ai
	if len(b)-bi < n {
		n = len(b) - bi
	}
	if n <= 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i += step {
		sum += a[ai+i] * b[bi+i]
	}
	return sum
}

func rms1(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func rmsEnvelope(x []float64, frame int, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	n := 1 + (len(x)-frame)/hop
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = rms1(x[start : start+frame])
	}
	return out
}

func linToDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

// decaySlopeDBPerS fits a line to the envelope in dB from its peak down to
// 60 dB below it (or the end).
func decaySlopeDBPerS(env []float64, hopSec float64) float64 {
	if len(env) < 8 || hopSec <= 0 {
		return math.NaN()
	}
	peak := -math.MaxFloat64
	peakIdx := 0
	for i, v := range env {
		db := linToDB(v)
		if db > peak {
			peak = db
			peakIdx = i
		}
	}
	start := peakIdx + 1
	if start >= len(env)-4 {
		return math.NaN()
	}

	threshold := peak - 60.0
	end := len(env)
	for i := start; i < len(env); i++ {
		if linToDB(env[i]) < threshold {
			end = i
			break
		}
	}
	if end-start < 6 {
		return math.NaN()
	}

	var sx, sy, sxx, sxy float64
	n := float64(end - start)
	for i := start; i < end; i++ {
		x := float64(i-start) * hopSec
		y := linToDB(env[i])
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if math.Abs(den) < 1e-12 {
		return math.NaN()
	}
	return (n*sxy - sx*sy) / den
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
