package roomsim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-seld/analysis"
	"github.com/cwbudde/algo-seld/geom"
	"github.com/cwbudde/mayfly"
)

// CalibrateOptions bounds the absorption search.
type CalibrateOptions struct {
	Population    int
	Iterations    int
	MinAbsorption float64
	MaxAbsorption float64
	Seed          int64
}

func DefaultCalibrateOptions() CalibrateOptions {
	return CalibrateOptions{
		Population:    6,
		Iterations:    4,
		MinAbsorption: 0.01,
		MaxAbsorption: 0.99,
		Seed:          1,
	}
}

// CalibrationResult reports the absorption that best reproduces cfg.RT60.
type CalibrationResult struct {
	Absorption    float64
	SabineGuess   float64
	MaxOrder      int
	MeasuredRT60  float64
	TargetRT60    float64
	Evaluations   int
	RelativeError float64
}

// Calibrate searches the wall absorption for which the RT60 measured on a
// simulated source/mic response matches cfg.RT60. Sabine's formula only
// holds for diffuse fields, so long thin rooms drift from it.
func Calibrate(cfg Config, src, mic geom.Vec3, opts CalibrateOptions) (CalibrationResult, error) {
	var res CalibrationResult
	if cfg.RT60 <= 0 {
		return res, fmt.Errorf("target rt60 must be > 0")
	}
	if opts.Population < 2 || opts.Iterations < 1 {
		return res, fmt.Errorf("population must be >= 2 and iterations >= 1")
	}
	if !(opts.MinAbsorption > 0 && opts.MinAbsorption < opts.MaxAbsorption && opts.MaxAbsorption <= 1) {
		return res, fmt.Errorf("invalid absorption bounds [%g, %g]", opts.MinAbsorption, opts.MaxAbsorption)
	}

	guess, order, err := InverseSabine(cfg.RT60, cfg.Dims, cfg.SpeedOfSound)
	if err != nil {
		return res, err
	}
	res.SabineGuess = guess
	res.MaxOrder = order
	res.TargetRT60 = cfg.RT60
	if cfg.MaxOrder < 0 {
		cfg.MaxOrder = order
	}

	measure := func(absorption float64) (float64, error) {
		c := cfg
		c.Absorption = absorption
		room, err := NewRoom(c)
		if err != nil {
			return 0, err
		}
		if err := room.AddSource(src); err != nil {
			return 0, err
		}
		h, err := room.ComputePair(0, mic)
		if err != nil {
			return 0, err
		}
		m, err := analysis.AnalyzeRIR(h, c.SampleRate)
		if err != nil {
			return 0, err
		}
		res.Evaluations++
		return m.RT60, nil
	}

	cost := func(rt float64) float64 {
		if !(rt > 0) || math.IsInf(rt, 0) {
			return math.Inf(1)
		}
		return math.Abs(math.Log(rt / cfg.RT60))
	}

	bestAbs := guess
	bestRT, err := measure(guess)
	if err != nil {
		return res, err
	}
	bestCost := cost(bestRT)

	mc := mayfly.NewDefaultConfig()
	mc.ProblemSize = 1
	mc.LowerBound = 0.0
	mc.UpperBound = 1.0
	mc.MaxIterations = opts.Iterations
	mc.NPop = opts.Population
	mc.NPopF = opts.Population
	mc.NC = 2 * opts.Population
	mc.NM = 1
	mc.Rand = rand.New(rand.NewSource(opts.Seed))
	mc.ObjectiveFunc = func(pos []float64) float64 {
		x := 0.0
		if len(pos) > 0 {
			x = math.Min(math.Max(pos[0], 0), 1)
		}
		a := opts.MinAbsorption + x*(opts.MaxAbsorption-opts.MinAbsorption)
		rt, err := measure(a)
		if err != nil {
			return math.MaxFloat64
		}
		c := cost(rt)
		if c < bestCost {
			bestCost = c
			bestAbs = a
			bestRT = rt
		}
		return c
	}
	if _, err := runMayfly(mc); err != nil {
		return res, err
	}

	res.Absorption = bestAbs
	res.MeasuredRT60 = bestRT
	res.RelativeError = math.Abs(bestRT-cfg.RT60) / cfg.RT60
	return res, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}
