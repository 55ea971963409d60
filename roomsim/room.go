// Package roomsim simulates room impulse responses of a rectangular
// (shoebox) room with the image-source method.
//
// Image sources are enumerated up to a maximum reflection order, optionally
// jittered (randomized ISM) to break the sweeping-echo artefacts of a perfect
// lattice, and rendered with a windowed-sinc fractional delay. Air absorption
// is modelled as a distance-dependent gain plus a lowpass swept along the
// response.
package roomsim

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/cwbudde/algo-approx"
	"github.com/cwbudde/algo-seld/dsp"
	"github.com/cwbudde/algo-seld/geom"
)

// Config controls the room and the simulation.
type Config struct {
	SampleRate   int
	Dims         geom.Vec3 // metres
	RT60         float64   // seconds, used when Absorption or MaxOrder are derived
	Absorption   float64   // uniform energy absorption in (0,1]; 0 derives it from RT60
	MaxOrder     int       // image order; < 0 derives it from RT60
	SpeedOfSound float64

	RandISM     bool
	MaxRandDisp float64 // metres, per axis

	AirAbsorption bool
	FracDelayLen  int // taps of the windowed-sinc delay filter

	LateTail float64 // level of an optional diffuse noise tail, 0 disables
	Seed     int64
}

// DefaultConfig matches the 15 x 20 x 3.5 m, RT60 0.6 s room used for the
// synthetic SELD datasets.
func DefaultConfig() Config {
	return Config{
		SampleRate:    24000,
		Dims:          geom.Vec3{15, 20, 3.5},
		RT60:          0.6,
		Absorption:    0,
		MaxOrder:      -1,
		SpeedOfSound:  343.0,
		RandISM:       true,
		MaxRandDisp:   0.08,
		AirAbsorption: true,
		FracDelayLen:  81,
		Seed:          1,
	}
}

func (c *Config) Validate() error {
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample rate too low: %d", c.SampleRate)
	}
	for i, l := range c.Dims {
		if l <= 0 {
			return fmt.Errorf("room dimension %d must be > 0", i)
		}
	}
	if c.SpeedOfSound <= 0 {
		return fmt.Errorf("speed of sound must be > 0")
	}
	if c.Absorption < 0 || c.Absorption > 1 {
		return fmt.Errorf("absorption must be in [0,1]")
	}
	if (c.Absorption == 0 || c.MaxOrder < 0) && c.RT60 <= 0 {
		return fmt.Errorf("rt60 must be > 0 when absorption or max order are derived")
	}
	if c.MaxRandDisp < 0 {
		return fmt.Errorf("max random displacement must be >= 0")
	}
	if c.FracDelayLen < 1 {
		return fmt.Errorf("fractional delay length must be >= 1")
	}
	if c.LateTail < 0 {
		return fmt.Errorf("late tail level must be >= 0")
	}
	return nil
}

// Resolved returns a copy with Absorption and MaxOrder filled in.
func (c Config) Resolved() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.Absorption > 0 && c.MaxOrder >= 0 {
		return c, nil
	}
	e, order, err := InverseSabine(c.RT60, c.Dims, c.SpeedOfSound)
	if err != nil {
		return c, err
	}
	if c.Absorption == 0 {
		c.Absorption = e
	}
	if c.MaxOrder < 0 {
		c.MaxOrder = order
	}
	return c, nil
}

// Room holds sources, microphones and the computed responses.
type Room struct {
	cfg     Config
	sources []geom.Vec3
	mics    []geom.Vec3

	// RIR[mic][src], filled by ComputeRIR.
	RIR [][][]float64
}

// NewRoom validates cfg and resolves the derived parameters.
func NewRoom(cfg Config) (*Room, error) {
	r, err := cfg.Resolved()
	if err != nil {
		return nil, err
	}
	return &Room{cfg: r}, nil
}

// Config returns the resolved configuration.
func (r *Room) Config() Config { return r.cfg }

func (r *Room) inside(p geom.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < 0 || p[i] > r.cfg.Dims[i] {
			return false
		}
	}
	return true
}

// AddSource places a source. Positions outside the room are rejected.
func (r *Room) AddSource(p geom.Vec3) error {
	if !r.inside(p) {
		return fmt.Errorf("source %v outside room %v", p, r.cfg.Dims)
	}
	r.sources = append(r.sources, p)
	r.RIR = nil
	return nil
}

// AddMicArray places microphones.
func (r *Room) AddMicArray(mics []geom.Vec3) error {
	for _, m := range mics {
		if !r.inside(m) {
			return fmt.Errorf("microphone %v outside room %v", m, r.cfg.Dims)
		}
	}
	r.mics = append(r.mics, mics...)
	r.RIR = nil
	return nil
}

func (r *Room) Sources() []geom.Vec3 { return append([]geom.Vec3(nil), r.sources...) }
func (r *Room) Mics() []geom.Vec3    { return append([]geom.Vec3(nil), r.mics...) }

// ArrayCenter is the centroid of the microphones.
func (r *Room) ArrayCenter() geom.Vec3 { return geom.Centroid(r.mics) }

// ComputeRIR simulates every source/microphone pair. Pairs are rendered in
// parallel.
func (r *Room) ComputeRIR() error {
	if len(r.sources) == 0 {
		return fmt.Errorf("no sources in room")
	}
	if len(r.mics) == 0 {
		return fmt.Errorf("no microphones in room")
	}
	lut := newKernelLUT(r.cfg.FracDelayLen, 512)

	out := make([][][]float64, len(r.mics))
	for m := range out {
		out[m] = make([][]float64, len(r.sources))
	}

	type pair struct{ mic, src int }
	jobs := make(chan pair)
	workers := runtime.GOMAXPROCS(0)
	if n := len(r.mics) * len(r.sources); workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				out[p.mic][p.src] = r.simulatePair(p.src, r.mics[p.mic], lut)
			}
		}()
	}
	for m := range r.mics {
		for s := range r.sources {
			jobs <- pair{mic: m, src: s}
		}
	}
	close(jobs)
	wg.Wait()

	r.RIR = out
	return nil
}

// ComputePair simulates one source/microphone pair without storing it.
func (r *Room) ComputePair(src int, mic geom.Vec3) ([]float64, error) {
	if src < 0 || src >= len(r.sources) {
		return nil, fmt.Errorf("source index %d out of range", src)
	}
	if !r.inside(mic) {
		return nil, fmt.Errorf("microphone %v outside room %v", mic, r.cfg.Dims)
	}
	return r.simulatePair(src, mic, newKernelLUT(r.cfg.FracDelayLen, 512)), nil
}

type axisImage struct {
	coord float64
	order int
}

// axisImages lists the image coordinates along one axis with their number of
// wall reflections, limited to maxOrder.
func axisImages(s, l float64, maxOrder int) []axisImage {
	out := make([]axisImage, 0, 2*maxOrder+2)
	for m := -maxOrder; m <= maxOrder; m++ {
		for q := 0; q <= 1; q++ {
			order := absInt(m-q) + absInt(m)
			if order > maxOrder {
				continue
			}
			out = append(out, axisImage{
				coord: float64(1-2*q)*s + 2*float64(m)*l,
				order: order,
			})
		}
	}
	return out
}

func (r *Room) simulatePair(src int, mic geom.Vec3, lut *kernelLUT) []float64 {
	cfg := r.cfg
	fs := float64(cfg.SampleRate)
	s := r.sources[src]
	beta := math.Sqrt(1 - cfg.Absorption)
	globalDelay := cfg.FracDelayLen / 2

	// Same jitter sequence for every microphone of a given source.
	rng := rand.New(rand.NewSource(cfg.Seed + int64(src)*7919))

	// Air attenuation at 1 kHz, nepers per metre.
	const airAlpha = 0.5 * 1.1e-3

	xs := axisImages(s[0], cfg.Dims[0], cfg.MaxOrder)
	ys := axisImages(s[1], cfg.Dims[1], cfg.MaxOrder)
	zs := axisImages(s[2], cfg.Dims[2], cfg.MaxOrder)

	rir := make([]float64, globalDelay+cfg.FracDelayLen)
	for _, ix := range xs {
		for _, iy := range ys {
			if ix.order+iy.order > cfg.MaxOrder {
				continue
			}
			for _, iz := range zs {
				order := ix.order + iy.order + iz.order
				if order > cfg.MaxOrder {
					continue
				}
				img := geom.Vec3{ix.coord, iy.coord, iz.coord}
				if cfg.RandISM && order > 0 && cfg.MaxRandDisp > 0 {
					img[0] += (2*rng.Float64() - 1) * cfg.MaxRandDisp
					img[1] += (2*rng.Float64() - 1) * cfg.MaxRandDisp
					img[2] += (2*rng.Float64() - 1) * cfg.MaxRandDisp
				}
				d := img.Dist(mic)
				if d < 1e-3 {
					d = 1e-3
				}
				amp := math.Pow(beta, float64(order)) / (4 * math.Pi * d)
				if cfg.AirAbsorption {
					amp *= float64(approx.FastExp(float32(-airAlpha * d)))
				}

				t := d/cfg.SpeedOfSound*fs + float64(globalDelay)
				n := int(t)
				kernel := lut.at(t - float64(n))
				start := n - globalDelay
				need := start + len(kernel)
				if need > len(rir) {
					rir = append(rir, make([]float64, need-len(rir))...)
				}
				for i, k := range kernel {
					if j := start + i; j >= 0 {
						rir[j] += amp * k
					}
				}
			}
		}
	}

	if cfg.LateTail > 0 && cfg.RT60 > 0 {
		tailSeed := cfg.Seed + int64(src)*7919 + int64(math.Float64bits(mic[0]+2*mic[1]+3*mic[2])>>12)
		addLateTail(rir, r.directSample(src, mic), cfg.LateTail, cfg.RT60, fs, rand.New(rand.NewSource(tailSeed)))
	}
	if cfg.AirAbsorption {
		sweepAirLowpass(rir, globalDelay, fs, cfg.SpeedOfSound)
	}
	return rir
}

func (r *Room) directSample(src int, mic geom.Vec3) int {
	d := r.sources[src].Dist(mic)
	return int(d/r.cfg.SpeedOfSound*float64(r.cfg.SampleRate)) + r.cfg.FracDelayLen/2
}

// addLateTail adds lowpassed noise decaying 60 dB over rt60, starting at the
// direct path.
func addLateTail(rir []float64, start int, level, rt60, fs float64, rng *rand.Rand) {
	decay := 6.9078 / rt60
	lp := 0.0
	for i := start; i < len(rir); i++ {
		t := float64(i-start) / fs
		lp = 0.985*lp + 0.015*rng.NormFloat64()
		rir[i] += level * math.Exp(-decay*t) * lp
	}
}

// sweepAirLowpass lowers the cutoff of a lowpass as propagation distance
// grows, updating coefficients every block.
func sweepAirLowpass(rir []float64, offset int, fs, c float64) {
	const (
		block       = 64
		refDistance = 50.0
	)
	top := 0.45 * fs
	lp := dsp.NewLowpass(top, fs, 0.707)
	for i := 0; i < len(rir); i += block {
		d := float64(i-offset) / fs * c
		if d < 0 {
			d = 0
		}
		lp.SetLowpass(top/(1+d/refDistance), fs, 0.707)
		end := i + block
		if end > len(rir) {
			end = len(rir)
		}
		for j := i; j < end; j++ {
			rir[j] = lp.Process(rir[j])
		}
	}
}

// PaddedRIRs returns the responses as [src][mic][maxLen], zero-padding every
// channel to the longest response.
func (r *Room) PaddedRIRs() ([][][]float64, error) {
	if r.RIR == nil {
		return nil, fmt.Errorf("rir not computed")
	}
	maxLen := 0
	for _, perSrc := range r.RIR {
		for _, h := range perSrc {
			if len(h) > maxLen {
				maxLen = len(h)
			}
		}
	}
	out := make([][][]float64, len(r.sources))
	for s := range out {
		out[s] = make([][]float64, len(r.mics))
		for m := range out[s] {
			ch := make([]float64, maxLen)
			copy(ch, r.RIR[m][s])
			out[s][m] = ch
		}
	}
	return out, nil
}

type kernelLUT struct {
	steps int
	taps  [][]float64
}

func newKernelLUT(taps, steps int) *kernelLUT {
	l := &kernelLUT{steps: steps, taps: make([][]float64, steps+1)}
	for i := range l.taps {
		k := make([]float64, taps)
		dsp.FracDelayKernel(k, float64(i)/float64(steps))
		l.taps[i] = k
	}
	return l
}

func (l *kernelLUT) at(frac float64) []float64 {
	i := int(math.Round(frac * float64(l.steps)))
	if i < 0 {
		i = 0
	}
	if i > l.steps {
		i = l.steps
	}
	return l.taps[i]
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
