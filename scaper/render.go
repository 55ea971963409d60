package scaper

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	dspconv "github.com/cwbudde/algo-dsp/dsp/conv"
	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-seld/dsp"
	"github.com/cwbudde/algo-seld/geom"
	"github.com/cwbudde/algo-seld/internal/audioio"
	"github.com/cwbudde/algo-seld/label"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
)

const (
	// Events shorter than this (input plus response) use a single FFT
	// convolution, longer ones the partitioned convolver.
	directConvLimit = 1 << 16
	partSize        = 1024
	backgroundLPHz  = 4000.0
)

// Manifest describes a generated soundscape.
type Manifest struct {
	ID         string   `yaml:"id"`
	Audio      string   `yaml:"audio"`
	Labels     string   `yaml:"labels"`
	Duration   float64  `yaml:"duration"`
	SampleRate int      `yaml:"sample_rate"`
	Format     string   `yaml:"format"`
	RefDB      float64  `yaml:"ref_db"`
	SpeedLimit float64  `yaml:"speed_limit"`
	MixGain    float64  `yaml:"mix_gain"`
	Background bool     `yaml:"background"`
	Room       RoomInfo `yaml:"room"`
	Events     []Event  `yaml:"events"`
}

// RoomInfo is the room part of a manifest.
type RoomInfo struct {
	Dims       geom.Vec3   `yaml:"dims"`
	RT60       float64     `yaml:"rt60"`
	Absorption float64     `yaml:"absorption"`
	MaxOrder   int         `yaml:"max_order"`
	Mics       []geom.Vec3 `yaml:"mics"`
	Sources    []geom.Vec3 `yaml:"sources"`
}

// Render mixes the soundscape into [mic][sample] and returns the gain that
// was applied to the whole mix.
func (s *Scaper) Render() ([][]float64, float64, error) {
	if s.room.RIR == nil {
		if err := s.room.ComputeRIR(); err != nil {
			return nil, 0, err
		}
	}
	n := int(math.Round(s.cfg.Duration * float64(s.cfg.SampleRate)))
	nMics := len(s.room.RIR)
	mix := make([][]float64, nMics)
	for m := range mix {
		mix[m] = make([]float64, n)
	}
	if s.background {
		s.addBackground(mix)
	}
	for i, ev := range s.events {
		if err := s.addEvent(mix, ev); err != nil {
			return nil, 0, fmt.Errorf("event %d (%s): %w", i, ev.Label, err)
		}
	}

	peak := 0.0
	for _, ch := range mix {
		peak = max(peak, dsp.MaxAbs(ch))
	}
	gain := 1.0
	switch {
	case peak == 0:
	case s.cfg.PeakNormalize:
		gain = dsp.DBToLin(s.cfg.PeakDB) / peak
	case peak > 1:
		gain = 0.99 / peak
	}
	if gain != 1 {
		for _, ch := range mix {
			for i := range ch {
				ch[i] *= gain
			}
		}
	}
	return mix, gain, nil
}

func (s *Scaper) addEvent(mix [][]float64, ev Event) error {
	clip, err := s.lib.Load(ev.SourceFile, s.cfg.SampleRate)
	if err != nil {
		return err
	}
	sr := float64(s.cfg.SampleRate)
	start := int(ev.SourceTime * sr)
	length := int(ev.Duration * sr)
	if start+length > len(clip) {
		length = len(clip) - start
	}
	if length <= 0 {
		return nil
	}
	seg := make([]float64, length)
	copy(seg, clip[start:start+length])
	applyFade(seg, int(s.cfg.FadeS*sr))

	rms := dsp.RMS(seg)
	if rms == 0 {
		return nil
	}
	g := dsp.DBToLin(s.cfg.RefDB+ev.SNR) / rms
	for i := range seg {
		seg[i] *= g
	}

	onset := int(math.Round(ev.Onset * sr))
	for m := range mix {
		wet, err := convolve(seg, s.room.RIR[m][ev.Position])
		if err != nil {
			return err
		}
		out := mix[m]
		for i, v := range wet {
			j := onset + i
			if j >= len(out) {
				break
			}
			out[j] += v
		}
	}
	return nil
}

// applyFade ramps both ends of x linearly over n samples.
func applyFade(x []float64, n int) {
	n = min(n, len(x)/2)
	for i := 0; i < n; i++ {
		g := float64(i) / float64(n)
		x[i] *= g
		x[len(x)-1-i] *= g
	}
}

// addBackground adds lowpassed noise at RefDB, independent per microphone.
func (s *Scaper) addBackground(mix [][]float64) {
	sr := float64(s.cfg.SampleRate)
	cutoff := min(backgroundLPHz, 0.45*sr)
	level := dsp.DBToLin(s.cfg.RefDB)
	for _, ch := range mix {
		lp := dsp.NewLowpass(cutoff, sr, math.Sqrt2/2)
		noise := make([]float64, len(ch))
		for i := range noise {
			noise[i] = lp.Process(s.rng.NormFloat64())
		}
		rms := dsp.RMS(noise)
		if rms == 0 {
			continue
		}
		g := level / rms
		for i, v := range noise {
			ch[i] += v * g
		}
	}
}

// convolve returns the full linear convolution of x and h.
func convolve(x, h []float64) ([]float64, error) {
	outLen := len(x) + len(h) - 1
	x32 := toFloat32(x)
	h32 := toFloat32(h)
	if outLen <= directConvLimit {
		out32 := make([]float32, outLen)
		if err := algofft.ConvolveReal(out32, x32, h32); err != nil {
			return nil, err
		}
		return toFloat64(out32), nil
	}

	ola, err := dspconv.NewStreamingOverlapAdd32(h32, partSize)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, outLen+partSize)
	block := make([]float32, partSize)
	buf := make([]float32, partSize)
	for pos := 0; len(out) < outLen; pos += partSize {
		clear(block)
		if pos < len(x32) {
			copy(block, x32[pos:min(pos+partSize, len(x32))])
		}
		if err := ola.ProcessBlockTo(buf, block); err != nil {
			return nil, err
		}
		for _, v := range buf {
			out = append(out, float64(v))
		}
	}
	return out[:outLen], nil
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

// Labels returns the polar metadata of the soundscape at LabelHopS
// resolution, distances in centimetres.
func (s *Scaper) Labels() label.Frames {
	nFrames := int(math.Ceil(s.cfg.Duration/s.cfg.LabelHopS - 1e-9))
	out := label.Frames{}
	for _, ev := range s.events {
		first := int(ev.Onset/s.cfg.LabelHopS + 1e-9)
		last := int(math.Ceil(ev.offset()/s.cfg.LabelHopS - 1e-9))
		for f := first; f < last && f < nFrames; f++ {
			out[f] = append(out[f], label.Event{
				Class:   ev.Class,
				Track:   ev.Track,
				DOA:     []float64{ev.Azimuth, ev.Elevation},
				Dist:    ev.Distance * 100,
				HasDist: true,
			})
		}
	}
	return out
}

// Generate renders the soundscape to audioPath (.wav) and writes the
// metadata to labelPath (.csv) with the manifest next to it (.yaml).
// Missing extensions are appended.
func (s *Scaper) Generate(audioPath, labelPath string) error {
	audioPath = withExt(audioPath, ".wav")
	labelPath = withExt(labelPath, ".csv")

	mix, gain, err := s.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return err
	}
	if err := audioio.WriteWAV(audioPath, mix, s.cfg.SampleRate); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	if err := label.WriteMetadataFile(labelPath, s.Labels()); err != nil {
		return fmt.Errorf("write labels: %w", err)
	}

	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		return err
	}
	rc := s.room.Config()
	m := Manifest{
		ID:         id.String(),
		Audio:      audioPath,
		Labels:     labelPath,
		Duration:   s.cfg.Duration,
		SampleRate: s.cfg.SampleRate,
		Format:     s.cfg.Format,
		RefDB:      s.cfg.RefDB,
		SpeedLimit: s.cfg.SpeedLimit,
		MixGain:    gain,
		Background: s.background,
		Room: RoomInfo{
			Dims:       rc.Dims,
			RT60:       rc.RT60,
			Absorption: rc.Absorption,
			MaxOrder:   rc.MaxOrder,
			Mics:       s.room.Mics(),
			Sources:    s.room.Sources(),
		},
		Events: s.Events(),
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(strings.TrimSuffix(labelPath, ".csv")+".yaml", b, 0o644)
}

// LoadManifest reads a manifest written by Generate.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}

func withExt(path, ext string) string {
	if filepath.Ext(path) == ext {
		return path
	}
	return path + ext
}
