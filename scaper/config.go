// Package scaper generates synthetic multichannel soundscapes: sound events
// drawn from a foreground library are placed at the source positions of a
// simulated room, convolved with the room responses of every microphone and
// mixed over an ambient noise bed. Every soundscape comes with DCASE
// metadata and a YAML manifest.
package scaper

import "fmt"

// DefaultClasses are the DCASE SELD sound event classes in label index order.
var DefaultClasses = []string{
	"femaleSpeech", "maleSpeech", "clapping", "telephone", "laughter",
	"domesticSounds", "footsteps", "doorCupboard", "music",
	"musicInstrument", "waterTap", "bell", "knock",
}

// FormatMic is the only rendering format: one output channel per microphone.
const FormatMic = "mic"

// Config controls soundscape generation.
type Config struct {
	Duration        float64 `yaml:"duration" json:"duration"` // seconds
	SampleRate      int     `yaml:"sample_rate" json:"sample_rate"`
	ForegroundDir   string  `yaml:"foreground_dir" json:"foreground_dir"`
	Format          string  `yaml:"format" json:"format"`
	MaxEventOverlap int     `yaml:"max_event_overlap" json:"max_event_overlap"`
	// SpeedLimit is recorded in the manifest. Events are static, so it
	// never constrains placement.
	SpeedLimit float64 `yaml:"speed_limit" json:"speed_limit"`

	RefDB       float64 `yaml:"ref_db" json:"ref_db"`
	SNRMin      float64 `yaml:"snr_min" json:"snr_min"`
	SNRMax      float64 `yaml:"snr_max" json:"snr_max"`
	EventDurMin float64 `yaml:"event_dur_min" json:"event_dur_min"`
	EventDurMax float64 `yaml:"event_dur_max" json:"event_dur_max"`
	FadeS       float64 `yaml:"fade_s" json:"fade_s"`

	// PeakDB normalizes the final mix to this peak level when
	// PeakNormalize is set.
	PeakNormalize bool    `yaml:"peak_normalize" json:"peak_normalize"`
	PeakDB        float64 `yaml:"peak_db" json:"peak_db"`

	// ClipCacheMB bounds the decoded foreground clips kept in memory.
	ClipCacheMB float64 `yaml:"clip_cache_mb" json:"clip_cache_mb"`

	LabelHopS float64  `yaml:"label_hop_s" json:"label_hop_s"`
	Classes   []string `yaml:"classes" json:"classes"`
	Seed      int64    `yaml:"seed" json:"seed"`
}

// DefaultConfig returns 60 s soundscapes at 24 kHz with up to three
// concurrent events.
func DefaultConfig() Config {
	return Config{
		Duration:        60,
		SampleRate:      24000,
		Format:          FormatMic,
		MaxEventOverlap: 3,
		SpeedLimit:      2.0,
		RefDB:           -65,
		SNRMin:          5,
		SNRMax:          30,
		EventDurMin:     3,
		EventDurMax:     10,
		FadeS:           0.01,
		PeakNormalize:   true,
		PeakDB:          -3,
		ClipCacheMB:     DefaultClipCacheBytes >> 20,
		LabelHopS:       0.1,
		Classes:         append([]string(nil), DefaultClasses...),
		Seed:            1,
	}
}

func (c *Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample rate too low: %d", c.SampleRate)
	}
	if c.Format != FormatMic {
		return fmt.Errorf("unsupported format %q", c.Format)
	}
	if c.MaxEventOverlap < 1 {
		return fmt.Errorf("max_event_overlap must be >= 1")
	}
	if c.SNRMax < c.SNRMin {
		return fmt.Errorf("snr range [%g, %g] is empty", c.SNRMin, c.SNRMax)
	}
	if c.EventDurMin <= 0 || c.EventDurMax < c.EventDurMin {
		return fmt.Errorf("invalid event duration range [%g, %g]", c.EventDurMin, c.EventDurMax)
	}
	if c.FadeS < 0 {
		return fmt.Errorf("fade_s must be >= 0")
	}
	if c.PeakNormalize && c.PeakDB > 0 {
		return fmt.Errorf("peak_db must be <= 0")
	}
	if c.ClipCacheMB <= 0 {
		return fmt.Errorf("clip_cache_mb must be > 0")
	}
	if c.LabelHopS <= 0 {
		return fmt.Errorf("label_hop_s must be > 0")
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("class list is empty")
	}
	return nil
}

// ClipCacheBytes is ClipCacheMB in bytes.
func (c *Config) ClipCacheBytes() int64 {
	return int64(c.ClipCacheMB * (1 << 20))
}

func (c *Config) classIndex(label string) int {
	for i, name := range c.Classes {
		if name == label {
			return i
		}
	}
	return -1
}
