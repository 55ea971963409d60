package feature

import "fmt"

// Dataset formats.
const (
	FormatMic = "mic"
	FormatFOA = "foa"
)

// Microphone-array feature sets used when SALSA-lite is off.
const (
	MicGCCPHATBands = "gccphat-bands"
	MicGCC          = "gcc"
)

// Mel filterbank flavours for the log-mel block.
const (
	MelSlaney = "slaney"
	MelHTK    = "htk"
)

// Params configures feature and label extraction.
type Params struct {
	FS           int     `yaml:"fs" json:"fs"`
	HopLenS      float64 `yaml:"hop_len_s" json:"hop_len_s"`
	LabelHopLenS float64 `yaml:"label_hop_len_s" json:"label_hop_len_s"`
	NFFT         int     `yaml:"nfft" json:"nfft"`
	NbMelBins    int     `yaml:"nb_mel_bins" json:"nb_mel_bins"`
	NbChannels   int     `yaml:"nb_channels" json:"nb_channels"`
	// MicChannels selects NbChannels channels of the stored recording.
	MicChannels []int `yaml:"mic_channels" json:"mic_channels"`

	Dataset       string `yaml:"dataset" json:"dataset"`
	UniqueClasses int    `yaml:"unique_classes" json:"unique_classes"`
	MultiACCDOA   bool   `yaml:"multi_accdoa" json:"multi_accdoa"`
	MicFeature    string `yaml:"mic_feature" json:"mic_feature"`
	MelScale      string `yaml:"mel_scale" json:"mel_scale"`

	UseSALSALite         bool    `yaml:"use_salsalite" json:"use_salsalite"`
	FMinDOASALSALite     float64 `yaml:"fmin_doa_salsalite" json:"fmin_doa_salsalite"`
	FMaxDOASALSALite     float64 `yaml:"fmax_doa_salsalite" json:"fmax_doa_salsalite"`
	FMaxSpectraSALSALite float64 `yaml:"fmax_spectra_salsalite" json:"fmax_spectra_salsalite"`

	MaxMicDistance float64 `yaml:"max_mic_distance" json:"max_mic_distance"`
	SpeedOfSound   float64 `yaml:"speed_of_sound" json:"speed_of_sound"`
	GCCBandWindow  string  `yaml:"gcc_band_window" json:"gcc_band_window"`
	PadMode        string  `yaml:"pad_mode" json:"pad_mode"`
	Eps            float64 `yaml:"eps" json:"eps"`
}

// DefaultParams returns the 24 kHz, 20 ms hop, 64-band configuration of the
// DCASE SELD baseline with four microphones.
func DefaultParams() Params {
	return Params{
		FS:                   24000,
		HopLenS:              0.02,
		LabelHopLenS:         0.1,
		NFFT:                 2048,
		NbMelBins:            64,
		NbChannels:           4,
		MicChannels:          []int{0, 1, 2, 3},
		Dataset:              FormatMic,
		UniqueClasses:        13,
		MultiACCDOA:          false,
		MicFeature:           MicGCCPHATBands,
		MelScale:             MelSlaney,
		UseSALSALite:         false,
		FMinDOASALSALite:     50,
		FMaxDOASALSALite:     2000,
		FMaxSpectraSALSALite: 9000,
		MaxMicDistance:       2 * 1.5,
		SpeedOfSound:         343,
		GCCBandWindow:        "boxcar",
		PadMode:              "constant",
		Eps:                  1e-8,
	}
}

// HopLen is the STFT hop in samples.
func (p Params) HopLen() int { return int(float64(p.FS) * p.HopLenS) }

// WinLen is the analysis window length, two hops.
func (p Params) WinLen() int { return 2 * p.HopLen() }

// LabelHopLen is the label frame length in samples.
func (p Params) LabelHopLen() int { return int(float64(p.FS) * p.LabelHopLenS) }

// LabelFramesPerSecond is the number of label frames in one second.
func (p Params) LabelFramesPerSecond() int {
	return int(float64(p.FS) / float64(p.LabelHopLen()))
}

func (p *Params) Validate() error {
	if p.FS <= 0 {
		return fmt.Errorf("fs must be > 0")
	}
	if p.HopLen() < 1 {
		return fmt.Errorf("hop_len_s too small for fs %d", p.FS)
	}
	if p.LabelHopLen() < p.HopLen() {
		return fmt.Errorf("label hop must be >= feature hop")
	}
	if p.NFFT < 2 || p.NFFT&(p.NFFT-1) != 0 {
		return fmt.Errorf("nfft must be a power of two >= 2, got %d", p.NFFT)
	}
	if p.WinLen() > p.NFFT {
		return fmt.Errorf("window length %d exceeds nfft %d", p.WinLen(), p.NFFT)
	}
	if p.NbMelBins < 1 {
		return fmt.Errorf("nb_mel_bins must be >= 1")
	}
	if p.NbChannels < 2 {
		return fmt.Errorf("nb_channels must be >= 2")
	}
	if len(p.MicChannels) != 0 && len(p.MicChannels) != p.NbChannels {
		return fmt.Errorf("mic_channels selects %d channels, nb_channels is %d", len(p.MicChannels), p.NbChannels)
	}
	for _, c := range p.MicChannels {
		if c < 0 {
			return fmt.Errorf("negative channel index %d", c)
		}
	}
	if p.UniqueClasses < 1 {
		return fmt.Errorf("unique_classes must be >= 1")
	}
	switch p.Dataset {
	case FormatMic:
		switch p.MicFeature {
		case MicGCCPHATBands, MicGCC:
		default:
			return fmt.Errorf("unknown mic_feature %q", p.MicFeature)
		}
	case FormatFOA:
		if p.NbChannels != 4 {
			return fmt.Errorf("foa needs 4 channels, got %d", p.NbChannels)
		}
		if p.UseSALSALite {
			return fmt.Errorf("salsa-lite needs the mic format")
		}
	default:
		return fmt.Errorf("unknown dataset format %q", p.Dataset)
	}
	if p.UseSALSALite {
		if p.FMinDOASALSALite < 0 || p.FMaxDOASALSALite <= p.FMinDOASALSALite {
			return fmt.Errorf("invalid salsa-lite doa band [%g, %g]", p.FMinDOASALSALite, p.FMaxDOASALSALite)
		}
		if p.FMaxSpectraSALSALite > float64(p.FS)/2 {
			return fmt.Errorf("fmax_spectra_salsalite above nyquist")
		}
	}
	if p.MaxMicDistance <= 0 || p.SpeedOfSound <= 0 {
		return fmt.Errorf("max_mic_distance and speed_of_sound must be > 0")
	}
	switch p.MelScale {
	case MelSlaney, MelHTK:
	default:
		return fmt.Errorf("unknown mel_scale %q", p.MelScale)
	}
	switch p.GCCBandWindow {
	case "boxcar", "hann":
	default:
		return fmt.Errorf("unknown gcc_band_window %q", p.GCCBandWindow)
	}
	switch p.PadMode {
	case "constant", "reflect":
	default:
		return fmt.Errorf("unknown pad_mode %q", p.PadMode)
	}
	if p.Eps <= 0 {
		return fmt.Errorf("eps must be > 0")
	}
	return nil
}

func (p Params) channels() []int {
	if len(p.MicChannels) > 0 {
		return p.MicChannels
	}
	out := make([]int, p.NbChannels)
	for i := range out {
		out[i] = i
	}
	return out
}
