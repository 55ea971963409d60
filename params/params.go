// Package params loads the parameter files of the SELD tools.
package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-seld/feature"
	"github.com/cwbudde/algo-seld/geom"
	"github.com/cwbudde/algo-seld/internal/audioio"
	"github.com/cwbudde/algo-seld/roomsim"
	"github.com/cwbudde/algo-seld/scaper"
	"github.com/goccy/go-yaml"
)

// Feature store backends.
const (
	StoreDir    = "dir"
	StoreBadger = "badger"
)

// Params is the schema of a parameter file. Keys missing from a file keep
// their defaults.
type Params struct {
	DatasetDir   string `yaml:"dataset_dir" json:"dataset_dir"`
	FeatLabelDir string `yaml:"feat_label_dir" json:"feat_label_dir"`
	Store        string `yaml:"store" json:"store"`
	Workers      string `yaml:"workers" json:"workers"`

	Room     Room           `yaml:"room" json:"room"`
	Scaper   scaper.Config  `yaml:"scaper" json:"scaper"`
	Generate Generate       `yaml:"generate" json:"generate"`
	Feature  feature.Params `yaml:"feature" json:"feature"`
}

// Room describes the simulated room and its sources and microphones. The
// sample rate is the soundscape rate.
type Room struct {
	Dims          geom.Vec3   `yaml:"dims" json:"dims"`
	RT60          float64     `yaml:"rt60" json:"rt60"`
	Absorption    float64     `yaml:"absorption" json:"absorption"`
	MaxOrder      int         `yaml:"max_order" json:"max_order"`
	SpeedOfSound  float64     `yaml:"speed_of_sound" json:"speed_of_sound"`
	RandISM       bool        `yaml:"rand_ism" json:"rand_ism"`
	MaxRandDisp   float64     `yaml:"max_rand_disp" json:"max_rand_disp"`
	AirAbsorption bool        `yaml:"air_absorption" json:"air_absorption"`
	FracDelayLen  int         `yaml:"frac_delay_len" json:"frac_delay_len"`
	LateTail      float64     `yaml:"late_tail" json:"late_tail"`
	Seed          int64       `yaml:"seed" json:"seed"`
	Sources       []geom.Vec3 `yaml:"sources" json:"sources"`
	Mics          []geom.Vec3 `yaml:"mics" json:"mics"`
}

// Generate controls the number and classes of generated soundscapes.
type Generate struct {
	Count      int      `yaml:"count" json:"count"`
	EventsMean float64  `yaml:"events_mean" json:"events_mean"`
	EventsStd  float64  `yaml:"events_std" json:"events_std"`
	Labels     []string `yaml:"labels" json:"labels"`
	Fold       int      `yaml:"fold" json:"fold"`
	RoomID     int      `yaml:"room_id" json:"room_id"`
}

// Default returns the 15 x 20 x 3.5 m room with five sources and a 1 m
// spaced four-microphone line array.
func Default() Params {
	rc := roomsim.DefaultConfig()
	do := scaper.DefaultDatasetOptions()
	return Params{
		DatasetDir:   "dataset",
		FeatLabelDir: "seld_feat_label",
		Store:        StoreDir,
		Workers:      "auto",
		Room: Room{
			Dims:          rc.Dims,
			RT60:          rc.RT60,
			Absorption:    rc.Absorption,
			MaxOrder:      rc.MaxOrder,
			SpeedOfSound:  rc.SpeedOfSound,
			RandISM:       rc.RandISM,
			MaxRandDisp:   rc.MaxRandDisp,
			AirAbsorption: rc.AirAbsorption,
			FracDelayLen:  rc.FracDelayLen,
			LateTail:      rc.LateTail,
			Seed:          rc.Seed,
			Sources: []geom.Vec3{
				{13.5, 2.73, 1.76},
				{10.5, 6.73, 2.7},
				{3.5, 9.73, 1.0},
				{5.5, 14.73, 0.6},
				{7.5, 17.73, 1.3},
			},
			Mics: []geom.Vec3{
				{2.5, 9, 1.2},
				{2.5, 10, 1.2},
				{2.5, 11, 1.2},
				{2.5, 12, 1.2},
			},
		},
		Scaper: scaper.DefaultConfig(),
		Generate: Generate{
			Count:      do.Count,
			EventsMean: do.EventsMean,
			EventsStd:  do.EventsStd,
			Labels:     do.Labels,
			Fold:       do.Fold,
			RoomID:     do.RoomID,
		},
		Feature: feature.DefaultParams(),
	}
}

// Load reads a YAML (.yaml, .yml) or JSON (.json) parameter file and applies
// it on top of the defaults. Relative paths resolve against the file's
// directory.
func Load(path string) (*Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &p)
	case ".json":
		err = json.Unmarshal(b, &p)
	default:
		return nil, fmt.Errorf("unsupported parameter file %s (want .yaml, .yml or .json)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, dir := range []*string{&p.DatasetDir, &p.FeatLabelDir, &p.Scaper.ForegroundDir} {
		*dir = strings.TrimSpace(*dir)
		if *dir != "" && !filepath.IsAbs(*dir) {
			*dir = filepath.Clean(filepath.Join(base, *dir))
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func (p *Params) Validate() error {
	if p.Store != StoreDir && p.Store != StoreBadger {
		return fmt.Errorf("store must be %q or %q, got %q", StoreDir, StoreBadger, p.Store)
	}
	if _, err := audioio.ParseWorkers(p.Workers); err != nil {
		return err
	}
	rc := p.RoomConfig()
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("room: %w", err)
	}
	if len(p.Room.Sources) == 0 || len(p.Room.Mics) == 0 {
		return fmt.Errorf("room: sources and mics are required")
	}
	if err := p.Scaper.Validate(); err != nil {
		return fmt.Errorf("scaper: %w", err)
	}
	if p.Generate.Count < 1 {
		return fmt.Errorf("generate: count must be >= 1")
	}
	if err := p.Feature.Validate(); err != nil {
		return fmt.Errorf("feature: %w", err)
	}
	return nil
}

// RoomConfig returns the simulator configuration at the soundscape rate.
func (p *Params) RoomConfig() roomsim.Config {
	r := p.Room
	return roomsim.Config{
		SampleRate:    p.Scaper.SampleRate,
		Dims:          r.Dims,
		RT60:          r.RT60,
		Absorption:    r.Absorption,
		MaxOrder:      r.MaxOrder,
		SpeedOfSound:  r.SpeedOfSound,
		RandISM:       r.RandISM,
		MaxRandDisp:   r.MaxRandDisp,
		AirAbsorption: r.AirAbsorption,
		FracDelayLen:  r.FracDelayLen,
		LateTail:      r.LateTail,
		Seed:          r.Seed,
	}
}

// NewRoom builds the room with its sources and microphones placed.
func (p *Params) NewRoom() (*roomsim.Room, error) {
	room, err := roomsim.NewRoom(p.RoomConfig())
	if err != nil {
		return nil, err
	}
	for _, s := range p.Room.Sources {
		if err := room.AddSource(s); err != nil {
			return nil, err
		}
	}
	if err := room.AddMicArray(p.Room.Mics); err != nil {
		return nil, err
	}
	return room, nil
}

// DatasetOptions returns the soundscape dataset options writing to
// DatasetDir.
func (p *Params) DatasetOptions() scaper.DatasetOptions {
	g := p.Generate
	return scaper.DatasetOptions{
		OutDir:     p.DatasetDir,
		Count:      g.Count,
		EventsMean: g.EventsMean,
		EventsStd:  g.EventsStd,
		Labels:     append([]string(nil), g.Labels...),
		Fold:       g.Fold,
		RoomID:     g.RoomID,
	}
}
