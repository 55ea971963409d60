package scaper

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cwbudde/algo-seld/geom"
	"github.com/cwbudde/algo-seld/roomsim"
)

// ErrTooManyOverlaps is returned when no placement of an event keeps the
// number of concurrent events within MaxEventOverlap.
var ErrTooManyOverlaps = errors.New("scaper: too many overlapping events")

const maxPlacementTries = 100

// EventSpec describes an event to add. Negative SourceTime, Position and
// Onset, a non-positive Duration and a nil SNR are drawn by the generator.
type EventSpec struct {
	Label      Choice
	SourceFile string
	SourceTime float64 // seconds into the file; < 0 draws one
	Position   int     // index of a room source; < 0 draws one
	Onset      float64 // seconds; < 0 draws one
	Duration   float64 // seconds; <= 0 draws one
	SNR        *float64
}

// AnyEvent draws everything but the label.
func AnyEvent(label Choice) EventSpec {
	return EventSpec{Label: label, SourceTime: -1, Position: -1, Onset: -1}
}

// Event is a placed sound event.
type Event struct {
	Label      string  `yaml:"label"`
	Class      int     `yaml:"class"`
	Track      int     `yaml:"track"`
	SourceFile string  `yaml:"source_file"`
	SourceTime float64 `yaml:"source_time"`
	Position   int     `yaml:"position"`
	Onset      float64 `yaml:"onset"`
	Duration   float64 `yaml:"duration"`
	SNR        float64 `yaml:"snr"`
	Azimuth    float64 `yaml:"azimuth"`
	Elevation  float64 `yaml:"elevation"`
	Distance   float64 `yaml:"distance"`
}

func (e Event) offset() float64 { return e.Onset + e.Duration }

// Scaper assembles one soundscape.
type Scaper struct {
	cfg  Config
	room *roomsim.Room
	lib  *Library
	rng  *rand.Rand

	background bool
	events     []Event
}

// New validates cfg against the room. The room must hold sources and
// microphones and run at the soundscape sample rate.
func New(cfg Config, room *roomsim.Room, lib *Library) (*Scaper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if room == nil || lib == nil {
		return nil, fmt.Errorf("room and library are required")
	}
	if sr := room.Config().SampleRate; sr != cfg.SampleRate {
		return nil, fmt.Errorf("room sample rate %d differs from soundscape rate %d", sr, cfg.SampleRate)
	}
	if len(room.Sources()) == 0 || len(room.Mics()) == 0 {
		return nil, fmt.Errorf("room needs sources and microphones")
	}
	return &Scaper{
		cfg:  cfg,
		room: room,
		lib:  lib,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// AddBackground enables the ambient noise bed at RefDB.
func (s *Scaper) AddBackground() { s.background = true }

// Events returns the placed events in insertion order.
func (s *Scaper) Events() []Event { return append([]Event(nil), s.events...) }

func (s *Scaper) knownLabels() []string {
	var out []string
	for _, l := range s.lib.Labels() {
		if s.cfg.classIndex(l) >= 0 {
			out = append(out, l)
		}
	}
	return out
}

func (s *Scaper) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// AddEvent places an event. Draws that would exceed MaxEventOverlap are
// retried; the event is rejected with ErrTooManyOverlaps when every try
// fails.
func (s *Scaper) AddEvent(spec EventSpec) (Event, error) {
	label, err := spec.Label.pick(s.rng, s.knownLabels())
	if err != nil {
		return Event{}, err
	}
	class := s.cfg.classIndex(label)
	if class < 0 {
		return Event{}, fmt.Errorf("label %q is not a known class", label)
	}

	file := spec.SourceFile
	if file == "" {
		files := s.lib.Files(label)
		if len(files) == 0 {
			return Event{}, fmt.Errorf("no foreground files for label %q", label)
		}
		file = files[s.rng.Intn(len(files))]
	}
	clip, err := s.lib.Load(file, s.cfg.SampleRate)
	if err != nil {
		return Event{}, err
	}
	clipDur := float64(len(clip)) / float64(s.cfg.SampleRate)
	if clipDur <= 0 {
		return Event{}, fmt.Errorf("empty foreground file %s", file)
	}

	sources := s.room.Sources()
	if spec.Position >= len(sources) {
		return Event{}, fmt.Errorf("position %d out of range (%d sources)", spec.Position, len(sources))
	}

	snr := s.uniform(s.cfg.SNRMin, s.cfg.SNRMax)
	if spec.SNR != nil {
		snr = *spec.SNR
	}
	dur := spec.Duration
	if dur <= 0 {
		dur = s.uniform(s.cfg.EventDurMin, s.cfg.EventDurMax)
	}
	dur = min(dur, clipDur, s.cfg.Duration)
	if spec.Onset >= 0 {
		if spec.Onset >= s.cfg.Duration {
			return Event{}, fmt.Errorf("onset %.3f s beyond soundscape end", spec.Onset)
		}
		dur = min(dur, s.cfg.Duration-spec.Onset)
	}
	srcTime := spec.SourceTime
	if srcTime < 0 {
		srcTime = s.rng.Float64() * (clipDur - dur)
	}
	if srcTime+dur > clipDur {
		return Event{}, fmt.Errorf("source time %.3f s + %.3f s exceeds %s", srcTime, dur, file)
	}

	center := s.room.ArrayCenter()
	for try := 0; try < maxPlacementTries; try++ {
		ev := Event{
			Label:      label,
			Class:      class,
			SourceFile: file,
			SourceTime: srcTime,
			Position:   spec.Position,
			Onset:      spec.Onset,
			Duration:   dur,
			SNR:        snr,
		}
		if ev.Onset < 0 {
			ev.Onset = s.rng.Float64() * (s.cfg.Duration - dur)
		}
		if ev.Position < 0 {
			ev.Position = s.rng.Intn(len(sources))
		}
		if s.fits(ev) {
			doa := geom.DOAFrom(center, sources[ev.Position])
			ev.Azimuth, ev.Elevation, ev.Distance = doa.Azimuth, doa.Elevation, doa.Distance
			ev.Track = s.trackFor(ev)
			s.events = append(s.events, ev)
			return ev, nil
		}
		if spec.Onset >= 0 {
			break
		}
	}
	return Event{}, fmt.Errorf("%w: %s", ErrTooManyOverlaps, label)
}

// fits reports whether adding ev keeps every instant within
// MaxEventOverlap. Concurrency only rises at onsets, so checking the onsets
// inside ev's interval suffices.
func (s *Scaper) fits(ev Event) bool {
	points := []float64{ev.Onset}
	for _, e := range s.events {
		if e.Onset > ev.Onset && e.Onset < ev.offset() {
			points = append(points, e.Onset)
		}
	}
	for _, p := range points {
		n := 1
		for _, e := range s.events {
			if e.Onset <= p && p < e.offset() {
				n++
			}
		}
		if n > s.cfg.MaxEventOverlap {
			return false
		}
	}
	return true
}

// trackFor returns the lowest source index not used by a concurrent event of
// the same class.
func (s *Scaper) trackFor(ev Event) int {
	used := map[int]bool{}
	for _, e := range s.events {
		if e.Class == ev.Class && e.Onset < ev.offset() && ev.Onset < e.offset() {
			used[e.Track] = true
		}
	}
	t := 0
	for used[t] {
		t++
	}
	return t
}

// EventCount draws the number of events of a soundscape from a normal
// distribution, at least one.
func EventCount(mean, std float64, rng *rand.Rand) int {
	n := int(rng.NormFloat64()*std + mean)
	if n < 1 {
		return 1
	}
	return n
}
