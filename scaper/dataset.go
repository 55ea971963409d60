package scaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"

	"github.com/cwbudde/algo-seld/roomsim"
)

// DatasetOptions controls GenerateDataset.
type DatasetOptions struct {
	OutDir     string
	Count      int
	EventsMean float64
	EventsStd  float64
	// Labels restricts the drawn classes; empty uses every known class.
	Labels []string
	Fold   int
	RoomID int
	// OnScene is called after every written soundscape.
	OnScene func(name string)
}

// DefaultDatasetOptions mirrors the development set: 15 +- 6 events drawn
// from the speech, domestic and music classes.
func DefaultDatasetOptions() DatasetOptions {
	return DatasetOptions{
		Count:      1,
		EventsMean: 15,
		EventsStd:  6,
		Labels: []string{
			"femaleSpeech", "maleSpeech", "telephone", "laughter",
			"domesticSounds", "footsteps", "music", "musicInstrument",
		},
		Fold:   5,
		RoomID: 1,
	}
}

// SceneName is the base name of soundscape i (zero based).
func (o DatasetOptions) SceneName(i int) string {
	return fmt.Sprintf("fold%d_room%d_mix%03d", o.Fold, o.RoomID, i+1)
}

// GenerateDataset writes opts.Count soundscapes to
// <out>/mic_dev/mic/<name>.wav and <out>/metadata_dev/labels/<name>.csv.
// Soundscape i is seeded with cfg.Seed+i. Events that cannot be placed
// without exceeding the overlap limit are skipped.
func GenerateDataset(ctx context.Context, cfg Config, room *roomsim.Room, lib *Library, opts DatasetOptions, log *slog.Logger) ([]string, error) {
	if opts.Count < 1 {
		return nil, fmt.Errorf("count must be >= 1")
	}
	if log == nil {
		log = slog.Default()
	}
	if room.RIR == nil {
		if err := room.ComputeRIR(); err != nil {
			return nil, err
		}
	}
	audioDir := filepath.Join(opts.OutDir, cfg.Format+"_dev", cfg.Format)
	labelDir := filepath.Join(opts.OutDir, "metadata_dev", "labels")

	var written []string
	for i := 0; i < opts.Count; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		scfg := cfg
		scfg.Seed = cfg.Seed + int64(i)
		sc, err := New(scfg, room, lib)
		if err != nil {
			return written, err
		}
		sc.AddBackground()

		n := EventCount(opts.EventsMean, opts.EventsStd, rand.New(rand.NewSource(countSeed(scfg.Seed))))
		placed := 0
		for k := 0; k < n; k++ {
			_, err := sc.AddEvent(AnyEvent(Choose(opts.Labels...)))
			if errors.Is(err, ErrTooManyOverlaps) {
				log.Debug("event skipped", "scene", i, "event", k, "err", err)
				continue
			}
			if err != nil {
				return written, err
			}
			placed++
		}

		name := opts.SceneName(i)
		audio := filepath.Join(audioDir, name+".wav")
		if err := sc.Generate(audio, filepath.Join(labelDir, name+".csv")); err != nil {
			return written, fmt.Errorf("%s: %w", name, err)
		}
		log.Info("soundscape written", "name", name, "events", placed, "requested", n)
		written = append(written, audio)
		if opts.OnScene != nil {
			opts.OnScene(name)
		}
	}
	return written, nil
}

// countSeed derives the event-count stream from a scene seed so the count
// is not the scene rng's first draw.
func countSeed(seed int64) int64 {
	return int64(uint64(seed) ^ 0x9e3779b97f4a7c15)
}
