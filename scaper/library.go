package scaper

import (
	"fmt"
	"io/fs"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/cwbudde/algo-seld/internal/audioio"
)

// DefaultClipCacheBytes bounds the decoded clips kept by a Library.
const DefaultClipCacheBytes = 512 << 20

// Library indexes a foreground directory. The label of a file is the name
// of the directory that contains it.
type Library struct {
	Root  string
	files map[string][]string

	// Decoded clips keyed by path and rate, costed in bytes.
	clips *ristretto.Cache[string, []float64]
}

// ScanLibrary walks root and indexes every decodable audio file. Decoded
// clips are cached up to DefaultClipCacheBytes; Close releases the cache.
func ScanLibrary(root string) (*Library, error) {
	lib := &Library{
		Root:  root,
		files: map[string][]string{},
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !audioio.IsAudioFile(path) {
			return nil
		}
		label := filepath.Base(filepath.Dir(path))
		lib.files[label] = append(lib.files[label], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if len(lib.files) == 0 {
		return nil, fmt.Errorf("no audio files under %s", root)
	}
	for _, paths := range lib.files {
		sort.Strings(paths)
	}
	lib.clips, err = ristretto.NewCache(&ristretto.Config[string, []float64]{
		NumCounters:        1 << 16,
		MaxCost:            DefaultClipCacheBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("clip cache: %w", err)
	}
	return lib, nil
}

// SetCacheLimit changes the byte budget of the clip cache. Clips over the
// budget are evicted as new ones arrive.
func (l *Library) SetCacheLimit(bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("clip cache limit must be > 0, got %d", bytes)
	}
	l.clips.UpdateMaxCost(bytes)
	return nil
}

// CachedBytes reports the bytes currently held by the clip cache.
func (l *Library) CachedBytes() int64 {
	l.clips.Wait()
	m := l.clips.Metrics
	return int64(m.CostAdded()) - int64(m.CostEvicted())
}

// Close stops the clip cache. Load keeps working without caching.
func (l *Library) Close() {
	l.clips.Close()
}

// Labels returns the labels present in the library, sorted.
func (l *Library) Labels() []string {
	out := make([]string, 0, len(l.files))
	for k := range l.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Files returns the files of one label.
func (l *Library) Files(label string) []string {
	return append([]string(nil), l.files[label]...)
}

// Load decodes path to mono at the given rate. Decoded clips are cached
// within the cache budget; callers must not modify the returned slice.
func (l *Library) Load(path string, rate int) ([]float64, error) {
	key := path + "@" + strconv.Itoa(rate)
	if clip, ok := l.clips.Get(key); ok {
		return clip, nil
	}
	x, sr, err := audioio.ReadMono(path)
	if err != nil {
		return nil, err
	}
	x, err = audioio.ResampleIfNeeded(x, sr, rate)
	if err != nil {
		return nil, fmt.Errorf("resample %s: %w", path, err)
	}
	l.clips.Set(key, x, int64(8*len(x)))
	return x, nil
}

// Choice selects an event label: a constant, or a uniform draw from a list.
// An empty list draws from every library label that is a known class.
type Choice struct {
	Options []string
}

// Const always yields label.
func Const(label string) Choice { return Choice{Options: []string{label}} }

// Choose draws uniformly from labels.
func Choose(labels ...string) Choice { return Choice{Options: labels} }

func (c Choice) pick(rng *rand.Rand, fallback []string) (string, error) {
	opts := c.Options
	if len(opts) == 0 {
		opts = fallback
	}
	if len(opts) == 0 {
		return "", fmt.Errorf("no labels to choose from")
	}
	return opts[rng.Intn(len(opts))], nil
}
