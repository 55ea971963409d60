// Package dataset runs feature and label extraction over a SELD dataset
// laid out as
//
//	<dataset_dir>/<dataset>_<dev|eval>/<subset>/<name>.wav
//	<dataset_dir>/metadata_dev/<subset>/<name>.csv
//
// and stores the results under keys "<dir>/<name>" of a featstore.Store.
package dataset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/algo-seld/feature"
	"github.com/cwbudde/algo-seld/internal/audioio"
	"github.com/cwbudde/algo-seld/internal/featstore"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Options configures a Dataset.
type Options struct {
	DatasetDir   string
	FeatLabelDir string
	IsEval       bool
	Workers      int
	Logger       *slog.Logger
	// Progress receives progress bars; nil hides them.
	Progress io.Writer
}

// FileFrames holds the feature and label frame counts of one recording.
type FileFrames struct {
	Feat  int
	Label int
}

// Dataset extracts features and labels of one dataset split.
type Dataset struct {
	p     feature.Params
	opts  Options
	store featstore.Store
	ext   *feature.Extractor
	log   *slog.Logger

	mu     sync.Mutex
	frames map[string]FileFrames
}

// New prepares extraction with p into store.
func New(p feature.Params, store featstore.Store, opts Options) (*Dataset, error) {
	ext, err := feature.NewExtractor(p)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("feature store is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Workers > 1 {
		// Files already run in parallel.
		ext.SetWorkers(1)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dataset{p: p, opts: opts, store: store, ext: ext, log: log}, nil
}

func (d *Dataset) combination() string {
	split := "dev"
	if d.opts.IsEval {
		split = "eval"
	}
	return d.p.Dataset + "_" + split
}

func (d *Dataset) salsa() bool {
	return d.p.Dataset == feature.FormatMic && d.p.UseSALSALite
}

// AudioDir is the directory of the recordings of this split.
func (d *Dataset) AudioDir() string {
	return filepath.Join(d.opts.DatasetDir, d.combination())
}

// DescDir is the metadata directory; empty for the eval split.
func (d *Dataset) DescDir() string {
	if d.opts.IsEval {
		return ""
	}
	return filepath.Join(d.opts.DatasetDir, "metadata_dev")
}

// UnnormalizedFeatDir is the store prefix of raw features.
func (d *Dataset) UnnormalizedFeatDir() string {
	if d.salsa() {
		return d.combination() + "_salsa"
	}
	return d.combination()
}

// NormalizedFeatDir is the store prefix of standardized features.
func (d *Dataset) NormalizedFeatDir() string {
	return d.UnnormalizedFeatDir() + "_norm"
}

// LabelDir is the store prefix of labels; empty for the eval split.
func (d *Dataset) LabelDir() string {
	if d.opts.IsEval {
		return ""
	}
	if d.p.MultiACCDOA {
		return d.combination() + "_adpit_label"
	}
	return d.combination() + "_label"
}

// NormalizedWtsFile is the scaler file shared by the dev and eval splits.
func (d *Dataset) NormalizedWtsFile() string {
	return filepath.Join(d.opts.FeatLabelDir, d.p.Dataset+"_wts")
}

func baseName(path string) string {
	b := filepath.Base(path)
	if i := strings.IndexByte(b, '.'); i >= 0 {
		return b[:i]
	}
	return b
}

func (d *Dataset) audioFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(d.AudioDir(), "*", "*.wav"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no recordings under %s", d.AudioDir())
	}
	sort.Strings(files)
	return files, nil
}

// FrameStats counts the feature and label frames of every recording. The
// result is computed once.
func (d *Dataset) FrameStats(ctx context.Context) (map[string]FileFrames, error) {
	d.mu.Lock()
	done := d.frames != nil
	d.mu.Unlock()
	if !done {
		files, err := d.audioFiles()
		if err != nil {
			return nil, err
		}
		frames := make(map[string]FileFrames, len(files))
		var fmu sync.Mutex
		err = d.forEach(ctx, "frame stats", files, func(path string) error {
			n, _, err := audioio.FrameCount(path)
			if err != nil {
				return err
			}
			feat, lab := d.ext.FrameStats(n)
			fmu.Lock()
			frames[baseName(path)] = FileFrames{Feat: feat, Label: lab}
			fmu.Unlock()
			return nil
		})
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.frames = frames
		d.mu.Unlock()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]FileFrames, len(d.frames))
	for k, v := range d.frames {
		out[k] = v
	}
	return out, nil
}

// ExtractAllFeatures extracts every recording of the split into
// UnnormalizedFeatDir.
func (d *Dataset) ExtractAllFeatures(ctx context.Context) error {
	files, err := d.audioFiles()
	if err != nil {
		return err
	}
	dir := d.UnnormalizedFeatDir()
	d.log.Info("extracting features", "aud_dir", d.AudioDir(), "feat_dir", dir, "files", len(files))
	start := time.Now()
	err = d.forEach(ctx, "features", files, func(path string) error {
		rows, err := d.ext.ExtractFile(path)
		if err != nil {
			return err
		}
		t, err := featstore.FromRows(rows)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		d.log.Debug("processed file", "path", path, "frames", len(rows))
		return d.store.Put(dir+"/"+baseName(path), t)
	})
	if err != nil {
		return err
	}
	d.log.Info("features extracted", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// forEach runs fn over items on the configured number of workers. The first
// error cancels the remaining items and is returned.
func (d *Dataset) forEach(ctx context.Context, name string, items []string, fn func(string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bar *mpb.Bar
	var prog *mpb.Progress
	if d.opts.Progress != nil {
		prog = mpb.New(mpb.WithOutput(d.opts.Progress), mpb.WithWidth(64))
		bar = prog.AddBar(int64(len(items)),
			mpb.PrependDecorators(
				decor.Name(name+": "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
	}

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	workers := min(d.opts.Workers, len(items))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				t0 := time.Now()
				if err := fn(item); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				if bar != nil {
					bar.EwmaIncrement(time.Since(t0))
				}
			}
		}()
	}
feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if prog != nil {
		if firstErr != nil {
			bar.Abort(false)
		}
		prog.Wait()
	}
	return firstErr
}
