package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-seld/internal/featstore"
	"github.com/cwbudde/algo-seld/label"
	"github.com/cwbudde/algo-seld/norm"
)

func (d *Dataset) featureKeys(dir string) ([]string, error) {
	keys, err := d.store.List(dir)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no features under %s, extract them first", dir)
	}
	return keys, nil
}

func (d *Dataset) loadRows(key string) ([][]float64, error) {
	t, err := d.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return t.Rows()
}

// PreprocessFeatures standardizes the raw features into NormalizedFeatDir.
// The dev split fits the scaler and saves it to NormalizedWtsFile; the eval
// split loads it.
func (d *Dataset) PreprocessFeatures(ctx context.Context) (*norm.Scaler, error) {
	src := d.UnnormalizedFeatDir()
	dst := d.NormalizedFeatDir()
	keys, err := d.featureKeys(src)
	if err != nil {
		return nil, err
	}

	wts := d.NormalizedWtsFile()
	var scaler *norm.Scaler
	if d.opts.IsEval {
		scaler, err = norm.Load(wts)
		if err != nil {
			return nil, err
		}
		d.log.Info("normalization weights loaded", "file", wts)
	} else {
		d.log.Info("estimating normalization weights", "feat_dir", src, "files", len(keys))
		scaler = &norm.Scaler{}
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := d.loadRows(key)
			if err != nil {
				return nil, err
			}
			if err := scaler.PartialFit(rows); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(wts), 0o755); err != nil {
			return nil, err
		}
		if err := scaler.Save(wts); err != nil {
			return nil, err
		}
		d.log.Info("normalization weights saved", "file", wts)
	}

	d.log.Info("normalizing features", "feat_dir_norm", dst)
	err = d.forEach(ctx, "normalize", keys, func(key string) error {
		rows, err := d.loadRows(key)
		if err != nil {
			return err
		}
		out, err := scaler.Transform(rows)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		t, err := featstore.FromRows(out)
		if err != nil {
			return err
		}
		return d.store.Put(dst+"/"+strings.TrimPrefix(key, src+"/"), t)
	})
	if err != nil {
		return nil, err
	}
	return scaler, nil
}

// ExtractAllLabels converts the polar metadata of the dev split to
// Cartesian SED/DOA targets, or multi-ACCDOA targets when MultiACCDOA is
// set, sized to the label frames of the matching recording.
func (d *Dataset) ExtractAllLabels(ctx context.Context) error {
	if d.opts.IsEval {
		return fmt.Errorf("the eval split has no labels")
	}
	frames, err := d.FrameStats(ctx)
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(d.DescDir(), "*", "*.csv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no metadata under %s", d.DescDir())
	}
	dir := d.LabelDir()
	d.log.Info("extracting labels", "desc_dir", d.DescDir(), "label_dir", dir, "files", len(files))
	return d.forEach(ctx, "labels", files, func(path string) error {
		name := baseName(path)
		ff, ok := frames[name]
		if !ok {
			return fmt.Errorf("%s: no recording named %s", path, name)
		}
		polar, err := label.LoadOutputFormatFile(path, false)
		if err != nil {
			return err
		}
		t, err := d.labelTensor(label.ConvertPolarToCartesian(polar), ff.Label)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		d.log.Debug("labels", "file", name, "shape", t.Shape)
		return d.store.Put(dir+"/"+name, t)
	})
}

func (d *Dataset) labelTensor(desc label.Frames, nbFrames int) (*featstore.Tensor, error) {
	if d.p.MultiACCDOA {
		adpit, err := label.ADPITLabelsForFile(desc, nbFrames, d.p.UniqueClasses)
		if err != nil {
			return nil, err
		}
		data, shape := adpit.Flatten()
		t := &featstore.Tensor{Shape: shape, Data: data}
		return t, t.Validate()
	}
	rows, err := label.LabelsForFile(desc, nbFrames, d.p.UniqueClasses)
	if err != nil {
		return nil, err
	}
	return featstore.FromRows(rows)
}
