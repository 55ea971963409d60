package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-seld/dataset"
	"github.com/cwbudde/algo-seld/params"
)

var evalSplit bool

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Extract and normalize features",
	Long: `Extract the features of every recording of the split and standardize
them. The dev split fits the scaler and stores it as <dataset>_wts under
feat_label_dir; --eval reuses that file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDataset(cmd, func(ctx context.Context, d *dataset.Dataset) error {
			return extractFeatures(ctx, d)
		})
	},
}

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Extract frame labels of the dev split",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if evalSplit {
			return errors.New("the eval split has no labels")
		}
		return withDataset(cmd, func(ctx context.Context, d *dataset.Dataset) error {
			return d.ExtractAllLabels(ctx)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract features, then labels (dev split only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDataset(cmd, func(ctx context.Context, d *dataset.Dataset) error {
			if err := extractFeatures(ctx, d); err != nil {
				return err
			}
			if evalSplit {
				return nil
			}
			return d.ExtractAllLabels(ctx)
		})
	},
}

func extractFeatures(ctx context.Context, d *dataset.Dataset) error {
	if err := d.ExtractAllFeatures(ctx); err != nil {
		return err
	}
	_, err := d.PreprocessFeatures(ctx)
	return err
}

// withDataset opens the feature store and runs fn on the selected split.
func withDataset(cmd *cobra.Command, fn func(context.Context, *dataset.Dataset) error) (err error) {
	p, err := loadParams()
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr())
	store, err := openStore(p, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); err == nil {
			err = cerr
		}
	}()
	d, err := dataset.New(p.Feature, store, datasetOptions(p, cmd, log))
	if err != nil {
		return err
	}
	return fn(cmd.Context(), d)
}

func datasetOptions(p *params.Params, cmd *cobra.Command, log *slog.Logger) dataset.Options {
	return dataset.Options{
		DatasetDir:   p.DatasetDir,
		FeatLabelDir: p.FeatLabelDir,
		IsEval:       evalSplit,
		Workers:      workerCount(p),
		Logger:       log,
		Progress:     progressOut(cmd),
	}
}

func init() {
	for _, c := range []*cobra.Command{featuresCmd, labelsCmd, runCmd} {
		c.Flags().BoolVar(&evalSplit, "eval", false, "process the eval split")
		rootCmd.AddCommand(c)
	}
}
