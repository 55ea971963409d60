package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-seld/internal/audioio"
	"github.com/cwbudde/algo-seld/internal/featstore"
	"github.com/cwbudde/algo-seld/params"
)

var (
	// Global flags
	paramsFile string
	verbose    bool
	quiet      bool
	workers    string
	storeKind  string
)

var rootCmd = &cobra.Command{
	Use:   "seld",
	Short: "Synthetic soundscapes and SELD features",
	Long: `seld - simulate a shoebox room, render annotated soundscapes in it and
extract the feature and label tensors used to train SELD models.

Without --params the built-in room (15 x 20 x 3.5 m, five sources, four
microphone line array) and feature settings are used. A YAML or JSON
parameter file overrides any subset of them.

Examples:
  # Render ten soundscapes from a sample library
  seld generate -p params.yaml

  # Extract normalized features and labels of the dev split
  seld run -p params.yaml

  # Same for the eval split, reusing the dev scaler
  seld features -p params.yaml --eval`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&paramsFile, "params", "p", "", "parameter file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "hide progress bars")
	rootCmd.PersistentFlags().StringVar(&workers, "workers", "", "worker count or 'auto' (overrides the parameter file)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "feature store backend: dir or badger (overrides the parameter file)")
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadParams returns the defaults or the parameter file with the flag
// overrides applied.
func loadParams() (*params.Params, error) {
	var p *params.Params
	if paramsFile == "" {
		d := params.Default()
		p = &d
	} else {
		var err error
		if p, err = params.Load(paramsFile); err != nil {
			return nil, err
		}
	}
	if workers != "" {
		p.Workers = workers
	}
	if storeKind != "" {
		p.Store = storeKind
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func workerCount(p *params.Params) int {
	n, err := audioio.ParseWorkers(p.Workers)
	if err != nil {
		// Validate already rejected malformed values.
		return 1
	}
	return n
}

func openStore(p *params.Params, log *slog.Logger) (featstore.Store, error) {
	switch p.Store {
	case params.StoreBadger:
		return featstore.OpenBadger(featstore.BadgerOptions{
			Dir:    filepath.Join(p.FeatLabelDir, "badger"),
			Logger: log,
		})
	case params.StoreDir:
		return featstore.OpenDir(p.FeatLabelDir)
	default:
		return nil, fmt.Errorf("unknown store %q", p.Store)
	}
}

func progressOut(cmd *cobra.Command) io.Writer {
	if quiet {
		return nil
	}
	return cmd.ErrOrStderr()
}
