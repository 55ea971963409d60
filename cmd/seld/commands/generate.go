package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/cwbudde/algo-seld/scaper"
)

var generateCount int

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render annotated soundscapes",
	Long: `Render soundscapes from the foreground library into the simulated room.

Audio goes to <dataset_dir>/mic_dev/mic/ and the annotations to
<dataset_dir>/metadata_dev/labels/. A scene manifest is written next to
each recording.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadParams()
		if err != nil {
			return err
		}
		log := newLogger(cmd.ErrOrStderr())
		if p.Scaper.ForegroundDir == "" {
			return fmt.Errorf("scaper.foreground_dir is not set")
		}
		lib, err := scaper.ScanLibrary(p.Scaper.ForegroundDir)
		if err != nil {
			return fmt.Errorf("scan library: %w", err)
		}
		defer lib.Close()
		if err := lib.SetCacheLimit(p.Scaper.ClipCacheBytes()); err != nil {
			return err
		}
		log.Info("library scanned", "dir", p.Scaper.ForegroundDir, "classes", len(lib.Labels()))

		room, err := p.NewRoom()
		if err != nil {
			return err
		}
		start := time.Now()
		if err := room.ComputeRIR(); err != nil {
			return fmt.Errorf("compute rir: %w", err)
		}
		log.Info("room simulated", "sources", len(room.Sources()), "mics", len(room.Mics()),
			"elapsed", time.Since(start).Round(time.Millisecond))

		opts := p.DatasetOptions()
		if generateCount > 0 {
			opts.Count = generateCount
		}
		if out := progressOut(cmd); out != nil {
			prog := mpb.New(mpb.WithOutput(out), mpb.WithWidth(64))
			bar := prog.AddBar(int64(opts.Count),
				mpb.PrependDecorators(
					decor.Name("soundscapes: "),
					decor.CountersNoUnit("%d / %d"),
				),
				mpb.AppendDecorators(decor.Percentage()),
			)
			opts.OnScene = func(string) { bar.Increment() }
			defer func() {
				bar.Abort(false)
				prog.Wait()
			}()
		}

		written, err := scaper.GenerateDataset(cmd.Context(), p.Scaper, room, lib, opts, log)
		if err != nil {
			return err
		}
		log.Info("dataset generated", "soundscapes", len(written), "dir", p.DatasetDir,
			"elapsed", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 0, "number of soundscapes (overrides generate.count)")
	rootCmd.AddCommand(generateCmd)
}
