package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-seld/analysis"
	"github.com/cwbudde/algo-seld/internal/audioio"
)

var rirOut string

var rirCmd = &cobra.Command{
	Use:   "rir",
	Short: "Simulate the room and export its impulse responses",
	Long: `Simulate every source/microphone pair and write one multichannel WAV
per source (one channel per microphone) to the output directory. The
measured RT60, EDT, C80 and D50 of the first channel are logged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadParams()
		if err != nil {
			return err
		}
		log := newLogger(cmd.ErrOrStderr())
		room, err := p.NewRoom()
		if err != nil {
			return err
		}
		if err := room.ComputeRIR(); err != nil {
			return err
		}
		rirs, err := room.PaddedRIRs()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(rirOut, 0o755); err != nil {
			return err
		}
		sr := room.Config().SampleRate
		for s, chans := range rirs {
			path := filepath.Join(rirOut, fmt.Sprintf("rir_src%d.wav", s+1))
			if err := audioio.WriteWAV(path, chans, sr); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			m, err := analysis.AnalyzeRIR(room.RIR[0][s], sr)
			if err != nil {
				log.Warn("rir analysis failed", "source", s+1, "err", err)
				continue
			}
			log.Info("rir written", "path", path, "samples", len(chans[0]),
				"rt60", m.RT60, "edt", m.EDT, "c80", m.C80, "d50", m.D50, "drr_db", m.DRRDB)
		}
		return nil
	},
}

func init() {
	rirCmd.Flags().StringVarP(&rirOut, "out", "o", "rir", "output directory")
	rootCmd.AddCommand(rirCmd)
}
