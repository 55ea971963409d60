package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-seld/roomsim"
)

var (
	calibPopulation int
	calibIterations int
	calibSource     int
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Fit the wall absorption to the target RT60",
	Long: `Search the wall absorption for which the RT60 measured between one source
and the first microphone matches room.rt60. The Sabine estimate is used as
the starting point. Put the reported absorption into room.absorption to
use it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadParams()
		if err != nil {
			return err
		}
		log := newLogger(cmd.ErrOrStderr())
		if calibSource < 1 || calibSource > len(p.Room.Sources) {
			return fmt.Errorf("source must be in [1, %d]", len(p.Room.Sources))
		}
		opts := roomsim.DefaultCalibrateOptions()
		opts.Population = calibPopulation
		opts.Iterations = calibIterations
		opts.Seed = p.Room.Seed

		res, err := roomsim.Calibrate(p.RoomConfig(), p.Room.Sources[calibSource-1], p.Room.Mics[0], opts)
		if err != nil {
			return err
		}
		log.Info("calibrated",
			"absorption", res.Absorption,
			"sabine", res.SabineGuess,
			"max_order", res.MaxOrder,
			"rt60", res.MeasuredRT60,
			"target", res.TargetRT60,
			"rel_error", res.RelativeError,
			"evaluations", res.Evaluations)
		return nil
	},
}

func init() {
	d := roomsim.DefaultCalibrateOptions()
	calibrateCmd.Flags().IntVar(&calibPopulation, "population", d.Population, "optimizer population size")
	calibrateCmd.Flags().IntVar(&calibIterations, "iterations", d.Iterations, "optimizer iterations")
	calibrateCmd.Flags().IntVar(&calibSource, "source", 1, "source index (1-based)")
	rootCmd.AddCommand(calibrateCmd)
}
