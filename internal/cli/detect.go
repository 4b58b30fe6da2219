package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anomalyd/internal/db"
	"anomalyd/internal/detector"
	"anomalyd/internal/forest"
	"anomalyd/internal/metrics"
)

const pushJob = "anomalyd_detect"

func newDetectCmd(a *app) *cobra.Command {
	var (
		window    int
		threshold float64
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection cycle and exit",
		Long: `Fetch the trailing window of per-minute metrics, score every row with a
freshly fitted isolation forest and store the rows scoring below the
threshold in the anomalies table.

Exits 0 when the cycle completes, including when the window is empty or
too small to score, and 1 when any stage fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("window") {
				cfg.WindowMinutes = window
			}
			if cmd.Flags().Changed("threshold") {
				cfg.ScoreThreshold = threshold
			}
			if cfg.WindowMinutes <= 0 {
				return errors.New("--window must be positive")
			}

			gdb, err := db.Connect(cfg)
			if err != nil {
				return fmt.Errorf("connect store: %w", err)
			}
			defer func() { _ = db.Close(gdb) }()

			reg := prometheus.NewRegistry()
			rec, err := metrics.New(reg)
			if err != nil {
				return err
			}

			d := detector.New(db.NewStore(gdb, cfg.FetchLimit), a.log, rec, detector.Options{
				Window:    time.Duration(cfg.WindowMinutes) * time.Minute,
				Threshold: cfg.ScoreThreshold,
				Forest: forest.Config{
					Trees:         cfg.ForestTrees,
					MaxSamples:    cfg.ForestMaxSamples,
					Contamination: cfg.ForestContamination,
					Seed:          cfg.ForestSeed,
					Workers:       cfg.ForestWorkers,
				},
				DryRun: dryRun,
			})

			_, runErr := d.RunCycle(cmd.Context())

			if cfg.PushgatewayURL != "" {
				if err := metrics.Push(cmd.Context(), cfg.PushgatewayURL, pushJob, reg); err != nil {
					a.log.Warn("metrics push failed", zap.String("url", cfg.PushgatewayURL), zap.Error(err))
				}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&window, "window", 30, "trailing window in minutes (overrides APP_WINDOW_MINUTES)")
	cmd.Flags().Float64Var(&threshold, "threshold", -0.5, "flag rows scoring below this value (overrides APP_SCORE_THRESHOLD)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log selected anomalies without writing them")
	return cmd
}
