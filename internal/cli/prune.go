package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anomalyd/internal/db"
)

func newPruneCmd(a *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete anomalies older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			retention := a.cfg.RetentionDays
			if cmd.Flags().Changed("days") {
				retention = days
			}
			if retention <= 0 {
				return errors.New("--days must be positive")
			}

			gdb, err := db.Connect(a.cfg)
			if err != nil {
				return fmt.Errorf("connect store: %w", err)
			}
			defer func() { _ = db.Close(gdb) }()

			cutoff := time.Now().Add(-time.Duration(retention) * 24 * time.Hour)
			n, err := db.PruneAnomalies(cmd.Context(), gdb, cutoff)
			if err != nil {
				return fmt.Errorf("prune anomalies: %w", err)
			}
			a.log.Info("pruned anomalies",
				zap.Int64("deleted", n),
				zap.Int("retention_days", retention),
				zap.Time("cutoff", cutoff.UTC()),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "retention in days (overrides APP_RETENTION_DAYS)")
	return cmd
}
