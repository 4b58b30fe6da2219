package db

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PruneAnomalies deletes anomalies detected before cutoff and reports how
// many rows were removed.
func PruneAnomalies(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("detected_at < ?", cutoff.UTC()).Delete(&Anomaly{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// StartRetentionWorker launches a background goroutine that prunes
// anomalies older than retentionDays once at startup and then once per
// day, until ctx is done. onPrune, if set, receives each deletion count.
func StartRetentionWorker(ctx context.Context, db *gorm.DB, retentionDays int, log *zap.Logger, onPrune func(int64)) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	runOnce := func(when string) {
		n, err := PruneAnomalies(ctx, db, time.Now().Add(-retention))
		if err != nil {
			log.Error("retention cleanup failed", zap.String("pass", when), zap.Error(err))
			return
		}
		if onPrune != nil {
			onPrune(n)
		}
		log.Info("retention cleanup done", zap.String("pass", when), zap.Int64("deleted", n))
	}

	go func() {
		runOnce("startup")

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce("daily")
			}
		}
	}()
}
