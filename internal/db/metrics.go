package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Rates are computed by the store so that the detector sees the same
// columns the dashboards do. `* 1.0` forces float division on every dialect.
const recentMetricsSQL = `SELECT
	minute AS window_start,
	host,
	service,
	unit,
	cnt AS request_count,
	err AS error_count,
	s5xx AS server_error_count,
	avg_latency,
	p95_latency,
	p99_latency,
	max_latency,
	CASE WHEN cnt > 0 THEN err * 1.0 / cnt ELSE 0 END AS error_rate,
	CASE WHEN cnt > 0 THEN s5xx * 1.0 / cnt ELSE 0 END AS server_error_rate
FROM app_logs_1min
WHERE minute >= ?
ORDER BY minute DESC, host, service, unit`

// FetchRecentMetrics returns every aggregated row with minute >= since,
// most recent first, in a single read. limit <= 0 means no cap.
func FetchRecentMetrics(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]MetricSample, error) {
	sql := recentMetricsSQL
	args := []any{since.UTC()}
	if limit > 0 {
		sql += ` LIMIT ?`
		args = append(args, limit)
	}

	var samples []MetricSample
	if err := db.WithContext(ctx).Raw(sql, args...).Scan(&samples).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", LogMinute{}.TableName(), err)
	}
	return samples, nil
}
