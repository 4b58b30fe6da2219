package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SaveAnomalies writes all records in one INSERT inside GORM's default
// transaction: either every row lands or none does. Empty input is a no-op.
func SaveAnomalies(ctx context.Context, db *gorm.DB, records []Anomaly) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&records).Error
}

// AnomalyFilter narrows ListAnomalies. Zero values mean "no constraint".
type AnomalyFilter struct {
	Since   time.Time
	Host    string
	Service string
	Limit   int
}

// ListAnomalies returns persisted anomalies, newest detection first.
func ListAnomalies(ctx context.Context, db *gorm.DB, f AnomalyFilter) ([]Anomaly, error) {
	q := db.WithContext(ctx).Model(&Anomaly{})
	if !f.Since.IsZero() {
		q = q.Where("detected_at >= ?", f.Since.UTC())
	}
	if f.Host != "" {
		q = q.Where("host = ?", f.Host)
	}
	if f.Service != "" {
		q = q.Where("service = ?", f.Service)
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []Anomaly
	if err := q.Order("detected_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetAnomaly loads a single anomaly by id. It returns gorm.ErrRecordNotFound
// when no such row exists.
func GetAnomaly(ctx context.Context, db *gorm.DB, id uint) (*Anomaly, error) {
	var a Anomaly
	if err := db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// CountAnomaliesByService returns how many anomalies each service has in the
// store.
func CountAnomaliesByService(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Service string
		N       int64
	}
	err := db.WithContext(ctx).Model(&Anomaly{}).
		Select("service, COUNT(*) AS n").
		Group("service").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Service] = r.N
	}
	return out, nil
}

// Store binds a connection to the two operations a detection cycle needs.
type Store struct {
	DB         *gorm.DB
	FetchLimit int
}

// NewStore returns a Store over db.
func NewStore(db *gorm.DB, fetchLimit int) *Store {
	return &Store{DB: db, FetchLimit: fetchLimit}
}

func (s *Store) FetchRecentMetrics(ctx context.Context, since time.Time) ([]MetricSample, error) {
	return FetchRecentMetrics(ctx, s.DB, since, s.FetchLimit)
}

func (s *Store) SaveAnomalies(ctx context.Context, records []Anomaly) error {
	return SaveAnomalies(ctx, s.DB, records)
}
