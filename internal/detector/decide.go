package detector

import (
	"time"

	"gorm.io/datatypes"

	"anomalyd/internal/db"
)

const (
	// AnomalyType tags records produced by this detector family.
	AnomalyType = "statistical"
	// Method names the scoring algorithm in record details.
	Method = "isolation_forest"
)

// Decide returns a record for every row whose score is strictly below
// threshold, in row order. scores and meta are parallel.
func Decide(scores []float64, meta []WindowMeta, threshold float64, detectedAt time.Time, runID string) []db.Anomaly {
	var out []db.Anomaly
	for i, score := range scores {
		if !(score < threshold) {
			continue
		}
		m := meta[i]
		out = append(out, db.Anomaly{
			DetectedAt:  detectedAt,
			WindowStart: m.WindowStart,
			WindowEnd:   m.WindowStart.Add(time.Minute),
			Host:        m.Host,
			Service:     m.Service,
			AnomalyType: AnomalyType,
			Score:       score,
			Details: datatypes.NewJSONType(db.AnomalyDetails{
				Unit:      m.Unit,
				Method:    Method,
				Threshold: threshold,
				RunID:     runID,
			}),
		})
	}
	return out
}
