package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CountByService returns the number of persisted anomalies per service.
type CountByService func(ctx context.Context) (map[string]int64, error)

// StoredAnomalies reports the anomalies currently held in the store, read at
// scrape time, as anomalyd_anomalies_stored{service}.
type StoredAnomalies struct {
	count   CountByService
	timeout time.Duration
	desc    *prometheus.Desc
}

func NewStoredAnomalies(count CountByService) *StoredAnomalies {
	return &StoredAnomalies{
		count:   count,
		timeout: 5 * time.Second,
		desc: prometheus.NewDesc(
			"anomalyd_anomalies_stored",
			"Anomaly records currently in the store, partitioned by service.",
			[]string{"service"},
			nil,
		),
	}
}

func (c *StoredAnomalies) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect queries the store once per scrape. A failed query is reported as
// an invalid metric so the gather error names it.
func (c *StoredAnomalies) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.count(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for service, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), service)
	}
}
