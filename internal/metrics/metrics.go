package metrics

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Cycle outcomes used as the "outcome" label.
const (
	OutcomeAnalyzed = "analyzed"
	OutcomeNoData   = "no_data"
	OutcomeTooSmall = "too_small"
	OutcomeError    = "error"
)

// Recorder owns the collectors a detection cycle updates. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	rowsFetched    prometheus.Gauge
	anomaliesSaved *prometheus.CounterVec
	scoreStats     *prometheus.GaugeVec
}

// New creates the cycle collectors and registers them with reg. Collectors
// that are already registered are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "anomalyd",
				Name:      "cycles_total",
				Help:      "Detection cycles run, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "anomalyd",
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of a detection cycle in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		rowsFetched: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "anomalyd",
				Name:      "rows_fetched",
				Help:      "Metric rows fetched by the most recent cycle.",
			},
		),
		anomaliesSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "anomalyd",
				Name:      "anomalies_saved_total",
				Help:      "Anomaly records written to the store, partitioned by service.",
			},
			[]string{"service"},
		),
		scoreStats: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "anomalyd",
				Name:      "score",
				Help:      "Score distribution of the most recent scored batch.",
			},
			[]string{"stat"},
		),
	}

	var err error
	if r.cycles, err = register(reg, r.cycles); err != nil {
		return nil, err
	}
	if r.cycleDuration, err = register(reg, r.cycleDuration); err != nil {
		return nil, err
	}
	if r.rowsFetched, err = register(reg, r.rowsFetched); err != nil {
		return nil, err
	}
	if r.anomaliesSaved, err = register(reg, r.anomaliesSaved); err != nil {
		return nil, err
	}
	if r.scoreStats, err = register(reg, r.scoreStats); err != nil {
		return nil, err
	}
	return r, nil
}

// ServerRecorder owns the collectors of the long-running API process. A nil
// *ServerRecorder is valid and records nothing.
type ServerRecorder struct {
	apiRequests      *prometheus.CounterVec
	retentionDeleted prometheus.Counter
}

// NewServer creates the API process collectors and registers them with reg.
func NewServer(reg prometheus.Registerer) (*ServerRecorder, error) {
	r := &ServerRecorder{
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "anomalyd",
				Name:      "api_requests_total",
				Help:      "Inspection API requests, partitioned by route and status.",
			},
			[]string{"route", "status"},
		),
		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "anomalyd",
				Name:      "retention_deleted_total",
				Help:      "Anomaly rows removed by the retention pass.",
			},
		),
	}

	var err error
	if r.apiRequests, err = register(reg, r.apiRequests); err != nil {
		return nil, err
	}
	if r.retentionDeleted, err = register(reg, r.retentionDeleted); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveCycle records a finished cycle's outcome and duration.
func (r *Recorder) ObserveCycle(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) SetRowsFetched(n int) {
	if r == nil {
		return
	}
	r.rowsFetched.Set(float64(n))
}

func (r *Recorder) AddAnomaliesSaved(service string, n int) {
	if r == nil {
		return
	}
	r.anomaliesSaved.WithLabelValues(service).Add(float64(n))
}

// SetScoreStats publishes the summary of the last scored batch.
func (r *Recorder) SetScoreStats(min, max, mean, std float64) {
	if r == nil {
		return
	}
	r.scoreStats.WithLabelValues("min").Set(min)
	r.scoreStats.WithLabelValues("max").Set(max)
	r.scoreStats.WithLabelValues("mean").Set(mean)
	r.scoreStats.WithLabelValues("std").Set(std)
}

func (r *ServerRecorder) ObserveAPIRequest(route, status string) {
	if r == nil {
		return
	}
	r.apiRequests.WithLabelValues(route, status).Inc()
}

func (r *ServerRecorder) AddRetentionDeleted(n int64) {
	if r == nil {
		return
	}
	r.retentionDeleted.Add(float64(n))
}

// Push sends everything g gathers to a Prometheus Pushgateway under job.
// A one-shot detect run has no scrape endpoint, so this is how its numbers
// leave the process.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	return push.New(url, job).Gatherer(g).PushContext(ctx)
}

// Encode writes families in the Prometheus text format.
func Encode(w io.Writer, families []*dto.MetricFamily) error {
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// FilterByLabel narrows families to the series whose label name equals
// value. Families that never carry the label are returned untouched, and
// families left without series are dropped.
func FilterByLabel(families []*dto.MetricFamily, name, value string) []*dto.MetricFamily {
	filtered := make([]*dto.MetricFamily, 0, len(families))
	for _, mf := range families {
		if !hasLabel(mf, name) {
			filtered = append(filtered, mf)
			continue
		}

		var kept []*dto.Metric
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == name && l.GetValue() == value {
					kept = append(kept, m)
					break
				}
			}
		}
		if len(kept) == 0 {
			continue
		}

		filtered = append(filtered, &dto.MetricFamily{
			Name:   mf.Name,
			Help:   mf.Help,
			Type:   mf.Type,
			Metric: kept,
		})
	}
	return filtered
}

func hasLabel(mf *dto.MetricFamily, name string) bool {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == name {
				return true
			}
		}
	}
	return false
}
