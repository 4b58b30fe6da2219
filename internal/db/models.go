package db

import (
	"time"

	"gorm.io/datatypes"
)

// LogMinute is one row of the upstream per-minute aggregate table, keyed by
// (minute, host, service, unit). The ETL job that moves log lines out of the
// log store writes it; this service only reads it.
type LogMinute struct {
	Minute  time.Time `gorm:"column:minute;index;not null"`
	Host    string    `gorm:"column:host;size:255;not null"`
	Service string    `gorm:"column:service;size:255;not null"`
	Unit    string    `gorm:"column:unit;size:255;not null"`

	Cnt  int64 `gorm:"column:cnt;not null"`  // requests in the minute
	Err  int64 `gorm:"column:err;not null"`  // requests with an error level or status >= 400
	S5xx int64 `gorm:"column:s5xx;not null"` // requests with status >= 500

	// Latencies are in milliseconds. NULL when the minute carried no
	// latency information at all.
	AvgLatency *float64 `gorm:"column:avg_latency"`
	P95Latency *float64 `gorm:"column:p95_latency"`
	P99Latency *float64 `gorm:"column:p99_latency"`
	MaxLatency *float64 `gorm:"column:max_latency"`
}

func (LogMinute) TableName() string { return "app_logs_1min" }

// MetricSample is a LogMinute as the detector sees it: renamed columns plus
// the derived error ratios.
type MetricSample struct {
	WindowStart time.Time `gorm:"column:window_start"`
	Host        string    `gorm:"column:host"`
	Service     string    `gorm:"column:service"`
	Unit        string    `gorm:"column:unit"`

	RequestCount     int64 `gorm:"column:request_count"`
	ErrorCount       int64 `gorm:"column:error_count"`
	ServerErrorCount int64 `gorm:"column:server_error_count"`

	AvgLatency *float64 `gorm:"column:avg_latency"`
	P95Latency *float64 `gorm:"column:p95_latency"`
	P99Latency *float64 `gorm:"column:p99_latency"`
	MaxLatency *float64 `gorm:"column:max_latency"`

	// ErrorRate and ServerErrorRate are 0 when RequestCount is 0.
	ErrorRate       float64 `gorm:"column:error_rate"`
	ServerErrorRate float64 `gorm:"column:server_error_rate"`
}

// Anomaly is a flagged one-minute window written by a detection cycle.
// Rows are inserted once and never updated.
type Anomaly struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// DetectedAt is the start time of the cycle that produced the row.
	DetectedAt  time.Time `gorm:"index;not null" json:"detected_at"`
	WindowStart time.Time `gorm:"index;not null" json:"window_start"`
	WindowEnd   time.Time `gorm:"not null" json:"window_end"`

	Host    string `gorm:"size:255;index;not null" json:"host"`
	Service string `gorm:"size:255;index;not null" json:"service"`

	AnomalyType string  `gorm:"size:32;not null" json:"anomaly_type"`
	Score       float64 `gorm:"not null" json:"score"`

	// Details keeps the unit, scoring method, threshold and run id so a row
	// stays interpretable after the threshold changes.
	Details datatypes.JSONType[AnomalyDetails] `gorm:"type:json" json:"details"`
}

// AnomalyDetails is the JSON payload stored with every anomaly.
type AnomalyDetails struct {
	Unit      string  `json:"unit"`
	Method    string  `json:"method"`
	Threshold float64 `json:"threshold"`
	RunID     string  `json:"run_id"`
}

func (Anomaly) TableName() string { return "anomalies" }
