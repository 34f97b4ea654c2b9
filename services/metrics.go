package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics bündelt die Import-Metriken in einer eigenen Registry,
// damit Einmal-Läufe sie an ein Pushgateway senden können.
type Metrics struct {
	Registry     *prometheus.Registry
	RowsUpserted *prometheus.CounterVec
	Issues       *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	Duration     prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_rows_upserted_total",
			Help: "Total number of rows written per entity by dataset imports.",
		}, []string{"entity"}),
		Issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_import_issues_total",
			Help: "Total number of import issues by severity and type.",
		}, []string{"severity", "type"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_import_runs_total",
			Help: "Total number of import runs by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dataset_import_duration_seconds",
			Help:    "Duration of dataset import runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	m.Registry.MustRegister(m.RowsUpserted, m.Issues, m.Runs, m.Duration)
	return m
}

// Push sendet alle Metriken an das Pushgateway unter dem Job "dataset_import".
func (m *Metrics) Push(ctx context.Context, url string) error {
	return push.New(url, "dataset_import").Gatherer(m.Registry).PushContext(ctx)
}
