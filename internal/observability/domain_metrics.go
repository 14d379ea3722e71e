package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_generation_requests_total",
			Help: "Total number of SQL generation requests by outcome.",
		},
		[]string{"status"},
	)
	generationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querydeck_generation_latency_ms",
			Help:    "Completion round trip latency for SQL generation in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000, 60000},
		},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_query_executions_total",
			Help: "Total number of query executions by outcome.",
		},
		[]string{"status"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querydeck_query_latency_ms",
			Help:    "Query execution latency in milliseconds, dataset staging included.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	ingestedFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querydeck_ingested_files_total",
			Help: "Total number of uploaded files by outcome.",
		},
		[]string{"status"},
	)
	ingestedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querydeck_ingested_rows_total",
			Help: "Total number of rows loaded from uploaded files.",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querydeck_active_sessions",
			Help: "Current number of live sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationRequestsTotal,
		generationLatencyMs,
		queryExecutionsTotal,
		queryLatencyMs,
		ingestedFilesTotal,
		ingestedRowsTotal,
		activeSessions,
	)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveGeneration(err error, elapsed time.Duration) {
	generationRequestsTotal.WithLabelValues(statusLabel(err)).Inc()
	generationLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryExecution(err error, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(statusLabel(err)).Inc()
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveIngestedFile(rows int, err error) {
	ingestedFilesTotal.WithLabelValues(statusLabel(err)).Inc()
	if err == nil && rows > 0 {
		ingestedRowsTotal.Add(float64(rows))
	}
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
