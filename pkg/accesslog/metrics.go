package accesslog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sinkAccess  = "access"
	sinkApp     = "app"
	sinkArchive = "archive"
)

var (
	linesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_lines_total",
		Help: "Access log lines written, by sink",
	}, []string{"sink"})
	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_sink_errors_total",
		Help: "Failed access log writes, by sink",
	}, []string{"sink"})
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "accesslog_request_duration_milliseconds",
		Help:    "Request processing time reported in the access log",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1_000, 2_500, 5_000, 10_000},
	})
)
