package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accesslog_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	})
	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accesslog_auth_failures_total",
		Help: "Requests rejected by API key authentication, by reason",
	}, []string{"reason"})
)
