package fartiles

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fartiles",
			Name:      "requests_total",
			Help:      "Tile server requests by kind and status code",
		}, []string{"kind", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fartiles",
			Name:      "request_duration_seconds",
			Help:      "Tile server request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	// duplicate registration happens in tests that build several
	// servers; fall back to the already-registered collectors
	if err := prometheus.Register(m.requests); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(m.requestDuration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.requestDuration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return m
}

func (m *serverMetrics) observe(path string, status int, d time.Duration) {
	kind := "tile"
	switch {
	case metadataPathPattern.MatchString(path):
		kind = "metadata"
	case summaryPathPattern.MatchString(path):
		kind = "summary"
	}
	m.requests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(d.Seconds())
}
