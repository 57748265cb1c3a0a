package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Byte counter directions.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "frames_total",
			Help:      "Frames extracted per session, split by checksum outcome.",
		},
		[]string{"session", "protocol", "valid"},
	)
	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "bytes_total",
			Help:      "Raw bytes moved per session and direction.",
		},
		[]string{"session", "direction"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "framegate",
			Name:      "sessions_active",
			Help:      "Channels currently attached.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framegate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics registers the collectors with the default registry. Safe to
// call repeatedly.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTotal, bytesTotal, sessionsActive, httpRequests, httpDuration)
	})
}

// RecordFrame counts one extracted frame.
func RecordFrame(session, protocol string, valid bool) {
	RegisterMetrics()
	framesTotal.WithLabelValues(session, protocol, strconv.FormatBool(valid)).Inc()
}

// RecordBytes adds n raw bytes moved in direction.
func RecordBytes(session, direction string, n int) {
	RegisterMetrics()
	bytesTotal.WithLabelValues(session, direction).Add(float64(n))
}

// SessionOpened bumps the active session gauge.
func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

// SessionClosed drops the gauge and deletes every series labelled with the
// session, so short-lived connections do not accumulate.
func SessionClosed(session string) {
	RegisterMetrics()
	sessionsActive.Dec()
	labels := prometheus.Labels{"session": session}
	framesTotal.DeletePartialMatch(labels)
	bytesTotal.DeletePartialMatch(labels)
}

// RecordHTTPRequest observes one served request under its route template.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
