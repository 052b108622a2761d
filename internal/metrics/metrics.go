// Package metrics holds the Prometheus collectors of the server and client.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oneofus"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	storeMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "members",
			Help:      "Members registered in the membership store.",
		},
	)

	chainMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "members",
			Help:      "Member count reported by the registry program.",
		},
	)

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		},
		[]string{"result"},
	)

	joins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "attempts_total",
			Help:      "Join attempts by outcome.",
		},
		[]string{"outcome"},
	)

	finalizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "finalizations_total",
			Help:      "Finalized joins by how finalization was observed.",
		},
		[]string{"via"},
	)

	finalizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "finalization_seconds",
			Help:      "Time from acceptance to observed finalization.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
		},
	)

	popups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "passkey",
			Name:      "popups_total",
			Help:      "Passkey popup flows by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		storeMembers,
		chainMembers,
		registrations,
		joins,
		finalizations,
		finalizationDuration,
		popups,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// SetStoreMembers records the store member count.
func SetStoreMembers(n int) { storeMembers.Set(float64(n)) }

// SetChainMembers records the on-chain member count.
func SetChainMembers(n uint32) { chainMembers.Set(float64(n)) }

// RecordRegistration records a registration attempt.
func RecordRegistration(added bool) {
	result := "duplicate"
	if added {
		result = "added"
	}
	registrations.WithLabelValues(result).Inc()
}

// RecordJoin records the outcome of a join attempt.
func RecordJoin(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	joins.WithLabelValues(outcome).Inc()
}

// RecordFinalization records an observed finalization.
func RecordFinalization(via string, elapsed time.Duration) {
	finalizations.WithLabelValues(via).Inc()
	if elapsed > 0 {
		finalizationDuration.Observe(elapsed.Seconds())
	}
}

// RecordPopup records the outcome of a passkey popup flow.
func RecordPopup(channel, outcome string) {
	popups.WithLabelValues(channel, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses per-address paths so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "members" {
		return "/" + trimmed
	}
	switch {
	case len(parts) == 3 && parts[2] == "count":
		return "/api/members/count"
	case len(parts) == 3:
		return "/api/members/:address"
	default:
		return "/api/members/:address/" + strings.Join(parts[3:], "/")
	}
}
