package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache event labels.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecosort",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosort",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecosort",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosort",
			Subsystem: "classify",
			Name:      "requests_total",
			Help:      "Total number of classification requests.",
		},
		[]string{"status", "cached"},
	)

	classificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecosort",
			Subsystem: "classify",
			Name:      "duration_seconds",
			Help:      "Duration of classification requests, model call included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"status"},
	)

	llmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecosort",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Duration of chat completion calls by provider.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9), // 100ms to ~25s
		},
		[]string{"provider", "status"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecosort",
			Subsystem: "upload",
			Name:      "bytes",
			Help:      "Size of accepted image uploads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 8), // 1KiB to 128KiB
		},
	)

	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosort",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Advice cache hits, misses, and errors.",
		},
		[]string{"event"},
	)

	guidesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecosort",
			Subsystem: "guides",
			Name:      "loaded",
			Help:      "Number of disposal guides currently loaded.",
		},
	)

	guideReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecosort",
			Subsystem: "guides",
			Name:      "reloads_total",
			Help:      "Total number of guide corpus reloads.",
		},
		[]string{"status"},
	)

	activityClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecosort",
			Subsystem: "activity",
			Name:      "clients",
			Help:      "Connected activity stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		classifications,
		classificationDuration,
		llmDuration,
		uploadBytes,
		cacheEvents,
		guidesLoaded,
		guideReloads,
		activityClients,
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordClassification records the outcome of a classification request.
func RecordClassification(status string, cached bool, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	fromCache := "false"
	if cached {
		fromCache = "true"
	}
	classifications.WithLabelValues(status, fromCache).Inc()
	classificationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLLMRequest records the duration of a chat completion call.
func RecordLLMRequest(provider string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// ObserveUploadSize records the size of an accepted image upload.
func ObserveUploadSize(n int) {
	uploadBytes.Observe(float64(n))
}

// RecordCacheEvent counts an advice cache hit, miss, or error.
func RecordCacheEvent(event string) {
	cacheEvents.WithLabelValues(event).Inc()
}

// RecordGuideReload records a guide corpus reload and the resulting corpus
// size.
func RecordGuideReload(loaded int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	guideReloads.WithLabelValues(status).Inc()
	if err == nil {
		guidesLoaded.Set(float64(loaded))
	}
}

// SetActivityClients reports the number of connected activity stream clients.
func SetActivityClients(n int) {
	activityClients.Set(float64(n))
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

// Hijack passes through so websocket upgrades work behind the
// instrumentation.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath collapses request paths to a bounded label set. Admin routes
// keep their resource segment; everything else reports its first segment.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "admin" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/admin"
	}
	return "/admin/" + parts[1]
}
