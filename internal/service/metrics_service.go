package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the offer lifecycle. All methods are nil-receiver safe so
// services can run without instrumentation in tests.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	offersCreated        prometheus.Counter
	offersResolved       *prometheus.CounterVec
	capacityConflicts    prometheus.Counter
	enrollmentsConverted prometheus.Counter
	sweepDuration        prometheus.Histogram
	sweepExpired         prometheus.Counter
}

// NewMetricsService registers all collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_cache_hits_total",
		Help: "Capacity snapshot cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_cache_misses_total",
		Help: "Capacity snapshot cache misses",
	})

	offersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offers_created_total",
		Help: "Total offers created",
	})

	offersResolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offers_resolved_total",
		Help: "Total offers resolved, by response",
	}, []string{"response"})

	capacityConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "capacity_conflicts_total",
		Help: "Reservations refused or retried due to contention",
	})

	enrollmentsConverted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_converted_total",
		Help: "Accepted offers converted to confirmed bookings",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "offer_sweep_duration_seconds",
		Help:    "Duration of expired-offer sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	sweepExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offer_sweep_expired_total",
		Help: "Offers expired by the sweep worker",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		offersCreated, offersResolved, capacityConflicts, enrollmentsConverted,
		sweepDuration, sweepExpired, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		offersCreated:        offersCreated,
		offersResolved:       offersResolved,
		capacityConflicts:    capacityConflicts,
		enrollmentsConverted: enrollmentsConverted,
		sweepDuration:        sweepDuration,
		sweepExpired:         sweepExpired,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request duration and count.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup records a capacity snapshot cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// IncOffersCreated counts a successful reservation.
func (m *MetricsService) IncOffersCreated() {
	if m == nil {
		return
	}
	m.offersCreated.Inc()
}

// IncOffersResolved counts a terminal response by kind.
func (m *MetricsService) IncOffersResolved(response string) {
	if m == nil {
		return
	}
	m.offersResolved.WithLabelValues(response).Inc()
}

// IncCapacityConflicts counts refused or retried reservations.
func (m *MetricsService) IncCapacityConflicts() {
	if m == nil {
		return
	}
	m.capacityConflicts.Inc()
}

// IncEnrollmentsConverted counts completed conversions.
func (m *MetricsService) IncEnrollmentsConverted() {
	if m == nil {
		return
	}
	m.enrollmentsConverted.Inc()
}

// ObserveSweep records a sweep pass.
func (m *MetricsService) ObserveSweep(duration time.Duration, expired int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepExpired.Add(float64(expired))
}
