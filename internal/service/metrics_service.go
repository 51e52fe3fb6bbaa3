package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/icrrus-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and
// the approval workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	classifyFailed  *prometheus.CounterVec
	lockWait        prometheus.Histogram
	notifyDropped   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
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

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_submissions_total",
		Help: "Booking requests submitted, by workflow template",
	}, []string{"template"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_decisions_total",
		Help: "Stage decisions recorded, by template, stage and outcome",
	}, []string{"template", "stage", "decision"})

	withdrawals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_withdrawals_total",
		Help: "Booking requests withdrawn by their requester",
	}, []string{"template"})

	classifyFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_classification_failures_total",
		Help: "Submissions with no matching workflow template",
	}, []string{"category", "resource"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_lock_wait_seconds",
		Help:    "Time spent waiting for the per-request stage lock",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	})

	notifyDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_notifications_dropped_total",
		Help: "Workflow notifications that could not be queued",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, submissions, decisions, withdrawals, classifyFailed, lockWait, notifyDropped, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		submissions:     submissions,
		decisions:       decisions,
		withdrawals:     withdrawals,
		classifyFailed:  classifyFailed,
		lockWait:        lockWait,
		notifyDropped:   notifyDropped,
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

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordSubmission counts a new booking request.
func (m *MetricsService) RecordSubmission(template models.TemplateID) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(template)).Inc()
}

// RecordDecision counts a recorded stage decision.
func (m *MetricsService) RecordDecision(template models.TemplateID, stage models.StageKey, decision models.Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(template), string(stage), string(decision)).Inc()
}

// RecordWithdrawal counts a withdrawn request.
func (m *MetricsService) RecordWithdrawal(template models.TemplateID) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(string(template)).Inc()
}

// RecordClassificationFailure counts a submission no template covers.
func (m *MetricsService) RecordClassificationFailure(category models.RequesterCategory, resource models.ResourceType) {
	if m == nil {
		return
	}
	m.classifyFailed.WithLabelValues(string(category), string(resource)).Inc()
}

// ObserveLockWait records how long a decision waited for the stage lock.
func (m *MetricsService) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// RecordNotificationDropped counts a notification lost to a full queue.
func (m *MetricsService) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}
