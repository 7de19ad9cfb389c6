// Package metrics holds the Prometheus collectors of the submission
// pipeline. All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "answersync"

// Submission outcomes.
const (
	OutcomeRemote   = "remote"   // accepted by the remote system
	OutcomeOffline  = "offline"  // probe failed, cached
	OutcomeFailed   = "failed"   // remote call failed, cached
	OutcomeRejected = "rejected" // remote refused the answer, cached
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	Submissions    *prometheus.CounterVec
	RetryAttempts  *prometheus.CounterVec
	SyncRuns       *prometheus.CounterVec
	SyncDropped    prometheus.Counter
	StoreErrors    *prometheus.CounterVec
	ObserverPanics prometheus.Counter
	PendingAnswers prometheus.Gauge
	NetworkOnline  prometheus.Gauge
	SubmitDuration prometheus.Histogram
	ProbeFailures  prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Answers handed to SubmitAnswer, by outcome.",
		}, []string{"outcome"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Remote submissions attempted from the retry batch, by result.",
		}, []string{"result"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Retry batches started, by trigger.",
		}, []string{"trigger"}),
		SyncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_dropped_total",
			Help:      "Auto-sync triggers dropped because a sync was already running.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Local persistence failures, by operation.",
		}, []string{"op"}),
		ObserverPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_panics_total",
			Help:      "Observer callbacks that panicked.",
		}),
		PendingAnswers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_answers",
			Help:      "Answers cached locally and waiting to sync.",
		}),
		NetworkOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the coordinator considers the network online.",
		}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_submit_duration_seconds",
			Help:      "Duration of remote submit calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Connectivity probes that found the network unreachable.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Local API requests.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of local API requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),
	}

	collectors := []prometheus.Collector{
		m.Submissions, m.RetryAttempts, m.SyncRuns, m.SyncDropped, m.StoreErrors,
		m.ObserverPanics, m.PendingAnswers, m.NetworkOnline, m.SubmitDuration, m.ProbeFailures,
		m.HTTPRequests, m.HTTPDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RetryAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.RetryAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SyncRun(trigger string) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SyncDrop() {
	if m == nil {
		return
	}
	m.SyncDropped.Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserverPanic() {
	if m == nil {
		return
	}
	m.ObserverPanics.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingAnswers.Set(float64(n))
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1
	}
	m.NetworkOnline.Set(v)
}

func (m *Metrics) ObserveSubmit(seconds float64) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(seconds)
}

func (m *Metrics) ProbeFailed() {
	if m == nil {
		return
	}
	m.ProbeFailures.Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
