// Package metrics holds wakebot's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	wakeTotal       *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	logAppendErrors *prometheus.CounterVec
	webhookTotal    *prometheus.CounterVec
	repliesTotal    *prometheus.CounterVec
	setupAttempts   *prometheus.CounterVec
	botRunning      prometheus.Gauge
	logsPruned      prometheus.Counter
}

// New registers every collector on a private registry, together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		wakeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_wake_total",
			Help: "Wake checks by outcome",
		}, []string{"outcome"}),
		publishDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wakebot_publish_duration_seconds",
			Help:    "Duration of scheduled broadcast publishes",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		logAppendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_log_append_errors_total",
			Help: "Message log appends that failed, by source",
		}, []string{"source"}),
		webhookTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_webhook_updates_total",
			Help: "Webhook deliveries by outcome",
		}, []string{"outcome"}),
		repliesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_replies_total",
			Help: "Replies sent to inbound messages by status",
		}, []string{"status"}),
		setupAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakebot_setup_attempts_total",
			Help: "Bot transport setup attempts by status",
		}, []string{"status"}),
		botRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "wakebot_bot_running",
			Help: "1 when the bot transport is initialized",
		}),
		logsPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "wakebot_logs_pruned_total",
			Help: "Message log entries removed by retention",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Wake(outcome string) {
	if m == nil {
		return
	}
	m.wakeTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Publish(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.publishDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

func (m *Metrics) LogAppendError(source string) {
	if m == nil {
		return
	}
	m.logAppendErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reply(err error) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) SetupAttempt(err error) {
	if m == nil {
		return
	}
	m.setupAttempts.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.botRunning.Set(1)
		return
	}
	m.botRunning.Set(0)
}

func (m *Metrics) LogsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.logsPruned.Add(float64(n))
}

// WakeCount returns the counter for outcome. Tests read it through testutil.
func (m *Metrics) WakeCount(outcome string) prometheus.Counter {
	return m.wakeTotal.WithLabelValues(outcome)
}

func (m *Metrics) WebhookCount(outcome string) prometheus.Counter {
	return m.webhookTotal.WithLabelValues(outcome)
}

func (m *Metrics) LogAppendErrorCount(source string) prometheus.Counter {
	return m.logAppendErrors.WithLabelValues(source)
}

func (m *Metrics) RunningGauge() prometheus.Gauge { return m.botRunning }

func (m *Metrics) LogsPrunedCounter() prometheus.Counter { return m.logsPruned }
