package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the sync engine. It
// satisfies syncer.Metrics so the orchestrator can record outcomes
// without importing prometheus.
type Metrics struct {
	registry           *prometheus.Registry
	syncsTotal         *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	webhooksTotal      *prometheus.CounterVec
	batchRunsTotal     *prometheus.CounterVec
	rateRemaining      prometheus.Gauge
	rateResetAt        prometheus.Gauge
}

// NewMetrics creates and registers all instruments on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := &Metrics{
		registry: registry,
		syncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlines_syncs_total",
			Help: "Completed sync attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlines_notification_dispatches_total",
			Help: "Notification dispatch attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlines_webhook_deliveries_total",
			Help: "Webhook deliveries by verification outcome.",
		}, []string{"outcome"}),
		batchRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodlines_batch_runs_total",
			Help: "Batch sync runs by bucket and source.",
		}, []string{"bucket", "source"}),
		rateRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prodlines_github_rate_limit_remaining",
			Help: "Remaining GitHub API requests from the most recent response.",
		}),
		rateResetAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prodlines_github_rate_limit_reset_timestamp_seconds",
			Help: "Unix time at which the GitHub API rate limit window resets.",
		}),
	}
	registry.MustRegister(
		metrics.syncsTotal,
		metrics.notificationsTotal,
		metrics.webhooksTotal,
		metrics.batchRunsTotal,
		metrics.rateRemaining,
		metrics.rateResetAt,
	)
	return metrics
}

// SyncCompleted records one finished sync attempt.
func (m *Metrics) SyncCompleted(trigger, outcome string) {
	m.syncsTotal.WithLabelValues(trigger, outcome).Inc()
}

// NotificationDispatched records one notification dispatch attempt.
func (m *Metrics) NotificationDispatched(channel, outcome string) {
	m.notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// WebhookDelivery records one webhook delivery by verification outcome.
func (m *Metrics) WebhookDelivery(outcome string) {
	m.webhooksTotal.WithLabelValues(outcome).Inc()
}

// BatchRun records one batch run. source is "http" or "scheduler".
func (m *Metrics) BatchRun(bucket, source string) {
	m.batchRunsTotal.WithLabelValues(bucket, source).Inc()
}

// GitHubRateLimit records the rate-limit state observed on a hosting-API
// response.
func (m *Metrics) GitHubRateLimit(remaining int, resetUnix int64) {
	m.rateRemaining.Set(float64(remaining))
	m.rateResetAt.Set(float64(resetUnix))
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
