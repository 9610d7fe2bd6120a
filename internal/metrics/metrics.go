package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lessoncall"

type Collector struct {
	sessionTransitions *prometheus.CounterVec
	connectLatency     prometheus.Histogram
	ringOutcomes       *prometheus.CounterVec
	activeCalls        prometheus.Gauge
	webhookFailures    prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		sessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Call session state transitions.",
		}, []string{"from", "to", "trigger"}),
		connectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_seconds",
			Help:      "Time from session start to connected.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),
		ringOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialer",
			Name:      "attempt_outcomes_total",
			Help:      "Ringing attempt outcomes.",
		}, []string{"outcome"}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls currently held by this process.",
		}),
		webhookFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "failures_total",
			Help:      "Call notifications that could not be delivered.",
		}),
	}
}

func (c *Collector) SessionTransition(from, to, trigger string) {
	c.sessionTransitions.WithLabelValues(from, to, trigger).Inc()
}

func (c *Collector) ConnectLatency(d time.Duration) {
	c.connectLatency.Observe(d.Seconds())
}

func (c *Collector) AttemptOutcome(outcome string) {
	c.ringOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetActiveCalls(n int) {
	c.activeCalls.Set(float64(n))
}

func (c *Collector) WebhookFailed() {
	c.webhookFailures.Inc()
}
