// Package metrics exposes Prometheus metrics for the subathon engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Click outcomes
const (
	ClickAccepted = "accepted"
	ClickCooldown = "cooldown"
	ClickNotLive  = "not_live"
	ClickFailed   = "error"
)

// Outbox publish outcomes
const (
	OutboxPublished = "published"
	OutboxFailed    = "failed"
)

// MetricsCollector is what the engine and gateway record through
type MetricsCollector interface {
	RecordClick(outcome string)
	RecordTimeAdded(eventType string, seconds int64)
	RecordIngest(eventType, outcome string)
	RecordTransition(from, to string)
	SetSubscribers(n int)
	RecordSubscriberDropped()
	RecordOutboxPublish(outcome string)
}

// Collector records to Prometheus
type Collector struct {
	clicks             *prometheus.CounterVec
	rewards            *prometheus.CounterVec
	secondsAdded       *prometheus.CounterVec
	ingested           *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	subscribers        prometheus.Gauge
	subscribersDropped prometheus.Counter
	outboxPublished    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subathon_clicks_total",
			Help: "Mini-game clicks by outcome",
		}, []string{"outcome"}),
		rewards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subathon_time_additions_total",
			Help: "Ledger rows appended by event type",
		}, []string{"event_type"}),
		secondsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subathon_seconds_added_total",
			Help: "Seconds added to timers by event type",
		}, []string{"event_type"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subathon_external_events_total",
			Help: "External platform events by type and outcome",
		}, []string{"event_type", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subathon_transitions_total",
			Help: "Timer status transitions",
		}, []string{"from", "to"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "subathon_subscribers",
			Help: "Currently connected realtime subscribers",
		}),
		subscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subathon_subscribers_dropped_total",
			Help: "Subscribers disconnected for falling behind",
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subathon_outbox_publish_total",
			Help: "Outbox envelopes relayed to the message bus by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.clicks,
		c.rewards,
		c.secondsAdded,
		c.ingested,
		c.transitions,
		c.subscribers,
		c.subscribersDropped,
		c.outboxPublished,
	)

	return c
}

func (c *Collector) RecordClick(outcome string) {
	c.clicks.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTimeAdded(eventType string, seconds int64) {
	c.rewards.WithLabelValues(eventType).Inc()
	c.secondsAdded.WithLabelValues(eventType).Add(float64(seconds))
}

func (c *Collector) RecordIngest(eventType, outcome string) {
	c.ingested.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}

func (c *Collector) RecordSubscriberDropped() {
	c.subscribersDropped.Inc()
}

func (c *Collector) RecordOutboxPublish(outcome string) {
	c.outboxPublished.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NoopCollector discards everything
type NoopCollector struct{}

func (NoopCollector) RecordClick(string)              {}
func (NoopCollector) RecordTimeAdded(string, int64)   {}
func (NoopCollector) RecordIngest(string, string)     {}
func (NoopCollector) RecordTransition(string, string) {}
func (NoopCollector) SetSubscribers(int)              {}
func (NoopCollector) RecordSubscriberDropped()        {}
func (NoopCollector) RecordOutboxPublish(string)      {}
