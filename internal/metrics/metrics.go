// Package metrics exposes Prometheus collectors for the evaluation pipeline.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Heron collector on a private registry.
type Collector struct {
	registry *prometheus.Registry

	evaluations    *prometheus.CounterVec
	riskScores     prometheus.Histogram
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
	alertsCreated  *prometheus.CounterVec
	alertsDeduped  prometheus.Counter
	actions        *prometheus.CounterVec
	ingested       *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heron_evaluations_total",
			Help: "Transactions evaluated, by outcome",
		}, []string{"outcome"}),
		riskScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "heron_risk_score",
			Help:    "Distribution of persisted transaction risk scores",
			Buckets: []float64{0, 20, 40, 60, 80, 100},
		}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heron_gateway_calls_total",
			Help: "Evaluation service calls, by operation and result",
		}, []string{"operation", "result"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heron_gateway_call_duration_seconds",
			Help:    "Evaluation service call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heron_gateway_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		alertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heron_alerts_created_total",
			Help: "Alerts created, by severity",
		}, []string{"severity"}),
		alertsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "heron_alerts_duplicate_total",
			Help: "Alert descriptors skipped because the alert already existed",
		}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heron_actions_total",
			Help: "Verdict actions, by type and result",
		}, []string{"type", "result"}),
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "heron_traces_ingested_total",
			Help: "Document store traces processed, by result",
		}, []string{"result"}),
	}
}

// Evaluation records one evaluation outcome: scored, unscored or failed.
func (c *Collector) Evaluation(outcome string) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(outcome).Inc()
}

// RiskScore records a persisted risk score.
func (c *Collector) RiskScore(score float64) {
	if c == nil {
		return
	}
	c.riskScores.Observe(score)
}

// GatewayCall records an evaluation service call.
func (c *Collector) GatewayCall(operation, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.gatewayCalls.WithLabelValues(operation, result).Inc()
	c.gatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// BreakerState records the circuit breaker state.
func (c *Collector) BreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// AlertCreated counts a new alert.
func (c *Collector) AlertCreated(severity string) {
	if c == nil {
		return
	}
	c.alertsCreated.WithLabelValues(severity).Inc()
}

// AlertDuplicate counts a deduplicated alert descriptor.
func (c *Collector) AlertDuplicate() {
	if c == nil {
		return
	}
	c.alertsDeduped.Inc()
}

// Action records a dispatched action: executed, skipped or failed.
func (c *Collector) Action(actionType, result string) {
	if c == nil {
		return
	}
	c.actions.WithLabelValues(actionType, result).Inc()
}

// TraceIngested records one ingestion result: inserted, existing or malformed.
func (c *Collector) TraceIngested(result string) {
	if c == nil {
		return
	}
	c.ingested.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
