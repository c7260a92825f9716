package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the engine's prometheus registry.
// All methods are safe on a nil receiver so services can run without metrics
// (tests, local tooling).
type Collector struct {
	registry *prometheus.Registry

	rulesCreated       *prometheus.CounterVec
	ruleTransitions    *prometheus.CounterVec
	approvalsRecorded  *prometheus.CounterVec
	rulesActivated     prometheus.Counter
	alertsMediated     *prometheus.CounterVec
	impactSimDuration  prometheus.Histogram
	impactSimCancelled prometheus.Counter
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		rulesCreated: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "doctrine_rules_created_total",
			Help: "Total number of governance rules created, by scope",
		}, []string{"scope"}),
		ruleTransitions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "doctrine_rule_transitions_total",
			Help: "Total number of rule lifecycle transitions, by action",
		}, []string{"action"}),
		approvalsRecorded: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "doctrine_approvals_total",
			Help: "Total number of approval actions recorded",
		}, []string{"action"}),
		rulesActivated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "doctrine_rules_activated_total",
			Help: "Total number of rules that reached active status",
		}),
		alertsMediated: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "doctrine_alerts_mediated_total",
			Help: "Total number of candidate alerts processed, by outcome",
		}, []string{"outcome"}),
		impactSimDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "doctrine_impact_simulation_duration_seconds",
			Help:    "Time taken to run an impact simulation",
			Buckets: prometheus.DefBuckets,
		}),
		impactSimCancelled: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "doctrine_impact_simulations_cancelled_total",
			Help: "Total number of impact simulations cancelled by the caller",
		}),
	}
}

func (c *Collector) RuleCreated(scope string) {
	if c == nil {
		return
	}
	c.rulesCreated.WithLabelValues(scope).Inc()
}

func (c *Collector) RuleTransition(action string) {
	if c == nil {
		return
	}
	c.ruleTransitions.WithLabelValues(action).Inc()
}

func (c *Collector) ApprovalRecorded(action string) {
	if c == nil {
		return
	}
	c.approvalsRecorded.WithLabelValues(action).Inc()
}

func (c *Collector) RuleActivated() {
	if c == nil {
		return
	}
	c.rulesActivated.Inc()
}

func (c *Collector) AlertMediated(outcome string) {
	if c == nil {
		return
	}
	c.alertsMediated.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveImpactSimulation(d time.Duration) {
	if c == nil {
		return
	}
	c.impactSimDuration.Observe(d.Seconds())
}

func (c *Collector) ImpactSimulationCancelled() {
	if c == nil {
		return
	}
	c.impactSimCancelled.Inc()
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
