package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	botMetricsOnce sync.Once
	botRegistry    *BotMetrics
)

// BotMetrics wraps the collectors describing interaction routing, role
// reconciliation, verification sessions and the validator stats cache.
type BotMetrics struct {
	interactions       *prometheus.CounterVec
	interactionLatency *prometheus.HistogramVec
	roleMutations      *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	statsLookups       *prometheus.CounterVec
	statsFetches       *prometheus.CounterVec
	deploys            *prometheus.CounterVec
}

// Bot returns the lazily-initialised bot metrics registered on the default
// prometheus registry.
func Bot() *BotMetrics {
	botMetricsOnce.Do(func() {
		botRegistry = newBotMetrics()
		prometheus.MustRegister(
			botRegistry.interactions,
			botRegistry.interactionLatency,
			botRegistry.roleMutations,
			botRegistry.sessionsActive,
			botRegistry.statsLookups,
			botRegistry.statsFetches,
			botRegistry.deploys,
		)
	})
	return botRegistry
}

func newBotMetrics() *BotMetrics {
	return &BotMetrics{
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validatorgate",
			Subsystem: "router",
			Name:      "interactions_total",
			Help:      "Inbound interactions segmented by kind, resolved name and outcome.",
		}, []string{"kind", "name", "outcome"}),
		interactionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "validatorgate",
			Subsystem: "router",
			Name:      "interaction_duration_seconds",
			Help:      "Handler latency per interaction kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		roleMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validatorgate",
			Subsystem: "roles",
			Name:      "mutations_total",
			Help:      "Role reconciliation actions segmented by action and outcome.",
		}, []string{"action", "outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "validatorgate",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Verification sessions alive after the last sweep.",
		}),
		statsLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validatorgate",
			Subsystem: "stats",
			Name:      "lookups_total",
			Help:      "Validator stats cache lookups segmented by result (hit, miss, unknown).",
		}, []string{"result"}),
		statsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validatorgate",
			Subsystem: "stats",
			Name:      "upstream_fetches_total",
			Help:      "Upstream liveness fetches segmented by outcome.",
		}, []string{"outcome"}),
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validatorgate",
			Subsystem: "router",
			Name:      "command_deploys_total",
			Help:      "Command schema deployments segmented by outcome class.",
		}, []string{"outcome"}),
	}
}

// ObserveInteraction records one routed interaction.
func (m *BotMetrics) ObserveInteraction(kind, name, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if name == "" {
		name = "unknown"
	}
	m.interactions.WithLabelValues(kind, name, outcome).Inc()
	m.interactionLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRoleMutation counts a role add/remove/skip and whether it succeeded.
func (m *BotMetrics) RecordRoleMutation(action, outcome string) {
	if m == nil {
		return
	}
	m.roleMutations.WithLabelValues(action, outcome).Inc()
}

// SetActiveSessions publishes the live session count.
func (m *BotMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// RecordStatsLookup counts a cache lookup result.
func (m *BotMetrics) RecordStatsLookup(result string) {
	if m == nil {
		return
	}
	m.statsLookups.WithLabelValues(result).Inc()
}

// RecordStatsFetch counts an upstream fetch outcome.
func (m *BotMetrics) RecordStatsFetch(outcome string) {
	if m == nil {
		return
	}
	m.statsFetches.WithLabelValues(outcome).Inc()
}

// RecordDeploy counts a command deployment attempt.
func (m *BotMetrics) RecordDeploy(outcome string) {
	if m == nil {
		return
	}
	m.deploys.WithLabelValues(outcome).Inc()
}
