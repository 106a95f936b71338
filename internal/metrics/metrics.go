// Package metrics declares the Prometheus collectors the admin API's
// /metrics endpoint exposes (§4.13). Grounded on SynapseStrike's
// metrics/metrics.go: a package-level custom Registry, promauto-wired
// vectors grouped by concern, and small Record*/Set* helper functions
// instead of exposing raw collectors to callers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom registry the admin API's /metrics handler
// serves, kept separate from the default global registry so this
// package's collectors are the only ones exposed.
var Registry = prometheus.NewRegistry()

var (
	// TickDuration is the Trading Tick cadence's wall-clock time (§4.1).
	TickDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single trading tick cadence run",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// BrokerConnected reports the broker bridge's connectivity (1) or
	// disconnection (0), mirroring the risk gate that fails closed on it.
	BrokerConnected = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "broker",
		Name:      "connected",
		Help:      "Whether the broker bridge is currently reachable (1) or not (0)",
	})

	// RiskRefusalsTotal counts CheckOrder refusals by the gate that
	// refused them (§4.7's nine gates).
	RiskRefusalsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "risk",
		Name:      "refusals_total",
		Help:      "Total order proposals refused, by gate",
	}, []string{"gate"})

	// LLMVetoDuration is the news-veto LLM call's round-trip latency.
	LLMVetoDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Subsystem: "llm",
		Name:      "veto_duration_seconds",
		Help:      "News-veto LLM call round-trip latency",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	// OrdersSubmittedTotal counts live order submissions by outcome.
	OrdersSubmittedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "execution",
		Name:      "orders_submitted_total",
		Help:      "Total live order submissions, by outcome",
	}, []string{"outcome"}) // filled, aborted, dry_run_rejected

	// ShadowFillsTotal counts synthesized shadow-portfolio fills.
	ShadowFillsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Subsystem: "execution",
		Name:      "shadow_fills_total",
		Help:      "Total synthesized shadow-portfolio fills",
	})

	// BotState exposes the Risk Manager's state machine (§4.7) as a
	// gauge: 0 RUNNING, 1 PAUSED, 2 HALTED, 3 STOPPED.
	BotState = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Subsystem: "risk",
		Name:      "bot_state",
		Help:      "Bot state: 0=RUNNING 1=PAUSED 2=EMERGENCY_HALT 3=STOPPED",
	})
)

// Init registers the standard Go/process collectors alongside the
// custom ones above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// RecordTick observes a trading tick's duration in seconds.
func RecordTick(seconds float64) {
	TickDuration.Observe(seconds)
}

// SetBrokerConnected sets the broker connectivity gauge.
func SetBrokerConnected(connected bool) {
	if connected {
		BrokerConnected.Set(1)
		return
	}
	BrokerConnected.Set(0)
}

// RecordRiskRefusal increments the refusal counter for the named gate.
func RecordRiskRefusal(gate string) {
	RiskRefusalsTotal.WithLabelValues(gate).Inc()
}

// RecordLLMVeto observes a news-veto LLM call's latency in seconds.
func RecordLLMVeto(seconds float64) {
	LLMVetoDuration.Observe(seconds)
}

// RecordOrderOutcome increments the order-submission counter for the
// given outcome ("filled", "aborted", "dry_run_rejected").
func RecordOrderOutcome(outcome string) {
	OrdersSubmittedTotal.WithLabelValues(outcome).Inc()
}

// RecordShadowFill increments the shadow-fill counter.
func RecordShadowFill() {
	ShadowFillsTotal.Inc()
}

// botStateValue mirrors the numbering BotState's Help text documents;
// it is keyed by string so this package does not import pkg/types
// (gauge callers pass the already-stringified state instead).
var botStateValue = map[string]float64{
	"RUNNING":        0,
	"PAUSED":         1,
	"EMERGENCY_HALT": 2,
	"STOPPED":        3,
}

// SetBotState sets the bot-state gauge from its string form.
func SetBotState(state string) {
	if v, ok := botStateValue[state]; ok {
		BotState.Set(v)
	}
}
