package observability

import "github.com/prometheus/client_golang/prometheus"

// Event outcomes reported by the reputation engine.
const (
	OutcomeHandled   = "handled"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeCooldown  = "cooldown"
	OutcomeFailed    = "failed"
)

var (
	// engineEvents counts inbound events by kind and terminal outcome.
	engineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socialcredit_events_total",
			Help: "Inbound chat events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// scoreChanges counts persisted score mutations.
	scoreChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socialcredit_score_changes_total",
			Help: "Number of score changes applied from reactions.",
		},
	)

	// cooldowns counts reactions rejected by the rate limiter.
	cooldowns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socialcredit_cooldowns_total",
			Help: "Number of reactions rejected because the reactor was on cooldown.",
		},
	)
)

func init() {
	prometheus.MustRegister(engineEvents, scoreChanges, cooldowns)
}

// ObserveEvent records the outcome of one inbound event.
func ObserveEvent(kind, outcome string) {
	if kind == "" {
		kind = "unknown"
	}
	engineEvents.WithLabelValues(kind, outcome).Inc()
}

// ObserveScoreChange records one persisted score mutation.
func ObserveScoreChange() { scoreChanges.Inc() }

// ObserveCooldown records one rate-limited reaction.
func ObserveCooldown() { cooldowns.Inc() }

// EventCount returns the counter for (kind, outcome). Intended for tests
// and debug endpoints.
func EventCount(kind, outcome string) prometheus.Counter {
	return engineEvents.WithLabelValues(kind, outcome)
}

// ScoreChanges returns the score change counter.
func ScoreChanges() prometheus.Counter { return scoreChanges }

// Cooldowns returns the cooldown counter.
func Cooldowns() prometheus.Counter { return cooldowns }
