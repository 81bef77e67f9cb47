// Package detector evaluates a candidate security event against the
// user's recent event history. It is pure computation: no I/O, no
// retained state between calls. Callers fetch the history snapshot and
// act on the returned outcome.
package detector

import (
	"sort"
	"time"

	"security-service/internal/model"
)

const SourceLabel = "security-service"

// Config carries the detector thresholds.
type Config struct {
	// MaxDistinctOrigins is the fan-out ceiling: more distinct origin
	// addresses than this across retained history blocks the action.
	MaxDistinctOrigins int

	// UnusualBehaviorWindow bounds how far back rule five looks for
	// prior UNUSUAL_BEHAVIOR events.
	UnusualBehaviorWindow time.Duration

	// UnusualBehaviorCountThreshold is the recurrence count at which
	// rule five escalates to a CRITICAL security alert.
	UnusualBehaviorCountThreshold int
}

// DefaultConfig mirrors the shipped property defaults.
func DefaultConfig() Config {
	return Config{
		MaxDistinctOrigins:            3,
		UnusualBehaviorWindow:         24 * time.Hour,
		UnusualBehaviorCountThreshold: 3,
	}
}

// Outcome is the aggregate decision for one candidate event. Blocked
// carries the reason of the first blocking rule that fired; Alerts holds
// the derived events the caller should emit regardless of blocking.
type Outcome struct {
	Blocked bool
	Reason  string
	Alerts  []*model.SecurityEvent
}

// A finding is a single rule's verdict. A nil finding means the rule did
// not fire.
type finding struct {
	block  bool
	reason string
	alert  *model.SecurityEvent
}

// A rule inspects the sorted history and the candidate. Rules must not
// mutate either.
type rule func(history []*model.SecurityEvent, candidate *model.SecurityEvent, cfg Config, now time.Time) *finding

// Detector holds the configured rule chain.
type Detector struct {
	cfg   Config
	now   func() time.Time
	rules []rule
}

func New(cfg Config) *Detector {
	if cfg.MaxDistinctOrigins <= 0 {
		cfg.MaxDistinctOrigins = 3
	}
	if cfg.UnusualBehaviorWindow <= 0 {
		cfg.UnusualBehaviorWindow = 24 * time.Hour
	}
	if cfg.UnusualBehaviorCountThreshold <= 0 {
		cfg.UnusualBehaviorCountThreshold = 3
	}
	return &Detector{
		cfg: cfg,
		now: time.Now,
		// Blocking rules run first; success-run-then-failure outranks
		// exhausted-failures because it is the more specific pattern.
		// Alert rules never block and always run.
		rules: []rule{
			ruleSuccessRunThenFailure,
			ruleExhaustedFailures,
			ruleOriginFanOut,
			ruleSuccessAfterFailure,
			ruleRecurringUnusualBehavior,
		},
	}
}

// Evaluate runs every rule exactly once over a defensively sorted copy
// of history and aggregates their findings. The first blocking finding
// wins the reason; alert findings accumulate independently. A nil
// candidate yields an empty outcome.
func (d *Detector) Evaluate(history []*model.SecurityEvent, candidate *model.SecurityEvent) Outcome {
	if candidate == nil {
		return Outcome{}
	}
	sorted := sortByTimestamp(history)
	now := d.now()

	var out Outcome
	for _, r := range d.rules {
		f := r(sorted, candidate, d.cfg, now)
		if f == nil {
			continue
		}
		if f.block && !out.Blocked {
			out.Blocked = true
			out.Reason = f.reason
		}
		if f.alert != nil {
			out.Alerts = append(out.Alerts, f.alert)
		}
	}
	return out
}

// sortByTimestamp returns a copy of history ordered by timestamp
// ascending. The store's ordering contract is not trusted. The sort is
// stable so timestamp ties keep arrival order.
func sortByTimestamp(history []*model.SecurityEvent) []*model.SecurityEvent {
	sorted := make([]*model.SecurityEvent, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
