package detector

import (
	"time"

	"security-service/internal/model"
)

// Block reasons. These strings surface in internal logs and telemetry
// only; the login boundary answers with a generic failure.
const (
	ReasonUnusualLoginPattern = "unusual login pattern"
	ReasonMaxFailedLogins     = "maximum number of failed login attempts"
	ReasonUnusualIPPattern    = "unusual IP pattern detected"
)

// Alert messages for the derived events.
const (
	MsgSuccessAfterFailure = "suspicious login success after failure"
	MsgRepeatedUnusual     = "repeated unusual behavior detected"
)

// ruleSuccessRunThenFailure blocks an AUTH_FAILURE arriving right after
// a run of three successful logins: an established session suddenly
// failing is a takeover indicator.
func ruleSuccessRunThenFailure(history []*model.SecurityEvent, candidate *model.SecurityEvent, _ Config, _ time.Time) *finding {
	if len(history) < 3 || candidate.EventType != model.EventAuthFailure {
		return nil
	}
	for _, ev := range history[len(history)-3:] {
		if ev.EventType != model.EventAuthSuccess {
			return nil
		}
	}
	return &finding{block: true, reason: ReasonUnusualLoginPattern}
}

// ruleExhaustedFailures blocks a further AUTH_FAILURE when every prior
// event for the user is already a failure. No time bound: this is the
// "history is nothing but failures" policy, not a sliding window.
func ruleExhaustedFailures(history []*model.SecurityEvent, candidate *model.SecurityEvent, _ Config, _ time.Time) *finding {
	if len(history) == 0 || candidate.EventType != model.EventAuthFailure {
		return nil
	}
	for _, ev := range history {
		if ev.EventType != model.EventAuthFailure {
			return nil
		}
	}
	return &finding{block: true, reason: ReasonMaxFailedLogins}
}

// ruleOriginFanOut blocks when the user's history spans more distinct
// origin addresses than allowed.
func ruleOriginFanOut(history []*model.SecurityEvent, _ *model.SecurityEvent, cfg Config, _ time.Time) *finding {
	if len(history) == 0 {
		return nil
	}
	origins := make(map[string]struct{}, len(history))
	for _, ev := range history {
		// A blank origin (the store blanks rows it cannot decrypt) is
		// not a distinct address.
		if ev.IPAddress == "" {
			continue
		}
		origins[ev.IPAddress] = struct{}{}
	}
	if len(origins) <= cfg.MaxDistinctOrigins {
		return nil
	}
	return &finding{block: true, reason: ReasonUnusualIPPattern}
}

// ruleSuccessAfterFailure emits an UNUSUAL_BEHAVIOR alert when the most
// recent event is a success immediately preceded by a failure. Never
// blocks.
func ruleSuccessAfterFailure(history []*model.SecurityEvent, candidate *model.SecurityEvent, _ Config, _ time.Time) *finding {
	if len(history) < 2 {
		return nil
	}
	last := history[len(history)-1]
	prev := history[len(history)-2]
	if last.EventType != model.EventAuthSuccess || prev.EventType != model.EventAuthFailure {
		return nil
	}
	return &finding{alert: &model.SecurityEvent{
		EventType:   model.EventUnusualBehavior,
		Level:       model.LevelWarning,
		Criticality: model.CriticalityRegular,
		UserID:      candidate.UserID,
		IPAddress:   candidate.IPAddress,
		Message:     MsgSuccessAfterFailure,
		Source:      SourceLabel,
	}}
}

// ruleRecurringUnusualBehavior escalates to a CRITICAL security alert
// once enough UNUSUAL_BEHAVIOR events have accumulated inside the
// recency window. Never blocks.
func ruleRecurringUnusualBehavior(history []*model.SecurityEvent, candidate *model.SecurityEvent, cfg Config, now time.Time) *finding {
	cutoff := now.Add(-cfg.UnusualBehaviorWindow)
	recent := 0
	for _, ev := range history {
		if ev.EventType == model.EventUnusualBehavior && !ev.Timestamp.IsZero() && ev.Timestamp.After(cutoff) {
			recent++
		}
	}
	if recent < cfg.UnusualBehaviorCountThreshold {
		return nil
	}
	return &finding{alert: &model.SecurityEvent{
		EventType:   model.EventSecurity,
		Level:       model.LevelError,
		Criticality: model.CriticalityCritical,
		UserID:      candidate.UserID,
		IPAddress:   candidate.IPAddress,
		Message:     MsgRepeatedUnusual,
		Source:      SourceLabel,
	}}
}
