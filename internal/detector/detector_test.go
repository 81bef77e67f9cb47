package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func event(t model.EventType, offset time.Duration, ip string) *model.SecurityEvent {
	return &model.SecurityEvent{
		EventType:   t,
		Timestamp:   baseTime.Add(offset),
		Level:       model.LevelInfo,
		Criticality: model.CriticalityRegular,
		UserID:      "user-1",
		IPAddress:   ip,
		Source:      SourceLabel,
	}
}

func newTestDetector(cfg Config) *Detector {
	d := New(cfg)
	d.now = func() time.Time { return baseTime.Add(time.Hour) }
	return d
}

func TestThreeSuccessesThenFailureBlocks(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthFailure, 4*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	require.True(t, out.Blocked)
	assert.Contains(t, out.Reason, ReasonUnusualLoginPattern)
	assert.Empty(t, out.Alerts)
}

func TestSuccessRunRequiresFailureCandidate(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthSuccess, 4*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
}

func TestAllFailuresBlocksNextFailure(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthFailure, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthFailure, 2*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthFailure, 3*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	require.True(t, out.Blocked)
	assert.Contains(t, out.Reason, ReasonMaxFailedLogins)
}

func TestMixedHistoryDoesNotExhaust(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthFailure, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthFailure, 3*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
}

func TestOriginFanOutBlocksAboveThreshold(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.2"),
		event(model.EventAuthFailure, 3*time.Minute, "10.0.0.3"),
		event(model.EventAuthSuccess, 4*time.Minute, "10.0.0.4"),
	}
	candidate := event(model.EventAuthSuccess, 5*time.Minute, "10.0.0.5")

	out := d.Evaluate(history, candidate)
	require.True(t, out.Blocked)
	assert.Contains(t, out.Reason, ReasonUnusualIPPattern)
}

func TestOriginFanOutAtThresholdAllows(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.2"),
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.3"),
	}
	candidate := event(model.EventAuthSuccess, 4*time.Minute, "10.0.0.3")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
}

func TestOriginFanOutIgnoresBlankOrigins(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	// Three known origins plus a row whose origin was blanked: still at
	// the threshold, not over it.
	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.2"),
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.3"),
		event(model.EventAuthSuccess, 4*time.Minute, ""),
	}
	candidate := event(model.EventAuthSuccess, 5*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
}

func TestNilCandidateYieldsEmptyOutcome(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthFailure, 1*time.Minute, "10.0.0.1"),
	}

	out := d.Evaluate(history, nil)
	assert.False(t, out.Blocked)
	assert.Empty(t, out.Alerts)
}

func TestEmptyHistoryAllowsWithoutAlerts(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	out := d.Evaluate(nil, event(model.EventAuthFailure, 0, "10.0.0.1"))
	assert.False(t, out.Blocked)
	assert.Empty(t, out.Alerts)
}

func TestSuccessAfterFailureEmitsAlert(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthFailure, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.9")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
	require.Len(t, out.Alerts, 1)

	alert := out.Alerts[0]
	assert.Equal(t, model.EventUnusualBehavior, alert.EventType)
	assert.Equal(t, model.LevelWarning, alert.Level)
	assert.Contains(t, alert.Message, MsgSuccessAfterFailure)
	assert.Equal(t, candidate.UserID, alert.UserID)
	assert.Equal(t, candidate.IPAddress, alert.IPAddress)
}

func TestRepeatedUnusualBehaviorEscalates(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventUnusualBehavior, 10*time.Minute, "10.0.0.1"),
		event(model.EventUnusualBehavior, 20*time.Minute, "10.0.0.1"),
		event(model.EventUnusualBehavior, 30*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthSuccess, 40*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
	require.Len(t, out.Alerts, 1)

	alert := out.Alerts[0]
	assert.Equal(t, model.EventSecurity, alert.EventType)
	assert.Equal(t, model.CriticalityCritical, alert.Criticality)
	assert.Equal(t, model.LevelError, alert.Level)
	assert.Contains(t, alert.Message, MsgRepeatedUnusual)
}

func TestStaleUnusualBehaviorOutsideWindowIgnored(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventUnusualBehavior, -48*time.Hour, "10.0.0.1"),
		event(model.EventUnusualBehavior, -36*time.Hour, "10.0.0.1"),
		event(model.EventUnusualBehavior, -30*time.Hour, "10.0.0.1"),
	}
	candidate := event(model.EventAuthSuccess, 0, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	assert.Empty(t, out.Alerts)
}

func TestBothAlertRulesFireInOneCall(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventUnusualBehavior, 1*time.Minute, "10.0.0.1"),
		event(model.EventUnusualBehavior, 2*time.Minute, "10.0.0.1"),
		event(model.EventUnusualBehavior, 3*time.Minute, "10.0.0.1"),
		event(model.EventAuthFailure, 4*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 5*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthSuccess, 6*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	assert.False(t, out.Blocked)
	require.Len(t, out.Alerts, 2)
}

func TestHistoryOrderDoesNotMatter(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	// Shuffled arrival order; timestamps say the three successes are the
	// most recent events.
	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 5*time.Minute, "10.0.0.1"),
		event(model.EventAuthFailure, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 4*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.1"),
	}
	candidate := event(model.EventAuthFailure, 6*time.Minute, "10.0.0.1")

	out := d.Evaluate(history, candidate)
	require.True(t, out.Blocked)
	assert.Contains(t, out.Reason, ReasonUnusualLoginPattern)
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	d := newTestDetector(DefaultConfig())

	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.1"),
		event(model.EventAuthFailure, 1*time.Minute, "10.0.0.1"),
	}
	first := history[0]

	d.Evaluate(history, event(model.EventAuthSuccess, 4*time.Minute, "10.0.0.1"))
	assert.Same(t, first, history[0])
}

func TestMoreSpecificBlockWins(t *testing.T) {
	// History triggers both the success-run rule and the fan-out rule;
	// the success-run reason must win.
	d := newTestDetector(Config{MaxDistinctOrigins: 2})

	history := []*model.SecurityEvent{
		event(model.EventAuthSuccess, 1*time.Minute, "10.0.0.1"),
		event(model.EventAuthSuccess, 2*time.Minute, "10.0.0.2"),
		event(model.EventAuthSuccess, 3*time.Minute, "10.0.0.3"),
	}
	candidate := event(model.EventAuthFailure, 4*time.Minute, "10.0.0.4")

	out := d.Evaluate(history, candidate)
	require.True(t, out.Blocked)
	assert.Equal(t, ReasonUnusualLoginPattern, out.Reason)
}
