// Package service wires the detector, stores and messaging into the
// operations the handlers and the consumer call.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-service/internal/config"
	"security-service/internal/detector"
	"security-service/internal/model"
	"security-service/internal/util"
)

// sourceLabel tags every event this service originates.
const sourceLabel = detector.SourceLabel

var ErrEventRequired = errors.New("security event is required")

// BlockingViolation is returned by Secure when a blocking rule fired.
// The reason is for logs and telemetry only; outward-facing surfaces
// must answer with a generic failure instead.
type BlockingViolation struct {
	Reason string
}

func (v *BlockingViolation) Error() string {
	return fmt.Sprintf("action blocked: %s", v.Reason)
}

// SecurityService runs candidate events through the anomaly detector
// and owns the event persistence pipeline. The search index is
// optional; a nil index disables indexing and search.
type SecurityService struct {
	store     model.EventStore
	publisher model.AlertPublisher
	index     model.EventIndex
	detector  *detector.Detector

	failOpen     bool
	fetchTimeout time.Duration
}

func NewSecurityService(
	store model.EventStore,
	publisher model.AlertPublisher,
	index model.EventIndex,
	cfg config.SecurityConfig,
) *SecurityService {
	det := detector.New(detector.Config{
		MaxDistinctOrigins:            cfg.MaxDistinctOrigins,
		UnusualBehaviorWindow:         time.Duration(cfg.UnusualBehaviorWindowDays) * 24 * time.Hour,
		UnusualBehaviorCountThreshold: cfg.UnusualBehaviorCountThreshold,
	})

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}

	return &SecurityService{
		store:        store,
		publisher:    publisher,
		index:        index,
		detector:     det,
		failOpen:     cfg.FailOpen,
		fetchTimeout: fetchTimeout,
	}
}

// Secure evaluates a candidate event against the user's stored history.
// It returns nil when the action may proceed and *BlockingViolation when
// a blocking rule fired. Derived alerts are persisted and published
// best-effort regardless of the verdict.
//
// History fetch failures follow the fail-open setting: allow the action
// with a loud log, or refuse it.
func (s *SecurityService) Secure(ctx context.Context, event *model.SecurityEvent) error {
	if event == nil {
		return ErrEventRequired
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	history, err := s.store.FindByUserID(fetchCtx, event.UserID)
	if err != nil {
		if s.failOpen {
			util.Error("Event history unavailable, allowing action (fail-open)",
				zap.String("user_id", event.UserID),
				zap.Error(err))
			return nil
		}
		util.Error("Event history unavailable, refusing action (fail-closed)",
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return &BlockingViolation{Reason: "event history unavailable"}
	}

	outcome := s.detector.Evaluate(history, event)

	// Alerts are persisted too: the recurrence rule counts prior
	// UNUSUAL_BEHAVIOR events out of the same store.
	for _, alert := range outcome.Alerts {
		s.dispatchAlert(ctx, alert)
	}

	if outcome.Blocked {
		util.Warn("Action blocked by security rule",
			zap.String("user_id", event.UserID),
			zap.String("ip_address", event.IPAddress),
			zap.String("reason", outcome.Reason))
		return &BlockingViolation{Reason: outcome.Reason}
	}
	return nil
}

// LogEvent persists the event, then publishes and indexes it. The save
// is authoritative; publish and index failures are logged and dropped.
func (s *SecurityService) LogEvent(ctx context.Context, event *model.SecurityEvent) (*model.SecurityEvent, error) {
	if event == nil {
		return nil, ErrEventRequired
	}
	if event.EventType != "" && !event.EventType.Known() {
		return nil, fmt.Errorf("unknown event type: %s", event.EventType)
	}

	saved, err := s.store.Save(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to save event: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.publisher.Emit(gctx, saved); err != nil {
			util.Warn("Failed to publish event",
				zap.String("event_id", saved.ID), zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if s.index == nil {
			return nil
		}
		if err := s.index.IndexEvent(gctx, saved); err != nil {
			util.Warn("Failed to index event",
				zap.String("event_id", saved.ID), zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()

	return saved, nil
}

// Ingest is the consumer entry point: evaluate the event, then record
// it. The event is recorded even when blocked; the verdict applies to
// the action, not to the fact that it was attempted.
func (s *SecurityService) Ingest(ctx context.Context, event *model.SecurityEvent) error {
	verdict := s.Secure(ctx, event)

	if _, err := s.LogEvent(ctx, event); err != nil {
		util.Error("Failed to record ingested event",
			zap.String("user_id", event.UserID), zap.Error(err))
		return err
	}
	return verdict
}

// dispatchAlert records and publishes one derived event. Failures never
// propagate to the caller's verdict.
func (s *SecurityService) dispatchAlert(ctx context.Context, alert *model.SecurityEvent) {
	saved, err := s.store.Save(ctx, alert)
	if err != nil {
		util.Warn("Failed to save derived alert",
			zap.String("event_type", string(alert.EventType)),
			zap.String("user_id", alert.UserID),
			zap.Error(err))
		saved = alert
	}
	if err := s.publisher.Emit(ctx, saved); err != nil {
		util.Warn("Failed to publish derived alert",
			zap.String("event_type", string(saved.EventType)),
			zap.String("user_id", saved.UserID),
			zap.Error(err))
	}
	if s.index != nil {
		if err := s.index.IndexEvent(ctx, saved); err != nil {
			util.Warn("Failed to index derived alert",
				zap.String("event_type", string(saved.EventType)),
				zap.Error(err))
		}
	}
}

func (s *SecurityService) FindByID(ctx context.Context, id string) (*model.SecurityEvent, error) {
	return s.store.FindByID(ctx, id)
}

func (s *SecurityService) FindByUserID(ctx context.Context, userID string) ([]*model.SecurityEvent, error) {
	return s.store.FindByUserID(ctx, userID)
}

func (s *SecurityService) FindByType(ctx context.Context, eventType model.EventType) ([]*model.SecurityEvent, error) {
	if !eventType.Known() {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	return s.store.FindByType(ctx, eventType)
}

func (s *SecurityService) FindAll(ctx context.Context) ([]*model.SecurityEvent, error) {
	return s.store.FindAll(ctx)
}

// SearchEvents queries the secondary index. Returns an error when the
// service runs without one.
func (s *SecurityService) SearchEvents(ctx context.Context, query string, limit int) ([]*model.SecurityEvent, error) {
	if s.index == nil {
		return nil, errors.New("event search is not configured")
	}
	return s.index.SearchEvents(ctx, query, limit)
}
