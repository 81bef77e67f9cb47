package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/config"
	"security-service/internal/detector"
	"security-service/internal/model"
)

// fakeStore is an in-memory EventStore with per-call error injection.
type fakeStore struct {
	mu      sync.Mutex
	events  []*model.SecurityEvent
	findErr error
	saveErr error
}

func (s *fakeStore) Save(_ context.Context, event *model.SecurityEvent) (*model.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	saved := *event
	if saved.ID == "" {
		saved.ID = uuid.New().String()
	}
	if saved.Timestamp.IsZero() {
		saved.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, &saved)
	return &saved, nil
}

func (s *fakeStore) FindByUserID(_ context.Context, userID string) ([]*model.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []*model.SecurityEvent
	for _, ev := range s.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByType(_ context.Context, eventType model.EventType) ([]*model.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SecurityEvent
	for _, ev := range s.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*model.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, fmt.Errorf("event not found: %s", id)
}

func (s *fakeStore) FindAll(_ context.Context) ([]*model.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.SecurityEvent(nil), s.events...), nil
}

func (s *fakeStore) byType(eventType model.EventType) []*model.SecurityEvent {
	out, _ := s.FindByType(context.Background(), eventType)
	return out
}

// capturePublisher records every emitted event.
type capturePublisher struct {
	mu      sync.Mutex
	emitted []*model.SecurityEvent
}

func (p *capturePublisher) Emit(_ context.Context, event *model.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitted = append(p.emitted, event)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.emitted)
}

// failingPublisher rejects every emit, standing in for a broker outage.
type failingPublisher struct {
	mu       sync.Mutex
	attempts int
}

func (p *failingPublisher) Emit(_ context.Context, _ *model.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return errors.New("broker unreachable")
}

func (p *failingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		MaxDistinctOrigins:            3,
		UnusualBehaviorWindowDays:     1,
		UnusualBehaviorCountThreshold: 3,
		FailOpen:                      true,
		FetchTimeout:                  time.Second,
	}
}

func seed(t *testing.T, store *fakeStore, userID string, types ...model.EventType) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, et := range types {
		_, err := store.Save(context.Background(), &model.SecurityEvent{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			EventType: et,
			UserID:    userID,
			IPAddress: "192.168.1.10",
		})
		require.NoError(t, err)
	}
}

func TestSecureRequiresEvent(t *testing.T) {
	svc := NewSecurityService(&fakeStore{}, &capturePublisher{}, nil, testSecurityConfig())

	err := svc.Secure(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEventRequired)
}

func TestSecureAllowsCleanHistory(t *testing.T) {
	store := &fakeStore{}
	svc := NewSecurityService(store, &capturePublisher{}, nil, testSecurityConfig())
	seed(t, store, "alice", model.EventAuthSuccess, model.EventAuthSuccess)

	err := svc.Secure(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthSuccess,
		UserID:    "alice",
		IPAddress: "192.168.1.10",
	})
	assert.NoError(t, err)
}

func TestSecureBlocksExhaustedFailures(t *testing.T) {
	store := &fakeStore{}
	svc := NewSecurityService(store, &capturePublisher{}, nil, testSecurityConfig())
	seed(t, store, "alice", model.EventAuthFailure, model.EventAuthFailure)

	err := svc.Secure(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthFailure,
		UserID:    "alice",
		IPAddress: "192.168.1.10",
	})

	var violation *BlockingViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, detector.ReasonMaxFailedLogins, violation.Reason)
}

func TestSecurePersistsAndPublishesDerivedAlerts(t *testing.T) {
	store := &fakeStore{}
	pub := &capturePublisher{}
	svc := NewSecurityService(store, pub, nil, testSecurityConfig())
	seed(t, store, "alice", model.EventAuthFailure, model.EventAuthSuccess)

	err := svc.Secure(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthSuccess,
		UserID:    "alice",
		IPAddress: "192.168.1.10",
	})
	require.NoError(t, err)

	unusual := store.byType(model.EventUnusualBehavior)
	require.Len(t, unusual, 1)
	assert.Equal(t, detector.MsgSuccessAfterFailure, unusual[0].Message)
	assert.Equal(t, detector.SourceLabel, unusual[0].Source)
	assert.Equal(t, 1, pub.count())
}

func TestSecureSwallowsPublishFailures(t *testing.T) {
	store := &fakeStore{}
	pub := &failingPublisher{}
	svc := NewSecurityService(store, pub, nil, testSecurityConfig())
	seed(t, store, "alice", model.EventAuthFailure, model.EventAuthSuccess)

	err := svc.Secure(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthSuccess,
		UserID:    "alice",
		IPAddress: "192.168.1.10",
	})
	require.NoError(t, err, "a failing publisher must not block the action")

	// The derived alert is still persisted even though every emit failed.
	require.Len(t, store.byType(model.EventUnusualBehavior), 1)
	assert.Equal(t, 1, pub.count())
}

func TestLogEventSucceedsWhenPublishFails(t *testing.T) {
	store := &fakeStore{}
	svc := NewSecurityService(store, &failingPublisher{}, nil, testSecurityConfig())

	saved, err := svc.LogEvent(context.Background(), &model.SecurityEvent{
		EventType: model.EventUserAction,
		UserID:    "alice",
		Message:   "user registered",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
}

func TestSecureFailOpenAllowsOnStoreError(t *testing.T) {
	store := &fakeStore{findErr: errors.New("clickhouse down")}
	cfg := testSecurityConfig()
	cfg.FailOpen = true
	svc := NewSecurityService(store, &capturePublisher{}, nil, cfg)

	err := svc.Secure(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthSuccess,
		UserID:    "alice",
	})
	assert.NoError(t, err)
}

func TestSecureFailClosedRefusesOnStoreError(t *testing.T) {
	store := &fakeStore{findErr: errors.New("clickhouse down")}
	cfg := testSecurityConfig()
	cfg.FailOpen = false
	svc := NewSecurityService(store, &capturePublisher{}, nil, cfg)

	err := svc.Secure(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthSuccess,
		UserID:    "alice",
	})

	var violation *BlockingViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "event history unavailable", violation.Reason)
}

func TestLogEventSavesAndPublishes(t *testing.T) {
	store := &fakeStore{}
	pub := &capturePublisher{}
	svc := NewSecurityService(store, pub, nil, testSecurityConfig())

	saved, err := svc.LogEvent(context.Background(), &model.SecurityEvent{
		EventType: model.EventUserAction,
		UserID:    "alice",
		Message:   "user registered",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.Timestamp.IsZero())
	assert.Equal(t, 1, pub.count())
}

func TestLogEventRejectsUnknownType(t *testing.T) {
	svc := NewSecurityService(&fakeStore{}, &capturePublisher{}, nil, testSecurityConfig())

	_, err := svc.LogEvent(context.Background(), &model.SecurityEvent{
		EventType: "BOGUS",
		UserID:    "alice",
	})
	assert.Error(t, err)
}

func TestIngestRecordsEventEvenWhenBlocked(t *testing.T) {
	store := &fakeStore{}
	svc := NewSecurityService(store, &capturePublisher{}, nil, testSecurityConfig())
	seed(t, store, "alice", model.EventAuthFailure)

	err := svc.Ingest(context.Background(), &model.SecurityEvent{
		EventType: model.EventAuthFailure,
		UserID:    "alice",
		IPAddress: "192.168.1.10",
	})

	var violation *BlockingViolation
	require.ErrorAs(t, err, &violation)

	// Blocked or not, the attempt itself lands in the store.
	failures := store.byType(model.EventAuthFailure)
	assert.Len(t, failures, 2)
}

func TestSearchEventsWithoutIndex(t *testing.T) {
	svc := NewSecurityService(&fakeStore{}, &capturePublisher{}, nil, testSecurityConfig())

	_, err := svc.SearchEvents(context.Background(), "anything", 10)
	assert.Error(t, err)
}
