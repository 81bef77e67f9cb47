// Package clickhouse persists security events. The `security_events`
// table is partitioned by event_date and bucketed by user so the
// detector's per-user history reads stay narrow.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/bucketing"
	"security-service/internal/client"
	"security-service/internal/encryption"
	"security-service/internal/model"
	"security-service/internal/util"
)

const insertEventQuery = `
	INSERT INTO security_events
		(event_bucket, event_date, event_time, event_id, user_id,
		 event_type, level, criticality, ip_cipher, message, source)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectEventColumns = `
	SELECT event_id, event_time, event_type, level, criticality,
	       user_id, ip_cipher, message, source
	FROM security_events`

// EventStore implements model.EventStore on ClickHouse. Origin
// addresses are envelope-encrypted before they leave the process and
// decrypted on every read.
type EventStore struct {
	client     *client.ClickHouseClient
	buckets    *bucketing.BucketingManager
	encryption *encryption.EncryptionManager
}

func NewEventStore(ch *client.ClickHouseClient, bm *bucketing.BucketingManager, em *encryption.EncryptionManager) *EventStore {
	return &EventStore{
		client:     ch,
		buckets:    bm,
		encryption: em,
	}
}

// Save persists the event, assigning id and timestamp when absent, and
// returns the stored copy. The input event is not mutated.
func (s *EventStore) Save(ctx context.Context, event *model.SecurityEvent) (*model.SecurityEvent, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	ipCipher, err := s.encryptOrigin(ctx, stored.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to protect origin address: %w", err)
	}

	err = s.client.Exec(ctx, insertEventQuery,
		s.buckets.EventBucket(stored.UserID),
		s.buckets.DateBucket(stored.Timestamp),
		stored.Timestamp,
		stored.ID,
		stored.UserID,
		string(stored.EventType),
		string(stored.Level),
		string(stored.Criticality),
		ipCipher,
		stored.Message,
		stored.Source,
	)
	if err != nil {
		util.Error("Failed to save security event",
			zap.String("event_id", stored.ID),
			zap.String("user_id", stored.UserID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save security event: %w", err)
	}

	util.Debug("Security event saved",
		zap.String("event_id", stored.ID),
		zap.String("event_type", string(stored.EventType)))

	return &stored, nil
}

// FindByUserID returns the user's events ordered by event_time. Callers
// that care about ordering still sort defensively.
func (s *EventStore) FindByUserID(ctx context.Context, userID string) ([]*model.SecurityEvent, error) {
	query := selectEventColumns + ` WHERE user_id = ? ORDER BY event_time ASC`
	return s.queryEvents(ctx, query, userID)
}

func (s *EventStore) FindByType(ctx context.Context, eventType model.EventType) ([]*model.SecurityEvent, error) {
	query := selectEventColumns + ` WHERE event_type = ? ORDER BY event_time DESC LIMIT 1000`
	return s.queryEvents(ctx, query, string(eventType))
}

func (s *EventStore) FindAll(ctx context.Context) ([]*model.SecurityEvent, error) {
	query := selectEventColumns + ` ORDER BY event_time DESC LIMIT 1000`
	return s.queryEvents(ctx, query)
}

func (s *EventStore) FindByID(ctx context.Context, id string) (*model.SecurityEvent, error) {
	query := selectEventColumns + ` WHERE event_id = ? LIMIT 1`
	events, err := s.queryEvents(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	return events[0], nil
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*model.SecurityEvent, error) {
	rows, err := s.client.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	var events []*model.SecurityEvent
	for rows.Next() {
		var (
			ev        model.SecurityEvent
			eventType string
			level     string
			crit      string
			ipCipher  string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &eventType, &level, &crit,
			&ev.UserID, &ipCipher, &ev.Message, &ev.Source); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		ev.EventType = model.EventType(eventType)
		ev.Level = model.Level(level)
		ev.Criticality = model.Criticality(crit)

		ip, err := s.decryptOrigin(ctx, ipCipher)
		if err != nil {
			// A row we cannot decrypt is still a row; surface it with
			// the origin blanked rather than dropping history the
			// detector depends on.
			util.Error("Failed to decrypt origin address",
				zap.String("event_id", ev.ID),
				zap.Error(err))
			ip = ""
		}
		ev.IPAddress = ip

		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading security events: %w", err)
	}
	return events, nil
}

func (s *EventStore) encryptOrigin(ctx context.Context, ip string) (string, error) {
	if ip == "" {
		return "", nil
	}
	envelope, err := s.encryption.EncryptField(ctx, ip)
	if err != nil {
		return "", err
	}
	return envelope.Marshal()
}

func (s *EventStore) decryptOrigin(ctx context.Context, cipherText string) (string, error) {
	if cipherText == "" {
		return "", nil
	}
	envelope, err := encryption.UnmarshalEncryptedData(cipherText)
	if err != nil {
		return "", err
	}
	return s.encryption.DecryptField(ctx, envelope)
}
