package model

import (
	"context"
	"time"
)

// -------------------- EVENT ENUMS --------------------

// EventType is the closed set of security event categories. Values are
// stored as strings in ClickHouse and on the wire, so they must never be
// renamed once emitted.
type EventType string

const (
	EventAuthSuccess     EventType = "AUTH_SUCCESS"
	EventAuthFailure     EventType = "AUTH_FAILURE"
	EventUserAction      EventType = "USER_ACTION"
	EventUnusualBehavior EventType = "UNUSUAL_BEHAVIOR"
	EventSecurity        EventType = "SECURITY"
)

// Known reports whether t is one of the declared event types.
func (t EventType) Known() bool {
	switch t {
	case EventAuthSuccess, EventAuthFailure, EventUserAction, EventUnusualBehavior, EventSecurity:
		return true
	}
	return false
}

type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

type Criticality string

const (
	CriticalityLow      Criticality = "LOW"
	CriticalityRegular  Criticality = "REGULAR"
	CriticalityCritical Criticality = "CRITICAL"
)

// -------------------- SECURITY EVENT MODEL --------------------

// SecurityEvent is an immutable record of one authentication-related
// occurrence. ID and Timestamp are assigned by the event store on save
// when absent; nothing mutates an event after that.
type SecurityEvent struct {
	ID          string      `json:"id" db:"event_id"`
	Timestamp   time.Time   `json:"timestamp" db:"event_time"`
	EventType   EventType   `json:"event_type" db:"event_type"`
	Level       Level       `json:"level" db:"level"`
	Criticality Criticality `json:"criticality" db:"criticality"`
	UserID      string      `json:"user_id" db:"user_id"`
	IPAddress   string      `json:"ip_address" db:"ip_address"`
	Message     string      `json:"message" db:"message"`
	Source      string      `json:"source" db:"source"`
}

// -------------------- USER MODEL --------------------

type User struct {
	UserID       string    `json:"user_id" db:"user_id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	Banned       bool      `json:"banned" db:"banned"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	LastLoginAt  time.Time `json:"last_login_at" db:"last_login_at"`
	LastLoginIP  string    `json:"last_login_ip" db:"last_login_ip"`
}

// -------------------- COLLABORATOR INTERFACES --------------------

// EventStore is the persistence collaborator for security events. The
// detector treats FindByUserID results as an unordered snapshot and
// sorts defensively.
type EventStore interface {
	Save(ctx context.Context, event *SecurityEvent) (*SecurityEvent, error)
	FindByUserID(ctx context.Context, userID string) ([]*SecurityEvent, error)
	FindByType(ctx context.Context, eventType EventType) ([]*SecurityEvent, error)
	FindByID(ctx context.Context, id string) (*SecurityEvent, error)
	FindAll(ctx context.Context) ([]*SecurityEvent, error)
}

// AlertPublisher delivers derived events to other services. Delivery is
// best effort; implementations must not block longer than the caller's
// context allows.
type AlertPublisher interface {
	Emit(ctx context.Context, event *SecurityEvent) error
}

// EventIndex is the optional secondary search index over events.
type EventIndex interface {
	IndexEvent(ctx context.Context, event *SecurityEvent) error
	SearchEvents(ctx context.Context, query string, limit int) ([]*SecurityEvent, error)
}

// UserRepository defines the interface for user account operations.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUserLastLogin(ctx context.Context, userID, loginIP string) error
	BanUser(ctx context.Context, userID string) error
}

// AttemptCache throttles repeated login attempts at the transport
// boundary. This is rate limiting for the HTTP surface, not one of the
// anomaly detector's rules.
type AttemptCache interface {
	IncrementAttempts(ctx context.Context, key string, window time.Duration) (int, error)
	ResetAttempts(ctx context.Context, key string) error
	SetTemporaryLock(ctx context.Context, key string, ttl time.Duration) error
	IsLocked(ctx context.Context, key string) (bool, error)
}
