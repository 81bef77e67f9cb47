// Package messaging moves security events over Kafka: an alert
// publisher for events this service derives, and a consumer for auth
// events produced elsewhere on the platform.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/model"
	"security-service/internal/util"
)

// EventPublisher implements model.AlertPublisher over Kafka. Writes go
// through an async writer, so Emit does not wait for broker acks;
// delivery failures are logged by the writer's completion callback.
// There is no deduplication: repeated rule firings produce repeated
// alerts.
type EventPublisher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewEventPublisher(producer *client.KafkaProducer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

// Emit publishes one derived event keyed by user id. The returned error
// only covers local failures (marshalling, closed writer); callers on
// the detection path swallow it either way.
func (p *EventPublisher) Emit(ctx context.Context, event *model.SecurityEvent) error {
	if event == nil {
		return fmt.Errorf("cannot emit nil event")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.producer.WriteMessage(ctx, p.topic, []byte(event.UserID), payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	util.Debug("Event published",
		zap.String("topic", p.topic),
		zap.String("event_type", string(event.EventType)),
		zap.String("user_id", event.UserID))
	return nil
}

// NoopPublisher stands in when Kafka is unavailable. Detection and
// storage keep working; derived events just stay local.
type NoopPublisher struct{}

func (NoopPublisher) Emit(_ context.Context, event *model.SecurityEvent) error {
	util.Debug("Event publish skipped - no broker configured",
		zap.String("event_type", string(event.EventType)))
	return nil
}
