package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/model"
	"security-service/internal/util"
)

// EventSink receives auth events pulled off the wire. Implemented by
// the security service.
type EventSink interface {
	Ingest(ctx context.Context, event *model.SecurityEvent) error
}

// AuthEventConsumer drains the auth-events topic produced by the other
// platform services and feeds each event through the sink. Malformed
// messages are logged and skipped so one bad producer cannot stall the
// partition.
type AuthEventConsumer struct {
	consumer *client.KafkaConsumer
	sink     EventSink
}

func NewAuthEventConsumer(consumer *client.KafkaConsumer, sink EventSink) *AuthEventConsumer {
	return &AuthEventConsumer{consumer: consumer, sink: sink}
}

// Run blocks reading messages until ctx is cancelled. It returns nil on
// cancellation and the read error otherwise.
func (c *AuthEventConsumer) Run(ctx context.Context) error {
	util.Info("Auth event consumer started")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				util.Info("Auth event consumer stopped")
				return nil
			}
			util.Error("Failed to read auth event", zap.Error(err))
			return err
		}

		var event model.SecurityEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			util.Warn("Skipping malformed auth event",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		if !event.EventType.Known() {
			util.Warn("Skipping auth event with unknown type",
				zap.String("event_type", string(event.EventType)),
				zap.Int64("offset", msg.Offset))
			continue
		}

		if err := c.sink.Ingest(ctx, &event); err != nil {
			// Blocking verdicts and store failures are already logged
			// downstream; the consumer keeps draining either way.
			util.Debug("Auth event ingest returned error",
				zap.String("user_id", event.UserID),
				zap.Error(err))
		}
	}
}
