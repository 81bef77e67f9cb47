// Package es maintains the secondary full-text index over security
// events. Index writes are best effort; ClickHouse remains the source
// of truth.
package es

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/model"
	"security-service/internal/util"
)

type EventIndex struct {
	client *client.ESClient
	index  string
}

func NewEventIndex(es *client.ESClient, index string) *EventIndex {
	return &EventIndex{client: es, index: index}
}

// IndexEvent stores the event document. Origin addresses are not
// indexed; they are only held encrypted in ClickHouse.
func (i *EventIndex) IndexEvent(ctx context.Context, event *model.SecurityEvent) error {
	doc := map[string]interface{}{
		"event_id":    event.ID,
		"timestamp":   event.Timestamp,
		"event_type":  string(event.EventType),
		"level":       string(event.Level),
		"criticality": string(event.Criticality),
		"user_id":     event.UserID,
		"message":     event.Message,
		"source":      event.Source,
	}

	if err := i.client.Index(ctx, i.index, event.ID, doc); err != nil {
		return fmt.Errorf("failed to index event %s: %w", event.ID, err)
	}
	util.Debug("Event indexed", zap.String("event_id", event.ID))
	return nil
}

// SearchEvents runs a full-text match over message and user_id.
func (i *EventIndex) SearchEvents(ctx context.Context, query string, limit int) ([]*model.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	esQuery := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"message", "user_id", "event_type"},
			},
		},
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	res, err := i.client.Search(ctx, i.index, esQuery)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("event search failed: %s", res.String())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source eventDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	events := make([]*model.SecurityEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		events = append(events, hit.Source.toModel())
	}
	return events, nil
}

type eventDoc struct {
	EventID     string `json:"event_id"`
	Timestamp   string `json:"timestamp"`
	EventType   string `json:"event_type"`
	Level       string `json:"level"`
	Criticality string `json:"criticality"`
	UserID      string `json:"user_id"`
	Message     string `json:"message"`
	Source      string `json:"source"`
}

func (d eventDoc) toModel() *model.SecurityEvent {
	ev := &model.SecurityEvent{
		ID:          d.EventID,
		EventType:   model.EventType(d.EventType),
		Level:       model.Level(d.Level),
		Criticality: model.Criticality(d.Criticality),
		UserID:      d.UserID,
		Message:     d.Message,
		Source:      d.Source,
	}
	if ts, err := parseTimestamp(d.Timestamp); err == nil {
		ev.Timestamp = ts
	}
	return ev
}
