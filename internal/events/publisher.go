package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/models"
)

type EventType string

const (
	EventTypeProductAdded   EventType = "CATALOG_PRODUCT_ADDED"
	EventTypeProductRemoved EventType = "CATALOG_PRODUCT_REMOVED"
	EventTypePriceChanged   EventType = "CATALOG_PRICE_CHANGED"
)

// TypeOf maps a change kind to its event type.
func TypeOf(kind models.ChangeKind) (EventType, bool) {
	switch kind {
	case models.ChangeNew:
		return EventTypeProductAdded, true
	case models.ChangeRemoved:
		return EventTypeProductRemoved, true
	case models.ChangePriceChanged:
		return EventTypePriceChanged, true
	}
	return "", false
}

// ChangePayload is the body of a catalog change event.
type ChangePayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Detail    string    `json:"detail"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Source    string    `json:"source"`
}

// OutboxWriter inserts events into the outbox within a transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher turns change records into outbox events.
type Publisher struct {
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

var _ database.ChangePublisher = (*Publisher)(nil)

func NewPublisher(outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishChangesWithTx writes one event per change inside tx.
func (p *Publisher) PublishChangesWithTx(ctx context.Context, tx pgx.Tx, runID string, changes []models.Change) error {
	for _, c := range changes {
		event, err := p.outboxEvent(runID, c)
		if err != nil {
			return err
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event for %q: %w", c.Name, err)
		}
	}

	p.logger.Debug("change events written to outbox", "run_id", runID, "count", len(changes))
	return nil
}

func (p *Publisher) outboxEvent(runID string, c models.Change) (*database.OutboxEvent, error) {
	eventType, ok := TypeOf(c.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown change kind %q", c.Kind)
	}

	payload := ChangePayload{
		EventID:   uuid.New().String(),
		EventType: string(eventType),
		Timestamp: c.Timestamp,
		RunID:     runID,
		Kind:      string(c.Kind),
		Name:      c.Name,
		Detail:    c.Detail,
		OldValue:  c.OldValue,
		NewValue:  c.NewValue,
		Source:    "catalog-sync",
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: "product",
		AggregateID:   c.Name,
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  p.stream,
	}, nil
}
