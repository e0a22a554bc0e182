// Package notify publishes fire-and-forget domain events after state changes.
// A failed notification is logged and never undoes the write that caused it.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -source=notifier.go -destination=notifier_mock.go -package=notify

// Event types.
const (
	EventLedgerEntryCreated   = "ledger.entry.created"
	EventLedgerEntryProcessed = "ledger.entry.processed"
	EventLedgerEntryProvision = "ledger.entry.provisioned"
	EventInvoiceCreated       = "invoice.created"
	EventInvoiceUpdated       = "invoice.updated"
	EventInvoiceStatusChanged = "invoice.status_changed"
	EventOrderCreated         = "order.created"
	EventReconcileBreach      = "reconcile.breach"
)

// Event is one notification.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Entity     string         `json:"entity"`
	EntityID   int64          `json:"entityId"`
	ActorID    int64          `json:"actorId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and time.
func NewEvent(eventType, entity string, entityID, actorID int64, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Entity:     entity,
		EntityID:   entityID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes an event produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Dispatch sends event and logs any failure. It never returns an error.
func Dispatch(ctx context.Context, logger *slog.Logger, n Notifier, event Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, event); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("notification failed",
			slog.String("event", event.Type),
			slog.String("entity", event.Entity),
			slog.Int64("entity_id", event.EntityID),
			slog.Any("error", err))
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		slog.String("id", event.ID),
		slog.String("type", event.Type),
		slog.String("entity", event.Entity),
		slog.Int64("entity_id", event.EntityID))
	return nil
}
