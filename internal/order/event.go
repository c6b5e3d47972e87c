package order

import (
	"context"
	"time"
)

type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
	EventUpdated       EventType = "order.updated"
	EventDeleted       EventType = "order.deleted"
)

// Event describes one lifecycle change of an order.
type Event struct {
	Type           EventType `json:"type"`
	OrderID        string    `json:"orderId"`
	TrackingNumber string    `json:"trackingNumber"`
	Status         string    `json:"status"`
	Location       string    `json:"location,omitempty"`
	Description    string    `json:"description,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier receives lifecycle events after the change has been persisted.
// Implementations must not block the caller for long.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) {}

// MultiNotifier fans an event out to every wrapped notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, event Event) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, event)
		}
	}
}
