package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated        EventType = "order.created"
	EventStatusChanged  EventType = "order.status_changed"
	EventPaymentChanged EventType = "order.payment_changed"
	EventAssigned       EventType = "order.assigned"
)

// Event is published after an order change commits.
type Event struct {
	Type             EventType
	OrderID          string
	UserID           string
	SellerID         string
	Status           Status
	PaymentStatus    PaymentStatus
	DeliveryPersonID string
	At               time.Time
}

// NewEvent builds an event of the given type from the order state.
func NewEvent(typ EventType, o *Order, at time.Time) Event {
	return Event{
		Type:             typ,
		OrderID:          o.ID,
		UserID:           o.UserID,
		SellerID:         o.SellerID,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		DeliveryPersonID: o.DeliveryPersonID,
		At:               at,
	}
}

// Publisher delivers order events to other services.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
