package models

import (
	"fmt"
	"time"
)

// EventType names an order change broadcast to dashboards
type EventType string

const (
	EventOrderCreated EventType = "ORDER_CREATED"
	EventOrderUpdated EventType = "ORDER_UPDATED"
	EventOrderDeleted EventType = "ORDER_DELETED"
)

// Valid reports whether t is one of the order event types
func (t EventType) Valid() bool {
	switch t {
	case EventOrderCreated, EventOrderUpdated, EventOrderDeleted:
		return true
	}
	return false
}

// OrderEvent is the body of an order-update frame and of an order_events message.
// Events are transient: nothing stores them.
type OrderEvent struct {
	Type EventType      `json:"type"`
	Data OrderEventData `json:"data"`
}

type OrderEventData struct {
	Order   *Order `json:"order,omitempty"`
	OrderID string `json:"orderId"`
	Date    string `json:"date"`
	// At is the commit time of the change: the order's updatedAt, or the
	// deletion time for ORDER_DELETED
	At time.Time `json:"at"`
}

// NewOrderEvent builds an event for o, tagged with o's business day in loc
func NewOrderEvent(t EventType, o *Order, loc *time.Location) OrderEvent {
	ev := OrderEvent{
		Type: t,
		Data: OrderEventData{
			OrderID: o.ID.String(),
			Date:    BusinessDate(o.CreatedAt, loc),
			At:      o.UpdatedAt,
		},
	}
	if t != EventOrderDeleted {
		ev.Data.Order = o
	}
	return ev
}

// Validate checks an event read off the wire
func (e OrderEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if _, err := ParseBusinessDate(e.Data.Date); err != nil {
		return err
	}
	if e.Data.OrderID == "" && e.Data.Order == nil {
		return fmt.Errorf("event carries neither order nor orderId")
	}
	if e.Type != EventOrderDeleted && e.Data.Order == nil {
		return fmt.Errorf("%s event without order", e.Type)
	}
	return nil
}

// ID returns the affected order id
func (e OrderEvent) ID() string {
	if e.Data.Order != nil {
		return e.Data.Order.ID.String()
	}
	return e.Data.OrderID
}
