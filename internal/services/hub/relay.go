package hub

import (
	"context"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/models"
)

// EventSource delivers order events until ctx ends; *messaging.Consumer is one
type EventSource interface {
	StartConsuming(ctx context.Context, handler messaging.EventHandler) error
}

// Relay feeds order events from the bus into the registry
type Relay struct {
	source   EventSource
	registry *Registry
	logger   *logger.Logger
}

func NewRelay(source EventSource, registry *Registry, log *logger.Logger) *Relay {
	return &Relay{
		source:   source,
		registry: registry,
		logger:   log,
	}
}

// Run blocks until ctx is cancelled or the source fails
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("service_started", "Order event relay started", "", nil)
	err := r.source.StartConsuming(ctx, r.handleEvent)
	if ctx.Err() != nil {
		r.logger.Info("graceful_shutdown", "Order event relay stopped", "", nil)
		return nil
	}
	return err
}

func (r *Relay) handleEvent(ctx context.Context, e models.OrderEvent) error {
	n, err := r.registry.Publish(e)
	if err != nil {
		return err
	}
	r.logger.Debug("event_broadcast", "Order event broadcast", "", map[string]interface{}{
		"event_type": string(e.Type),
		"order_id":   e.ID(),
		"date":       e.Data.Date,
		"recipients": n,
	})
	return nil
}
