package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

// EventHandler processes one decoded order event
type EventHandler func(ctx context.Context, e models.OrderEvent) error

// Consumer receives order events on an exclusive, server-named queue bound to
// the order events exchange. Each hub instance owns one such queue, so every
// instance sees every event; the queue disappears with the connection.
type Consumer struct {
	conn        *Connection
	logger      *logger.Logger
	consumerTag string
	prefetch    int
}

func NewConsumer(conn *Connection, log *logger.Logger, consumerTag string, prefetch int) *Consumer {
	return &Consumer{
		conn:        conn,
		logger:      log,
		consumerTag: consumerTag,
		prefetch:    prefetch,
	}
}

// StartConsuming delivers events to handler until ctx is cancelled. A dropped
// connection is re-established and a fresh queue declared; events published
// meanwhile are lost, which dashboards recover from by re-fetching.
func (c *Consumer) StartConsuming(ctx context.Context, handler EventHandler) error {
	for {
		err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			c.logger.Info("consumer_stopped", "Consumer stopped by context", "", nil)
			return ctx.Err()
		}
		c.logger.Error("consumer_channel_closed", "Message channel closed, attempting to reconnect", "", err, nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, handler EventHandler) error {
	ch, err := c.conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // name, server generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", OrderEventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	msgs, err := ch.Consume(
		q.Name,        // queue
		c.consumerTag, // consumer
		false,         // auto-ack
		true,          // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("consumer_started", fmt.Sprintf("Started consuming from queue %s", q.Name), "", map[string]interface{}{
		"queue":    q.Name,
		"exchange": OrderEventsExchange,
		"consumer": c.consumerTag,
		"prefetch": c.prefetch,
	})

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(c.consumerTag, false); err != nil {
				c.logger.Error("consumer_cancel_failed", "Failed to cancel consumer", "", err, nil)
			}
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.processMessage(ctx, d, handler)
		}
	}
}

// processMessage handles a single delivery. Nothing is requeued: a malformed
// event will stay malformed and the hub gives no delivery guarantee anyway.
func (c *Consumer) processMessage(ctx context.Context, d amqp091.Delivery, handler EventHandler) {
	start := time.Now()

	e, err := DecodeEvent(d.Body)
	if err == nil {
		processingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = handler(processingCtx, e)
		cancel()
	}

	if err != nil {
		c.logger.Error("message_processing_failed", "Failed to process order event", "", err, map[string]interface{}{
			"message_id":   d.MessageId,
			"duration_ms":  time.Since(start).Milliseconds(),
			"delivery_tag": d.DeliveryTag,
		})
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("message_nack_failed", "Failed to nack message", "", nackErr, nil)
		}
		return
	}

	c.logger.Debug("message_processed", "Processed order event", "", map[string]interface{}{
		"event_type":  string(e.Type),
		"order_id":    e.ID(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("message_ack_failed", "Failed to ack message", "", ackErr, nil)
	}
}

// DecodeEvent parses and validates an order event message body
func DecodeEvent(body []byte) (models.OrderEvent, error) {
	var e models.OrderEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return models.OrderEvent{}, fmt.Errorf("failed to parse order event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return models.OrderEvent{}, fmt.Errorf("invalid order event: %w", err)
	}
	return e, nil
}
