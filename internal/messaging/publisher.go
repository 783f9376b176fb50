package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 10 * time.Second

// Publisher sends committed order changes to the order events exchange
type Publisher struct {
	conn   *Connection
	logger *logger.Logger
}

func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// PublishOrderEvent publishes e. Events are transient: nothing replays them,
// so the message is not persisted.
func (p *Publisher) PublishOrderEvent(ctx context.Context, e models.OrderEvent) error {
	msg, err := EncodeEvent(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		OrderEventsExchange, // exchange
		string(e.Type),      // routing key (ignored by fanout, kept for tracing)
		false,               // mandatory
		false,               // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}

	p.logger.Debug("event_published", "Published order event", "", map[string]interface{}{
		"event_type":   string(e.Type),
		"order_id":     e.ID(),
		"date":         e.Data.Date,
		"message_size": len(msg.Body),
	})
	return nil
}

// EncodeEvent builds the AMQP message for e
func EncodeEvent(e models.OrderEvent) (amqp091.Publishing, error) {
	if err := e.Validate(); err != nil {
		return amqp091.Publishing{}, fmt.Errorf("refusing to publish invalid event: %w", err)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         string(e.Type),
		Headers:      amqp091.Table{"date": e.Data.Date},
		Body:         body,
	}, nil
}

// Close closes the underlying connection
func (p *Publisher) Close() error {
	return p.conn.Close()
}
