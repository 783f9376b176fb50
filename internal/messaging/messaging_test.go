package messaging

import (
	"testing"
	"time"

	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

func TestEncodeEvent(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	o := &models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD261018-0001",
		Status:      models.StatusPending,
		CreatedAt:   time.Date(2026, 10, 19, 1, 30, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 10, 19, 1, 30, 0, 0, time.UTC),
	}

	msg, err := EncodeEvent(models.NewOrderEvent(models.EventOrderCreated, o, ny))
	if err != nil {
		t.Fatal(err)
	}
	if msg.DeliveryMode != amqp091.Transient || msg.Type != "ORDER_CREATED" || msg.MessageId == "" {
		t.Fatalf("unexpected message properties %+v", msg)
	}
	if msg.Headers["date"] != "2026-10-18" {
		t.Fatalf("date header = %v", msg.Headers["date"])
	}

	e, err := DecodeEvent(msg.Body)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID() != o.ID.String() || e.Data.Order.OrderNumber != o.OrderNumber || !e.Data.At.Equal(o.UpdatedAt) {
		t.Fatalf("decoded %+v", e)
	}
}

func TestEncodeEventRejectsInvalid(t *testing.T) {
	if _, err := EncodeEvent(models.OrderEvent{Type: "ORDER_SHIPPED"}); err == nil {
		t.Fatal("expected invalid event to be refused")
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"delete", `{"type":"ORDER_DELETED","data":{"orderId":"0d9b0c1e-3c57-4a8e-9d7c-3c2a8e2f4b10","date":"2026-10-18"}}`, false},
		{"not json", `ORDER_DELETED`, true},
		{"update without order", `{"type":"ORDER_UPDATED","data":{"orderId":"0d9b0c1e-3c57-4a8e-9d7c-3c2a8e2f4b10","date":"2026-10-18"}}`, true},
		{"bad date", `{"type":"ORDER_DELETED","data":{"orderId":"x","date":"18-10-2026"}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
