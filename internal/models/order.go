package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// money travels as JSON numbers, not strings
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderStatus represents the kitchen-facing status of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusCompleted OrderStatus = "COMPLETED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus represents whether an order has been paid
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// DefaultOrderSource is recorded when the payload does not name one
const DefaultOrderSource = "ONLINE"

// Order is the persisted order aggregate
type Order struct {
	ID            uuid.UUID       `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	Phone         string          `json:"phone"`
	Name          string          `json:"name"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	ServiceFee    decimal.Decimal `json:"serviceFee"`
	Total         decimal.Decimal `json:"total"`
	OrderSource   string          `json:"orderSource"`
	CustomerNote  *string         `json:"customerNote,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Items         []OrderItem     `json:"items"`
}

// OrderItem is one line of an order; name, image, category and prices are
// snapshots of the catalog at creation time
type OrderItem struct {
	ID                  uuid.UUID         `json:"id"`
	OrderID             uuid.UUID         `json:"orderId"`
	MenuItemID          *uuid.UUID        `json:"menuItemId,omitempty"`
	NameSnapshot        string            `json:"nameSnapshot"`
	ImageURLSnapshot    string            `json:"imageUrlSnapshot"`
	CategorySnapshot    string            `json:"categorySnapshot"`
	Quantity            int               `json:"quantity"`
	UnitPrice           decimal.Decimal   `json:"unitPrice"`
	FinalPrice          decimal.Decimal   `json:"finalPrice"`
	SpecialInstructions string            `json:"specialInstructions,omitempty"`
	Options             []OrderItemOption `json:"options"`
}

// OrderItemOption is a selected option snapshot
type OrderItemOption struct {
	ID                 uuid.UUID       `json:"id"`
	OrderItemID        uuid.UUID       `json:"orderItemId"`
	MenuOptionID       *uuid.UUID      `json:"menuOptionId,omitempty"`
	OptionNameSnapshot string          `json:"optionNameSnapshot"`
	GroupNameSnapshot  string          `json:"groupNameSnapshot"`
	PriceDelta         decimal.Decimal `json:"priceDelta"`
	Quantity           int             `json:"quantity"`
}

// OrderStatusHistory represents an entry in the order status log
type OrderStatusHistory struct {
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	ChangedBy     string        `json:"changedBy"`
	ChangedAt     time.Time     `json:"changedAt"`
	Notes         *string       `json:"notes,omitempty"`
}

// CreateOrderRequest is the wire shape of the order creation API. It is
// loosely typed and must go through validation before use.
type CreateOrderRequest struct {
	Phone        string                   `json:"phone"`
	Name         string                   `json:"name"`
	Items        []CreateOrderItemRequest `json:"items"`
	Subtotal     decimal.Decimal          `json:"subtotal"`
	TaxAmount    decimal.Decimal          `json:"taxAmount"`
	ServiceFee   decimal.Decimal          `json:"serviceFee"`
	Total        decimal.Decimal          `json:"total"`
	CustomerNote *string                  `json:"customerNote,omitempty"`
	OrderSource  string                   `json:"orderSource,omitempty"`
}

type CreateOrderItemRequest struct {
	MenuItemID          string                     `json:"menuItemId"`
	Quantity            int                        `json:"quantity"`
	UnitPrice           decimal.Decimal            `json:"unitPrice"`
	FinalPrice          decimal.Decimal            `json:"finalPrice"`
	SpecialInstructions string                     `json:"specialInstructions,omitempty"`
	Options             []CreateOrderOptionRequest `json:"options"`
}

type CreateOrderOptionRequest struct {
	MenuOptionID string          `json:"menuOptionId"`
	Quantity     int             `json:"quantity"`
	PriceDelta   decimal.Decimal `json:"priceDelta"`
}

// CreateOrderCommand is a validated, fully typed order creation request
type CreateOrderCommand struct {
	Phone        string
	Name         string
	Items        []OrderLineCommand
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
	ServiceFee   decimal.Decimal
	Total        decimal.Decimal
	CustomerNote *string
	OrderSource  string
}

type OrderLineCommand struct {
	MenuItemID          uuid.UUID
	Quantity            int
	UnitPrice           decimal.Decimal
	FinalPrice          decimal.Decimal
	SpecialInstructions string
	Options             []OptionSelectionCommand
}

type OptionSelectionCommand struct {
	MenuOptionID uuid.UUID
	Quantity     int
	PriceDelta   decimal.Decimal
}

// OrderPatch carries the only mutable fields of an order
type OrderPatch struct {
	Status        *OrderStatus   `json:"status,omitempty"`
	PaymentStatus *PaymentStatus `json:"paymentStatus,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p OrderPatch) Empty() bool {
	return p.Status == nil && p.PaymentStatus == nil
}

// OrderFilter selects orders for the query API. After, when set, replaces
// Page: the listing resumes behind that position.
type OrderFilter struct {
	Date          string
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	Page          int
	PageSize      int
	After         *OrderCursor
}

// OrderPage is one page of the order listing. NextCursor is set when more
// orders may follow.
type OrderPage struct {
	Orders     []Order   `json:"orders"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	Total      int       `json:"total"`
	AsOf       time.Time `json:"asOf"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// OrderCursor is a position in the listing order (createdAt, id)
type OrderCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the position just past o
func CursorAfter(o Order) OrderCursor {
	return OrderCursor{CreatedAt: o.CreatedAt, ID: o.ID}
}

// String encodes the cursor as "<unix microseconds>_<id>"
func (c OrderCursor) String() string {
	return strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + "_" + c.ID.String()
}

// Covers reports whether o sorts at or before the cursor
func (c OrderCursor) Covers(o Order) bool {
	if !o.CreatedAt.Equal(c.CreatedAt) {
		return o.CreatedAt.Before(c.CreatedAt)
	}
	return o.ID.String() <= c.ID.String()
}

func ParseOrderCursor(s string) (OrderCursor, error) {
	micros, id, ok := strings.Cut(s, "_")
	if !ok {
		return OrderCursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	n, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return OrderCursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return OrderCursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	return OrderCursor{CreatedAt: time.UnixMicro(n).UTC(), ID: uid}, nil
}
