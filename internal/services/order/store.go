package order

import (
	"context"
	"time"

	"restaurant-orders/internal/models"

	"github.com/google/uuid"
)

// Store is the authoritative order persistence boundary. Every write of the
// coordinator happens inside WithinTx: when fn returns an error nothing it did
// is kept.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside one transaction
type Tx interface {
	// MenuItems returns the catalog rows for ids; unknown ids are absent from the map
	MenuItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuItem, error)
	MenuOptions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuOption, error)

	// InsertOrder writes the order with its items and options and sets
	// CreatedAt/UpdatedAt. An order number collision is a *models.ConflictError;
	// the transaction cannot be used afterwards.
	InsertOrder(ctx context.Context, o *models.Order) error

	// LockOrder loads the aggregate and holds a row lock on it until the
	// transaction ends. Unknown ids are a *models.NotFoundError.
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)

	// UpdateOrderState persists Status and PaymentStatus and refreshes UpdatedAt
	UpdateOrderState(ctx context.Context, o *models.Order) error

	// DeleteOrder removes the aggregate and returns the deletion time
	DeleteOrder(ctx context.Context, id uuid.UUID) (time.Time, error)

	AppendStatusLog(ctx context.Context, entry StatusLogEntry) error
}

// StatusLogEntry is one row of the order status history
type StatusLogEntry struct {
	OrderID       uuid.UUID
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	ChangedBy     string
	Notes         *string
}

// Notifier receives order events after the transaction that caused them has committed
type Notifier interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}
