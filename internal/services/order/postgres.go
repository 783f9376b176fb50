package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-orders/internal/database"
	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresStore is the pgx backed Store
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MenuItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuItem, error) {
	rows, err := t.tx.Query(ctx, database.GetMenuItemsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID]models.MenuItem, len(ids))
	for rows.Next() {
		var m models.MenuItem
		if err := rows.Scan(&m.ID, &m.Name, &m.ImageURL, &m.Category, &m.Price, &m.IsAvailable, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		items[m.ID] = m
	}
	return items, rows.Err()
}

func (t *pgTx) MenuOptions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuOption, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.MenuOption{}, nil
	}
	rows, err := t.tx.Query(ctx, database.GetMenuOptionsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu options: %w", err)
	}
	defer rows.Close()

	opts := make(map[uuid.UUID]models.MenuOption, len(ids))
	for rows.Next() {
		var o models.MenuOption
		if err := rows.Scan(&o.ID, &o.MenuItemID, &o.GroupName, &o.Name, &o.PriceDelta, &o.IsAvailable, &o.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan menu option: %w", err)
		}
		opts[o.ID] = o
	}
	return opts, rows.Err()
}

func (t *pgTx) InsertOrder(ctx context.Context, o *models.Order) error {
	err := t.tx.QueryRow(ctx, database.InsertOrderSQL,
		o.ID, o.OrderNumber, o.Phone, o.Name, o.Status, o.PaymentStatus,
		o.Subtotal, o.TaxAmount, o.ServiceFee, o.Total, o.OrderSource, o.CustomerNote,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, database.OrderNumberConstraint) {
			return &models.ConflictError{Resource: "order number", Value: o.OrderNumber}
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	// items and options go out as one round trip
	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(database.InsertOrderItemSQL,
			it.ID, o.ID, i, it.MenuItemID, it.NameSnapshot, it.ImageURLSnapshot, it.CategorySnapshot,
			it.Quantity, it.UnitPrice, it.FinalPrice, it.SpecialInstructions)
		for j, opt := range it.Options {
			batch.Queue(database.InsertOrderItemOptionSQL,
				opt.ID, it.ID, j, opt.MenuOptionID, opt.OptionNameSnapshot, opt.GroupNameSnapshot,
				opt.PriceDelta, opt.Quantity)
		}
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return database.GetOrder(ctx, t.tx, database.LockOrderSQL, id)
}

func (t *pgTx) UpdateOrderState(ctx context.Context, o *models.Order) error {
	err := t.tx.QueryRow(ctx, database.UpdateOrderStateSQL, o.ID, o.Status, o.PaymentStatus).Scan(&o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.NewNotFound("order", o.ID.String())
		}
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id uuid.UUID) (time.Time, error) {
	var deletedAt time.Time
	err := t.tx.QueryRow(ctx, database.DeleteOrderSQL, id).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, models.NewNotFound("order", id.String())
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to delete order: %w", err)
	}
	return deletedAt, nil
}

func (t *pgTx) AppendStatusLog(ctx context.Context, e StatusLogEntry) error {
	return database.InsertStatusLog(ctx, t.tx, e.OrderID, e.Status, e.PaymentStatus, e.ChangedBy, e.Notes)
}
