package database

import (
	"context"
	"errors"
	"fmt"

	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ScanOrder reads one orderColumns row. pgx.ErrNoRows is returned unchanged.
func ScanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.Phone,
		&o.Name,
		&o.Status,
		&o.PaymentStatus,
		&o.Subtotal,
		&o.TaxAmount,
		&o.ServiceFee,
		&o.Total,
		&o.OrderSource,
		&o.CustomerNote,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Items = []models.OrderItem{}
	return &o, nil
}

// ScanOrders drains rows of orderColumns
func ScanOrders(rows pgx.Rows) ([]*models.Order, error) {
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := ScanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOrder loads the order aggregate selected by query, which must return orderColumns
func GetOrder(ctx context.Context, q Querier, query string, arg interface{}) (*models.Order, error) {
	o, err := ScanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewNotFound("order", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	if err := LoadOrderItems(ctx, q, []*models.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadOrderItems fills Items (and their Options) of every order with two queries
func LoadOrderItems(ctx context.Context, q Querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(orders))
	byOrder := make(map[uuid.UUID]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byOrder[o.ID] = o
	}

	rows, err := q.Query(ctx, GetOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.MenuItemID,
			&it.NameSnapshot,
			&it.ImageURLSnapshot,
			&it.CategorySnapshot,
			&it.Quantity,
			&it.UnitPrice,
			&it.FinalPrice,
			&it.SpecialInstructions,
		); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		it.Options = []models.OrderItemOption{}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read order items: %w", err)
	}

	options := make(map[uuid.UUID][]models.OrderItemOption)
	rows, err = q.Query(ctx, GetOrderItemOptionsSQL, ids)
	if err != nil {
		return fmt.Errorf("failed to query order item options: %w", err)
	}
	for rows.Next() {
		var opt models.OrderItemOption
		if err := rows.Scan(
			&opt.ID,
			&opt.OrderItemID,
			&opt.MenuOptionID,
			&opt.OptionNameSnapshot,
			&opt.GroupNameSnapshot,
			&opt.PriceDelta,
			&opt.Quantity,
		); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan order item option: %w", err)
		}
		options[opt.OrderItemID] = append(options[opt.OrderItemID], opt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read order item options: %w", err)
	}

	for _, it := range items {
		if opts, ok := options[it.ID]; ok {
			it.Options = opts
		}
		o := byOrder[it.OrderID]
		o.Items = append(o.Items, it)
	}
	return nil
}

// InsertStatusLog appends one entry to order_status_log
func InsertStatusLog(ctx context.Context, q Querier, orderID uuid.UUID, status models.OrderStatus, payment models.PaymentStatus, changedBy string, notes *string) error {
	_, err := q.Exec(ctx, InsertOrderStatusLogSQL, orderID, status, payment, changedBy, notes)
	if err != nil {
		return fmt.Errorf("failed to insert status log: %w", err)
	}
	return nil
}
