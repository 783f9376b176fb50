package tracking

import (
	"context"
	"fmt"
	"time"

	"restaurant-orders/internal/database"
	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListQuery selects one page of orders created in [Start, End), ordered by
// (createdAt, id) and starting behind After when it is set
type ListQuery struct {
	Start         time.Time
	End           time.Time
	Status        *models.OrderStatus
	PaymentStatus *models.PaymentStatus
	After         *models.OrderCursor
	Limit         int
	Offset        int
}

// OrderRepo is the read side of the Order Store
type OrderRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	// List returns the page and the number of orders matching without paging
	List(ctx context.Context, q ListQuery) ([]models.Order, int, error)
	// History fails with NotFoundError when the order does not exist
	History(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error)
}

// PostgresRepo reads orders from PostgreSQL
type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o *models.Order
	err := r.db.ReadTx(ctx, func(tx pgx.Tx) error {
		var err error
		o, err = database.GetOrder(ctx, tx, database.GetOrderByIDSQL, id)
		return err
	})
	return o, err
}

func (r *PostgresRepo) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	var o *models.Order
	err := r.db.ReadTx(ctx, func(tx pgx.Tx) error {
		var err error
		o, err = database.GetOrder(ctx, tx, database.GetOrderByNumberSQL, number)
		return err
	})
	return o, err
}

func (r *PostgresRepo) List(ctx context.Context, q ListQuery) ([]models.Order, int, error) {
	var (
		status, payment *string
		afterAt         *time.Time
		afterID         *string
		orders          []models.Order
		total           int
	)
	if q.Status != nil {
		s := string(*q.Status)
		status = &s
	}
	if q.PaymentStatus != nil {
		p := string(*q.PaymentStatus)
		payment = &p
	}

	if q.After != nil {
		at, id := q.After.CreatedAt, q.After.ID.String()
		afterAt, afterID = &at, &id
	}

	err := r.db.ReadTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, database.CountOrdersSQL, q.Start, q.End, status, payment).Scan(&total); err != nil {
			return fmt.Errorf("failed to count orders: %w", err)
		}

		rows, err := tx.Query(ctx, database.ListOrdersSQL, q.Start, q.End, status, payment, q.Limit, q.Offset, afterAt, afterID)
		if err != nil {
			return fmt.Errorf("failed to list orders: %w", err)
		}
		page, err := database.ScanOrders(rows)
		if err != nil {
			return fmt.Errorf("failed to scan orders: %w", err)
		}
		if err := database.LoadOrderItems(ctx, tx, page); err != nil {
			return err
		}

		orders = make([]models.Order, len(page))
		for i, o := range page {
			orders[i] = *o
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *PostgresRepo) History(ctx context.Context, id uuid.UUID) ([]models.OrderStatusHistory, error) {
	history := []models.OrderStatusHistory{}
	err := r.db.ReadTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, database.OrderExistsSQL, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check order existence: %w", err)
		}
		if !exists {
			return models.NewNotFound("order", id.String())
		}

		rows, err := tx.Query(ctx, database.GetOrderStatusHistorySQL, id)
		if err != nil {
			return fmt.Errorf("failed to query order history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var entry models.OrderStatusHistory
			if err := rows.Scan(
				&entry.Status,
				&entry.PaymentStatus,
				&entry.ChangedBy,
				&entry.ChangedAt,
				&entry.Notes,
			); err != nil {
				return fmt.Errorf("failed to scan order history row: %w", err)
			}
			history = append(history, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}
