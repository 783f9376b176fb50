package tracking

import (
	"context"
	"errors"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Service answers order queries
type Service struct {
	repo   OrderRepo
	loc    *time.Location
	logger *logger.Logger
	now    func() time.Time
}

func NewService(repo OrderRepo, loc *time.Location, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		loc:    loc,
		logger: log,
		now:    time.Now,
	}
}

// GetOrder retrieves one order aggregate by id
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID, requestID string) (*models.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logFailure("Failed to query order", requestID, err, map[string]interface{}{"order_id": id.String()})
		return nil, err
	}
	return o, nil
}

// GetOrderByNumber retrieves one order aggregate by its order number
func (s *Service) GetOrderByNumber(ctx context.Context, number, requestID string) (*models.Order, error) {
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		s.logFailure("Failed to query order", requestID, err, map[string]interface{}{"order_number": number})
		return nil, err
	}
	return o, nil
}

// ListOrders returns one page of the orders created on a business day. AsOf
// is read before the query. Pages addressed by cursor never skip an order
// that exists across both reads, however the listing shifts in between.
// Total counts every matching order, not only those behind the cursor.
func (s *Service) ListOrders(ctx context.Context, f models.OrderFilter, requestID string) (*models.OrderPage, error) {
	verr := &models.ValidationError{}
	if f.Date == "" {
		verr.Add("date", "is required")
	}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Page < 0 {
		verr.Add("page", "must be positive")
	}
	if f.After != nil && f.Page > 1 {
		verr.Add("page", "cannot be combined with after")
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize < 0 || f.PageSize > MaxPageSize {
		verr.Add("pageSize", "must be between 1 and %d", MaxPageSize)
	}
	if f.Status != nil && !f.Status.Valid() {
		verr.Add("status", "unknown status %q", *f.Status)
	}
	if f.PaymentStatus != nil && !f.PaymentStatus.Valid() {
		verr.Add("paymentStatus", "unknown payment status %q", *f.PaymentStatus)
	}

	var start, end time.Time
	if f.Date != "" {
		var err error
		if start, end, err = models.DayBounds(f.Date, s.loc); err != nil {
			verr.Add("date", "%v", err)
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	asOf := s.now().UTC()
	orders, total, err := s.repo.List(ctx, ListQuery{
		Start:         start,
		End:           end,
		Status:        f.Status,
		PaymentStatus: f.PaymentStatus,
		After:         f.After,
		Limit:         f.PageSize,
		Offset:        (f.Page - 1) * f.PageSize,
	})
	if err != nil {
		s.logFailure("Failed to list orders", requestID, err, map[string]interface{}{"date": f.Date})
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}

	s.logger.Debug("orders_listed", "Listed orders", requestID, map[string]interface{}{
		"date":      f.Date,
		"page":      f.Page,
		"page_size": f.PageSize,
		"total":     total,
	})

	page := &models.OrderPage{
		Orders:   orders,
		Page:     f.Page,
		PageSize: f.PageSize,
		Total:    total,
		AsOf:     asOf,
	}
	if len(orders) == f.PageSize {
		page.NextCursor = models.CursorAfter(orders[len(orders)-1]).String()
	}
	return page, nil
}

// GetOrderHistory retrieves the status log of an order, oldest first
func (s *Service) GetOrderHistory(ctx context.Context, id uuid.UUID, requestID string) ([]models.OrderStatusHistory, error) {
	history, err := s.repo.History(ctx, id)
	if err != nil {
		s.logFailure("Failed to query order history", requestID, err, map[string]interface{}{"order_id": id.String()})
		return nil, err
	}
	return history, nil
}

func (s *Service) logFailure(msg, requestID string, err error, fields map[string]interface{}) {
	var nf *models.NotFoundError
	if errors.As(err, &nf) {
		return
	}
	s.logger.Error("db_query_failed", msg, requestID, err, fields)
}
