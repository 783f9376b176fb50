package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const createdBy = "order-service"

// Options configures order numbering and pricing
type Options struct {
	Prefix   string
	Retries  int
	Location *time.Location
	Policy   pricing.Policy
}

// Service is the order transaction coordinator. It validates requests against
// the live catalog, commits order aggregates atomically and announces every
// committed change to the Notifier.
type Service struct {
	store    Store
	notifier Notifier
	opts     Options
	logger   *logger.Logger

	now    func() time.Time
	suffix func() int
}

func NewService(store Store, notifier Notifier, opts Options, log *logger.Logger) *Service {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   log,
		now:      time.Now,
		suffix:   func() int { return rand.IntN(10000) },
	}
}

// Location returns the business timezone orders are dated in
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Policy returns the pricing policy orders are charged with
func (s *Service) Policy() pricing.Policy {
	return s.opts.Policy
}

// OrderNumber formats <PREFIX><YYMMDD>-<4 digits> for the business day of t
func (s *Service) OrderNumber(t time.Time) string {
	return fmt.Sprintf("%s%s-%04d", s.opts.Prefix, t.In(s.opts.Location).Format("060102"), s.suffix())
}

// CreateOrder reprices cmd from the catalog and stores it. A collision on the
// order number retries the whole transaction with a fresh number.
func (s *Service) CreateOrder(ctx context.Context, cmd models.CreateOrderCommand, requestID string) (*models.Order, error) {
	var (
		created *models.Order
		err     error
	)
	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		number := s.OrderNumber(s.now())
		err = s.store.WithinTx(ctx, func(tx Tx) error {
			o, err := s.buildOrder(ctx, tx, cmd)
			if err != nil {
				return err
			}
			o.OrderNumber = number
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			if err := tx.AppendStatusLog(ctx, StatusLogEntry{
				OrderID:       o.ID,
				Status:        o.Status,
				PaymentStatus: o.PaymentStatus,
				ChangedBy:     createdBy,
			}); err != nil {
				return err
			}
			created = o
			return nil
		})

		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			break
		}
		s.logger.Info("order_number_conflict", "Order number already taken, regenerating", requestID, map[string]interface{}{
			"order_number": number,
			"attempt":      attempt,
		})
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("order_created", "Order created", requestID, map[string]interface{}{
		"order_id":     created.ID.String(),
		"order_number": created.OrderNumber,
		"total":        created.Total.StringFixed(2),
		"items":        len(created.Items),
	})

	s.publish(ctx, models.EventOrderCreated, created, requestID)
	return created, nil
}

// buildOrder resolves every reference of cmd inside tx and prices the order
// from the catalog values read there
func (s *Service) buildOrder(ctx context.Context, tx Tx, cmd models.CreateOrderCommand) (*models.Order, error) {
	itemIDs := make([]uuid.UUID, 0, len(cmd.Items))
	var optionIDs []uuid.UUID
	for _, line := range cmd.Items {
		itemIDs = append(itemIDs, line.MenuItemID)
		for _, opt := range line.Options {
			optionIDs = append(optionIDs, opt.MenuOptionID)
		}
	}

	menuItems, err := tx.MenuItems(ctx, uniqueIDs(itemIDs))
	if err != nil {
		return nil, err
	}
	menuOptions, err := tx.MenuOptions(ctx, uniqueIDs(optionIDs))
	if err != nil {
		return nil, err
	}

	if err := checkReferences(cmd, menuItems, menuOptions); err != nil {
		return nil, err
	}

	o := &models.Order{
		ID:            uuid.New(),
		Phone:         cmd.Phone,
		Name:          cmd.Name,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentUnpaid,
		OrderSource:   cmd.OrderSource,
		CustomerNote:  cmd.CustomerNote,
		Items:         make([]models.OrderItem, 0, len(cmd.Items)),
	}

	subtotal := decimal.Zero
	for i, line := range cmd.Items {
		mi := menuItems[line.MenuItemID]
		menuItemID := mi.ID
		item := models.OrderItem{
			ID:                  uuid.New(),
			OrderID:             o.ID,
			MenuItemID:          &menuItemID,
			NameSnapshot:        mi.Name,
			ImageURLSnapshot:    mi.ImageURL,
			CategorySnapshot:    mi.Category,
			Quantity:            line.Quantity,
			UnitPrice:           pricing.Round(mi.Price),
			SpecialInstructions: line.SpecialInstructions,
			Options:             make([]models.OrderItemOption, 0, len(line.Options)),
		}

		sels := make([]pricing.Selection, 0, len(line.Options))
		for _, sel := range line.Options {
			mo := menuOptions[sel.MenuOptionID]
			menuOptionID := mo.ID
			item.Options = append(item.Options, models.OrderItemOption{
				ID:                 uuid.New(),
				OrderItemID:        item.ID,
				MenuOptionID:       &menuOptionID,
				OptionNameSnapshot: mo.Name,
				GroupNameSnapshot:  mo.GroupName,
				PriceDelta:         pricing.Round(mo.PriceDelta),
				Quantity:           sel.Quantity,
			})
			sels = append(sels, pricing.Selection{ID: sel.MenuOptionID.String(), Quantity: sel.Quantity})
		}

		options, err := optionPrices(mi.ID, menuOptions).Resolve(sels)
		if err != nil {
			verr := &models.ValidationError{}
			verr.Add(fmt.Sprintf("items[%d].options", i), "%v", err)
			return nil, verr
		}
		priced := pricing.Line{BasePrice: mi.Price, Options: options, Quantity: line.Quantity}
		total, err := priced.Total()
		if err != nil {
			verr := &models.ValidationError{}
			verr.Add(fmt.Sprintf("items[%d]", i), "%v", err)
			return nil, verr
		}
		item.FinalPrice = pricing.Round(total)
		subtotal = subtotal.Add(item.FinalPrice)
		o.Items = append(o.Items, item)
	}

	totals := s.opts.Policy.Compute(subtotal)
	verr := &models.ValidationError{}
	if !pricing.WithinTolerance(totals.Subtotal, cmd.Subtotal) {
		verr.Add("subtotal", "subtotal %s does not match current menu prices (%s)", cmd.Subtotal.StringFixed(2), totals.Subtotal.StringFixed(2))
	}
	if !pricing.WithinTolerance(totals.Total, cmd.Total) {
		verr.Add("total", "total %s does not match current menu prices (%s)", cmd.Total.StringFixed(2), totals.Total.StringFixed(2))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	o.Subtotal = totals.Subtotal
	o.TaxAmount = totals.TaxAmount
	o.ServiceFee = totals.ServiceFee
	o.Total = totals.Total
	return o, nil
}

// optionPrices returns the current price deltas of the orderable options of
// a menu item
func optionPrices(itemID uuid.UUID, options map[uuid.UUID]models.MenuOption) pricing.OptionPrices {
	prices := make(pricing.OptionPrices)
	for id, mo := range options {
		if mo.MenuItemID == itemID && mo.Orderable() {
			prices[id.String()] = mo.PriceDelta
		}
	}
	return prices
}

// checkReferences reports every unknown, deleted or unavailable reference at once
func checkReferences(cmd models.CreateOrderCommand, items map[uuid.UUID]models.MenuItem, options map[uuid.UUID]models.MenuOption) error {
	var refs []models.Reference
	seen := make(map[uuid.UUID]bool)
	add := func(kind string, id uuid.UUID, reason string) {
		if seen[id] {
			return
		}
		seen[id] = true
		refs = append(refs, models.Reference{Kind: kind, ID: id.String(), Reason: reason})
	}

	for _, line := range cmd.Items {
		mi, ok := items[line.MenuItemID]
		switch {
		case !ok:
			add("menu_item", line.MenuItemID, "unknown")
		case mi.DeletedAt != nil:
			add("menu_item", line.MenuItemID, "deleted")
		case !mi.IsAvailable:
			add("menu_item", line.MenuItemID, "unavailable")
		}

		for _, sel := range line.Options {
			mo, ok := options[sel.MenuOptionID]
			switch {
			case !ok:
				add("menu_option", sel.MenuOptionID, "unknown")
			case mo.MenuItemID != line.MenuItemID:
				add("menu_option", sel.MenuOptionID, "not an option of menu item "+line.MenuItemID.String())
			case mo.DeletedAt != nil:
				add("menu_option", sel.MenuOptionID, "deleted")
			case !mo.IsAvailable:
				add("menu_option", sel.MenuOptionID, "unavailable")
			}
		}
	}

	if len(refs) > 0 {
		return &models.NotFoundError{Refs: refs}
	}
	return nil
}

// UpdateOrder applies patch to the order. The transition is checked against
// the row read under lock in the same transaction.
func (s *Service) UpdateOrder(ctx context.Context, id uuid.UUID, patch models.OrderPatch, actor, requestID string) (*models.Order, error) {
	if patch.Empty() {
		verr := &models.ValidationError{}
		verr.Add("body", "patch must set status or paymentStatus")
		return nil, verr
	}

	var updated *models.Order
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		next, err := models.ApplyPatch(*current, patch)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderState(ctx, &next); err != nil {
			return err
		}
		if err := tx.AppendStatusLog(ctx, StatusLogEntry{
			OrderID:       next.ID,
			Status:        next.Status,
			PaymentStatus: next.PaymentStatus,
			ChangedBy:     actor,
		}); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order_updated", "Order updated", requestID, map[string]interface{}{
		"order_id":       updated.ID.String(),
		"order_number":   updated.OrderNumber,
		"status":         updated.Status,
		"payment_status": updated.PaymentStatus,
		"changed_by":     actor,
	})

	s.publish(ctx, models.EventOrderUpdated, updated, requestID)
	return updated, nil
}

// DeleteOrder hard deletes the aggregate. It is an administrative operation
// outside the normal lifecycle.
func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID, actor, requestID string) error {
	var deleted *models.Order
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		deletedAt, err := tx.DeleteOrder(ctx, id)
		if err != nil {
			return err
		}
		current.UpdatedAt = deletedAt
		deleted = current
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("order_deleted", "Order hard deleted", requestID, map[string]interface{}{
		"order_id":     deleted.ID.String(),
		"order_number": deleted.OrderNumber,
		"deleted_by":   actor,
	})

	s.publish(ctx, models.EventOrderDeleted, deleted, requestID)
	return nil
}

// HealthCheck reports whether the store answers
func (s *Service) HealthCheck(ctx context.Context) bool {
	return s.store.Ping(ctx) == nil
}

// publish runs after commit; a failed notification never fails the write
func (s *Service) publish(ctx context.Context, t models.EventType, o *models.Order, requestID string) {
	if s.notifier == nil {
		return
	}
	event := models.NewOrderEvent(t, o, s.opts.Location)
	if err := s.notifier.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("event_publish_failed", "Failed to publish order event", requestID, err, map[string]interface{}{
			"event_type": string(t),
			"order_id":   o.ID.String(),
		})
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
