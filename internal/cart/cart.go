// Package cart holds a customer's shopping cart for one session. Identical
// selections are merged into one line; every mutation is written through to a
// Store and the cart is read from it once when opened.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound = errors.New("cart item not found")
	ErrEmptyCart    = errors.New("cart is empty")
)

// Option is a selected modifier on a cart line
type Option struct {
	OptionID   string          `json:"optionId"`
	OptionName string          `json:"optionName"`
	GroupName  string          `json:"groupName"`
	PriceDelta decimal.Decimal `json:"priceDelta"`
	Quantity   int             `json:"quantity"`
}

// Item is one cart line. UnitPrice is the menu price captured when the line was added.
type Item struct {
	ID                  string          `json:"id"`
	MenuItemID          string          `json:"menuItemId"`
	Name                string          `json:"name"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	Quantity            int             `json:"quantity"`
	Options             []Option        `json:"options"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
}

// Key is the merge identity of a line: the menu item, its option selections in
// option id order, and the trimmed special instructions
func (it Item) Key() string {
	sel := make([]string, 0, len(it.Options))
	for _, o := range it.Options {
		if o.Quantity == 0 {
			continue
		}
		sel = append(sel, fmt.Sprintf("%s:%d", o.OptionID, o.Quantity))
	}
	sort.Strings(sel)
	return it.MenuItemID + "|" + strings.Join(sel, ",") + "|" + strings.TrimSpace(it.SpecialInstructions)
}

func (it Item) line() pricing.Line {
	opts := make([]pricing.Option, len(it.Options))
	for i, o := range it.Options {
		opts[i] = pricing.Option{ID: o.OptionID, PriceDelta: o.PriceDelta, Quantity: o.Quantity}
	}
	return pricing.Line{BasePrice: it.UnitPrice, Options: opts, Quantity: it.Quantity}
}

// Summary is the priced view of the cart
type Summary struct {
	pricing.Totals
	ItemCount int `json:"itemCount"`
}

// CustomerInfo is the checkout contact data
type CustomerInfo struct {
	Phone        string  `json:"phone"`
	Name         string  `json:"name"`
	CustomerNote *string `json:"customerNote,omitempty"`
	OrderSource  string  `json:"orderSource,omitempty"`
}

// Cart is safe for concurrent use
type Cart struct {
	mu      sync.Mutex
	session string
	store   Store
	policy  pricing.Policy
	items   []Item
}

// Open loads the session's cart from store
func Open(ctx context.Context, store Store, session string, policy pricing.Policy) (*Cart, error) {
	items, err := store.Load(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart %s: %w", session, err)
	}
	return &Cart{session: session, store: store, policy: policy, items: items}, nil
}

// Session returns the session the cart belongs to
func (c *Cart) Session() string {
	return c.session
}

// AddItem adds in as a new line, or increments the quantity of the line with
// the same Key. It returns the resulting line.
func (c *Cart) AddItem(ctx context.Context, in Item) (Item, error) {
	if err := validateItem(in); err != nil {
		return Item{}, err
	}
	in.SpecialInstructions = strings.TrimSpace(in.SpecialInstructions)
	in.Options = selectedOptions(in.Options)

	c.mu.Lock()
	defer c.mu.Unlock()

	next := cloneItems(c.items)
	key := in.Key()
	for i := range next {
		if next[i].Key() == key {
			next[i].Quantity += in.Quantity
			if err := c.commit(ctx, next); err != nil {
				return Item{}, err
			}
			return cloneItem(next[i]), nil
		}
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	next = append(next, cloneItem(in))
	if err := c.commit(ctx, next); err != nil {
		return Item{}, err
	}
	return cloneItem(in), nil
}

// UpdateQuantity sets the quantity of line id; qty <= 0 removes the line
func (c *Cart) UpdateQuantity(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return c.RemoveItem(ctx, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := cloneItems(c.items)
	i := indexOf(next, id)
	if i < 0 {
		return ErrItemNotFound
	}
	next[i].Quantity = qty
	return c.commit(ctx, next)
}

func (c *Cart) RemoveItem(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := indexOf(c.items, id)
	if i < 0 {
		return ErrItemNotFound
	}
	next := cloneItems(c.items)
	next = append(next[:i], next[i+1:]...)
	return c.commit(ctx, next)
}

// Clear empties the cart and deletes its stored state
func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, c.session); err != nil {
		return fmt.Errorf("failed to clear cart %s: %w", c.session, err)
	}
	c.items = nil
	return nil
}

// Items returns a copy of the cart lines in insertion order
func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

// Summary prices the cart with the configured policy
func (c *Cart) Summary() (Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subtotal := decimal.Zero
	count := 0
	for _, it := range c.items {
		total, err := it.line().Total()
		if err != nil {
			return Summary{}, fmt.Errorf("item %s: %w", it.ID, err)
		}
		subtotal = subtotal.Add(total)
		count += it.Quantity
	}
	return Summary{Totals: c.policy.Compute(subtotal), ItemCount: count}, nil
}

// ToOrderPayload builds the order creation request for the current cart
func (c *Cart) ToOrderPayload(info CustomerInfo) (models.CreateOrderRequest, error) {
	summary, err := c.Summary()
	if err != nil {
		return models.CreateOrderRequest{}, err
	}

	items := c.Items()
	if len(items) == 0 {
		return models.CreateOrderRequest{}, ErrEmptyCart
	}

	req := models.CreateOrderRequest{
		Phone:        info.Phone,
		Name:         info.Name,
		Items:        make([]models.CreateOrderItemRequest, 0, len(items)),
		Subtotal:     summary.Subtotal,
		TaxAmount:    summary.TaxAmount,
		ServiceFee:   summary.ServiceFee,
		Total:        summary.Total,
		CustomerNote: info.CustomerNote,
		OrderSource:  info.OrderSource,
	}
	for _, it := range items {
		final, err := it.line().Total()
		if err != nil {
			return models.CreateOrderRequest{}, err
		}
		line := models.CreateOrderItemRequest{
			MenuItemID:          it.MenuItemID,
			Quantity:            it.Quantity,
			UnitPrice:           it.UnitPrice,
			FinalPrice:          pricing.Round(final),
			SpecialInstructions: it.SpecialInstructions,
			Options:             make([]models.CreateOrderOptionRequest, 0, len(it.Options)),
		}
		for _, o := range it.Options {
			line.Options = append(line.Options, models.CreateOrderOptionRequest{
				MenuOptionID: o.OptionID,
				Quantity:     o.Quantity,
				PriceDelta:   o.PriceDelta,
			})
		}
		req.Items = append(req.Items, line)
	}
	return req, nil
}

// commit writes next through to the store and only then makes it current
func (c *Cart) commit(ctx context.Context, next []Item) error {
	if err := c.store.Save(ctx, c.session, next); err != nil {
		return fmt.Errorf("failed to save cart %s: %w", c.session, err)
	}
	c.items = next
	return nil
}

func validateItem(in Item) error {
	verr := &models.ValidationError{}
	if in.MenuItemID == "" {
		verr.Add("menuItemId", "is required")
	}
	if in.Quantity < 1 {
		verr.Add("quantity", "must be at least 1")
	}
	if in.UnitPrice.IsNegative() {
		verr.Add("unitPrice", "must not be negative")
	}
	for i, o := range in.Options {
		if o.OptionID == "" {
			verr.Add(fmt.Sprintf("options[%d].optionId", i), "is required")
		}
		if o.Quantity < 0 {
			verr.Add(fmt.Sprintf("options[%d].quantity", i), "must not be negative")
		}
	}
	if err := verr.OrNil(); err != nil {
		return err
	}
	if _, err := in.line().UnitTotal(); err != nil {
		verr.Add("options", "%v", err)
		return verr
	}
	return nil
}

func selectedOptions(opts []Option) []Option {
	out := make([]Option, 0, len(opts))
	for _, o := range opts {
		if o.Quantity > 0 {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OptionID < out[j].OptionID })
	return out
}

func indexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneItem(it Item) Item {
	it.Options = append([]Option(nil), it.Options...)
	return it
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = cloneItem(it)
	}
	return out
}
