// Package pricing computes line and order totals. It performs no I/O; tax and
// service fee policies are injected from configuration.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativePrice    = errors.New("computed price is negative")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrNegativeQuantity = errors.New("option quantity must not be negative")
)

// Option is a selected modifier on a line
type Option struct {
	ID         string
	PriceDelta decimal.Decimal
	Quantity   int
}

// Line is one priced selection: a base price, its options and a line quantity
type Line struct {
	BasePrice decimal.Decimal
	Options   []Option
	Quantity  int
}

// UnitTotal returns basePrice + Σ priceDelta·optionQuantity, unrounded
func (l Line) UnitTotal() (decimal.Decimal, error) {
	unit := l.BasePrice
	for _, o := range l.Options {
		if o.Quantity < 0 {
			return decimal.Zero, fmt.Errorf("option %s: %w", o.ID, ErrNegativeQuantity)
		}
		unit = unit.Add(o.PriceDelta.Mul(decimal.NewFromInt(int64(o.Quantity))))
	}
	if unit.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}
	return unit, nil
}

// Total returns (basePrice + Σ priceDelta·optionQuantity) × quantity, unrounded
func (l Line) Total() (decimal.Decimal, error) {
	if l.Quantity < 1 {
		return decimal.Zero, ErrInvalidQuantity
	}
	unit, err := l.UnitTotal()
	if err != nil {
		return decimal.Zero, err
	}
	return unit.Mul(decimal.NewFromInt(int64(l.Quantity))), nil
}

// Round rounds an amount to cents, the precision amounts are persisted with
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ErrUnknownOption lists selected option ids that do not exist for an item
type ErrUnknownOption struct {
	IDs []string
}

func (e *ErrUnknownOption) Error() string {
	return fmt.Sprintf("unknown option ids %v", e.IDs)
}

// OptionPrices maps option id to its current price delta
type OptionPrices map[string]decimal.Decimal

// Selection is an option reference with a quantity, before prices are resolved
type Selection struct {
	ID       string
	Quantity int
}

// Resolve prices selections from p; any id missing from p is an error
func (p OptionPrices) Resolve(sel []Selection) ([]Option, error) {
	out := make([]Option, 0, len(sel))
	var unknown []string
	for _, s := range sel {
		delta, ok := p[s.ID]
		if !ok {
			unknown = append(unknown, s.ID)
			continue
		}
		out = append(out, Option{ID: s.ID, PriceDelta: delta, Quantity: s.Quantity})
	}
	if len(unknown) > 0 {
		return nil, &ErrUnknownOption{IDs: unknown}
	}
	return out, nil
}

// FeeFunc derives a charge from the order subtotal
type FeeFunc func(subtotal decimal.Decimal) decimal.Decimal

// Rate charges a fixed fraction of the subtotal
func Rate(r decimal.Decimal) FeeFunc {
	return func(subtotal decimal.Decimal) decimal.Decimal {
		return subtotal.Mul(r)
	}
}

// Flat charges a fixed amount on any non-empty order
func Flat(amount decimal.Decimal) FeeFunc {
	return func(subtotal decimal.Decimal) decimal.Decimal {
		if subtotal.IsZero() {
			return decimal.Zero
		}
		return amount
	}
}

// Sum adds the results of several fee functions
func Sum(fns ...FeeFunc) FeeFunc {
	return func(subtotal decimal.Decimal) decimal.Decimal {
		total := decimal.Zero
		for _, fn := range fns {
			total = total.Add(fn(subtotal))
		}
		return total
	}
}

// Policy holds the configured tax and service fee functions
type Policy struct {
	Tax        FeeFunc
	ServiceFee FeeFunc
}

// NewPolicy builds the policy used by the order service from configured rates
func NewPolicy(taxRate, serviceFeeRate, serviceFeeFlat decimal.Decimal) Policy {
	return Policy{
		Tax:        Rate(taxRate),
		ServiceFee: Sum(Rate(serviceFeeRate), Flat(serviceFeeFlat)),
	}
}

// Totals is the priced order summary
type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxAmount  decimal.Decimal `json:"taxAmount"`
	ServiceFee decimal.Decimal `json:"serviceFee"`
	Total      decimal.Decimal `json:"total"`
}

// Compute rounds each component to cents; total is the sum of the rounded parts
// so total == subtotal + taxAmount + serviceFee holds exactly once persisted.
func (p Policy) Compute(subtotal decimal.Decimal) Totals {
	sub := Round(subtotal)
	tax := decimal.Zero
	if p.Tax != nil {
		tax = Round(p.Tax(sub))
	}
	fee := decimal.Zero
	if p.ServiceFee != nil {
		fee = Round(p.ServiceFee(sub))
	}
	return Totals{
		Subtotal:   sub,
		TaxAmount:  tax,
		ServiceFee: fee,
		Total:      sub.Add(tax).Add(fee),
	}
}

// Tolerance is the allowed drift between client and server amounts
var Tolerance = decimal.NewFromFloat(0.01)

// WithinTolerance reports |a-b| <= 0.01
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
