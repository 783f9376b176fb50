package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MenuItem is the catalog row an order line is priced and snapshotted from
type MenuItem struct {
	ID          uuid.UUID
	Name        string
	ImageURL    string
	Category    string
	Price       decimal.Decimal
	IsAvailable bool
	DeletedAt   *time.Time
}

// Orderable reports whether new orders may reference the item
func (m MenuItem) Orderable() bool {
	return m.IsAvailable && m.DeletedAt == nil
}

// MenuOption is a selectable modifier belonging to a menu item
type MenuOption struct {
	ID          uuid.UUID
	MenuItemID  uuid.UUID
	GroupName   string
	Name        string
	PriceDelta  decimal.Decimal
	IsAvailable bool
	DeletedAt   *time.Time
}

func (o MenuOption) Orderable() bool {
	return o.IsAvailable && o.DeletedAt == nil
}
