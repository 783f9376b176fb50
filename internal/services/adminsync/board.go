// Package adminsync keeps a dashboard's view of one business day in step with
// the Order Store by merging two unordered sources: REST snapshots and hub
// events.
package adminsync

import (
	"sort"
	"time"

	"restaurant-orders/internal/models"

	"github.com/google/uuid"
)

// Outcome says what applying an event did to the board
type Outcome int

const (
	Applied Outcome = iota
	// Duplicate events and events older than what the board holds
	Stale
	// The event belongs to another business day
	OtherDate
	// An update for an order the board has never seen; a create was missed
	NeedsRefetch
	// Applied to an order a snapshot had dropped; a refetch should confirm it
	Unconfirmed
)

// RemovalGrace is how much older than a snapshot's asOf an order's last known
// change must be before the snapshot's silence removes it. Order timestamps
// are taken when the write transaction starts, so a write in flight at asOf
// can be invisible to the read yet carry an earlier time.
const RemovalGrace = 30 * time.Second

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case OtherDate:
		return "other_date"
	case NeedsRefetch:
		return "needs_refetch"
	case Unconfirmed:
		return "unconfirmed"
	}
	return "unknown"
}

type entry struct {
	order   models.Order
	at      time.Time
	deleted bool
	// inferred marks a removal deduced from a snapshot rather than reported
	// by a delete event; order and at keep the last live version and any
	// later sighting of the order overrides it
	inferred bool
}

// Board holds the orders of one business day. Each order is versioned by the
// commit time of its latest change and deletions leave a tombstone, so
// applying snapshots and events in any order converges on the same state.
// A Board is not safe for concurrent use.
type Board struct {
	date    string
	entries map[uuid.UUID]*entry
}

func NewBoard(date string) *Board {
	return &Board{date: date, entries: make(map[uuid.UUID]*entry)}
}

func (b *Board) Date() string { return b.date }

// Reset empties the board and points it at date
func (b *Board) Reset(date string) {
	b.date = date
	b.entries = make(map[uuid.UUID]*entry)
}

// Apply merges one hub event
func (b *Board) Apply(e models.OrderEvent) Outcome {
	if e.Data.Date != b.date {
		return OtherDate
	}
	id, err := uuid.Parse(e.ID())
	if err != nil {
		return Stale
	}
	cur, known := b.entries[id]
	if known && cur.inferred {
		return b.applyOverInferred(id, cur, e)
	}
	if known && !e.Data.At.After(cur.at) {
		return Stale
	}

	switch e.Type {
	case models.EventOrderCreated:
		b.entries[id] = &entry{order: *e.Data.Order, at: e.Data.At}
	case models.EventOrderUpdated:
		if !known {
			return NeedsRefetch
		}
		b.entries[id] = &entry{order: *e.Data.Order, at: e.Data.At}
	case models.EventOrderDeleted:
		b.entries[id] = &entry{at: e.Data.At, deleted: true}
	default:
		return Stale
	}
	return Applied
}

func (b *Board) applyOverInferred(id uuid.UUID, cur *entry, e models.OrderEvent) Outcome {
	switch e.Type {
	case models.EventOrderDeleted:
		at := e.Data.At
		if cur.at.After(at) {
			at = cur.at
		}
		b.entries[id] = &entry{at: at, deleted: true}
		return Applied
	case models.EventOrderCreated, models.EventOrderUpdated:
		if !e.Data.At.After(cur.at) {
			return Stale
		}
		b.entries[id] = &entry{order: *e.Data.Order, at: e.Data.At}
		return Unconfirmed
	}
	return Stale
}

// Merge folds in a snapshot of the whole day read at asOf. An order the
// snapshot holds is live at its newest known version, even if an earlier
// snapshot dropped it. An order the snapshot lacks is dropped when its last
// known change is older than asOf by RemovalGrace; the drop is only inferred
// and a later event or snapshot naming the order restores it.
func (b *Board) Merge(orders []models.Order, asOf time.Time) {
	seen := make(map[uuid.UUID]bool, len(orders))
	for _, o := range orders {
		seen[o.ID] = true
		cur, ok := b.entries[o.ID]
		switch {
		case !ok || o.UpdatedAt.After(cur.at):
			b.entries[o.ID] = &entry{order: o, at: o.UpdatedAt}
		case cur.inferred:
			cur.deleted, cur.inferred = false, false
		}
	}

	cutoff := asOf.Add(-RemovalGrace)
	for id, cur := range b.entries {
		if seen[id] || cur.deleted || !cur.at.Before(cutoff) {
			continue
		}
		cur.deleted, cur.inferred = true, true
	}
}

// Orders returns the live orders by creation time
func (b *Board) Orders() []models.Order {
	out := make([]models.Order, 0, len(b.entries))
	for _, e := range b.entries {
		if !e.deleted {
			out = append(out, e.order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len is the number of live orders
func (b *Board) Len() int {
	n := 0
	for _, e := range b.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}
