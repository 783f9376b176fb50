package adminsync

import (
	"testing"
	"time"

	"restaurant-orders/internal/models"

	"github.com/google/uuid"
)

const day = "2026-10-18"

var t0 = time.Date(2026, 10, 18, 16, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func order(id uuid.UUID, created, updated time.Time, status models.OrderStatus) models.Order {
	return models.Order{ID: id, OrderNumber: "ORD-" + id.String()[:4], Status: status, CreatedAt: created, UpdatedAt: updated}
}

func created(o models.Order) models.OrderEvent {
	return models.OrderEvent{Type: models.EventOrderCreated, Data: models.OrderEventData{Order: &o, OrderID: o.ID.String(), Date: day, At: o.UpdatedAt}}
}

func updated(o models.Order) models.OrderEvent {
	return models.OrderEvent{Type: models.EventOrderUpdated, Data: models.OrderEventData{Order: &o, OrderID: o.ID.String(), Date: day, At: o.UpdatedAt}}
}

func deleted(id uuid.UUID, when time.Time) models.OrderEvent {
	return models.OrderEvent{Type: models.EventOrderDeleted, Data: models.OrderEventData{OrderID: id.String(), Date: day, At: when}}
}

func TestBoard_Apply(t *testing.T) {
	a := order(uuid.New(), at(1), at(1), models.StatusPending)
	aReady := order(a.ID, at(1), at(5), models.StatusReady)
	ghost := order(uuid.New(), at(2), at(3), models.StatusPreparing)
	elsewhere := created(order(uuid.New(), at(1), at(1), models.StatusPending))
	elsewhere.Data.Date = "2026-10-19"

	b := NewBoard(day)
	steps := []struct {
		name  string
		event models.OrderEvent
		want  Outcome
		live  int
	}{
		{"create", created(a), Applied, 1},
		{"duplicate create", created(a), Stale, 1},
		{"update", updated(aReady), Applied, 1},
		{"older update", updated(order(a.ID, at(1), at(3), models.StatusPreparing)), Stale, 1},
		{"update of unknown order", updated(ghost), NeedsRefetch, 1},
		{"other day", elsewhere, OtherDate, 1},
		{"delete of absent order", deleted(uuid.New(), at(6)), Applied, 1},
		{"delete", deleted(a.ID, at(7)), Applied, 0},
		{"create replayed after delete", created(a), Stale, 0},
	}
	for _, st := range steps {
		if got := b.Apply(st.event); got != st.want {
			t.Fatalf("%s: outcome = %s, want %s", st.name, got, st.want)
		}
		if b.Len() != st.live {
			t.Fatalf("%s: live = %d, want %d", st.name, b.Len(), st.live)
		}
	}
}

func TestBoard_MergeDropsOrdersMissingFromSnapshot(t *testing.T) {
	b := NewBoard(day)
	gone := order(uuid.New(), at(1), at(1), models.StatusPending)
	fresh := order(uuid.New(), at(9), at(9), models.StatusPending)
	kept := order(uuid.New(), at(2), at(2), models.StatusPending)
	b.Apply(created(gone))
	b.Apply(created(fresh))

	// read at minute 5: gone was deleted before it, fresh did not exist yet
	b.Merge([]models.Order{kept}, at(5))

	got := b.Orders()
	if len(got) != 2 || got[0].ID != kept.ID || got[1].ID != fresh.ID {
		t.Fatalf("orders = %+v", got)
	}
}

func TestBoard_MergeKeepsNewerLocalVersion(t *testing.T) {
	b := NewBoard(day)
	o := order(uuid.New(), at(1), at(1), models.StatusPending)
	b.Apply(created(o))
	b.Apply(updated(order(o.ID, at(1), at(6), models.StatusPreparing)))

	b.Merge([]models.Order{o}, at(4))
	if got := b.Orders(); got[0].Status != models.StatusPreparing {
		t.Fatalf("snapshot overwrote newer state: %s", got[0].Status)
	}
}

// permutations calls fn with every ordering of n indexes
func permutations(n int, fn func([]int)) {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	var gen func(k int)
	gen = func(k int) {
		if k == 1 {
			fn(append([]int(nil), p...))
			return
		}
		for i := 0; i < k; i++ {
			gen(k - 1)
			if k%2 == 0 {
				p[i], p[k-1] = p[k-1], p[i]
			} else {
				p[0], p[k-1] = p[k-1], p[0]
			}
		}
	}
	gen(n)
}

func TestBoard_ConvergesForAnyInterleaving(t *testing.T) {
	a := order(uuid.New(), at(1), at(1), models.StatusPending)
	b := order(uuid.New(), at(2), at(2), models.StatusPending)
	c := order(uuid.New(), at(5), at(5), models.StatusPending)
	aPrep := order(a.ID, at(1), at(3), models.StatusPreparing)

	events := []models.OrderEvent{created(a), created(b), updated(aPrep), deleted(b.ID, at(4)), created(c)}
	snapshotAsOf := at(2).Add(30 * time.Second)
	snapshot := []models.Order{a, b}
	// a refetch after everything settled
	refetch := []models.Order{aPrep, c}
	refetchAsOf := at(6)

	// index len(events) stands for the snapshot
	permutations(len(events)+1, func(order []int) {
		board := NewBoard(day)
		missed := false
		for _, i := range order {
			if i == len(events) {
				board.Merge(snapshot, snapshotAsOf)
				continue
			}
			if board.Apply(events[i]) == NeedsRefetch {
				missed = true
			}
		}
		if missed {
			board.Merge(refetch, refetchAsOf)
		}

		got := board.Orders()
		if len(got) != 2 || got[0].ID != a.ID || got[0].Status != models.StatusPreparing || got[1].ID != c.ID {
			t.Fatalf("order %v converged to %+v", order, got)
		}
	})
}

func TestBoard_MergeSparesWritesInFlight(t *testing.T) {
	b := NewBoard(day)
	o := order(uuid.New(), at(1), at(1), models.StatusPending)
	b.Apply(created(o))

	// the listing ran before o's transaction committed
	b.Merge(nil, at(1).Add(5*time.Millisecond))
	if b.Len() != 1 {
		t.Fatalf("live = %d, want 1", b.Len())
	}
}

func TestBoard_InferredRemovalIsReversible(t *testing.T) {
	o := order(uuid.New(), at(1), at(1), models.StatusPending)

	t.Run("later snapshot restores", func(t *testing.T) {
		b := NewBoard(day)
		b.Apply(created(o))
		b.Merge(nil, at(2))
		if b.Len() != 0 {
			t.Fatalf("live after first snapshot = %d", b.Len())
		}
		b.Merge([]models.Order{o}, at(3))
		if got := b.Orders(); len(got) != 1 || got[0].ID != o.ID {
			t.Fatalf("orders = %+v", got)
		}
	})

	t.Run("newer event restores unconfirmed", func(t *testing.T) {
		b := NewBoard(day)
		b.Apply(created(o))
		b.Merge(nil, at(2))
		if got := b.Apply(created(o)); got != Stale {
			t.Fatalf("replayed create = %s", got)
		}
		ready := order(o.ID, at(1), at(4), models.StatusReady)
		if got := b.Apply(updated(ready)); got != Unconfirmed {
			t.Fatalf("update = %s, want %s", got, Unconfirmed)
		}
		if got := b.Orders(); len(got) != 1 || got[0].Status != models.StatusReady {
			t.Fatalf("orders = %+v", got)
		}
	})

	t.Run("delete event makes it final", func(t *testing.T) {
		b := NewBoard(day)
		b.Apply(created(o))
		b.Merge(nil, at(2))
		if got := b.Apply(deleted(o.ID, at(1).Add(time.Second))); got != Applied {
			t.Fatalf("delete = %s", got)
		}
		b.Merge([]models.Order{o}, at(3))
		if b.Len() != 0 {
			t.Fatalf("deleted order came back")
		}
	})
}
