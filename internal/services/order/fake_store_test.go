package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"restaurant-orders/internal/models"

	"github.com/google/uuid"
)

// memStore is a transactional in-memory Store. WithinTx works on a copy of
// the state and swaps it in only when fn succeeds.
type memStore struct {
	mu      sync.Mutex
	items   map[uuid.UUID]models.MenuItem
	options map[uuid.UUID]models.MenuOption
	state   memState
	txs     int
	pingErr error
}

type memState struct {
	orders map[uuid.UUID]models.Order
	log    []StatusLogEntry
}

func (s memState) clone() memState {
	out := memState{orders: make(map[uuid.UUID]models.Order, len(s.orders)), log: append([]StatusLogEntry(nil), s.log...)}
	for id, o := range s.orders {
		out.orders[id] = o
	}
	return out
}

func newMemStore() *memStore {
	return &memStore{
		items:   make(map[uuid.UUID]models.MenuItem),
		options: make(map[uuid.UUID]models.MenuOption),
		state:   memState{orders: make(map[uuid.UUID]models.Order)},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs++

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *memStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *memStore) committed(id uuid.UUID) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	return o, ok
}

type memTx struct {
	store  *memStore
	state  memState
	failed bool
}

var errTxAborted = errors.New("current transaction is aborted")

func (t *memTx) MenuItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuItem, error) {
	out := make(map[uuid.UUID]models.MenuItem)
	for _, id := range ids {
		if m, ok := t.store.items[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (t *memTx) MenuOptions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MenuOption, error) {
	out := make(map[uuid.UUID]models.MenuOption)
	for _, id := range ids {
		if m, ok := t.store.options[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	if t.failed {
		return errTxAborted
	}
	for _, existing := range t.state.orders {
		if existing.OrderNumber == o.OrderNumber {
			t.failed = true
			return &models.ConflictError{Resource: "order number", Value: o.OrderNumber}
		}
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	t.state.orders[o.ID] = *o
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, models.NewNotFound("order", id.String())
	}
	return &o, nil
}

func (t *memTx) UpdateOrderState(ctx context.Context, o *models.Order) error {
	cur, ok := t.state.orders[o.ID]
	if !ok {
		return models.NewNotFound("order", o.ID.String())
	}
	cur.Status, cur.PaymentStatus = o.Status, o.PaymentStatus
	cur.UpdatedAt = cur.UpdatedAt.Add(time.Millisecond)
	o.UpdatedAt = cur.UpdatedAt
	t.state.orders[o.ID] = cur
	return nil
}

func (t *memTx) DeleteOrder(ctx context.Context, id uuid.UUID) (time.Time, error) {
	cur, ok := t.state.orders[id]
	if !ok {
		return time.Time{}, models.NewNotFound("order", id.String())
	}
	delete(t.state.orders, id)
	return cur.UpdatedAt.Add(time.Millisecond), nil
}

func (t *memTx) AppendStatusLog(ctx context.Context, e StatusLogEntry) error {
	t.state.log = append(t.state.log, e)
	return nil
}

// recordingNotifier captures events and whether each order was already
// committed when its event arrived
type recordingNotifier struct {
	mu        sync.Mutex
	store     *memStore
	events    []models.OrderEvent
	committed []bool
	err       error
}

func (n *recordingNotifier) PublishOrderEvent(ctx context.Context, e models.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, _ := uuid.Parse(e.ID())
	_, ok := n.store.committed(id)
	n.events = append(n.events, e)
	n.committed = append(n.committed, ok)
	return n.err
}
