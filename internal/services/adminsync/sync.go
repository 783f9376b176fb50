package adminsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"golang.org/x/sync/errgroup"
)

const DefaultPollInterval = 15 * time.Second

type kind int

const (
	kindEvent kind = iota
	kindConnected
	kindDisconnected
	kindSnapshot
	kindSetDate
)

// message is one input of the reconcile loop
type message struct {
	kind   kind
	event  models.OrderEvent
	date   string
	orders []models.Order
	asOf   time.Time
	err    error
}

// Syncer owns a Board and feeds it from the fetcher and the hub stream. A
// single goroutine applies every input, so the Board needs no lock; readers
// get copies published after each change.
type Syncer struct {
	fetcher      Fetcher
	stream       streamer
	logger       *logger.Logger
	pollInterval time.Duration

	inbox chan message
	dates chan string

	mu        sync.RWMutex
	date      string
	orders    []models.Order
	connected bool
}

func NewSyncer(fetcher Fetcher, stream *StreamClient, date string, pollInterval time.Duration, log *logger.Logger) *Syncer {
	return newSyncer(fetcher, stream, date, pollInterval, log)
}

func newSyncer(fetcher Fetcher, stream streamer, date string, pollInterval time.Duration, log *logger.Logger) *Syncer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Syncer{
		fetcher:      fetcher,
		stream:       stream,
		logger:       log,
		pollInterval: pollInterval,
		inbox:        make(chan message, 64),
		dates:        make(chan string, 1),
		date:         date,
		orders:       []models.Order{},
	}
}

// Run blocks until ctx is cancelled
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	date := s.Date()
	g.Go(func() error {
		return s.stream.Run(ctx, date, s.dates, s.inbox)
	})
	g.Go(func() error {
		return s.reconcile(ctx, date)
	})
	return g.Wait()
}

// SetDate switches the board to another business day
func (s *Syncer) SetDate(ctx context.Context, date string) error {
	if _, err := models.ParseBusinessDate(date); err != nil {
		verr := &models.ValidationError{}
		verr.Add("date", "%v", err)
		return verr
	}
	select {
	case s.inbox <- message{kind: kindSetDate, date: date}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orders returns the current board
func (s *Syncer) Orders() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Order(nil), s.orders...)
}

// Connected reports whether live events are flowing; when false the board
// is kept fresh by polling
func (s *Syncer) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Syncer) Date() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.date
}

func (s *Syncer) reconcile(ctx context.Context, date string) error {
	board := NewBoard(date)
	connected := false
	fetching := ""
	pending := false

	startFetch := func() {
		if fetching == board.Date() {
			pending = true
			return
		}
		fetching = board.Date()
		go func(d string) {
			orders, asOf, err := s.fetcher.FetchOrders(ctx, d)
			deliver(ctx, s.inbox, message{kind: kindSnapshot, date: d, orders: orders, asOf: asOf, err: err})
		}(fetching)
	}

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	startFetch()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-poll.C:
			if !connected {
				startFetch()
			}

		case m := <-s.inbox:
			switch m.kind {
			case kindSnapshot:
				if m.date == fetching {
					fetching = ""
				}
				if m.date != board.Date() {
					// fetched for a day the dashboard has left
					continue
				}
				if m.err != nil {
					var conn *models.ConnectivityError
					s.logger.Error("snapshot_failed", "Failed to fetch orders", "", m.err, map[string]interface{}{
						"date":        m.date,
						"unreachable": errors.As(m.err, &conn),
					})
				} else {
					board.Merge(m.orders, m.asOf)
					s.logger.Info("snapshot_merged", "Merged order snapshot", "", map[string]interface{}{
						"date":    m.date,
						"fetched": len(m.orders),
						"live":    board.Len(),
					})
				}
				if pending {
					pending = false
					startFetch()
				}

			case kindEvent:
				outcome := board.Apply(m.event)
				s.logger.Debug("event_applied", "Applied hub event", "", map[string]interface{}{
					"event_type": string(m.event.Type),
					"order_id":   m.event.ID(),
					"date":       m.event.Data.Date,
					"outcome":    outcome.String(),
				})
				if outcome == NeedsRefetch || outcome == Unconfirmed {
					startFetch()
				}

			case kindConnected:
				connected = true
				// the hub does not replay; whatever happened while away comes from a fetch
				startFetch()

			case kindDisconnected:
				if connected {
					s.logger.Error("degraded_mode", "Hub unreachable, polling order-service", "", m.err, nil)
				}
				connected = false

			case kindSetDate:
				if m.date == board.Date() {
					continue
				}
				board.Reset(m.date)
				pending = false
				select {
				case <-s.dates:
				default:
				}
				s.dates <- m.date
				startFetch()
				s.logger.Info("date_changed", "Switched business day", "", map[string]interface{}{
					"date": m.date,
				})
			}
			s.publish(board, connected)
		}
	}
}

func (s *Syncer) publish(board *Board, connected bool) {
	orders := board.Orders()
	s.mu.Lock()
	s.date = board.Date()
	s.orders = orders
	s.connected = connected
	s.mu.Unlock()
}
