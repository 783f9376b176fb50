package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

var (
	ErrPrinterTaken    = errors.New("printer name already registered")
	ErrNotPrinter      = errors.New("connection is not a registered printer")
	ErrClientGone      = errors.New("client is not registered")
	ErrInvalidDateBody = errors.New("date must be YYYY-MM-DD")
)

// Client is one live hub connection. Its subscription and printer name are
// owned by the Registry and only change under the registry lock.
type Client struct {
	id   int64
	role string
	send chan []byte

	date    string
	printer string
	gone    bool
}

func (c *Client) ID() int64 { return c.id }

// Outbox is drained by the connection's write loop; it is closed on Unregister
func (c *Client) Outbox() <-chan []byte { return c.send }

// Registry tracks connected clients, their subscription dates and the named
// printers. Publish takes the read lock; anything that changes a
// subscription or removes a client takes the write lock, so a publish sees
// either the old or the new subscription of a client, never both.
type Registry struct {
	mu       sync.RWMutex
	clients  map[int64]*Client
	printers map[string]*Client
	nextID   int64
	buffer   int
	dropped  atomic.Int64
	logger   *logger.Logger
}

func NewRegistry(buffer int, log *logger.Logger) *Registry {
	if buffer <= 0 {
		buffer = 32
	}
	return &Registry{
		clients:  make(map[int64]*Client),
		printers: make(map[string]*Client),
		buffer:   buffer,
		logger:   log,
	}
}

// Register adds a client with no subscription
func (r *Registry) Register(role string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := &Client{id: r.nextID, role: role, send: make(chan []byte, r.buffer)}
	r.clients[c.id] = c
	return c
}

// Unregister removes c and closes its outbox. Calling it twice is harmless.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.gone {
		return
	}
	c.gone = true
	delete(r.clients, c.id)
	if c.printer != "" && r.printers[c.printer] == c {
		delete(r.printers, c.printer)
	}
	close(c.send)
}

// Subscribe replaces c's subscription with date and queues the confirmation.
// Both happen under the write lock, so every event queued after the
// confirmation belongs to the new date.
func (r *Registry) Subscribe(c *Client, date string) error {
	if _, err := models.ParseBusinessDate(date); err != nil {
		return ErrInvalidDateBody
	}
	frame, err := EncodeFrame(SubjSubscriptionConfirmed, DateBody{Date: date})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c.gone {
		return ErrClientGone
	}
	c.date = date
	r.trySend(c, frame)
	return nil
}

// Subscription returns c's current date, empty when unsubscribed
func (r *Registry) Subscription(c *Client) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.date
}

// Publish fans e out to every client subscribed to e's business date and
// returns how many clients it was queued for. It never blocks: a client
// whose outbox is full misses the event.
func (r *Registry) Publish(e models.OrderEvent) (int, error) {
	frame, err := EncodeFrame(SubjOrderUpdate, e)
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.date != e.Data.Date {
			continue
		}
		if r.trySend(c, frame) {
			n++
		}
	}
	return n, nil
}

// RegisterPrinter names c as a printer
func (r *Registry) RegisterPrinter(c *Client, name string) error {
	if name == "" {
		return fmt.Errorf("printer name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.gone {
		return ErrClientGone
	}
	if other, ok := r.printers[name]; ok && other != c {
		return ErrPrinterTaken
	}
	if c.printer != "" {
		delete(r.printers, c.printer)
	}
	c.printer = name
	r.printers[name] = c
	return nil
}

// ForwardJobStatus sends a printer's job status to every subscribed dashboard
func (r *Registry) ForwardJobStatus(from *Client, status PrintJobStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if from.printer == "" {
		return 0, ErrNotPrinter
	}
	status.Printer = from.printer
	frame, err := EncodeFrame(SubjPrintJobStatus, status)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range r.clients {
		if c.date == "" || c.printer != "" {
			continue
		}
		if r.trySend(c, frame) {
			n++
		}
	}
	return n, nil
}

// SendToPrinter queues job on the named printer
func (r *Registry) SendToPrinter(name string, job PrintJob) error {
	frame, err := EncodeFrame(SubjPrintJob, job)
	if err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.printers[name]
	if !ok {
		return models.NewNotFound("printer", name)
	}
	if !r.trySend(c, frame) {
		return fmt.Errorf("printer %s is not keeping up", name)
	}
	return nil
}

// Reply queues a frame for c alone
func (r *Registry) Reply(c *Client, subj string, body interface{}) error {
	frame, err := EncodeFrame(subj, body)
	if err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c.gone {
		return ErrClientGone
	}
	r.trySend(c, frame)
	return nil
}

// Printers lists registered printer names in order
func (r *Registry) Printers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.printers))
	for name := range r.printers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size is the number of connected clients
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Dropped counts frames discarded because an outbox was full
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

// trySend must be called with r.mu held in either mode
func (r *Registry) trySend(c *Client, frame []byte) bool {
	if c.gone {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Debug("frame_dropped", "Client outbox full, frame dropped", "", map[string]interface{}{
			"client_id": c.id,
		})
		return false
	}
}
