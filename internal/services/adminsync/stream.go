package adminsync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/services/hub"

	"github.com/gorilla/websocket"
)

// Backoff yields capped exponential delays: Min, 2*Min, 4*Min ... Max
type Backoff struct {
	Min     time.Duration
	Max     time.Duration
	attempt int
}

func (b *Backoff) Next() time.Duration {
	d := b.Min << b.attempt
	if d <= 0 || d >= b.Max {
		return b.Max
	}
	b.attempt++
	return d
}

func (b *Backoff) Reset() { b.attempt = 0 }

// streamer feeds hub traffic into the syncer's inbox. It subscribes to the
// initial date, re-subscribes to every date read from dates and reports
// connection changes.
type streamer interface {
	Run(ctx context.Context, date string, dates <-chan string, out chan<- message) error
}

// StreamClient is the hub WebSocket client
type StreamClient struct {
	url     string
	token   string
	dialer  *websocket.Dialer
	backoff Backoff
	logger  *logger.Logger
}

func NewStreamClient(url, token string, log *logger.Logger) *StreamClient {
	return &StreamClient{
		url:     url,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second},
		logger:  log,
	}
}

// Run keeps a hub connection open until ctx ends, reconnecting with backoff
func (c *StreamClient) Run(ctx context.Context, date string, dates <-chan string, out chan<- message) error {
	for {
		err := c.session(ctx, &date, dates, out)
		if ctx.Err() != nil {
			return nil
		}
		deliver(ctx, out, message{kind: kindDisconnected, err: &models.ConnectivityError{Endpoint: c.url, Err: err}})

		wait := c.backoff.Next()
		c.logger.Error("hub_disconnected", fmt.Sprintf("Hub connection lost, retrying in %v", wait), "", err, nil)
		timer := time.NewTimer(wait)
	waiting:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case d := <-dates:
				date = d
			case <-timer.C:
				break waiting
			}
		}
	}
}

// session runs one connection; *date tracks the latest subscription so a
// reconnect subscribes to it
func (c *StreamClient) session(ctx context.Context, date *string, dates <-chan string, out chan<- message) error {
	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}
	wc, _, err := c.dialer.DialContext(ctx, c.url, hdr)
	if err != nil {
		return err
	}
	defer wc.Close()

	if err := writeFrame(wc, hub.SubjSubscribeOrders, hub.DateBody{Date: *date}); err != nil {
		return err
	}
	c.backoff.Reset()
	c.logger.Info("hub_connected", "Connected to broadcast hub", "", map[string]interface{}{
		"url":  c.url,
		"date": *date,
	})
	deliver(ctx, out, message{kind: kindConnected})

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(ctx, wc, out) }()

	for {
		select {
		case <-ctx.Done():
			wc.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return err
		case d := <-dates:
			*date = d
			if err := writeFrame(wc, hub.SubjUpdateSubscription, hub.DateBody{Date: d}); err != nil {
				return err
			}
		}
	}
}

func (c *StreamClient) readLoop(ctx context.Context, wc *websocket.Conn, out chan<- message) error {
	for {
		_, raw, err := wc.ReadMessage()
		if err != nil {
			return err
		}
		f, err := hub.ParseFrame(raw)
		if err != nil {
			c.logger.Error("hub_frame_invalid", "Ignoring malformed hub frame", "", err, nil)
			continue
		}

		switch f.Subj {
		case hub.SubjOrderUpdate:
			var e models.OrderEvent
			if err := f.Decode(&e); err == nil {
				err = e.Validate()
			}
			if err != nil {
				c.logger.Error("hub_event_invalid", "Ignoring malformed order event", "", err, nil)
				continue
			}
			deliver(ctx, out, message{kind: kindEvent, event: e})
		case hub.SubjSubscriptionConfirmed:
			var body hub.DateBody
			f.Decode(&body)
			c.logger.Debug("subscription_confirmed", "Hub confirmed subscription", "", map[string]interface{}{
				"date": body.Date,
			})
		case hub.SubjError:
			var body hub.ErrorBody
			f.Decode(&body)
			c.logger.Error("hub_rejected_frame", "Hub rejected a frame", "", fmt.Errorf("%s", body.Message), nil)
		}
	}
}

func writeFrame(wc *websocket.Conn, subj string, body interface{}) error {
	raw, err := hub.EncodeFrame(subj, body)
	if err != nil {
		return err
	}
	wc.SetWriteDeadline(time.Now().Add(hub.DefaultWriteTimeout))
	return wc.WriteMessage(websocket.TextMessage, raw)
}

func deliver(ctx context.Context, out chan<- message, m message) {
	select {
	case out <- m:
	case <-ctx.Done():
	}
}
