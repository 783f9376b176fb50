package hub

import (
	"net/http"
	"time"

	"restaurant-orders/internal/auth"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	maxFrameBytes       = 64 << 10
)

// Server accepts WebSocket connections for dashboards and printers
type Server struct {
	registry     *Registry
	verifier     *auth.Verifier
	logger       *logger.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
}

func NewServer(registry *Registry, verifier *auth.Verifier, writeTimeout time.Duration, log *logger.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Server{
		registry: registry,
		verifier: verifier,
		logger:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		pingInterval: DefaultPingInterval,
	}
}

// ServeWS handles GET /ws. Staff and admins may subscribe to orders; printers
// may only register and report job status.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)

	claims, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		httpx.WriteErrorMessage(w, http.StatusUnauthorized, err.Error(), requestID)
		return
	}
	switch claims.Role {
	case auth.RoleAdmin, auth.RoleStaff, auth.RolePrinter:
	default:
		httpx.WriteErrorMessage(w, http.StatusForbidden, "role may not connect to the hub", requestID)
		return
	}

	wc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws_upgrade_failed", "WebSocket upgrade failed", requestID, err, nil)
		return
	}

	c := s.registry.Register(claims.Role)
	s.logger.Info("client_connected", "Hub client connected", requestID, map[string]interface{}{
		"client_id": c.ID(),
		"role":      claims.Role,
		"subject":   claims.Subject,
		"clients":   s.registry.Size(),
	})

	done := make(chan struct{})
	go func() {
		s.writeLoop(wc, c)
		close(done)
	}()

	err = s.readLoop(wc, c, requestID)
	s.registry.Unregister(c)
	<-done

	fields := map[string]interface{}{"client_id": c.ID(), "clients": s.registry.Size()}
	if err != nil {
		s.logger.Error("client_read_failed", "Hub client read failed", requestID, err, fields)
	}
	s.logger.Info("client_disconnected", "Hub client disconnected", requestID, fields)
}

func (s *Server) readLoop(wc *websocket.Conn, c *Client, requestID string) error {
	wc.SetReadLimit(maxFrameBytes)
	pongWait := s.pingInterval * 2
	wc.SetReadDeadline(time.Now().Add(pongWait))
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		op, raw, err := wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return err
			}
			// client went away
			return nil
		}
		if op != websocket.TextMessage {
			s.reject(c, "binary frames are not supported")
			continue
		}
		wc.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := ParseFrame(raw)
		if err != nil {
			s.reject(c, err.Error())
			continue
		}
		s.dispatch(c, frame, requestID)
	}
}

func (s *Server) dispatch(c *Client, f Frame, requestID string) {
	switch f.Subj {
	case SubjSubscribeOrders, SubjUpdateSubscription:
		if c.role == auth.RolePrinter {
			s.reject(c, "printers may not subscribe to orders")
			return
		}
		var body DateBody
		if err := f.Decode(&body); err != nil {
			s.reject(c, err.Error())
			return
		}
		if err := s.registry.Subscribe(c, body.Date); err != nil {
			s.reject(c, err.Error())
			return
		}
		s.logger.Debug("subscription_changed", "Client subscribed to business day", requestID, map[string]interface{}{
			"client_id": c.ID(),
			"date":      body.Date,
		})

	case SubjRegisterPrinter:
		if c.role != auth.RolePrinter && c.role != auth.RoleAdmin {
			s.reject(c, "only printers may register")
			return
		}
		var body PrinterBody
		if err := f.Decode(&body); err != nil {
			s.reject(c, err.Error())
			return
		}
		if err := s.registry.RegisterPrinter(c, body.Name); err != nil {
			s.reject(c, err.Error())
			return
		}
		s.logger.Info("printer_registered", "Printer registered", requestID, map[string]interface{}{
			"client_id": c.ID(),
			"printer":   body.Name,
		})

	case SubjPrintJobStatus:
		var body PrintJobStatus
		if err := f.Decode(&body); err != nil {
			s.reject(c, err.Error())
			return
		}
		n, err := s.registry.ForwardJobStatus(c, body)
		if err != nil {
			s.reject(c, err.Error())
			return
		}
		s.logger.Debug("print_status_forwarded", "Print job status forwarded", requestID, map[string]interface{}{
			"job_id":     body.JobID,
			"status":     body.Status,
			"recipients": n,
		})

	default:
		s.reject(c, "unknown subject "+f.Subj)
	}
}

func (s *Server) reject(c *Client, msg string) {
	s.registry.Reply(c, SubjError, ErrorBody{Message: msg})
}

// writeLoop drains the outbox and pings; it ends when the outbox is closed
// or a write fails, and closes the socket either way
func (s *Server) writeLoop(wc *websocket.Conn, c *Client) {
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	defer wc.Close()

	for {
		select {
		case frame, ok := <-c.Outbox():
			if !ok {
				wc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			wc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := wc.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.drain(c)
				return
			}
		case <-t.C:
			wc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.drain(c)
				return
			}
		}
	}
}

// drain unregisters c after a failed write and discards whatever is still queued
func (s *Server) drain(c *Client) {
	s.registry.Unregister(c)
	for range c.Outbox() {
	}
}
