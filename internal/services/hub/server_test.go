package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"restaurant-orders/internal/auth"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type liveHub struct {
	registry *Registry
	verifier *auth.Verifier
	server   *httptest.Server
}

func newLiveHub(t *testing.T) *liveHub {
	t.Helper()
	verifier := auth.NewVerifier("test-secret")
	registry := NewRegistry(16, logger.Discard())
	r := mux.NewRouter()
	NewHandler(NewServer(registry, verifier, time.Second, logger.Discard()), registry, verifier, logger.Discard()).Register(r)
	srv := httptest.NewServer(httpx.WithLogging(logger.Discard(), r))
	t.Cleanup(srv.Close)
	return &liveHub{registry: registry, verifier: verifier, server: srv}
}

func (h *liveHub) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := h.verifier.Issue(role+"-1", role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (h *liveHub) dial(t *testing.T, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + h.token(t, role)
	wc, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { wc.Close() })
	return wc
}

func send(t *testing.T, wc *websocket.Conn, subj string, body interface{}) {
	t.Helper()
	raw, err := EncodeFrame(subj, body)
	if err != nil {
		t.Fatal(err)
	}
	if err := wc.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, wc *websocket.Conn) Frame {
	t.Helper()
	wc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := wc.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := ParseFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func subscribe(t *testing.T, wc *websocket.Conn, subj, date string) {
	t.Helper()
	send(t, wc, subj, DateBody{Date: date})
	var body DateBody
	f := recv(t, wc)
	if f.Subj != SubjSubscriptionConfirmed {
		t.Fatalf("expected confirmation, got %s %s", f.Subj, f.Body)
	}
	if err := f.Decode(&body); err != nil || body.Date != date {
		t.Fatalf("confirmation = %+v %v", body, err)
	}
}

func recvEvent(t *testing.T, wc *websocket.Conn) models.OrderEvent {
	t.Helper()
	f := recv(t, wc)
	if f.Subj != SubjOrderUpdate {
		t.Fatalf("expected order-update, got %s %s", f.Subj, f.Body)
	}
	var e models.OrderEvent
	if err := f.Decode(&e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestServer_DateScopedDelivery(t *testing.T) {
	h := newLiveHub(t)
	a := h.dial(t, auth.RoleStaff)
	b := h.dial(t, auth.RoleAdmin)
	subscribe(t, a, SubjSubscribeOrders, "2026-10-18")
	subscribe(t, b, SubjSubscribeOrders, "2026-10-19")

	d1 := event(models.EventOrderCreated, "2026-10-18")
	d2 := event(models.EventOrderCreated, "2026-10-19")
	h.registry.Publish(d1)
	h.registry.Publish(d2)

	if got := recvEvent(t, a); got.Data.Date != "2026-10-18" || got.ID() != d1.ID() {
		t.Fatalf("a got %+v", got.Data)
	}
	// b's first event must be its own day's, proving d1 was never queued for it
	if got := recvEvent(t, b); got.Data.Date != "2026-10-19" || got.ID() != d2.ID() {
		t.Fatalf("b got %+v", got.Data)
	}

	subscribe(t, a, SubjUpdateSubscription, "2026-10-19")
	stale := event(models.EventOrderUpdated, "2026-10-18")
	fresh := event(models.EventOrderUpdated, "2026-10-19")
	h.registry.Publish(stale)
	h.registry.Publish(fresh)

	if got := recvEvent(t, a); got.ID() != fresh.ID() {
		t.Fatalf("after switching a got %+v", got.Data)
	}
	if got := recvEvent(t, b); got.ID() != fresh.ID() {
		t.Fatalf("b got %+v", got.Data)
	}
}

func TestServer_RejectsBadFrames(t *testing.T) {
	h := newLiveHub(t)
	wc := h.dial(t, auth.RoleStaff)

	tests := []struct {
		name string
		raw  string
	}{
		{"unknown subject", "dance"},
		{"missing body", "subscribe-orders"},
		{"bad date", "subscribe-orders\n{\"date\":\"tomorrow\"}"},
		{"not a printer", "print-job-status\n{\"jobId\":\"1\",\"status\":\"printed\"}"},
		{"staff cannot register printers", "register-printer\n{\"name\":\"kitchen\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := wc.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			if f := recv(t, wc); f.Subj != SubjError {
				t.Fatalf("got %s %s", f.Subj, f.Body)
			}
		})
	}
	// the connection survives rejected frames
	subscribe(t, wc, SubjSubscribeOrders, "2026-10-18")
}

func TestServer_RequiresToken(t *testing.T) {
	h := newLiveHub(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous dial: err %v resp %v", err, resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token="+h.token(t, auth.RoleCustomer), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("customer dial: err %v resp %v", err, resp)
	}
}

func TestServer_DeregistersOnClose(t *testing.T) {
	h := newLiveHub(t)
	wc := h.dial(t, auth.RoleStaff)
	subscribe(t, wc, SubjSubscribeOrders, "2026-10-18")
	if h.registry.Size() != 1 {
		t.Fatalf("size = %d", h.registry.Size())
	}

	wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	wc.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.registry.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n, _ := h.registry.Publish(event(models.EventOrderCreated, "2026-10-18")); n != 0 {
		t.Fatalf("published to %d clients after close", n)
	}
}

func TestServer_PrinterPath(t *testing.T) {
	h := newLiveHub(t)
	dash := h.dial(t, auth.RoleAdmin)
	subscribe(t, dash, SubjSubscribeOrders, "2026-10-18")

	printer := h.dial(t, auth.RolePrinter)
	send(t, printer, SubjRegisterPrinter, PrinterBody{Name: "kitchen"})
	deadline := time.Now().Add(2 * time.Second)
	for len(h.registry.Printers()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("printer never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodGet, h.server.URL+"/printers", nil)
	req.Header.Set("Authorization", "Bearer "+h.token(t, auth.RoleStaff))
	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /printers: %v %v", err, resp)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodPost, h.server.URL+"/printers/kitchen/jobs", strings.NewReader(`{"lines":["2x Burger"]}`))
	req.Header.Set("Authorization", "Bearer "+h.token(t, auth.RoleStaff))
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST job: %v %v", err, resp)
	}
	resp.Body.Close()

	f := recv(t, printer)
	var job PrintJob
	if err := f.Decode(&job); err != nil || f.Subj != SubjPrintJob || string(job.Payload) != `{"lines":["2x Burger"]}` {
		t.Fatalf("printer got %s %s", f.Subj, f.Body)
	}

	send(t, printer, SubjPrintJobStatus, PrintJobStatus{JobID: job.JobID, Status: "printed"})
	f = recv(t, dash)
	var status PrintJobStatus
	if err := f.Decode(&status); err != nil || f.Subj != SubjPrintJobStatus || status.JobID != job.JobID || status.Printer != "kitchen" {
		t.Fatalf("dashboard got %s %s", f.Subj, f.Body)
	}

	req, _ = http.NewRequest(http.MethodPost, h.server.URL+"/printers/patio/jobs", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+h.token(t, auth.RoleStaff))
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown printer: %v %v", err, resp)
	}
	resp.Body.Close()
}

type fakeSource struct {
	events []models.OrderEvent
}

func (s *fakeSource) StartConsuming(ctx context.Context, handler messaging.EventHandler) error {
	for _, e := range s.events {
		if err := handler(ctx, e); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRelay_PublishesConsumedEvents(t *testing.T) {
	h := newLiveHub(t)
	wc := h.dial(t, auth.RoleStaff)
	subscribe(t, wc, SubjSubscribeOrders, "2026-10-18")

	e := event(models.EventOrderCreated, "2026-10-18")
	relay := NewRelay(&fakeSource{events: []models.OrderEvent{e}}, h.registry, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- relay.Run(ctx) }()

	if got := recvEvent(t, wc); got.ID() != e.ID() {
		t.Fatalf("got %+v", got.Data)
	}
	cancel()
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
}
