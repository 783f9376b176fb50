package tracking

import (
	"net/http"
	"strconv"

	"restaurant-orders/internal/auth"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handler handles HTTP requests for the order query API
type Handler struct {
	service  *Service
	verifier *auth.Verifier
	logger   *logger.Logger
}

func NewHandler(service *Service, verifier *auth.Verifier, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
		logger:   log,
	}
}

// Register mounts the query routes on r. Single orders are public so a
// customer can follow their order; listings and history need staff.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/orders", h.verifier.RequireRole(h.ListOrders, auth.RoleAdmin, auth.RoleStaff)).Methods(http.MethodGet)
	r.HandleFunc("/orders/number/{number}", h.GetOrderByNumber).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/history", h.verifier.RequireRole(h.GetOrderHistory, auth.RoleAdmin, auth.RoleStaff)).Methods(http.MethodGet)
}

// GetOrder handles GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	id, ok := h.orderID(w, r, requestID)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id, requestID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

// GetOrderByNumber handles GET /orders/number/{number}
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	number := mux.Vars(r)["number"]

	order, err := h.service.GetOrderByNumber(r.Context(), number, requestID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /orders?date=&status=&paymentStatus=&page=&pageSize=&after=
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	q := r.URL.Query()

	h.logger.Debug("request_received", "List orders request", requestID, map[string]interface{}{
		"query": r.URL.RawQuery,
	})

	verr := &models.ValidationError{}
	filter := models.OrderFilter{
		Date:     q.Get("date"),
		Page:     intParam(q.Get("page"), "page", verr),
		PageSize: intParam(q.Get("pageSize"), "pageSize", verr),
	}
	if v := q.Get("status"); v != "" {
		s := models.OrderStatus(v)
		filter.Status = &s
	}
	if v := q.Get("paymentStatus"); v != "" {
		p := models.PaymentStatus(v)
		filter.PaymentStatus = &p
	}
	if v := q.Get("after"); v != "" {
		c, err := models.ParseOrderCursor(v)
		if err != nil {
			verr.Add("after", "%v", err)
		} else {
			filter.After = &c
		}
	}
	if err := verr.OrNil(); err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	page, err := h.service.ListOrders(r.Context(), filter, requestID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

// GetOrderHistory handles GET /orders/{id}/history
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	id, ok := h.orderID(w, r, requestID)
	if !ok {
		return
	}

	history, err := h.service.GetOrderHistory(r.Context(), id, requestID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, history)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		verr := &models.ValidationError{}
		verr.Add("id", "invalid order id %q", raw)
		httpx.WriteError(w, h.logger, verr, requestID)
		return uuid.Nil, false
	}
	return id, true
}

// intParam parses an optional positive integer; empty means zero (use the default)
func intParam(raw, field string, verr *models.ValidationError) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		verr.Add(field, "must be a positive integer")
		return 0
	}
	return n
}
