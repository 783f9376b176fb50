package order

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	"restaurant-orders/internal/auth"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/services/order/internal/validation"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// Handler handles HTTP requests for the order write path
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

// Register mounts the order routes on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}", h.verifier.RequireRole(h.UpdateOrder, auth.RoleAdmin, auth.RoleStaff)).Methods(http.MethodPatch)
	r.HandleFunc("/orders/{id}", h.verifier.RequireRole(h.DeleteOrder, auth.RoleAdmin)).Methods(http.MethodDelete)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)

	if !isJSON(r) {
		httpx.WriteErrorMessage(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", requestID)
		return
	}

	h.logger.Debug("order_received", "Received order creation request", requestID, map[string]interface{}{
		"content_length": r.ContentLength,
		"remote_addr":    r.RemoteAddr,
	})

	var req models.CreateOrderRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.logger.Debug("validation_failed", "Failed to parse request body", requestID, map[string]interface{}{
			"error": err.Error(),
		})
		verr := &models.ValidationError{}
		verr.Add("body", "invalid JSON format: %v", err)
		httpx.WriteError(w, h.logger, verr, requestID)
		return
	}

	cmd, err := validation.ParseCreateOrder(&req)
	if err != nil {
		h.logger.Debug("validation_failed", "Request validation failed", requestID, map[string]interface{}{
			"error": err.Error(),
		})
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.service.CreateOrder(ctx, cmd, requestID)
	if err != nil {
		h.logger.Debug("order_creation_failed", "Failed to create order", requestID, map[string]interface{}{
			"error": err.Error(),
		})
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	if err := httpx.WriteJSON(w, http.StatusCreated, order); err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
	}
}

// UpdateOrder handles PATCH /orders/{id}
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)

	id, ok := h.orderID(w, r, requestID)
	if !ok {
		return
	}
	if !isJSON(r) {
		httpx.WriteErrorMessage(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", requestID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}
	patch, err := validation.ParseOrderPatch(body)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.service.UpdateOrder(ctx, id, patch, auth.Actor(r.Context()), requestID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

// DeleteOrder handles DELETE /orders/{id}
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)

	id, ok := h.orderID(w, r, requestID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.service.DeleteOrder(ctx, id, auth.Actor(r.Context()), requestID); err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := h.service.HealthCheck(ctx)
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "order-service",
		"healthy":   healthy,
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
		response["status"] = "unhealthy"
	}
	httpx.WriteJSON(w, status, response)
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

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
