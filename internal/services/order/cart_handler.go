package order

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"net/http"
	"sync"

	"restaurant-orders/internal/cart"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/services/order/internal/validation"

	"github.com/gorilla/mux"
)

const sessionStripes = 64

// CartHandler serves the cart session API. Each request opens the session's
// cart from the store; requests on one session are serialized.
type CartHandler struct {
	service *Service
	store   cart.Store
	logger  *logger.Logger
	locks   [sessionStripes]sync.Mutex
}

func NewCartHandler(service *Service, store cart.Store, log *logger.Logger) *CartHandler {
	return &CartHandler{service: service, store: store, logger: log}
}

// Register mounts the cart routes on r
func (h *CartHandler) Register(r *mux.Router) {
	r.HandleFunc("/carts/{session}", h.withCart(h.getCart)).Methods(http.MethodGet)
	r.HandleFunc("/carts/{session}", h.withCart(h.clearCart)).Methods(http.MethodDelete)
	r.HandleFunc("/carts/{session}/items", h.withCart(h.addItem)).Methods(http.MethodPost)
	r.HandleFunc("/carts/{session}/items/{itemId}", h.withCart(h.updateItem)).Methods(http.MethodPatch)
	r.HandleFunc("/carts/{session}/items/{itemId}", h.withCart(h.removeItem)).Methods(http.MethodDelete)
	r.HandleFunc("/carts/{session}/checkout", h.withCart(h.checkout)).Methods(http.MethodPost)
}

type cartView struct {
	Session string       `json:"session"`
	Items   []cart.Item  `json:"items"`
	Summary cart.Summary `json:"summary"`
}

type cartFunc func(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string)

func (h *CartHandler) lock(session string) *sync.Mutex {
	f := fnv.New32a()
	f.Write([]byte(session))
	return &h.locks[f.Sum32()%sessionStripes]
}

func (h *CartHandler) withCart(next cartFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := httpx.RequestID(r)
		session := mux.Vars(r)["session"]

		mu := h.lock(session)
		mu.Lock()
		defer mu.Unlock()

		c, err := cart.Open(r.Context(), h.store, session, h.service.Policy())
		if err != nil {
			h.logger.Error("cart_load_failed", "Failed to load cart", requestID, err, map[string]interface{}{
				"session": session,
			})
			httpx.WriteError(w, h.logger, err, requestID)
			return
		}
		next(w, r, c, requestID)
	}
}

func (h *CartHandler) writeCart(w http.ResponseWriter, status int, c *cart.Cart, requestID string) {
	summary, err := c.Summary()
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	items := c.Items()
	if items == nil {
		items = []cart.Item{}
	}
	httpx.WriteJSON(w, status, cartView{Session: c.Session(), Items: items, Summary: summary})
}

func (h *CartHandler) getCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string) {
	h.writeCart(w, http.StatusOK, c, requestID)
}

func (h *CartHandler) clearCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string) {
	if err := c.Clear(r.Context()); err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string) {
	var in cart.Item
	if !h.decode(w, r, &in, requestID) {
		return
	}
	if _, err := c.AddItem(r.Context(), in); err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	h.writeCart(w, http.StatusCreated, c, requestID)
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string) {
	var body struct {
		Quantity *int `json:"quantity"`
	}
	if !h.decode(w, r, &body, requestID) {
		return
	}
	if body.Quantity == nil {
		verr := &models.ValidationError{}
		verr.Add("quantity", "is required")
		httpx.WriteError(w, h.logger, verr, requestID)
		return
	}
	if err := c.UpdateQuantity(r.Context(), mux.Vars(r)["itemId"], *body.Quantity); err != nil {
		h.writeCartError(w, r, err, requestID)
		return
	}
	h.writeCart(w, http.StatusOK, c, requestID)
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string) {
	if err := c.RemoveItem(r.Context(), mux.Vars(r)["itemId"]); err != nil {
		h.writeCartError(w, r, err, requestID)
		return
	}
	h.writeCart(w, http.StatusOK, c, requestID)
}

// checkout turns the cart into an order and clears it once the order is stored
func (h *CartHandler) checkout(w http.ResponseWriter, r *http.Request, c *cart.Cart, requestID string) {
	var info cart.CustomerInfo
	if !h.decode(w, r, &info, requestID) {
		return
	}

	req, err := c.ToOrderPayload(info)
	if err != nil {
		h.writeCartError(w, r, err, requestID)
		return
	}
	cmd, err := validation.ParseCreateOrder(&req)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.service.CreateOrder(ctx, cmd, requestID)
	if err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	if err := c.Clear(ctx); err != nil {
		// the order exists; a stale cart is only an inconvenience
		h.logger.Error("cart_clear_failed", "Failed to clear cart after checkout", requestID, err, map[string]interface{}{
			"session":      c.Session(),
			"order_number": order.OrderNumber,
		})
	}
	httpx.WriteJSON(w, http.StatusCreated, order)
}

func (h *CartHandler) writeCartError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		httpx.WriteError(w, h.logger, models.NewNotFound("cart_item", mux.Vars(r)["itemId"]), requestID)
	case errors.Is(err, cart.ErrEmptyCart):
		verr := &models.ValidationError{}
		verr.Add("items", "cart is empty")
		httpx.WriteError(w, h.logger, verr, requestID)
	default:
		httpx.WriteError(w, h.logger, err, requestID)
	}
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}, requestID string) bool {
	if !isJSON(r) {
		httpx.WriteErrorMessage(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", requestID)
		return false
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		verr := &models.ValidationError{}
		verr.Add("body", "invalid JSON format: %v", err)
		httpx.WriteError(w, h.logger, verr, requestID)
		return false
	}
	return true
}
