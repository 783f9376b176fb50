package adminsync

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"github.com/gorilla/mux"
)

// Handler exposes the synced board for inspection
type Handler struct {
	syncer *Syncer
	logger *logger.Logger
}

func NewHandler(syncer *Syncer, log *logger.Logger) *Handler {
	return &Handler{syncer: syncer, logger: log}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/board", h.GetBoard).Methods(http.MethodGet)
	r.HandleFunc("/board/date", h.SetDate).Methods(http.MethodPut)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

type boardView struct {
	Date      string         `json:"date"`
	Connected bool           `json:"connected"`
	Orders    []models.Order `json:"orders"`
}

// GetBoard handles GET /board
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	orders := h.syncer.Orders()
	if orders == nil {
		orders = []models.Order{}
	}
	httpx.WriteJSON(w, http.StatusOK, boardView{
		Date:      h.syncer.Date(),
		Connected: h.syncer.Connected(),
		Orders:    orders,
	})
}

// SetDate handles PUT /board/date {"date":"YYYY-MM-DD"}
func (h *Handler) SetDate(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	var body struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&body); err != nil {
		verr := &models.ValidationError{}
		verr.Add("body", "invalid JSON format: %v", err)
		httpx.WriteError(w, h.logger, verr, requestID)
		return
	}
	if err := h.syncer.SetDate(r.Context(), body.Date); err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HealthCheck handles GET /health; a disconnected hub degrades the board
// to polling but does not make it unhealthy
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.syncer.Connected() {
		status = "degraded"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "admin-sync",
		"date":      h.syncer.Date(),
	})
}
