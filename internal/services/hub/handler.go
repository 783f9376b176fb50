package hub

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"restaurant-orders/internal/auth"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxJobBytes = 256 << 10

// Handler exposes the hub's HTTP routes
type Handler struct {
	server   *Server
	registry *Registry
	verifier *auth.Verifier
	logger   *logger.Logger
}

func NewHandler(server *Server, registry *Registry, verifier *auth.Verifier, log *logger.Logger) *Handler {
	return &Handler{
		server:   server,
		registry: registry,
		verifier: verifier,
		logger:   log,
	}
}

// Register mounts the hub routes on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ws", h.server.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/printers", h.verifier.RequireRole(h.ListPrinters, auth.RoleAdmin, auth.RoleStaff)).Methods(http.MethodGet)
	r.HandleFunc("/printers/{name}/jobs", h.verifier.RequireRole(h.SendPrintJob, auth.RoleAdmin, auth.RoleStaff)).Methods(http.MethodPost)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// ListPrinters handles GET /printers
func (h *Handler) ListPrinters(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"printers": h.registry.Printers(),
	})
}

// SendPrintJob handles POST /printers/{name}/jobs; the body is relayed as the job payload
func (h *Handler) SendPrintJob(w http.ResponseWriter, r *http.Request) {
	requestID := httpx.RequestID(r)
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBytes))
	if err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}
	if !json.Valid(body) {
		verr := &models.ValidationError{}
		verr.Add("body", "must be a JSON document")
		httpx.WriteError(w, h.logger, verr, requestID)
		return
	}

	job := PrintJob{JobID: uuid.NewString(), Payload: json.RawMessage(body)}
	if err := h.registry.SendToPrinter(name, job); err != nil {
		httpx.WriteError(w, h.logger, err, requestID)
		return
	}

	h.logger.Info("print_job_sent", "Print job relayed to printer", requestID, map[string]interface{}{
		"printer":      name,
		"job_id":       job.JobID,
		"requested_by": auth.Actor(r.Context()),
	})
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"jobId": job.JobID})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "broadcast-hub",
		"clients":   h.registry.Size(),
		"printers":  len(h.registry.Printers()),
		"dropped":   h.registry.Dropped(),
	})
}
