// Package httpx holds the JSON response and request logging helpers shared by
// the HTTP handlers of every service mode.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

type requestIDKey struct{}

// RequestID returns the id assigned by WithLogging, or a fresh one
func RequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return logger.GenerateRequestID()
}

// WriteJSON writes v with status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error     string      `json:"error"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// WriteErrorMessage writes a plain error response
func WriteErrorMessage(w http.ResponseWriter, status int, message, requestID string) {
	WriteJSON(w, status, ErrorBody{
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	})
}

// StatusFor maps the error taxonomy onto HTTP statuses
func StatusFor(err error) int {
	var (
		verr     *models.ValidationError
		nf       *models.NotFoundError
		trans    *models.InvalidTransitionError
		conflict *models.ConflictError
		conn     *models.ConnectivityError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &trans), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &conn):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error. Typed errors carry their details;
// anything else is logged and hidden behind a generic message.
func WriteError(w http.ResponseWriter, log *logger.Logger, err error, requestID string) {
	body := ErrorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}

	var (
		verr     *models.ValidationError
		nf       *models.NotFoundError
		trans    *models.InvalidTransitionError
		conflict *models.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		body.Error = "validation failed"
		body.Details = verr.Problems
	case errors.As(err, &nf):
		body.Error = "not found"
		body.Details = nf.Refs
	case errors.As(err, &trans):
		body.Error = "InvalidStatusTransition"
		body.Details = trans
	case errors.As(err, &conflict):
		body.Error = conflict.Error()
	}

	status := StatusFor(err)
	if body.Error == "" {
		if status == http.StatusInternalServerError {
			log.Error("request_failed", "Unhandled error", requestID, err, nil)
			body.Error = "Internal server error"
		} else {
			body.Error = err.Error()
		}
	}
	WriteJSON(w, status, body)
}

// WithLogging assigns a request id and logs the start and completion of each request
func WithLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID))
		w.Header().Set("X-Request-ID", requestID)

		log.Debug("request_started", fmt.Sprintf("%s %s", r.Method, r.URL.Path), requestID, map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"user_agent":  r.Header.Get("User-Agent"),
		})

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		log.Debug("request_completed", fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, rw.statusCode), requestID, map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": rw.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// responseWriter captures the status code. It forwards Hijack so WebSocket
// upgrades work behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
