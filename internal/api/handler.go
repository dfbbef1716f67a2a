// Package api provides HTTP handlers for the signdesk chat API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/signdesk/internal/chat"
	"github.com/ashureev/signdesk/internal/identity"
	"github.com/containerd/errdefs"
)

const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat endpoints.
type Handler struct {
	chat    *chat.Orchestrator
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a Handler. limiter may be nil to disable throttling.
func NewHandler(orch *chat.Orchestrator, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:    orch,
		limiter: limiter,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error from the chat layer to an HTTP status.
func statusFor(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientIP returns the address identity.Middleware recorded for r, or the
// remote address when the middleware is not installed.
func clientIP(r *http.Request) string {
	if ip := identity.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return identity.IPFromRequest(r)
}

// decode reads a bounded JSON body into v and reports failures itself.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
