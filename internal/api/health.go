package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// StoreStatus reports which durable tier is serving. store.Coordinator
// satisfies it.
type StoreStatus interface {
	PrimaryReachable() bool
}

// HealthChecker probes a downstream dependency. agent.GrpcClient satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store     StoreStatus
	responder HealthChecker
	crm       bool
	sheets    bool
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler. responder may be nil when
// reply generation is not configured.
func NewHealthHandler(store StoreStatus, responder HealthChecker, crmEnabled, sheetsEnabled bool) *HealthHandler {
	return &HealthHandler{
		store:     store,
		responder: responder,
		crm:       crmEnabled,
		sheets:    sheetsEnabled,
		timeout:   defaultHealthCheckTimeout,
	}
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// Health returns the health status of the API and its dependencies. A
// primary store outage degrades the service without failing it, since
// writes land on the fallback tier.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{
		"api":    "ok",
		"crm":    enabled(h.crm),
		"sheets": enabled(h.sheets),
	}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.store.PrimaryReachable() {
		checks["database"] = "ok"
	} else {
		checks["database"] = "fallback"
		status["status"] = "degraded"
	}

	switch {
	case h.responder == nil:
		checks["responder"] = "disabled"
		status["status"] = "degraded"
	default:
		if state, err := h.responder.Health(ctx); err != nil {
			slog.Error("Health check failed", "dependency", "responder", "error", err)
			checks["responder"] = "unreachable"
			status["status"] = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["responder"] = state
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
