package httpx

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/venturekit/evosearch/internal/core"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandlers reports readiness of the process's dependencies.
type HealthHandlers struct {
	DB    *sql.DB
	Cache core.CacheRepository
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health returns 200 when all configured dependencies respond, 503 otherwise.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.Cache != nil {
		if err := h.Cache.Health(ctx); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}

	status := healthStatus{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !healthy {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}
