package api

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker is anything that can report whether a dependency is up.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     []string          `json:"providers"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	db        HealthChecker // may be nil when persistence is disabled
	providers []string
	version   string
	startTime time.Time
}

func NewHealthHandler(db HealthChecker, providers []string, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Providers:     h.providers,
		Checks:        checks,
	})
}
