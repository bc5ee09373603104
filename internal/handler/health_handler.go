package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"companion-auth/pkg/apierror"
)

// Pinger is a dependency the service cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := healthStatus{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	var failed []string
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			status.Checks[name] = "down"
			failed = append(failed, name)
			continue
		}
		status.Checks[name] = "up"
	}

	if len(failed) > 0 {
		slices.Sort(failed)
		writeError(w, r, apierror.ServiceUnavailable(strings.Join(failed, ",")))
		return
	}
	writeSuccess(w, http.StatusOK, status)
}
