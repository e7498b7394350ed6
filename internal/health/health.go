// Package health reports reachability of the backing stores.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"splitpay/pkg/platform/httputil"
)

// Checker is satisfied by the postgres, redis and kafka platform clients.
type Checker interface {
	Health(ctx context.Context) error
}

const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Time       time.Time         `json:"time"`
}

type Handler struct {
	checks  map[string]Checker
	timeout time.Duration
	now     func() time.Time
}

func NewHandler(timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Handler{checks: make(map[string]Checker), timeout: timeout, now: time.Now}
}

// Add registers a component. A nil checker is reported as disabled.
func (h *Handler) Add(name string, c Checker) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

// Check runs every registered check. The overall status is "down" when any
// enabled component fails.
func (h *Handler) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := Report{Status: StatusUp, Components: make(map[string]string, len(h.checks)), Time: h.now().UTC()}
	for name, c := range h.checks {
		if c == nil {
			report.Components[name] = StatusDisabled
			continue
		}
		if err := c.Health(ctx); err != nil {
			report.Components[name] = StatusDown
			report.Status = StatusDown
			continue
		}
		report.Components[name] = StatusUp
	}
	return report
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())
	status := http.StatusOK
	if report.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, report)
}
