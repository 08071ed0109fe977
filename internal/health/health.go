// Package health serves the daemon's liveness and readiness probes.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// registered [Checker] concurrently and answers 503 when a required check
// fails. A failing optional check, such as the translation cache that the
// translator can work without, reports "degraded" and keeps the daemon ready.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each readiness check.
const DefaultTimeout = 5 * time.Second

// Report states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker probes one dependency. Check returns nil when it is usable and
// must honour ctx.
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// CheckResult is one checker's entry in a [Report].
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	started  time.Time
	now      func() time.Time
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultTimeout,
		started:  time.Now(),
		now:      time.Now,
	}
}

// Healthz reports liveness and process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	uptime := h.now().Sub(h.started).Truncate(time.Second)
	writeJSON(w, http.StatusOK, Report{Status: StatusOK, Uptime: uptime.String()})
}

// Readyz runs all checkers and reports the aggregate.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Evaluate runs every checker concurrently, each under the handler's timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu  sync.Mutex
		g   errgroup.Group
		rep = Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := h.now()
			err := c.Check(cctx)
			res := CheckResult{
				Status:     StatusOK,
				Optional:   c.Optional,
				DurationMS: h.now().Sub(start).Milliseconds(),
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Status, res.Error = StatusFail, err.Error()
				rep.Status = worse(rep.Status, c.Optional)
			}
			rep.Checks[c.Name] = res
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// worse folds one failed check into the aggregate status.
func worse(current string, optional bool) string {
	if !optional || current == StatusFail {
		return StatusFail
	}
	return StatusDegraded
}

// Register mounts both probes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
