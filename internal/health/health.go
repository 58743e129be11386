// Package health provides the HTTP liveness and readiness probes for the
// call agent's diagnostics endpoint.
//
//   - /healthz — liveness; a process that serves HTTP is alive.
//   - /readyz  — readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map with one entry per named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and must respect context cancellation.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "channel", "audio").
	Name string

	Check func(ctx context.Context) error
}

// Flag is a settable readiness gate. The agent flips it once the live
// channel is established and clears it on teardown, so orchestration knows
// when the call is actually up rather than merely configured.
type Flag struct {
	ready atomic.Bool
	name  string
	err   error
}

// NewFlag creates a Flag that reports err until Set(true) is called.
func NewFlag(name string, err error) *Flag {
	if err == nil {
		err = errors.New(name + " not ready")
	}
	return &Flag{name: name, err: err}
}

// Set updates the gate.
func (f *Flag) Set(ready bool) { f.ready.Store(ready) }

// Checker exposes the gate as a [Checker].
func (f *Flag) Checker() Checker {
	return Checker{
		Name: f.name,
		Check: func(context.Context) error {
			if !f.ready.Load() {
				return f.err
			}
			return nil
		},
	}
}

// response is the JSON body for both probes.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers in order on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz returns 200 only when every registered checker passes, 503
// otherwise. Each check runs with a [checkTimeout] deadline derived from
// the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := response{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
