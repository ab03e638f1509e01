// Package health serves the liveness and readiness endpoints of the
// assistant.
//
//   - /healthz reports that the process is serving HTTP, together with
//     the current session state when a status source is set.
//   - /readyz returns 200 only when every registered [Checker] passes:
//     microphone stream open, reminder loop running, reminder store
//     reachable, recognition and synthesis backends not all tripped.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name is the key in the JSON response ("audio", "reminders", ...).
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Flag returns a checker that fails with reason while ok reports false.
func Flag(name string, ok func() bool, reason string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ok() {
			return errors.New(reason)
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use;
// checkers may be added while serving.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	state    func() string
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request, sequentially and in order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Add registers more checkers.
func (h *Handler) Add(checkers ...Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checkers...)
}

// SetState makes /healthz report fn() as "state".
func (h *Handler) SetState(fn func() string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = fn
}

// Healthz is the liveness probe. It always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	state := h.state
	h.mu.RUnlock()

	res := result{Status: "ok"}
	if state != nil {
		res.State = state()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz returns 200 only when every registered [Checker] passes. Each
// checker gets a [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	checks := make(map[string]string, len(checkers))
	allOK := true
	for _, c := range checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
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
