// Package health provides HTTP liveness and readiness handlers for the
// rapport host.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes, for
//     example once the definition library is loaded ([Gate]) and the tick
//     loop is advancing ([Heartbeat]).
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name appears as a key in the JSON response.
	Name string

	// Check probes the component. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each under a [checkTimeout]
// deadline derived from the request context, and returns 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
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

// ─── Gate ────────────────────────────────────────────────────────────────────

// ErrNotReady is reported by a [Gate] that has not been opened yet.
var ErrNotReady = errors.New("not ready")

// Gate is a readiness flag flipped by the component it guards. A new gate
// is closed.
type Gate struct {
	name string

	mu  sync.RWMutex
	err error
}

// NewGate returns a closed gate.
func NewGate(name string) *Gate {
	return &Gate{name: name, err: ErrNotReady}
}

// Set records the component's state: nil opens the gate, an error closes it
// and is reported by /readyz.
func (g *Gate) Set(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// Checker returns the gate as a [Checker].
func (g *Gate) Checker() Checker {
	return Checker{Name: g.name, Check: func(context.Context) error {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return g.err
	}}
}

// ─── Heartbeat ───────────────────────────────────────────────────────────────

// Heartbeat fails readiness when [Heartbeat.Beat] has not been called
// within its maximum age.
type Heartbeat struct {
	name string
	now  func() time.Time

	mu     sync.Mutex
	maxAge time.Duration
	last   time.Time
}

// NewHeartbeat returns a heartbeat that has never beaten.
func NewHeartbeat(name string, maxAge time.Duration) *Heartbeat {
	return &Heartbeat{name: name, maxAge: maxAge, now: time.Now}
}

// Beat records a sign of life.
func (h *Heartbeat) Beat() {
	h.mu.Lock()
	h.last = h.now()
	h.mu.Unlock()
}

// SetMaxAge changes the tolerated age, e.g. after the tick interval was
// reloaded.
func (h *Heartbeat) SetMaxAge(d time.Duration) {
	h.mu.Lock()
	h.maxAge = d
	h.mu.Unlock()
}

// Checker returns the heartbeat as a [Checker].
func (h *Heartbeat) Checker() Checker {
	return Checker{Name: h.name, Check: func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.last.IsZero() {
			return ErrNotReady
		}
		if age := h.now().Sub(h.last); age > h.maxAge {
			return fmt.Errorf("last beat %s ago, limit %s", age.Round(time.Millisecond), h.maxAge)
		}
		return nil
	}}
}
