// Package health serves the liveness and readiness endpoints.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] concurrently and answers
//     200 only when all of them pass, 503 otherwise.
//
// Both reply with {"status": "ok"|"fail", "checks": {...}}; /readyz reports
// each check's outcome, error and duration.
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

	"github.com/MrWong99/speakwell/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is one entry of the readiness report.
type CheckResult struct {
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Report is the body of both endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the endpoints. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: statusOK})
}

// Readyz answers 200 when every checker passes within [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	code := http.StatusOK
	if rep.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Run evaluates all checkers concurrently. A failing checker does not cancel
// the others.
func (h *Handler) Run(ctx context.Context) Report {
	rep := Report{Status: statusOK, Checks: make(map[string]CheckResult, len(h.checkers))}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			res := runCheck(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			if res.Status != statusOK {
				rep.Status = statusFail
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Status:     statusOK,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = statusFail
		res.Error = err.Error()
	}
	return res
}

// Pinger reports whether a dependency such as the practice store is
// reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts p to a [Checker].
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrAllBreakersOpen is reported by [BreakerCheck] when no analyzer backend
// accepts requests.
var ErrAllBreakersOpen = errors.New("all analyzer circuit breakers are open")

// BreakerCheck fails only when every backend reported by states is open. One
// open breaker is fine while another backend still answers.
func BreakerCheck(name string, states func() map[string]resilience.State) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			for _, s := range st {
				if s != resilience.StateOpen {
					return nil
				}
			}
			if len(st) == 0 {
				return nil
			}
			return fmt.Errorf("%w (%d backends)", ErrAllBreakersOpen, len(st))
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
