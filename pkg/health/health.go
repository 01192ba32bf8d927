// Package health serves liveness and readiness checks.
//
// Every registered checker runs in its own goroutine at a fixed interval. A
// checker flips to unhealthy only after FailureThreshold consecutive failures
// and back to healthy after SuccessThreshold consecutive successes, so one
// slow ping does not take the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Option tunes a single checker.
type Option func(*checker)

// WithFailureThreshold sets how many consecutive failures mark a checker unhealthy.
func WithFailureThreshold(n int) Option {
	return func(p *checker) {
		if n > 0 {
			p.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes mark a checker healthy again.
func WithSuccessThreshold(n int) Option {
	return func(p *checker) {
		if n > 0 {
			p.successThreshold = n
		}
	}
}

// checker is a registered check and its state. The counters are owned by the
// checker's runner goroutine; healthy and lastErr are read by HTTP handlers.
type checker struct {
	name             string
	timeout          time.Duration
	check            CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func newChecker(name string, timeout time.Duration, check CheckFunc, opts []Option) *checker {
	p := &checker{
		name:             name,
		timeout:          timeout,
		check:            check,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(p)
	}
	p.healthy.Store(true)
	return p
}

func (p *checker) err() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// run executes the check once. Must only be called from the runner goroutine.
func (p *checker) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.successes = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.successes++
	if p.successes >= p.successThreshold {
		p.healthy.Store(true)
	}
}

// Health holds the liveness and readiness checks of the process.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*checker
	readiness []*checker
	cancel    context.CancelFunc
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a checker that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newChecker(name, timeout, check, opts))
}

// AddReadinessCheck registers a checker that decides whether the process
// should receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newChecker(name, timeout, check, opts))
}

// Start runs every registered checker immediately and then every interval
// until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checkers := append(append([]*checker(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range checkers {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}()
	}
}

// Stop terminates the checker runners. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness gate, e.g. off during shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness checker passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(&h.readiness))) == 0
}

func (h *Health) snapshot(list *[]*checker) []*checker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*checker(nil), (*list)...)
}

// Report is the body of a health endpoint.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Encode writes the report as JSON with checks in name order.
func (r Report) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(r.Status) })
		if len(r.Checks) == 0 {
			return
		}
		names := make([]string, 0, len(r.Checks))
		for name := range r.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(r.Checks[name]) })
				}
			})
		})
	})
}

// LiveEndpoint serves /livez: 200 when every liveness checker passes, 503
// with the failing checkers otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz. The manual gate counts as a failing checker
// named "_readiness" while closed.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeReport(w, failed)
}

// failures uses the last stored result; checkers are never run on request.
func failures(checkers []*checker) map[string]string {
	out := make(map[string]string)
	for _, p := range checkers {
		if p.healthy.Load() {
			continue
		}
		if err := p.err(); err != nil {
			out[p.name] = err.Error()
		} else {
			out[p.name] = "check is unhealthy"
		}
	}
	return out
}

func writeReport(w http.ResponseWriter, failed map[string]string) {
	r := Report{Status: "ok"}
	status := http.StatusOK
	if len(failed) > 0 {
		r = Report{Status: "unhealthy", Checks: failed}
		status = http.StatusServiceUnavailable
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	r.Encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
