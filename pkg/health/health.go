// Package health serves liveness and readiness probes. Each service
// registers the dependencies it needs; a failing critical dependency takes
// the service out of rotation, a failing optional one only degrades it.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Component is the outcome of one check.
type Component struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the aggregate of all checks, components sorted by name.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
	CheckedAt  time.Time   `json:"checked_at"`
}

type registration struct {
	check    Check
	critical bool
}

type Checker struct {
	mu      sync.RWMutex
	checks  map[string]registration
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker returns a Checker that gives each check at most timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  make(map[string]registration),
		timeout: timeout,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds a dependency whose failure makes the service unready.
func (c *Checker) Register(name string, check Check) {
	c.add(name, check, true)
}

// RegisterOptional adds a dependency whose failure only degrades the service.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.add(name, check, false)
}

func (c *Checker) add(name string, check Check, critical bool) {
	c.mu.Lock()
	c.checks[name] = registration{check: check, critical: critical}
	c.mu.Unlock()
}

// Run executes every check concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	regs := make([]registration, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		regs = append(regs, c.checks[name])
	}
	c.mu.RUnlock()

	comps := make([]Component, len(names))
	var g errgroup.Group
	for i := range names {
		g.Go(func() error {
			comps[i] = c.probe(ctx, names[i], regs[i])
			return nil
		})
	}
	g.Wait()

	report := Report{Status: StatusUp, Components: comps, CheckedAt: time.Now().UTC()}
	for _, comp := range comps {
		switch {
		case comp.Status == StatusUp:
		case comp.Critical:
			report.Status = StatusDown
		case report.Status == StatusUp:
			report.Status = StatusDegraded
		}
	}
	return report
}

func (c *Checker) probe(ctx context.Context, name string, reg registration) Component {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	err := reg.check(ctx)
	comp := Component{
		Name:      name,
		Status:    StatusUp,
		Critical:  reg.critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		comp.Status = StatusDegraded
		if reg.critical {
			comp.Status = StatusDown
		}
		comp.Message = err.Error()
		c.logger.Warn("health check failed", "check", name, "critical", reg.critical, "error", err)
	}
	return comp
}

// LiveHandler answers 200 while the process can serve HTTP at all.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 200 unless a critical check fails. A degraded
// service stays ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
