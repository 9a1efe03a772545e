// Package health aggregates readiness checks for the server's optional dependencies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Status struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
	Errors     []string          `json:"errors"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// CheckFunc returns nil when the component is usable
type CheckFunc func(ctx context.Context) error

type Checker struct {
	clock   clockwork.Clock
	timeout time.Duration

	mu     sync.RWMutex
	names  []string
	checks map[string]CheckFunc
}

func NewChecker(clock clockwork.Clock, timeout time.Duration) *Checker {
	return &Checker{
		clock:   clock,
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds a check. Registering a name twice replaces the earlier check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.checks[name]; !ok {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// Check runs every registered check in registration order
func (c *Checker) Check(ctx context.Context) Status {
	c.mu.RLock()
	names := append([]string(nil), c.names...)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	status := Status{
		Healthy:    true,
		Components: make(map[string]string, len(names)),
		Errors:     []string{},
		CheckedAt:  c.clock.Now(),
	}

	for i, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := checks[i](checkCtx)
		cancel()

		if err != nil {
			status.Healthy = false
			status.Components[name] = "unavailable"
			status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		status.Components[name] = "ok"
	}
	return status
}

func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := c.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		log.Warn().Strs("errors", status.Errors).Msg("readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}

// Export renders the last check as Prometheus text gauges
func (c *Checker) Export(ctx context.Context) string {
	status := c.Check(ctx)

	var b strings.Builder
	b.WriteString("# HELP bidroom_healthy Whether every dependency is available\n")
	b.WriteString("# TYPE bidroom_healthy gauge\n")
	fmt.Fprintf(&b, "bidroom_healthy %d\n", gauge(status.Healthy))

	c.mu.RLock()
	names := append([]string(nil), c.names...)
	c.mu.RUnlock()
	if len(names) == 0 {
		return b.String()
	}

	b.WriteString("\n# HELP bidroom_component_up Whether a dependency is available\n")
	b.WriteString("# TYPE bidroom_component_up gauge\n")
	for _, name := range names {
		fmt.Fprintf(&b, "bidroom_component_up{component=%q} %d\n", name, gauge(status.Components[name] == "ok"))
	}
	return b.String()
}

func gauge(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
