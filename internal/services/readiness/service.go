// Package readiness reports whether the process can serve traffic.
package readiness

import (
	"context"
	"time"
)

// Check is one named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Service runs dependency checks.
type Service struct {
	checks  []Check
	timeout time.Duration
}

// NewService constructs a readiness service.
func NewService(timeout time.Duration, checks ...Check) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{checks: checks, timeout: timeout}
}

// Status is the health endpoint payload.
type Status struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

// Status runs every check and reports the combined result.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{OK: true, Checks: make(map[string]string, len(s.checks))}
	for _, c := range s.checks {
		probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := c.Probe(probeCtx)
		cancel()
		if err != nil {
			st.OK = false
			st.Checks[c.Name] = err.Error()
			continue
		}
		st.Checks[c.Name] = "ok"
	}
	return st
}
