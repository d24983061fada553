// Package scheduler runs the full health sweep on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"radar-backend/internal/health"
	"radar-backend/internal/shared/metrics"
	"radar-backend/internal/shared/telemetry"
)

// DefaultSpec runs the sweep daily at 03:00 UTC.
const DefaultSpec = "0 3 * * *"

// Sweeper recomputes every active client.
type Sweeper interface {
	Sweep(ctx context.Context) (health.SweepReport, error)
}

// Scheduler owns a cron runner with a single sweep entry. Overlapping runs are skipped.
type Scheduler struct {
	sweeper Sweeper
	spec    string
	timeout time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	cancel  context.CancelFunc
	running bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithTimeout bounds a single sweep run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New validates spec and returns a stopped Scheduler. An empty spec uses DefaultSpec.
func New(sweeper Sweeper, spec string, opts ...Option) (*Scheduler, error) {
	if sweeper == nil {
		return nil, errors.New("scheduler: sweeper is required")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	s := &Scheduler{sweeper: sweeper, spec: spec, timeout: time.Hour}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string { return s.spec }

// Start schedules the sweep. Runs use a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler is already running")
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	id, err := c.AddFunc(s.spec, func() { _, _ = s.runSweep(runCtx) })
	if err != nil {
		cancel()
		return fmt.Errorf("scheduler: add sweep: %w", err)
	}
	c.Start()
	s.cron, s.entry, s.cancel, s.running = c, id, cancel, true
	telemetry.Info("scheduler.started", map[string]any{
		"spec":     s.spec,
		"next_run": c.Entry(id).Next.Format(time.RFC3339),
	})
	return nil
}

// Next reports the next scheduled run, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Stop unschedules the sweep and waits for a running sweep to finish, or for ctx.
// A sweep still running when ctx ends is canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
		cancel()
		telemetry.Info("scheduler.stopped", nil)
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// RunOnce runs a sweep immediately.
func (s *Scheduler) RunOnce(ctx context.Context) (health.SweepReport, error) {
	return s.runSweep(ctx)
}

func (s *Scheduler) runSweep(ctx context.Context) (health.SweepReport, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		telemetry.Error("scheduler.sweep.failed", map[string]any{"error": err.Error()})
		return report, err
	}
	metrics.SetSweepClients(report.Clients)
	telemetry.Info("scheduler.sweep.completed", map[string]any{
		"clients":     report.Clients,
		"updated":     report.Updated,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, nil
}

// cronLogger routes cron's own logging through telemetry.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	telemetry.Debug("scheduler.cron", kvFields(msg, nil, keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	telemetry.Error("scheduler.cron", kvFields(msg, err, keysAndValues))
}

func kvFields(msg string, err error, kv []any) map[string]any {
	fields := map[string]any{"detail": msg}
	if err != nil {
		fields["error"] = err.Error()
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	return fields
}
