package queue

import (
	"context"
	"time"

	"radar-backend/internal/shared/telemetry"
)

const defaultAsyncTimeout = 10 * time.Second

// AsyncEnqueue sends job in the background so callers never block on the queue.
// The returned channel yields the enqueue error (or nil) once and may be ignored.
func AsyncEnqueue(p Producer, job Job, timeout time.Duration) <-chan error {
	if timeout <= 0 {
		timeout = defaultAsyncTimeout
	}
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := p.Enqueue(ctx, job, 0)
		if err != nil {
			telemetry.Error("queue.enqueue.failed", map[string]any{
				"job_id":    job.ID,
				"note_id":   job.NoteID,
				"tenant_id": job.TenantID,
				"attempt":   job.Attempt,
				"error":     err,
			})
		}
		done <- err
	}()
	return done
}
