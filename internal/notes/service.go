package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"radar-backend/internal/queue"
	"radar-backend/internal/shared/telemetry"
)

// Service exposes the operator-facing note operations.
type Service struct {
	Store    Store
	Producer queue.Producer
	Now      func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, producer queue.Producer) *Service {
	return &Service{Store: store, Producer: producer, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Get returns a tenant's note.
func (s *Service) Get(ctx context.Context, tenantID, noteID string) (Note, error) {
	return s.Store.GetNote(ctx, tenantID, noteID)
}

// Retrigger moves a failed note back to pending and enqueues a fresh first attempt.
func (s *Service) Retrigger(ctx context.Context, tenantID, noteID string) (queue.Job, error) {
	note, err := s.Store.GetNote(ctx, tenantID, noteID)
	if err != nil {
		return queue.Job{}, err
	}
	if note.Status != StatusFailed {
		return queue.Job{}, ErrNotRetryable
	}

	now := s.now()
	ok, err := s.Store.CompareAndSetStatus(ctx, Transition{
		NoteID:        note.ID,
		TenantID:      tenantID,
		From:          StatusFailed,
		To:            StatusPending,
		ExpectedToken: note.ClaimToken,
		At:            now,
	})
	if err != nil {
		return queue.Job{}, fmt.Errorf("reset note: %w", err)
	}
	if !ok {
		return queue.Job{}, ErrNotRetryable
	}

	job := queue.NewJob(tenantID, note.ID, now)
	if err := s.Producer.Enqueue(ctx, job, 0); err != nil {
		// The note stays pending; `radarctl enqueue` re-sends the job.
		telemetry.Error("notes.retrigger.enqueue_failed", map[string]any{
			"tenant_id": tenantID,
			"note_id":   note.ID,
			"error":     err,
		})
		return queue.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	telemetry.Info("notes.retrigger.enqueued", map[string]any{
		"tenant_id": tenantID,
		"note_id":   note.ID,
		"job_id":    job.ID,
	})
	return job, nil
}

// Enqueue sends a first-attempt job for a pending note, for repairing notes whose
// original enqueue was lost.
func (s *Service) Enqueue(ctx context.Context, tenantID, noteID string) (queue.Job, error) {
	note, err := s.Store.GetNote(ctx, tenantID, noteID)
	if err != nil {
		return queue.Job{}, err
	}
	if note.Status != StatusPending {
		return queue.Job{}, fmt.Errorf("%w: note is %s", ErrConflict, note.Status)
	}
	job := queue.NewJob(tenantID, note.ID, s.now())
	if err := s.Producer.Enqueue(ctx, job, 0); err != nil {
		return queue.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// NoteCreated is the note-creation hook. It never blocks the caller.
func (s *Service) NoteCreated(tenantID, noteID string) <-chan error {
	return queue.AsyncEnqueue(s.Producer, queue.NewJob(tenantID, noteID, s.now()), 0)
}

// IsNotFound reports whether err means the note is unknown to the tenant.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
