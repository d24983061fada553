package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobVersion = 1

// Job asks the worker to analyze one note. Jobs are values; a retry is a new Job.
type Job struct {
	ID         string
	NoteID     string
	TenantID   string
	Attempt    int
	Provider   string
	EnqueuedAt time.Time
}

// NewJob returns the first attempt for a note.
func NewJob(tenantID, noteID string, now time.Time) Job {
	return Job{
		ID:         uuid.NewString(),
		NoteID:     noteID,
		TenantID:   tenantID,
		Attempt:    1,
		EnqueuedAt: now.UTC(),
	}
}

// Next returns the follow-up attempt, starting at provider.
func (j Job) Next(provider string, now time.Time) Job {
	return Job{
		ID:         uuid.NewString(),
		NoteID:     j.NoteID,
		TenantID:   j.TenantID,
		Attempt:    j.Attempt + 1,
		Provider:   provider,
		EnqueuedAt: now.UTC(),
	}
}

// Validate reports a job that can never be processed.
func (j Job) Validate() error {
	var problems []string
	if strings.TrimSpace(j.NoteID) == "" {
		problems = append(problems, "noteId is required")
	}
	if strings.TrimSpace(j.TenantID) == "" {
		problems = append(problems, "tenantId is required")
	}
	if j.Attempt < 1 {
		problems = append(problems, "attempt must be >= 1")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type wireJob struct {
	ID         string `json:"id"`
	NoteID     string `json:"noteId"`
	TenantID   string `json:"tenantId"`
	Attempt    int    `json:"attempt"`
	Provider   string `json:"provider,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeJob returns the JSON representation of a job.
func EncodeJob(job Job) ([]byte, error) {
	w := wireJob{
		ID:       job.ID,
		NoteID:   job.NoteID,
		TenantID: job.TenantID,
		Attempt:  job.Attempt,
		Provider: job.Provider,
		Version:  jobVersion,
	}
	if !job.EnqueuedAt.IsZero() {
		w.EnqueuedAt = job.EnqueuedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// DecodeJob parses a JSON payload into a Job. It does not validate the job.
func DecodeJob(payload []byte) (Job, error) {
	var w wireJob
	if err := json.Unmarshal(payload, &w); err != nil {
		return Job{}, err
	}
	if w.Version > jobVersion {
		return Job{}, fmt.Errorf("unsupported job version %d", w.Version)
	}
	job := Job{
		ID:       w.ID,
		NoteID:   strings.TrimSpace(w.NoteID),
		TenantID: strings.TrimSpace(w.TenantID),
		Attempt:  w.Attempt,
		Provider: strings.TrimSpace(w.Provider),
	}
	// Version 0 producers did not send an attempt.
	if w.Version == 0 && job.Attempt == 0 {
		job.Attempt = 1
	}
	if w.EnqueuedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.EnqueuedAt)
		if err != nil {
			return Job{}, fmt.Errorf("enqueuedAt: %w", err)
		}
		job.EnqueuedAt = ts
	}
	return job, nil
}
