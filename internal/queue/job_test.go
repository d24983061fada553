package queue

import (
	"strings"
	"testing"
	"time"
)

func TestJobRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC)
	job := NewJob("tenant-1", "note-1", now)

	payload, err := EncodeJob(job)
	if err != nil {
		t.Fatalf("encode job: %v", err)
	}
	if !strings.Contains(string(payload), `"noteId":"note-1"`) || !strings.Contains(string(payload), `"version":1`) {
		t.Fatalf("unexpected payload: %s", payload)
	}

	got, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.ID != job.ID || got.NoteID != job.NoteID || got.TenantID != job.TenantID || got.Attempt != job.Attempt || !got.EnqueuedAt.Equal(job.EnqueuedAt) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, job)
	}
}

func TestNextReturnsNewJob(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	first := NewJob("tenant-1", "note-1", now)
	next := first.Next("anthropic", now.Add(time.Minute))

	if first.Attempt != 1 || first.Provider != "" {
		t.Fatalf("original job mutated: %+v", first)
	}
	if next.Attempt != 2 || next.Provider != "anthropic" || next.NoteID != "note-1" || next.TenantID != "tenant-1" {
		t.Fatalf("unexpected next job: %+v", next)
	}
	if next.ID == first.ID {
		t.Fatalf("next job must have its own id")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		ok   bool
	}{
		{name: "valid", job: Job{NoteID: "n", TenantID: "t", Attempt: 1}, ok: true},
		{name: "missing note", job: Job{TenantID: "t", Attempt: 1}},
		{name: "missing tenant", job: Job{NoteID: "n", Attempt: 1}},
		{name: "zero attempt", job: Job{NoteID: "n", TenantID: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, ok=%v", err, tt.ok)
			}
		})
	}
}

func TestDecodeJobLegacyAndFuture(t *testing.T) {
	job, err := DecodeJob([]byte(`{"noteId":"n","tenantId":"t"}`))
	if err != nil {
		t.Fatalf("decode legacy: %v", err)
	}
	if job.Attempt != 1 {
		t.Fatalf("legacy job should default to attempt 1, got %d", job.Attempt)
	}
	if _, err := DecodeJob([]byte(`{"noteId":"n","tenantId":"t","attempt":1,"version":9}`)); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
	if _, err := DecodeJob([]byte(`{"noteId":"n","enqueuedAt":"yesterday","version":1}`)); err == nil {
		t.Fatalf("expected error for bad timestamp")
	}
}
