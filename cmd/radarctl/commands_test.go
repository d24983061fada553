package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"radar-backend/internal/bootstrap"
	"radar-backend/internal/datastore"
	"radar-backend/internal/notes"
	"radar-backend/internal/shared/config"
)

type fixture struct {
	app   *bootstrap.App
	store *datastore.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	app, err := bootstrap.Build(context.Background(), config.Config{
		Env:                    "dev",
		QueueVisibilitySeconds: 30,
		ShutdownTimeout:        time.Second,
		SweepSchedule:          "0 3 * * *",
		SweepConcurrency:       2,
		Pipeline:               config.DefaultPipeline(),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	store, ok := app.Store.(*datastore.MemoryStore)
	if !ok {
		t.Fatalf("expected memory store, got %T", app.Store)
	}
	return fixture{app: app, store: store}
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*bootstrap.App, error) { return f.app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSweepReportsEveryActiveClient(t *testing.T) {
	f := newFixture(t)
	f.store.AddClient(datastore.Client{ID: "c1", TenantID: "t1", Name: "Acme"})
	f.store.AddClient(datastore.Client{ID: "c2", TenantID: "t2", Name: "Globex"})

	out, err := f.run(t, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "clients=2 updated=2 failed=0") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestScorePrintsClientHealth(t *testing.T) {
	f := newFixture(t)
	f.store.AddClient(datastore.Client{ID: "c1", TenantID: "t1", Name: "Acme"})

	out, err := f.run(t, "score", "t1", "c1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !strings.Contains(out, `"clientId": "c1"`) || !strings.Contains(out, `"name": "Acme"`) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestScoreUnknownClientFails(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, "score", "t1", "missing"); err == nil {
		t.Fatalf("expected error for unknown client")
	}
}

func TestRetryMovesFailedNoteToPending(t *testing.T) {
	f := newFixture(t)
	f.store.AddNote(notes.Note{ID: "n1", TenantID: "t1", ClientID: "c1", Summary: "kickoff", Status: notes.StatusFailed})

	out, err := f.run(t, "retry", "t1", "n1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !strings.Contains(out, "note=n1") {
		t.Fatalf("unexpected output: %q", out)
	}
	got, _ := f.store.GetNote(context.Background(), "t1", "n1")
	if got.Status != notes.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if f.app.InProcessQueue.Len() != 1 {
		t.Fatalf("expected one queued job, got %d", f.app.InProcessQueue.Len())
	}
}

func TestRetryRejectsCompletedNote(t *testing.T) {
	f := newFixture(t)
	f.store.AddNote(notes.Note{ID: "n1", TenantID: "t1", ClientID: "c1", Status: notes.StatusCompleted})
	if _, err := f.run(t, "retry", "t1", "n1"); err == nil {
		t.Fatalf("expected error for completed note")
	}
}

func TestEnqueuePendingRepairsEveryPendingNote(t *testing.T) {
	f := newFixture(t)
	f.store.AddNote(notes.Note{ID: "n1", TenantID: "t1", ClientID: "c1"})
	f.store.AddNote(notes.Note{ID: "n2", TenantID: "t2", ClientID: "c2"})
	f.store.AddNote(notes.Note{ID: "n3", TenantID: "t1", ClientID: "c1", Status: notes.StatusCompleted})

	out, err := f.run(t, "enqueue", "--pending")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if strings.Count(out, "enqueued") != 2 {
		t.Fatalf("unexpected output: %q", out)
	}
	jobs := f.app.InProcessQueue.Jobs()
	if len(jobs) != 2 || jobs[0].Attempt != 1 {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestEnqueueArgumentRules(t *testing.T) {
	f := newFixture(t)
	for _, args := range [][]string{
		{"enqueue"},
		{"enqueue", "t1"},
		{"enqueue", "--pending", "t1", "n1"},
	} {
		if _, err := f.run(t, args...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}
