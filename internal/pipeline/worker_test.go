package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"radar-backend/internal/analysis"
	"radar-backend/internal/datastore"
	"radar-backend/internal/health"
	"radar-backend/internal/llm"
	"radar-backend/internal/llm/chain"
	"radar-backend/internal/notes"
	"radar-backend/internal/queue"
	"radar-backend/internal/shared/telemetry"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type scriptedProvider struct {
	name string
	kind llm.Kind
	fail bool

	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Analyze(_ context.Context, _ string) (analysis.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fail {
		return analysis.Result{}, llm.NewError(p.name, p.kind, errors.New("scripted failure"))
	}
	return analysis.Result{
		Summary:        "analyzed by " + p.name,
		SentimentScore: 0.5,
		ActionItems:    []analysis.ActionItem{{Description: "Follow up", Owner: analysis.OwnerMe}},
		RiskSignals:    []string{},
	}, nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recalcRecorder struct {
	mu       sync.Mutex
	calls    int
	triggers []string
	err      error
}

func (r *recalcRecorder) Recalculate(_ context.Context, tenantID, clientID, trigger string) (health.ClientHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.triggers = append(r.triggers, trigger)
	if r.err != nil {
		return health.ClientHealth{}, r.err
	}
	return health.ClientHealth{TenantID: tenantID, ClientID: clientID}, nil
}

type failingProducer struct{ err error }

func (p failingProducer) Enqueue(context.Context, queue.Job, time.Duration) error { return p.err }

type harness struct {
	store  *datastore.MemoryStore
	queue  *queue.MemoryQueue
	clock  *clock
	recalc *recalcRecorder
	worker *Worker
}

func newChain(t *testing.T, entries ...chain.Entry) *chain.Chain {
	t.Helper()
	c, err := chain.New(entries, chain.WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	return c
}

func newHarness(t *testing.T, analyzer Analyzer, producer queue.Producer) *harness {
	t.Helper()
	clk := newClock()
	store := datastore.NewMemoryStore()
	store.Now = clk.Now
	store.AddClient(datastore.Client{ID: "c1", TenantID: "t1", Name: "Acme"})
	q := queue.NewMemoryQueue(queue.WithClock(clk.Now), queue.WithWait(0))
	if producer == nil {
		producer = q
	}
	recalc := &recalcRecorder{}
	w, err := New(store, analyzer, producer, recalc, Config{
		MaxAttempts:    3,
		Concurrency:    4,
		RequeueBackoff: []time.Duration{30 * time.Second, 2 * time.Minute},
		LeaseTimeout:   15 * time.Minute,
		HealthRetries:  2,
	}, WithClock(clk.Now), WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{store: store, queue: q, clock: clk, recalc: recalc, worker: w}
}

func (h *harness) addNote(n notes.Note) {
	if n.TenantID == "" {
		n.TenantID = "t1"
	}
	if n.ClientID == "" {
		n.ClientID = "c1"
	}
	if n.Summary == "" && n.Discussed == "" {
		n.Summary = "Discussed renewal and the Q3 roadmap."
	}
	n.MeetingDate = h.clock.Now().AddDate(0, 0, -1)
	h.store.AddNote(n)
}

func (h *harness) note(t *testing.T, id string) notes.Note {
	t.Helper()
	n, err := h.store.GetNote(context.Background(), "t1", id)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	return n
}

func TestProcessCompletesNote(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.addNote(notes.Note{ID: "n1"})

	if !h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
		t.Fatalf("expected ack")
	}
	n := h.note(t, "n1")
	if n.Status != notes.StatusCompleted || n.Analysis == nil || n.Analysis.Summary != "analyzed by openai" {
		t.Fatalf("unexpected note: %+v", n)
	}
	if n.ClaimToken != "" || n.Error != "" {
		t.Fatalf("expected claim cleared, got token=%q error=%q", n.ClaimToken, n.Error)
	}
	if items := h.store.ActionItems("t1", "c1"); len(items) != 1 || items[0].Source != datastore.SourceAI {
		t.Fatalf("unexpected action items: %+v", items)
	}
	if h.recalc.calls != 1 || h.recalc.triggers[0] != health.TriggerNoteCompleted {
		t.Fatalf("expected one note_completed recompute, got %+v", h.recalc.triggers)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.addNote(notes.Note{ID: "n1"})
	job := queue.NewJob("t1", "n1", h.clock.Now())

	if !h.worker.Process(context.Background(), job) {
		t.Fatalf("expected first ack")
	}
	first := h.note(t, "n1")
	h.clock.Advance(time.Minute)
	if !h.worker.Process(context.Background(), job) {
		t.Fatalf("expected duplicate to be acked")
	}
	second := h.note(t, "n1")
	if a.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", a.Calls())
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) || second.Status != notes.StatusCompleted {
		t.Fatalf("duplicate changed the note: %+v", second)
	}
	if items := h.store.ActionItems("t1", "c1"); len(items) != 1 {
		t.Fatalf("expected one applied result, got %d action items", len(items))
	}
}

func TestFallbackAfterRetries(t *testing.T) {
	a := &scriptedProvider{name: "openai", fail: true, kind: llm.KindTimeout}
	b := &scriptedProvider{name: "anthropic"}
	h := newHarness(t, newChain(t,
		chain.Entry{Provider: a, MaxRetries: 2},
		chain.Entry{Provider: b, MaxRetries: 1},
	), nil)
	h.addNote(notes.Note{ID: "n1"})

	if !h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
		t.Fatalf("expected ack")
	}
	if a.Calls() != 3 || b.Calls() != 1 {
		t.Fatalf("expected A=3 B=1, got A=%d B=%d", a.Calls(), b.Calls())
	}
	n := h.note(t, "n1")
	if n.Status != notes.StatusCompleted || n.Analysis.Summary != "analyzed by anthropic" {
		t.Fatalf("unexpected note: %+v", n)
	}
	if h.queue.Len() != 0 {
		t.Fatalf("expected no requeue, queue has %d", h.queue.Len())
	}
}

func TestExhaustionFailsAfterMaxAttempts(t *testing.T) {
	a := &scriptedProvider{name: "openai", fail: true, kind: llm.KindUnavailable}
	b := &scriptedProvider{name: "anthropic", fail: true, kind: llm.KindRateLimited}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}, chain.Entry{Provider: b}), nil)
	h.addNote(notes.Note{ID: "n1"})
	runner := &Runner{Consumer: h.queue, Worker: h.worker}

	if err := h.queue.Enqueue(context.Background(), queue.NewJob("t1", "n1", h.clock.Now()), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	var attempts []int
	for i := 0; i < 10 && h.queue.Len() > 0; i++ {
		for _, job := range h.queue.Jobs() {
			attempts = append(attempts, job.Attempt)
		}
		if _, err := runner.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		h.clock.Advance(10 * time.Minute)
	}

	if len(attempts) != 3 || attempts[0] != 1 || attempts[1] != 2 || attempts[2] != 3 {
		t.Fatalf("expected attempts [1 2 3], got %v", attempts)
	}
	if a.Calls() != 3 || b.Calls() != 3 {
		t.Fatalf("expected each provider called once per attempt, got A=%d B=%d", a.Calls(), b.Calls())
	}
	n := h.note(t, "n1")
	if n.Status != notes.StatusFailed {
		t.Fatalf("expected failed, got %s", n.Status)
	}
	if !strings.Contains(n.Error, "anthropic") || !strings.Contains(n.Error, llm.UserMessage(llm.KindRateLimited)) {
		t.Fatalf("error should name the last provider failure: %q", n.Error)
	}
	if strings.Contains(n.Error, "scripted failure") {
		t.Fatalf("provider diagnostics leaked into note error: %q", n.Error)
	}
	if h.recalc.calls != 0 {
		t.Fatalf("failed note should not recompute health")
	}
}

func TestRequeueUsesBackoffAndPrimary(t *testing.T) {
	a := &scriptedProvider{name: "openai", fail: true, kind: llm.KindUnavailable}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.addNote(notes.Note{ID: "n1"})

	if !h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
		t.Fatalf("expected ack after requeue")
	}
	jobs := h.queue.Jobs()
	if len(jobs) != 1 || jobs[0].Attempt != 2 || jobs[0].Provider != "openai" {
		t.Fatalf("unexpected requeued jobs: %+v", jobs)
	}
	if got, _ := h.queue.Receive(context.Background(), 10); len(got) != 0 {
		t.Fatalf("requeued job should be delayed")
	}
	h.clock.Advance(31 * time.Second)
	if got, _ := h.queue.Receive(context.Background(), 10); len(got) != 1 {
		t.Fatalf("requeued job should be visible after backoff")
	}
	if n := h.note(t, "n1"); n.Status != notes.StatusProcessing || n.Attempt != 1 {
		t.Fatalf("note should stay processing between attempts: %+v", n)
	}
}

func TestRequeueFailureIsNotAcked(t *testing.T) {
	a := &scriptedProvider{name: "openai", fail: true, kind: llm.KindUnavailable}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), failingProducer{err: errors.New("sqs down")})
	h.addNote(notes.Note{ID: "n1"})
	if h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
		t.Fatalf("expected no ack when requeue fails")
	}
}

func TestTenantMismatchFailsClosed(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.addNote(notes.Note{ID: "n1"})

	if !h.worker.Process(context.Background(), queue.NewJob("t2", "n1", h.clock.Now())) {
		t.Fatalf("expected ack and drop")
	}
	if a.Calls() != 0 {
		t.Fatalf("provider must not be called across tenants")
	}
	if n := h.note(t, "n1"); n.Status != notes.StatusPending {
		t.Fatalf("note changed: %+v", n)
	}
}

func TestGuardOnProcessingNotes(t *testing.T) {
	cases := []struct {
		name       string
		attempt    int
		jobAttempt int
		claimedAgo time.Duration
		wantAck    bool
		wantStatus notes.Status
		wantCalls  int
	}{
		{"stale attempt", 2, 1, time.Minute, true, notes.StatusProcessing, 0},
		{"live lease", 1, 1, time.Minute, false, notes.StatusProcessing, 0},
		{"expired lease", 1, 1, 20 * time.Minute, true, notes.StatusCompleted, 1},
		{"newer attempt", 1, 2, time.Minute, true, notes.StatusCompleted, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &scriptedProvider{name: "openai"}
			h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
			claimed := h.clock.Now().Add(-tc.claimedAgo)
			h.addNote(notes.Note{ID: "n1", Status: notes.StatusProcessing, Attempt: tc.attempt, ClaimToken: "held", ClaimedAt: &claimed})

			job := queue.NewJob("t1", "n1", h.clock.Now())
			job.Attempt = tc.jobAttempt
			if got := h.worker.Process(context.Background(), job); got != tc.wantAck {
				t.Fatalf("ack = %v, want %v", got, tc.wantAck)
			}
			if n := h.note(t, "n1"); n.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", n.Status, tc.wantStatus)
			}
			if a.Calls() != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", a.Calls(), tc.wantCalls)
			}
		})
	}
}

func TestTerminalNotesAreDropped(t *testing.T) {
	for _, status := range []notes.Status{notes.StatusCompleted, notes.StatusFailed} {
		a := &scriptedProvider{name: "openai"}
		h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
		h.addNote(notes.Note{ID: "n1", Status: status})
		if !h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
			t.Fatalf("%s: expected ack", status)
		}
		if a.Calls() != 0 {
			t.Fatalf("%s: provider called", status)
		}
	}
}

func TestEmptyNoteFailsWithoutProviderCall(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.store.AddNote(notes.Note{ID: "n1", TenantID: "t1", ClientID: "c1", MeetingDate: h.clock.Now()})

	if !h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
		t.Fatalf("expected ack")
	}
	n := h.note(t, "n1")
	if n.Status != notes.StatusFailed || n.Error != emptyNoteMessage {
		t.Fatalf("unexpected note: %+v", n)
	}
	if a.Calls() != 0 || h.queue.Len() != 0 {
		t.Fatalf("empty note should not call providers or requeue")
	}
}

func TestHealthFailureIsOnlyLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := telemetry.SetLogger(zap.New(core))
	defer restore()

	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.recalc.err = errors.New("db timeout")
	h.addNote(notes.Note{ID: "n1"})

	if !h.worker.Process(context.Background(), queue.NewJob("t1", "n1", h.clock.Now())) {
		t.Fatalf("expected ack despite health failure")
	}
	if n := h.note(t, "n1"); n.Status != notes.StatusCompleted {
		t.Fatalf("expected completed, got %s", n.Status)
	}
	if h.recalc.calls != 3 {
		t.Fatalf("expected 1 call plus 2 retries, got %d", h.recalc.calls)
	}
	if logs.FilterMessage("pipeline.health.failed").Len() != 1 {
		t.Fatalf("expected pipeline.health.failed log")
	}
}

type flakyStore struct {
	notes.Store
	err error
}

func (f flakyStore) GetNote(context.Context, string, string) (notes.Note, error) {
	return notes.Note{}, f.err
}

func TestTransientReadErrorIsNotAcked(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	c := newChain(t, chain.Entry{Provider: a})
	w, err := New(flakyStore{err: errors.New("connection reset")}, c, queue.NewMemoryQueue(), nil, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w.Process(context.Background(), queue.NewJob("t1", "n1", time.Now())) {
		t.Fatalf("expected no ack on transient read error")
	}
}

func TestInvalidJobIsDropped(t *testing.T) {
	h := newHarness(t, newChain(t, chain.Entry{Provider: &scriptedProvider{name: "openai"}}), nil)
	if !h.worker.Process(context.Background(), queue.Job{NoteID: "n1"}) {
		t.Fatalf("expected invalid job to be acked")
	}
}

func TestHandleBatchKeepsOrderAndSerializesNotes(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.addNote(notes.Note{ID: "n1"})
	h.addNote(notes.Note{ID: "n2"})

	j1 := queue.NewJob("t1", "n1", h.clock.Now())
	j2 := queue.NewJob("t1", "n2", h.clock.Now())
	outcomes := h.worker.HandleBatch(context.Background(), []queue.Job{j1, j2, j1})
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for i, want := range []queue.Job{j1, j2, j1} {
		if outcomes[i].Job.ID != want.ID || !outcomes[i].Ack {
			t.Fatalf("outcome %d = %+v", i, outcomes[i])
		}
	}
	if a.Calls() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", a.Calls())
	}
}

func TestHandleDeliveriesAcksUndecodable(t *testing.T) {
	a := &scriptedProvider{name: "openai"}
	h := newHarness(t, newChain(t, chain.Entry{Provider: a}), nil)
	h.addNote(notes.Note{ID: "n1"})
	body, _ := queue.EncodeJob(queue.NewJob("t1", "n1", h.clock.Now()))

	ack, keep := h.worker.HandleDeliveries(context.Background(), []queue.Delivery{
		{ID: "bad", Body: []byte("not json")},
		{ID: "good", Body: body},
	})
	if len(keep) != 0 || len(ack) != 2 || ack[0].ID != "bad" || ack[1].ID != "good" {
		t.Fatalf("unexpected split: ack=%+v keep=%+v", ack, keep)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	c := newChain(t, chain.Entry{Provider: &scriptedProvider{name: "openai"}})
	if _, err := New(nil, c, queue.NewMemoryQueue(), nil, Config{}); err == nil {
		t.Fatalf("expected error for nil store")
	}
	w, err := New(datastore.NewMemoryStore(), c, queue.NewMemoryQueue(), nil, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cfg := w.Config(); cfg.MaxAttempts != 3 || cfg.Concurrency != 4 || cfg.LeaseTimeout != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
