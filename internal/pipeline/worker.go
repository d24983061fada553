// Package pipeline runs analysis jobs: it claims a note, calls the provider chain and
// moves the note to its outcome, requeueing or dead-lettering failed attempts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"radar-backend/internal/health"
	"radar-backend/internal/llm"
	"radar-backend/internal/llm/chain"
	"radar-backend/internal/notes"
	"radar-backend/internal/queue"
	"radar-backend/internal/shared/config"
	"radar-backend/internal/shared/metrics"
	"radar-backend/internal/shared/telemetry"
)

const (
	emptyNoteMessage   = "Analysis failed: the note has no content to analyze."
	healthRetryBackoff = 250 * time.Millisecond
)

// Analyzer is the provider chain as the worker uses it.
type Analyzer interface {
	Primary() string
	AnalyzeFrom(ctx context.Context, text, start string) (chain.Outcome, error)
}

// HealthRecalculator recomputes a client's health after a note completes.
type HealthRecalculator interface {
	Recalculate(ctx context.Context, tenantID, clientID, trigger string) (health.ClientHealth, error)
}

// Config is the worker's immutable tuning.
type Config struct {
	MaxAttempts    int
	Concurrency    int
	RequeueBackoff []time.Duration
	LeaseTimeout   time.Duration
	HealthRetries  int
}

// ConfigFrom copies the worker settings out of the pipeline table.
func ConfigFrom(p config.Pipeline) Config {
	return Config{
		MaxAttempts:    p.MaxAttempts,
		Concurrency:    p.Concurrency,
		RequeueBackoff: append([]time.Duration(nil), p.RequeueBackoff...),
		LeaseTimeout:   p.LeaseTimeout,
		HealthRetries:  p.HealthRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 15 * time.Minute
	}
	if c.HealthRetries < 0 {
		c.HealthRetries = 0
	}
	c.RequeueBackoff = append([]time.Duration(nil), c.RequeueBackoff...)
	return c
}

// Worker processes analysis jobs against a note store.
type Worker struct {
	store    notes.Store
	analyzer Analyzer
	producer queue.Producer
	health   HealthRecalculator
	cfg      Config
	now      func() time.Time
	newToken func() string
	sleep    func(context.Context, time.Duration) error
}

// Option customizes a Worker.
type Option func(*Worker)

// WithClock sets the worker's time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithTokens sets the claim-token generator.
func WithTokens(next func() string) Option {
	return func(w *Worker) { w.newToken = next }
}

// WithSleep replaces the wait between health recompute attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// New constructs a Worker. recalc may be nil to skip health recomputation.
func New(store notes.Store, analyzer Analyzer, producer queue.Producer, recalc HealthRecalculator, cfg Config, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, errors.New("pipeline: note store is required")
	}
	if analyzer == nil {
		return nil, errors.New("pipeline: analyzer is required")
	}
	if producer == nil {
		return nil, errors.New("pipeline: producer is required")
	}
	w := &Worker{
		store:    store,
		analyzer: analyzer,
		producer: producer,
		health:   recalc,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newToken: uuid.NewString,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the worker's effective configuration.
func (w *Worker) Config() Config { return w.cfg }

// Outcome reports whether a job's delivery should be acknowledged.
type Outcome struct {
	Job queue.Job
	Ack bool
}

// HandleBatch processes jobs with bounded parallelism. Jobs for the same note run
// sequentially in input order; outcomes are returned in input order.
func (w *Worker) HandleBatch(ctx context.Context, jobs []queue.Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	groups := make(map[string][]int)
	var order []string
	for i, job := range jobs {
		outcomes[i].Job = job
		key := job.TenantID + "/" + job.NoteID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, key := range order {
		idx := groups[key]
		g.Go(func() error {
			for _, i := range idx {
				outcomes[i].Ack = w.Process(ctx, jobs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Process runs one job and reports whether its delivery should be acknowledged.
// A false result leaves the delivery for the queue to redeliver.
func (w *Worker) Process(ctx context.Context, job queue.Job) bool {
	metrics.IncJob(metrics.JobReceived)
	fields := jobFields(job)

	if err := job.Validate(); err != nil {
		return w.dropped(fields, "invalid_job", err)
	}
	note, err := w.store.GetNote(ctx, job.TenantID, job.NoteID)
	if errors.Is(err, notes.ErrNotFound) {
		// Covers tenant mismatch: the store never returns another tenant's note.
		return w.dropped(fields, "note_not_found", nil)
	}
	if err != nil {
		return w.deferred(fields, "read_failed", err)
	}

	from, ok, reason := w.guard(note, job)
	if !ok {
		if reason == "in_flight" {
			return w.deferred(fields, reason, nil)
		}
		return w.dropped(fields, reason, nil)
	}

	start := w.now()
	token := w.newToken()
	claimed, err := w.store.CompareAndSetStatus(ctx, notes.Transition{
		NoteID:        note.ID,
		TenantID:      note.TenantID,
		From:          from,
		To:            notes.StatusProcessing,
		ExpectedToken: note.ClaimToken,
		NextToken:     token,
		Attempt:       job.Attempt,
		At:            start,
	})
	if err != nil {
		return w.deferred(fields, "claim_failed", err)
	}
	if !claimed {
		return w.dropped(fields, "claim_lost", nil)
	}
	fields["client_id"] = note.ClientID
	telemetry.Info("pipeline.job.claimed", fields)

	text := note.Text()
	if text == "" {
		ack := w.fail(ctx, note, token, emptyNoteMessage, fields)
		metrics.ObserveAnalysisDuration(w.now().Sub(start))
		return ack
	}

	outcome, err := w.analyzer.AnalyzeFrom(ctx, text, job.Provider)
	if err != nil {
		if ctx.Err() != nil {
			// The claim stays; its lease expires and a redelivery reclaims it.
			return w.deferred(fields, "canceled", ctx.Err())
		}
		ack := w.attemptFailed(ctx, note, job, token, err, fields)
		metrics.ObserveAnalysisDuration(w.now().Sub(start))
		return ack
	}

	result := outcome.Result
	done, err := w.store.CompareAndSetStatus(ctx, notes.Transition{
		NoteID:        note.ID,
		TenantID:      note.TenantID,
		From:          notes.StatusProcessing,
		To:            notes.StatusCompleted,
		ExpectedToken: token,
		Analysis:      &result,
		At:            w.now(),
	})
	if err != nil {
		return w.deferred(fields, "complete_failed", err)
	}
	if !done {
		return w.dropped(fields, "complete_lost", nil)
	}
	metrics.IncJob(metrics.JobCompleted)
	metrics.ObserveAnalysisDuration(w.now().Sub(start))
	fields["provider"] = outcome.Provider
	fields["provider_calls"] = outcome.Calls
	telemetry.Info("pipeline.job.completed", fields)

	w.recomputeHealth(ctx, note)
	return true
}

// guard decides whether a job may claim the note, and from which status.
func (w *Worker) guard(note notes.Note, job queue.Job) (notes.Status, bool, string) {
	switch note.Status {
	case notes.StatusPending:
		return notes.StatusPending, true, ""
	case notes.StatusProcessing:
		if job.Attempt < note.Attempt {
			return "", false, "stale_attempt"
		}
		if job.Attempt == note.Attempt && !note.LeaseExpired(w.now(), w.cfg.LeaseTimeout) {
			return "", false, "in_flight"
		}
		return notes.StatusProcessing, true, ""
	default:
		return "", false, "terminal"
	}
}

func (w *Worker) attemptFailed(ctx context.Context, note notes.Note, job queue.Job, token string, err error, fields map[string]any) bool {
	kind := llm.KindUnavailable
	provider := "unknown"
	var exhausted *chain.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		kind = exhausted.Last.Kind
		provider = exhausted.Provider
	} else {
		var perr *llm.Error
		if errors.As(err, &perr) {
			kind = perr.Kind
			provider = perr.Provider
		}
	}
	fields["provider"] = provider
	fields["kind"] = kind.String()
	fields["error"] = err.Error()

	if job.Attempt < w.cfg.MaxAttempts {
		next := job.Next(w.analyzer.Primary(), w.now())
		delay := w.requeueDelay(job.Attempt)
		if err := w.producer.Enqueue(ctx, next, delay); err != nil {
			fields["enqueue_error"] = err.Error()
			return w.deferred(fields, "requeue_failed", err)
		}
		metrics.IncJob(metrics.JobRequeued)
		fields["next_job_id"] = next.ID
		fields["delay_ms"] = delay.Milliseconds()
		telemetry.Warn("pipeline.job.requeued", fields)
		return true
	}

	msg := fmt.Sprintf("Analysis failed after %d attempts: %s (%s).", job.Attempt, llm.UserMessage(kind), provider)
	return w.fail(ctx, note, token, msg, fields)
}

func (w *Worker) fail(ctx context.Context, note notes.Note, token, msg string, fields map[string]any) bool {
	ok, err := w.store.CompareAndSetStatus(ctx, notes.Transition{
		NoteID:        note.ID,
		TenantID:      note.TenantID,
		From:          notes.StatusProcessing,
		To:            notes.StatusFailed,
		ExpectedToken: token,
		Error:         msg,
		At:            w.now(),
	})
	if err != nil {
		return w.deferred(fields, "fail_failed", err)
	}
	if !ok {
		return w.dropped(fields, "fail_lost", nil)
	}
	metrics.IncJob(metrics.JobDeadLettered)
	fields["note_error"] = msg
	telemetry.Error("pipeline.job.dead_lettered", fields)
	return true
}

func (w *Worker) requeueDelay(attempt int) time.Duration {
	steps := w.cfg.RequeueBackoff
	if len(steps) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(steps) {
		i = len(steps) - 1
	}
	if i < 0 {
		i = 0
	}
	return steps[i]
}

func (w *Worker) recomputeHealth(ctx context.Context, note notes.Note) {
	if w.health == nil || note.ClientID == "" {
		return
	}
	var err error
	for try := 0; try <= w.cfg.HealthRetries; try++ {
		if try > 0 {
			if serr := w.sleep(ctx, time.Duration(try)*healthRetryBackoff); serr != nil {
				err = serr
				break
			}
		}
		_, err = w.health.Recalculate(ctx, note.TenantID, note.ClientID, health.TriggerNoteCompleted)
		if err == nil || errors.Is(err, health.ErrClientNotFound) {
			break
		}
	}
	if err != nil {
		telemetry.Error("pipeline.health.failed", map[string]any{
			"note_id":   note.ID,
			"tenant_id": note.TenantID,
			"client_id": note.ClientID,
			"error":     err.Error(),
		})
	}
}

func (w *Worker) dropped(fields map[string]any, reason string, err error) bool {
	metrics.IncJob(metrics.JobDropped)
	fields["reason"] = reason
	if err != nil {
		fields["error"] = err.Error()
	}
	telemetry.Info("pipeline.job.dropped", fields)
	return true
}

func (w *Worker) deferred(fields map[string]any, reason string, err error) bool {
	metrics.IncJob(metrics.JobDeferred)
	fields["reason"] = reason
	if err != nil {
		fields["error"] = err.Error()
	}
	telemetry.Warn("pipeline.job.deferred", fields)
	return false
}

func jobFields(job queue.Job) map[string]any {
	return map[string]any{
		"job_id":    job.ID,
		"note_id":   job.NoteID,
		"tenant_id": job.TenantID,
		"attempt":   job.Attempt,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
