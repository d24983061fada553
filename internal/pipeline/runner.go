package pipeline

import (
	"context"
	"errors"
	"time"

	"radar-backend/internal/queue"
	"radar-backend/internal/shared/telemetry"
	"radar-backend/internal/workerproc"
)

const (
	defaultBatchSize       = 10
	defaultPollBackoff     = time.Second
	defaultShutdownTimeout = 30 * time.Second
	ackTimeout             = 5 * time.Second
)

// HandleDeliveries decodes a batch, processes its jobs and splits the deliveries
// into those to acknowledge and those to leave for redelivery. Undecodable
// deliveries are acknowledged.
func (w *Worker) HandleDeliveries(ctx context.Context, deliveries []queue.Delivery) (ack, keep []queue.Delivery) {
	decoded, rejected := workerproc.DecodeDeliveries(deliveries)
	for _, r := range rejected {
		ack = append(ack, r.Delivery)
	}
	outcomes := w.HandleBatch(ctx, workerproc.Jobs(decoded))
	for i, o := range outcomes {
		if o.Ack {
			ack = append(ack, decoded[i].Delivery)
		} else {
			keep = append(keep, decoded[i].Delivery)
		}
	}
	return ack, keep
}

// Runner polls a Consumer and feeds the Worker until its context is canceled.
type Runner struct {
	Consumer        queue.Consumer
	Worker          *Worker
	BatchSize       int
	PollBackoff     time.Duration
	ShutdownTimeout time.Duration
}

// Run polls until ctx is canceled. A batch already received finishes on a context
// detached from ctx, bounded by ShutdownTimeout once shutdown begins.
func (r *Runner) Run(ctx context.Context) error {
	if r.Consumer == nil || r.Worker == nil {
		return errors.New("pipeline runner requires a consumer and a worker")
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	backoff := r.PollBackoff
	if backoff <= 0 {
		backoff = defaultPollBackoff
	}

	telemetry.Info("pipeline.runner.started", map[string]any{
		"batch_size":  batch,
		"concurrency": r.Worker.cfg.Concurrency,
	})
	for {
		if ctx.Err() != nil {
			break
		}
		deliveries, err := r.Consumer.Receive(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			telemetry.Error("pipeline.runner.receive_failed", map[string]any{"error": err.Error()})
			if sleepCtx(ctx, backoff) != nil {
				break
			}
			continue
		}
		if len(deliveries) == 0 {
			continue
		}
		r.runBatch(ctx, deliveries)
	}
	telemetry.Info("pipeline.runner.stopped", nil)
	return nil
}

// RunOnce receives and handles a single batch, returning how many deliveries were
// acknowledged.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	deliveries, err := r.Consumer.Receive(ctx, batch)
	if err != nil {
		return 0, err
	}
	return r.runBatch(ctx, deliveries), nil
}

func (r *Runner) runBatch(ctx context.Context, deliveries []queue.Delivery) int {
	work, cancel := r.workContext(ctx)
	defer cancel()

	ack, _ := r.Worker.HandleDeliveries(work, deliveries)
	acked := 0
	for _, d := range ack {
		ackCtx, cancelAck := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
		err := r.Consumer.Ack(ackCtx, d)
		cancelAck()
		if err != nil {
			telemetry.Error("pipeline.runner.ack_failed", map[string]any{
				"message_id": d.ID,
				"error":      err.Error(),
			})
			continue
		}
		acked++
	}
	return acked
}

// workContext detaches batch processing from ctx, then bounds it by the shutdown
// timeout once ctx is done.
func (r *Runner) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	shutdown := r.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(shutdown)
		defer t.Stop()
		select {
		case <-t.C:
			telemetry.Warn("pipeline.runner.shutdown_timeout", map[string]any{"timeout_ms": shutdown.Milliseconds()})
			cancel()
		case <-work.Done():
		}
	})
	return work, func() {
		stop()
		cancel()
	}
}
