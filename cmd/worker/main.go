package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"radar-backend/internal/bootstrap"
	"radar-backend/internal/pipeline"
	"radar-backend/internal/shared/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueURL == "" {
		log.Fatal("RADAR_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	runner, err := newRunner(app)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds",
		cfg.QueueURL, app.Worker.Config().Concurrency, cfg.QueueVisibilitySeconds)
	if err := runner.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("worker stopped")
}

// newRunner refuses an in-process queue: nothing outside this process could have
// enqueued to it.
func newRunner(app *bootstrap.App) (*pipeline.Runner, error) {
	if app.InProcessQueue != nil {
		return nil, errors.New("worker requires an SQS queue")
	}
	return app.Runner(), nil
}
