package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"radar-backend/internal/bootstrap"
	"radar-backend/internal/shared/config"
	"radar-backend/internal/shared/server"
	"radar-backend/internal/shared/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	workerDone := make(chan struct{})
	if app.InProcessQueue != nil {
		go func() {
			defer close(workerDone)
			if err := app.Runner().Run(ctx); err != nil {
				telemetry.Error("api.worker.failed", map[string]any{"error": err.Error()})
			}
		}()
	} else {
		close(workerDone)
	}

	srv := &http.Server{Addr: server.Addr(cfg.Port), Handler: app.Router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting API server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	<-workerDone
}
