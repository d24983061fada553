// Package bootstrap wires configuration into stores, queues, providers and services.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/analysis"
	"radar-backend/internal/datastore"
	"radar-backend/internal/health"
	"radar-backend/internal/llm"
	"radar-backend/internal/llm/anthropic"
	"radar-backend/internal/llm/chain"
	"radar-backend/internal/llm/openai"
	"radar-backend/internal/notes"
	"radar-backend/internal/pipeline"
	"radar-backend/internal/queue"
	"radar-backend/internal/radar"
	"radar-backend/internal/scheduler"
	"radar-backend/internal/services/readiness"
	"radar-backend/internal/shared/config"
	"radar-backend/internal/shared/server"
	"radar-backend/internal/shared/storage/db"
)

// Store is everything the services need from persistence.
type Store interface {
	notes.Store
	health.Store
	radar.Store
	PendingNotes(ctx context.Context, limit int) ([]notes.Note, error)
}

// Queue produces and consumes analysis jobs.
type Queue interface {
	queue.Producer
	queue.Consumer
}

// App holds shared dependencies.
type App struct {
	Config config.Config
	DB     *sql.DB
	Store  Store
	Queue  Queue
	// InProcessQueue is set when no SQS queue is configured; the API then runs the
	// worker itself.
	InProcessQueue *queue.MemoryQueue

	Chain         *chain.Chain
	Worker        *pipeline.Worker
	NotesService  *notes.Service
	HealthService *health.Service
	Radar         *radar.Aggregator
	Scheduler     *scheduler.Scheduler
	Readiness     *readiness.Service
	Router        *gin.Engine
}

// Build prepares every dependency and the HTTP router.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, DB: sqlDB}
	if sqlDB != nil {
		app.Store = datastore.NewPGStore(sqlDB)
	} else {
		app.Store = datastore.NewMemoryStore()
	}

	if err := buildQueue(ctx, app); err != nil {
		return nil, err
	}
	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:        cfg,
		Readiness:     app.Readiness,
		NotesHandler:  notes.NewHandler(app.NotesService),
		HealthHandler: health.NewHandler(app.HealthService),
		RadarHandler:  radar.NewHandler(app.Radar),
	})
	return app, nil
}

// Runner returns a poll loop over the app's queue.
func (a *App) Runner() *pipeline.Runner {
	return &pipeline.Runner{
		Consumer:        a.Queue,
		Worker:          a.Worker,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory store")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	profile := db.RuntimeProfile()
	opts := db.OptionsFor(profile).WithMinOpen(cfg.Pipeline.Concurrency + cfg.SweepConcurrency)
	if profile == db.ProfileLambda {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory store: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context, app *App) error {
	cfg := app.Config
	if cfg.QueueURL == "" {
		if !cfg.IsDevLike() {
			return errors.New("RADAR_SQS_QUEUE_URL is required")
		}
		log.Printf("bootstrap: RADAR_SQS_QUEUE_URL empty; using in-process queue")
		mq := queue.NewMemoryQueue(queue.WithVisibility(time.Duration(cfg.QueueVisibilitySeconds) * time.Second))
		app.Queue = mq
		app.InProcessQueue = mq
		return nil
	}
	client, err := queue.NewSQSAPI(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	sqsQueue, err := queue.NewSQS(client, cfg.QueueURL, time.Duration(cfg.QueueVisibilitySeconds)*time.Second)
	if err != nil {
		return err
	}
	app.Queue = sqsQueue
	return nil
}

func buildServices(app *App) error {
	cfg := app.Config
	entries, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	c, err := chain.New(entries)
	if err != nil {
		return err
	}

	healthSvc := health.NewService(app.Store, cfg.SweepConcurrency)
	worker, err := pipeline.New(app.Store, c, app.Queue, healthSvc, pipeline.ConfigFrom(cfg.Pipeline))
	if err != nil {
		return err
	}
	sched, err := scheduler.New(healthSvc, cfg.SweepSchedule)
	if err != nil {
		return err
	}

	checks := []readiness.Check{}
	if app.DB != nil {
		database := app.DB
		checks = append(checks, readiness.Check{Name: "db", Probe: func(ctx context.Context) error {
			return db.Ping(ctx, database, 0)
		}})
	}

	app.Chain = c
	app.Worker = worker
	app.NotesService = notes.NewService(app.Store, app.Queue)
	app.HealthService = healthSvc
	app.Radar = radar.NewAggregator(app.Store)
	app.Scheduler = sched
	app.Readiness = readiness.NewService(2*time.Second, checks...)
	return nil
}

// buildProviders turns the pipeline's provider table into chain entries. A provider
// without credentials is kept as an entry that always fails with auth_failure, so a
// dev process still exercises the fallback path.
func buildProviders(cfg config.Config) ([]chain.Entry, error) {
	entries := make([]chain.Entry, 0, len(cfg.Pipeline.Providers))
	for _, spec := range cfg.Pipeline.Providers {
		provider, err := buildProvider(cfg, spec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, chain.Entry{
			Provider:   provider,
			MaxRetries: spec.MaxRetries,
			Backoff:    spec.Backoff,
			Timeout:    spec.Timeout,
		})
	}
	return entries, nil
}

func buildProvider(cfg config.Config, spec config.ProviderSpec) (llm.Provider, error) {
	switch spec.Name {
	case openai.Name:
		if cfg.OpenAIAPIKey == "" {
			if !cfg.IsDevLike() {
				return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
			}
			return unconfigured{name: spec.Name}, nil
		}
		return openai.NewClient(openai.Options{
			APIKey:        cfg.OpenAIAPIKey,
			Model:         cfg.OpenAIModel,
			BaseURL:       cfg.OpenAIBaseURL,
			RatePerSecond: spec.RatePerSecond,
			Burst:         spec.Burst,
		})
	case anthropic.Name:
		if cfg.AnthropicAPIKey == "" {
			if !cfg.IsDevLike() {
				return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
			}
			return unconfigured{name: spec.Name}, nil
		}
		return anthropic.NewClient(anthropic.Options{
			APIKey:        cfg.AnthropicAPIKey,
			Model:         cfg.AnthropicModel,
			BaseURL:       cfg.AnthropicBaseURL,
			RatePerSecond: spec.RatePerSecond,
			Burst:         spec.Burst,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", spec.Name)
	}
}

type unconfigured struct {
	name string
}

func (u unconfigured) Name() string { return u.name }

func (u unconfigured) Analyze(context.Context, string) (analysis.Result, error) {
	return analysis.Result{}, llm.NewError(u.name, llm.KindAuthFailure, errors.New("provider credentials not configured"))
}
