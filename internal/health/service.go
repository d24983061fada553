package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"radar-backend/internal/shared/metrics"
	"radar-backend/internal/shared/telemetry"
)

// Recalculation triggers.
const (
	TriggerNoteCompleted = "note_completed"
	TriggerActionItem    = "action_item"
	TriggerSweep         = "sweep"
	TriggerManual        = "manual"
)

// Service recomputes and persists client health.
type Service struct {
	Store       Store
	Now         func() time.Time
	Concurrency int
}

// NewService constructs a Service.
func NewService(store Store, concurrency int) *Service {
	return &Service{Store: store, Now: time.Now, Concurrency: concurrency}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Recalculate scores one client and stores the result. On any read failure nothing
// is written and the previous health stays in place.
func (s *Service) Recalculate(ctx context.Context, tenantID, clientID, trigger string) (ClientHealth, error) {
	h, err := s.recalculate(ctx, tenantID, clientID)
	metrics.IncHealthRecalc(trigger, err == nil)
	fields := map[string]any{
		"tenant_id": tenantID,
		"client_id": clientID,
		"trigger":   trigger,
	}
	if err != nil {
		fields["error"] = err
		telemetry.Warn("health.recalculate.failed", fields)
		return ClientHealth{}, err
	}
	fields["score"] = h.Score
	fields["status"] = string(h.Status)
	fields["trend"] = string(h.Trend)
	telemetry.Info("health.recalculate.completed", fields)
	return h, nil
}

func (s *Service) recalculate(ctx context.Context, tenantID, clientID string) (ClientHealth, error) {
	inputs, err := s.Store.SignalInputs(ctx, tenantID, clientID)
	if err != nil {
		return ClientHealth{}, fmt.Errorf("load signal inputs: %w", err)
	}
	latest, err := s.Store.LatestSnapshot(ctx, tenantID, clientID)
	if err != nil {
		return ClientHealth{}, fmt.Errorf("load latest snapshot: %w", err)
	}

	result := Score(inputs)
	trend := TrendFor(result.Score, latest)
	now := s.now()

	if err := s.Store.AppendHealthSnapshot(ctx, Snapshot{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ClientID:  clientID,
		Score:     result.Score,
		Status:    result.Status,
		Signals:   result.Signals,
		CreatedAt: now,
	}); err != nil {
		return ClientHealth{}, fmt.Errorf("append snapshot: %w", err)
	}
	h := ClientHealth{
		TenantID:  tenantID,
		ClientID:  clientID,
		Score:     result.Score,
		Status:    result.Status,
		Trend:     trend,
		Signals:   result.Signals,
		UpdatedAt: &now,
	}
	if err := s.Store.UpdateClientHealth(ctx, h); err != nil {
		return ClientHealth{}, fmt.Errorf("update client health: %w", err)
	}
	return h, nil
}

// SweepReport summarizes a full recalculation.
type SweepReport struct {
	Clients  int           `json:"clients"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Sweep recalculates every active client. Per-client failures are counted, not fatal.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	clients, err := s.Store.ListActiveClients(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list active clients: %w", err)
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var (
		mu     sync.Mutex
		report = SweepReport{Clients: len(clients)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ref := range clients {
		ref := ref
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, err := s.Recalculate(gctx, ref.TenantID, ref.ClientID, TriggerSweep)
			mu.Lock()
			if err != nil {
				report.Failed++
			} else {
				report.Updated++
			}
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()
	report.Duration = time.Since(start)
	metrics.SetSweepClients(report.Updated)
	telemetry.Info("health.sweep.completed", map[string]any{
		"clients":     report.Clients,
		"updated":     report.Updated,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, waitErr
}
