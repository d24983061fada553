// Package radar aggregates stored client health into the dashboard and digest views.
package radar

import (
	"context"
	"sort"
	"time"

	"radar-backend/internal/health"
)

const digestSignalLimit = 10

// Store lists a tenant's clients with their stored health.
type Store interface {
	ListClientHealth(ctx context.Context, tenantID string) ([]health.ClientHealth, error)
}

// Counts per status bucket.
type Counts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Watch     int `json:"watch"`
	Attention int `json:"attention"`
	Unscored  int `json:"unscored"`
	Declining int `json:"declining"`
}

// Dashboard groups clients by status, worst first.
type Dashboard struct {
	Attention []health.ClientHealth `json:"attention"`
	Watch     []health.ClientHealth `json:"watch"`
	Healthy   []health.ClientHealth `json:"healthy"`
	Unscored  []health.ClientHealth `json:"unscored"`
	Declining []health.ClientHealth `json:"declining"`
	Counts    Counts                `json:"counts"`
}

// DigestItem is one high-severity signal for the digest email.
type DigestItem struct {
	ClientID   string        `json:"clientId"`
	ClientName string        `json:"clientName"`
	Score      int           `json:"score"`
	Status     health.Status `json:"status"`
	Signal     health.Signal `json:"signal"`
}

// Digest is the payload handed to the email sender.
type Digest struct {
	TenantID    string       `json:"tenantId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Counts      Counts       `json:"counts"`
	Highlights  []DigestItem `json:"highlights"`
}

// Aggregator builds read models from a Store.
type Aggregator struct {
	Store Store
	Now   func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store, Now: time.Now}
}

// Radar returns the tenant dashboard.
func (a *Aggregator) Radar(ctx context.Context, tenantID string) (Dashboard, error) {
	clients, err := a.Store.ListClientHealth(ctx, tenantID)
	if err != nil {
		return Dashboard{}, err
	}
	sortClients(clients)

	d := Dashboard{
		Attention: []health.ClientHealth{},
		Watch:     []health.ClientHealth{},
		Healthy:   []health.ClientHealth{},
		Unscored:  []health.ClientHealth{},
		Declining: []health.ClientHealth{},
	}
	for _, c := range clients {
		if c.Signals == nil {
			c.Signals = []health.Signal{}
		}
		switch c.Status {
		case health.StatusAttention:
			d.Attention = append(d.Attention, c)
		case health.StatusWatch:
			d.Watch = append(d.Watch, c)
		case health.StatusHealthy:
			d.Healthy = append(d.Healthy, c)
		default:
			d.Unscored = append(d.Unscored, c)
		}
		if c.Scored() && c.Trend == health.TrendDeclining {
			d.Declining = append(d.Declining, c)
		}
	}
	d.Counts = Counts{
		Total:     len(clients),
		Healthy:   len(d.Healthy),
		Watch:     len(d.Watch),
		Attention: len(d.Attention),
		Unscored:  len(d.Unscored),
		Declining: len(d.Declining),
	}
	return d, nil
}

// Digest returns counts and the most urgent high-severity signals.
func (a *Aggregator) Digest(ctx context.Context, tenantID string) (Digest, error) {
	d, err := a.Radar(ctx, tenantID)
	if err != nil {
		return Digest{}, err
	}
	highlights := []DigestItem{}
	for _, group := range [][]health.ClientHealth{d.Attention, d.Watch, d.Healthy} {
		for _, c := range group {
			for _, s := range c.Signals {
				if s.Severity != health.SeverityHigh {
					continue
				}
				highlights = append(highlights, DigestItem{
					ClientID:   c.ClientID,
					ClientName: c.Name,
					Score:      c.Score,
					Status:     c.Status,
					Signal:     s,
				})
			}
		}
	}
	if len(highlights) > digestSignalLimit {
		highlights = highlights[:digestSignalLimit]
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return Digest{
		TenantID:    tenantID,
		GeneratedAt: now().UTC(),
		Counts:      d.Counts,
		Highlights:  highlights,
	}, nil
}

func sortClients(clients []health.ClientHealth) {
	sort.SliceStable(clients, func(i, j int) bool {
		if clients[i].Score != clients[j].Score {
			return clients[i].Score < clients[j].Score
		}
		if clients[i].Name != clients[j].Name {
			return clients[i].Name < clients[j].Name
		}
		return clients[i].ClientID < clients[j].ClientID
	})
}
