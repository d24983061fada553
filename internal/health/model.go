// Package health derives a client's relationship health score from contact recency,
// commitments, note sentiment and risk signals.
package health

import (
	"errors"
	"time"
)

var ErrClientNotFound = errors.New("client not found")

// Status buckets a score.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWatch     Status = "watch"
	StatusAttention Status = "attention"
)

// Trend compares a score with the most recent snapshot.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Severity of a Signal.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Signal is a typed observation that contributed to a score.
type Signal struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Inputs are the resolved scoring inputs for one client. All temporal values are
// whole days computed by the data layer.
type Inputs struct {
	DaysSinceContact *int
	ActionItems      []ActionItemInput
	RecentNotes      []NoteInput
	MeetingsLast30   int
	MeetingsPrior30  int
}

// ActionItemInput is an open action item.
type ActionItemInput struct {
	ID          string
	Description string
	Owner       string
	DaysOverdue int
}

// NoteInput is a completed note analysis inside the scoring window.
type NoteInput struct {
	NoteID         string
	AgeDays        int
	SentimentScore *float64
	RiskSignals    []string
}

// Snapshot is an append-only history entry.
type Snapshot struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	ClientID  string    `json:"clientId"`
	Score     int       `json:"score"`
	Status    Status    `json:"status"`
	Signals   []Signal  `json:"signals"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClientHealth is the current health stored on a client. An empty Status means the
// client has never been scored.
type ClientHealth struct {
	TenantID  string     `json:"tenantId"`
	ClientID  string     `json:"clientId"`
	Name      string     `json:"name"`
	Score     int        `json:"score"`
	Status    Status     `json:"status"`
	Trend     Trend      `json:"trend"`
	Signals   []Signal   `json:"signals"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// Scored reports whether the client has a computed score.
func (c ClientHealth) Scored() bool { return c.Status != "" }

// ClientRef identifies a client across tenants.
type ClientRef struct {
	TenantID string
	ClientID string
}
