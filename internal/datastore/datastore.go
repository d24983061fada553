// Package datastore implements the tenant-scoped note, health and radar stores.
package datastore

import (
	"time"

	"radar-backend/internal/health"
	"radar-backend/internal/notes"
	"radar-backend/internal/radar"
)

// Scoring windows.
const (
	recentNoteWindowDays = 90
	recentNoteLimit      = 20
	meetingWindowDays    = 30
)

// Client status values.
const (
	ClientActive   = "active"
	ClientArchived = "archived"
)

// Action item status and source values.
const (
	ActionItemOpen = "open"
	ActionItemDone = "done"

	SourceManual = "manual"
	SourceAI     = "ai"
)

// Client is a client record as the stores see it.
type Client struct {
	ID            string
	TenantID      string
	Name          string
	Status        string
	LastContactAt *time.Time
	CreatedAt     time.Time
}

// ActionItem is a commitment attached to a client.
type ActionItem struct {
	ID          string
	TenantID    string
	ClientID    string
	NoteID      string
	Description string
	Owner       string
	Status      string
	DueDate     *time.Time
	DueHint     string
	Source      string
	CreatedAt   time.Time
}

var (
	_ notes.Store  = (*MemoryStore)(nil)
	_ health.Store = (*MemoryStore)(nil)
	_ radar.Store  = (*MemoryStore)(nil)
	_ notes.Store  = (*PGStore)(nil)
	_ health.Store = (*PGStore)(nil)
	_ radar.Store  = (*PGStore)(nil)
)

// daysBetween counts calendar days from from to to, in UTC.
func daysBetween(from, to time.Time) int {
	f := from.UTC()
	t := to.UTC()
	fd := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	td := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(td.Sub(fd) / (24 * time.Hour))
}
