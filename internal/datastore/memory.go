package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"radar-backend/internal/analysis"
	"radar-backend/internal/health"
	"radar-backend/internal/notes"
)

// MemoryStore keeps everything in memory and is safe for concurrent use.
type MemoryStore struct {
	Now func() time.Time

	mu        sync.RWMutex
	clients   map[string]Client
	health    map[string]health.ClientHealth
	notes     map[string]notes.Note
	items     []ActionItem
	snapshots []health.Snapshot
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:     time.Now,
		clients: make(map[string]Client),
		health:  make(map[string]health.ClientHealth),
		notes:   make(map[string]notes.Note),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// AddClient stores or replaces a client.
func (s *MemoryStore) AddClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = ClientActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clients[c.ID] = c
}

// AddNote stores a note and advances the client's last contact to its meeting date.
func (s *MemoryStore) AddNote(n notes.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Status == "" {
		n.Status = notes.StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	s.notes[n.ID] = n
	if c, ok := s.clients[n.ClientID]; ok && c.TenantID == n.TenantID && !n.MeetingDate.IsZero() {
		if c.LastContactAt == nil || n.MeetingDate.After(*c.LastContactAt) {
			at := n.MeetingDate
			c.LastContactAt = &at
			s.clients[c.ID] = c
		}
	}
}

// AddActionItem stores an action item.
func (s *MemoryStore) AddActionItem(item ActionItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = ActionItemOpen
	}
	if item.Source == "" {
		item.Source = SourceManual
	}
	if item.Owner == "" {
		item.Owner = analysis.OwnerMe
	}
	s.items = append(s.items, item)
}

// ActionItems returns the client's action items in insertion order.
func (s *MemoryStore) ActionItems(tenantID, clientID string) []ActionItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ActionItem
	for _, item := range s.items {
		if item.TenantID == tenantID && item.ClientID == clientID {
			out = append(out, item)
		}
	}
	return out
}

// Snapshots returns the client's health history in insertion order.
func (s *MemoryStore) Snapshots(tenantID, clientID string) []health.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []health.Snapshot
	for _, snap := range s.snapshots {
		if snap.TenantID == tenantID && snap.ClientID == clientID {
			out = append(out, snap)
		}
	}
	return out
}

// GetNote implements notes.Store.
func (s *MemoryStore) GetNote(ctx context.Context, tenantID, noteID string) (notes.Note, error) {
	if err := ctx.Err(); err != nil {
		return notes.Note{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[noteID]
	if !ok || n.TenantID != tenantID {
		return notes.Note{}, notes.ErrNotFound
	}
	return n, nil
}

// CompareAndSetStatus implements notes.Store.
func (s *MemoryStore) CompareAndSetStatus(ctx context.Context, t notes.Transition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := t.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[t.NoteID]
	if !ok || n.TenantID != t.TenantID {
		return false, nil
	}
	if n.Status != t.From || n.ClaimToken != t.ExpectedToken {
		return false, nil
	}
	s.notes[t.NoteID] = t.Apply(n)
	if t.To == notes.StatusCompleted {
		for _, ai := range t.Analysis.ActionItems {
			s.items = append(s.items, ActionItem{
				ID:          uuid.NewString(),
				TenantID:    n.TenantID,
				ClientID:    n.ClientID,
				NoteID:      n.ID,
				Description: ai.Description,
				Owner:       analysis.NormalizeOwner(ai.Owner),
				Status:      ActionItemOpen,
				DueHint:     ai.DueHint,
				Source:      SourceAI,
				CreatedAt:   t.At,
			})
		}
	}
	return true, nil
}

func (s *MemoryStore) client(tenantID, clientID string) (Client, bool) {
	c, ok := s.clients[clientID]
	if !ok || c.TenantID != tenantID {
		return Client{}, false
	}
	return c, true
}

// SignalInputs implements health.Store.
func (s *MemoryStore) SignalInputs(ctx context.Context, tenantID, clientID string) (health.Inputs, error) {
	if err := ctx.Err(); err != nil {
		return health.Inputs{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.client(tenantID, clientID)
	if !ok {
		return health.Inputs{}, health.ErrClientNotFound
	}
	today := s.now()
	in := health.Inputs{}
	if c.LastContactAt != nil {
		days := max(0, daysBetween(*c.LastContactAt, today))
		in.DaysSinceContact = &days
	}

	for _, item := range s.items {
		if item.TenantID != tenantID || item.ClientID != clientID || item.Status != ActionItemOpen {
			continue
		}
		overdue := 0
		if item.DueDate != nil {
			overdue = daysBetween(*item.DueDate, today)
		}
		in.ActionItems = append(in.ActionItems, health.ActionItemInput{
			ID:          item.ID,
			Description: item.Description,
			Owner:       item.Owner,
			DaysOverdue: overdue,
		})
	}

	var recent []notes.Note
	for _, n := range s.notes {
		if n.TenantID != tenantID || n.ClientID != clientID {
			continue
		}
		age := daysBetween(n.MeetingDate, today)
		switch {
		case age >= 0 && age < meetingWindowDays:
			in.MeetingsLast30++
		case age >= meetingWindowDays && age < 2*meetingWindowDays:
			in.MeetingsPrior30++
		}
		if n.Status == notes.StatusCompleted && n.Analysis != nil && age <= recentNoteWindowDays {
			recent = append(recent, n)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].MeetingDate.Equal(recent[j].MeetingDate) {
			return recent[i].MeetingDate.After(recent[j].MeetingDate)
		}
		return recent[i].ID < recent[j].ID
	})
	if len(recent) > recentNoteLimit {
		recent = recent[:recentNoteLimit]
	}
	for _, n := range recent {
		score := n.Analysis.SentimentScore
		in.RecentNotes = append(in.RecentNotes, health.NoteInput{
			NoteID:         n.ID,
			AgeDays:        daysBetween(n.MeetingDate, today),
			SentimentScore: &score,
			RiskSignals:    append([]string(nil), n.Analysis.RiskSignals...),
		})
	}
	return in, nil
}

// LatestSnapshot implements health.Store.
func (s *MemoryStore) LatestSnapshot(ctx context.Context, tenantID, clientID string) (*health.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *health.Snapshot
	for i := range s.snapshots {
		snap := s.snapshots[i]
		if snap.TenantID != tenantID || snap.ClientID != clientID {
			continue
		}
		if latest == nil || !snap.CreatedAt.Before(latest.CreatedAt) {
			latest = &snap
		}
	}
	return latest, nil
}

// AppendHealthSnapshot implements health.Store.
func (s *MemoryStore) AppendHealthSnapshot(ctx context.Context, snap health.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.client(snap.TenantID, snap.ClientID); !ok {
		return health.ErrClientNotFound
	}
	snap.Signals = append([]health.Signal(nil), snap.Signals...)
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// UpdateClientHealth implements health.Store.
func (s *MemoryStore) UpdateClientHealth(ctx context.Context, h health.ClientHealth) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.client(h.TenantID, h.ClientID)
	if !ok {
		return health.ErrClientNotFound
	}
	h.Name = c.Name
	h.Signals = append([]health.Signal{}, h.Signals...)
	s.health[c.ID] = h
	return nil
}

// GetClientHealth implements health.Store.
func (s *MemoryStore) GetClientHealth(ctx context.Context, tenantID, clientID string) (health.ClientHealth, error) {
	if err := ctx.Err(); err != nil {
		return health.ClientHealth{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.client(tenantID, clientID)
	if !ok {
		return health.ClientHealth{}, health.ErrClientNotFound
	}
	return s.clientHealth(c), nil
}

func (s *MemoryStore) clientHealth(c Client) health.ClientHealth {
	h, ok := s.health[c.ID]
	if !ok {
		return health.ClientHealth{TenantID: c.TenantID, ClientID: c.ID, Name: c.Name, Signals: []health.Signal{}}
	}
	h.Name = c.Name
	h.Signals = append([]health.Signal{}, h.Signals...)
	return h
}

// ListActiveClients implements health.Store.
func (s *MemoryStore) ListActiveClients(ctx context.Context) ([]health.ClientRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []health.ClientRef
	for _, c := range s.clients {
		if c.Status == ClientActive {
			out = append(out, health.ClientRef{TenantID: c.TenantID, ClientID: c.ID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

// ListClientHealth implements radar.Store.
func (s *MemoryStore) ListClientHealth(ctx context.Context, tenantID string) ([]health.ClientHealth, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []health.ClientHealth{}
	for _, c := range s.clients {
		if c.TenantID == tenantID && c.Status == ClientActive {
			out = append(out, s.clientHealth(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

// PendingNotes lists notes still waiting for analysis, oldest first.
func (s *MemoryStore) PendingNotes(ctx context.Context, limit int) ([]notes.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []notes.Note
	for _, n := range s.notes {
		if n.Status == notes.StatusPending {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
