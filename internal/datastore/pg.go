package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"radar-backend/internal/analysis"
	"radar-backend/internal/health"
	"radar-backend/internal/notes"
)

// PGStore implements the stores on Postgres. Day arithmetic runs in SQL against
// CURRENT_DATE, so it follows the session time zone.
type PGStore struct {
	DB *sql.DB
}

// NewPGStore constructs a PGStore.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{DB: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const noteColumns = `id, tenant_id, client_id, meeting_date, summary, discussed, decisions, concerns, next_steps,
       ai_status, ai_error, ai_analysis, ai_attempt, ai_claim_token, ai_claimed_at, ai_completed_at,
       created_at, updated_at`

func scanNote(row scanner) (notes.Note, error) {
	var n notes.Note
	var status string
	var aiError sql.NullString
	var aiAnalysis []byte
	var claimedAt, completedAt sql.NullTime
	if err := row.Scan(
		&n.ID, &n.TenantID, &n.ClientID, &n.MeetingDate,
		&n.Summary, &n.Discussed, &n.Decisions, &n.Concerns, &n.NextSteps,
		&status, &aiError, &aiAnalysis, &n.Attempt, &n.ClaimToken, &claimedAt, &completedAt,
		&n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return notes.Note{}, err
	}
	n.Status = notes.Status(status)
	n.Error = aiError.String
	if len(aiAnalysis) > 0 {
		var result analysis.Result
		if err := json.Unmarshal(aiAnalysis, &result); err != nil {
			return notes.Note{}, fmt.Errorf("decode ai_analysis for note %s: %w", n.ID, err)
		}
		n.Analysis = &result
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		n.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		n.CompletedAt = &t
	}
	return n, nil
}

// GetNote implements notes.Store.
func (s *PGStore) GetNote(ctx context.Context, tenantID, noteID string) (notes.Note, error) {
	query := `SELECT ` + noteColumns + `
FROM notes
WHERE id = $1 AND tenant_id = $2
LIMIT 1`
	n, err := scanNote(s.DB.QueryRowContext(ctx, query, noteID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Note{}, notes.ErrNotFound
	}
	return n, err
}

// PendingNotes lists notes still waiting for analysis, oldest first.
func (s *PGStore) PendingNotes(ctx context.Context, limit int) ([]notes.Note, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + noteColumns + `
FROM notes
WHERE ai_status = 'pending'
ORDER BY created_at ASC, id ASC
LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []notes.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const (
	claimNoteQuery = `
UPDATE notes
SET ai_status = 'processing', ai_claim_token = $1, ai_attempt = $2, ai_claimed_at = $3, updated_at = $3
WHERE id = $4 AND tenant_id = $5 AND ai_status = $6 AND ai_claim_token = $7`

	completeNoteQuery = `
UPDATE notes
SET ai_status = 'completed', ai_analysis = $1, ai_error = NULL, ai_claim_token = '', ai_completed_at = $2, updated_at = $2
WHERE id = $3 AND tenant_id = $4 AND ai_status = $5 AND ai_claim_token = $6
RETURNING client_id`

	failNoteQuery = `
UPDATE notes
SET ai_status = 'failed', ai_error = $1, ai_claim_token = '', updated_at = $2
WHERE id = $3 AND tenant_id = $4 AND ai_status = $5 AND ai_claim_token = $6`

	resetNoteQuery = `
UPDATE notes
SET ai_status = 'pending', ai_error = NULL, ai_attempt = 0, ai_claim_token = '', ai_claimed_at = NULL, updated_at = $1
WHERE id = $2 AND tenant_id = $3 AND ai_status = $4 AND ai_claim_token = $5`

	insertActionItemQuery = `
INSERT INTO action_items (id, tenant_id, client_id, note_id, description, owner, status, due_hint, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
)

// CompareAndSetStatus implements notes.Store.
func (s *PGStore) CompareAndSetStatus(ctx context.Context, t notes.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	var res sql.Result
	var err error
	switch t.To {
	case notes.StatusProcessing:
		res, err = s.DB.ExecContext(ctx, claimNoteQuery,
			t.NextToken, t.Attempt, t.At, t.NoteID, t.TenantID, string(t.From), t.ExpectedToken)
	case notes.StatusFailed:
		res, err = s.DB.ExecContext(ctx, failNoteQuery,
			t.Error, t.At, t.NoteID, t.TenantID, string(t.From), t.ExpectedToken)
	case notes.StatusPending:
		res, err = s.DB.ExecContext(ctx, resetNoteQuery,
			t.At, t.NoteID, t.TenantID, string(t.From), t.ExpectedToken)
	case notes.StatusCompleted:
		return s.complete(ctx, t)
	default:
		return false, fmt.Errorf("%w: %s", notes.ErrInvalidChange, t.To)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PGStore) complete(ctx context.Context, t notes.Transition) (bool, error) {
	payload, err := json.Marshal(t.Analysis)
	if err != nil {
		return false, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var clientID string
	err = tx.QueryRowContext(ctx, completeNoteQuery,
		payload, t.At, t.NoteID, t.TenantID, string(t.From), t.ExpectedToken).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, item := range t.Analysis.ActionItems {
		if _, err := tx.ExecContext(ctx, insertActionItemQuery,
			uuid.NewString(),
			t.TenantID,
			clientID,
			t.NoteID,
			item.Description,
			analysis.NormalizeOwner(item.Owner),
			ActionItemOpen,
			item.DueHint,
			SourceAI,
			t.At,
		); err != nil {
			return false, fmt.Errorf("insert action item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// SignalInputs implements health.Store.
func (s *PGStore) SignalInputs(ctx context.Context, tenantID, clientID string) (health.Inputs, error) {
	var in health.Inputs

	var contact sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
SELECT CASE WHEN last_contact_at IS NULL THEN NULL ELSE GREATEST(CURRENT_DATE - last_contact_at::date, 0) END
FROM clients
WHERE id = $1 AND tenant_id = $2`, clientID, tenantID).Scan(&contact)
	if errors.Is(err, sql.ErrNoRows) {
		return health.Inputs{}, health.ErrClientNotFound
	}
	if err != nil {
		return health.Inputs{}, fmt.Errorf("contact recency: %w", err)
	}
	if contact.Valid {
		days := int(contact.Int64)
		in.DaysSinceContact = &days
	}

	items, err := s.DB.QueryContext(ctx, `
SELECT id, description, owner, COALESCE(CURRENT_DATE - due_date, 0)
FROM action_items
WHERE tenant_id = $1 AND client_id = $2 AND status = 'open'
ORDER BY created_at ASC, id ASC`, tenantID, clientID)
	if err != nil {
		return health.Inputs{}, fmt.Errorf("action items: %w", err)
	}
	defer items.Close()
	for items.Next() {
		var item health.ActionItemInput
		if err := items.Scan(&item.ID, &item.Description, &item.Owner, &item.DaysOverdue); err != nil {
			return health.Inputs{}, err
		}
		in.ActionItems = append(in.ActionItems, item)
	}
	if err := items.Err(); err != nil {
		return health.Inputs{}, err
	}

	recent, err := s.DB.QueryContext(ctx, `
SELECT id, CURRENT_DATE - meeting_date, ai_analysis
FROM notes
WHERE tenant_id = $1 AND client_id = $2 AND ai_status = 'completed' AND ai_analysis IS NOT NULL
  AND meeting_date >= CURRENT_DATE - $3::int
ORDER BY meeting_date DESC, id ASC
LIMIT $4`, tenantID, clientID, recentNoteWindowDays, recentNoteLimit)
	if err != nil {
		return health.Inputs{}, fmt.Errorf("recent notes: %w", err)
	}
	defer recent.Close()
	for recent.Next() {
		var note health.NoteInput
		var payload []byte
		if err := recent.Scan(&note.NoteID, &note.AgeDays, &payload); err != nil {
			return health.Inputs{}, err
		}
		var result analysis.Result
		if err := json.Unmarshal(payload, &result); err != nil {
			return health.Inputs{}, fmt.Errorf("decode ai_analysis for note %s: %w", note.NoteID, err)
		}
		score := result.SentimentScore
		note.SentimentScore = &score
		note.RiskSignals = result.RiskSignals
		in.RecentNotes = append(in.RecentNotes, note)
	}
	if err := recent.Err(); err != nil {
		return health.Inputs{}, err
	}

	err = s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FILTER (WHERE CURRENT_DATE - meeting_date BETWEEN 0 AND $3::int - 1),
       COUNT(*) FILTER (WHERE CURRENT_DATE - meeting_date BETWEEN $3::int AND 2 * $3::int - 1)
FROM notes
WHERE tenant_id = $1 AND client_id = $2`, tenantID, clientID, meetingWindowDays).Scan(&in.MeetingsLast30, &in.MeetingsPrior30)
	if err != nil {
		return health.Inputs{}, fmt.Errorf("meeting frequency: %w", err)
	}
	return in, nil
}

// LatestSnapshot implements health.Store.
func (s *PGStore) LatestSnapshot(ctx context.Context, tenantID, clientID string) (*health.Snapshot, error) {
	var snap health.Snapshot
	var status string
	var signals []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, tenant_id, client_id, score, status, signals, created_at
FROM health_snapshots
WHERE tenant_id = $1 AND client_id = $2
ORDER BY created_at DESC, id DESC
LIMIT 1`, tenantID, clientID).Scan(&snap.ID, &snap.TenantID, &snap.ClientID, &snap.Score, &status, &signals, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Status = health.Status(status)
	if snap.Signals, err = decodeSignals(signals); err != nil {
		return nil, err
	}
	return &snap, nil
}

// AppendHealthSnapshot implements health.Store.
func (s *PGStore) AppendHealthSnapshot(ctx context.Context, snap health.Snapshot) error {
	signals, err := encodeSignals(snap.Signals)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO health_snapshots (id, tenant_id, client_id, score, status, signals, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.TenantID, snap.ClientID, snap.Score, string(snap.Status), signals, snap.CreatedAt)
	return err
}

// UpdateClientHealth implements health.Store.
func (s *PGStore) UpdateClientHealth(ctx context.Context, h health.ClientHealth) error {
	signals, err := encodeSignals(h.Signals)
	if err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	if h.UpdatedAt != nil {
		updatedAt = *h.UpdatedAt
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE clients
SET health_score = $1, health_status = $2, health_signals = $3, health_trend = $4, health_updated_at = $5
WHERE id = $6 AND tenant_id = $7`,
		h.Score, string(h.Status), signals, string(h.Trend), updatedAt, h.ClientID, h.TenantID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return health.ErrClientNotFound
	}
	return nil
}

const clientHealthColumns = `id, tenant_id, name, health_score, health_status, health_signals, health_trend, health_updated_at`

func scanClientHealth(row scanner) (health.ClientHealth, error) {
	var h health.ClientHealth
	var score sql.NullInt64
	var status, trend sql.NullString
	var signals []byte
	var updatedAt sql.NullTime
	if err := row.Scan(&h.ClientID, &h.TenantID, &h.Name, &score, &status, &signals, &trend, &updatedAt); err != nil {
		return health.ClientHealth{}, err
	}
	h.Score = int(score.Int64)
	h.Status = health.Status(status.String)
	h.Trend = health.Trend(trend.String)
	if updatedAt.Valid {
		t := updatedAt.Time
		h.UpdatedAt = &t
	}
	var err error
	if h.Signals, err = decodeSignals(signals); err != nil {
		return health.ClientHealth{}, err
	}
	return h, nil
}

// GetClientHealth implements health.Store.
func (s *PGStore) GetClientHealth(ctx context.Context, tenantID, clientID string) (health.ClientHealth, error) {
	h, err := scanClientHealth(s.DB.QueryRowContext(ctx, `SELECT `+clientHealthColumns+`
FROM clients
WHERE id = $1 AND tenant_id = $2`, clientID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return health.ClientHealth{}, health.ErrClientNotFound
	}
	return h, err
}

// ListActiveClients implements health.Store.
func (s *PGStore) ListActiveClients(ctx context.Context) ([]health.ClientRef, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT tenant_id, id
FROM clients
WHERE status = 'active'
ORDER BY tenant_id ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []health.ClientRef
	for rows.Next() {
		var ref health.ClientRef
		if err := rows.Scan(&ref.TenantID, &ref.ClientID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ListClientHealth implements radar.Store.
func (s *PGStore) ListClientHealth(ctx context.Context, tenantID string) ([]health.ClientHealth, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+clientHealthColumns+`
FROM clients
WHERE tenant_id = $1 AND status = 'active'
ORDER BY name ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []health.ClientHealth{}
	for rows.Next() {
		h, err := scanClientHealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func encodeSignals(signals []health.Signal) ([]byte, error) {
	if signals == nil {
		signals = []health.Signal{}
	}
	return json.Marshal(signals)
}

func decodeSignals(raw []byte) ([]health.Signal, error) {
	signals := []health.Signal{}
	if len(raw) == 0 {
		return signals, nil
	}
	if err := json.Unmarshal(raw, &signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	if signals == nil {
		signals = []health.Signal{}
	}
	return signals, nil
}
