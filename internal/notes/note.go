// Package notes holds the meeting-note analysis state machine and its operator surface.
package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"radar-backend/internal/analysis"
)

var (
	ErrNotFound      = errors.New("note not found")
	ErrNotRetryable  = errors.New("note is not in failed state")
	ErrConflict      = errors.New("note changed concurrently")
	ErrInvalidChange = errors.New("invalid status transition")
)

// Note is a meeting note with its analysis state.
type Note struct {
	ID          string
	TenantID    string
	ClientID    string
	MeetingDate time.Time
	Summary     string
	Discussed   string
	Decisions   string
	Concerns    string
	NextSteps   string

	Status      Status
	Error       string
	Analysis    *analysis.Result
	Attempt     int
	ClaimToken  string
	ClaimedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Text builds the analysis input from the structured note fields. Empty sections are
// skipped; a note with no content yields "".
func (n Note) Text() string {
	sections := []struct{ label, body string }{
		{"Summary", n.Summary},
		{"Discussed", n.Discussed},
		{"Decisions", n.Decisions},
		{"Concerns", n.Concerns},
		{"Next steps", n.NextSteps},
	}
	var b strings.Builder
	for _, s := range sections {
		body := strings.TrimSpace(s.body)
		if body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.label)
		b.WriteString(":\n")
		b.WriteString(body)
	}
	if b.Len() == 0 {
		return ""
	}
	if !n.MeetingDate.IsZero() {
		return "Meeting date: " + n.MeetingDate.Format("2006-01-02") + "\n\n" + b.String()
	}
	return b.String()
}

// LeaseExpired reports whether a processing claim is older than lease.
func (n Note) LeaseExpired(now time.Time, lease time.Duration) bool {
	if n.ClaimedAt == nil || lease <= 0 {
		return true
	}
	return !now.Before(n.ClaimedAt.Add(lease))
}

// Transition is a conditional status change. The store applies it only when the note
// still has status From and claim token ExpectedToken.
type Transition struct {
	NoteID        string
	TenantID      string
	From          Status
	To            Status
	ExpectedToken string
	NextToken     string
	Attempt       int
	Analysis      *analysis.Result
	Error         string
	At            time.Time
}

// Reclaim reports whether the transition takes over an existing processing claim.
func (t Transition) Reclaim() bool {
	return t.From == StatusProcessing && t.To == StatusProcessing
}

// Validate rejects transitions the state machine does not allow.
func (t Transition) Validate() error {
	if t.NoteID == "" || t.TenantID == "" {
		return fmt.Errorf("%w: note and tenant are required", ErrInvalidChange)
	}
	if !CanTransition(t.From, t.To) && !t.Reclaim() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidChange, t.From, t.To)
	}
	if t.To == StatusProcessing && (t.NextToken == "" || t.Attempt < 1) {
		return fmt.Errorf("%w: claim needs a token and attempt", ErrInvalidChange)
	}
	if (t.Analysis != nil) != (t.To == StatusCompleted) {
		return fmt.Errorf("%w: analysis is set exactly when completing", ErrInvalidChange)
	}
	if (t.Error != "") != (t.To == StatusFailed) {
		return fmt.Errorf("%w: error is set exactly when failing", ErrInvalidChange)
	}
	return nil
}

// Apply returns n after t. It does not check the preconditions.
func (t Transition) Apply(n Note) Note {
	n.Status = t.To
	n.UpdatedAt = t.At
	switch t.To {
	case StatusProcessing:
		n.ClaimToken = t.NextToken
		n.Attempt = t.Attempt
		at := t.At
		n.ClaimedAt = &at
	case StatusCompleted:
		result := *t.Analysis
		n.Analysis = &result
		n.Error = ""
		n.ClaimToken = ""
		at := t.At
		n.CompletedAt = &at
	case StatusFailed:
		n.Error = t.Error
		n.ClaimToken = ""
	case StatusPending:
		n.Error = ""
		n.Attempt = 0
		n.ClaimToken = ""
		n.ClaimedAt = nil
	}
	return n
}
