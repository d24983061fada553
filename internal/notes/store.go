package notes

import "context"

// Store is the tenant-scoped note persistence the pipeline depends on.
type Store interface {
	// GetNote returns ErrNotFound when the note does not exist for tenantID.
	GetNote(ctx context.Context, tenantID, noteID string) (Note, error)
	// CompareAndSetStatus applies t atomically if status and claim token still match,
	// reporting whether it was applied. Completing a note also stores the analysis
	// action items in the same step.
	CompareAndSetStatus(ctx context.Context, t Transition) (bool, error)
}
