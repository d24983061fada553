package health

import "context"

// Store is the tenant-scoped data the engine reads and writes.
type Store interface {
	// SignalInputs returns ErrClientNotFound for an unknown client.
	SignalInputs(ctx context.Context, tenantID, clientID string) (Inputs, error)
	// LatestSnapshot returns nil when the client has no history. Ordering is by
	// created_at, not insertion.
	LatestSnapshot(ctx context.Context, tenantID, clientID string) (*Snapshot, error)
	AppendHealthSnapshot(ctx context.Context, snap Snapshot) error
	UpdateClientHealth(ctx context.Context, h ClientHealth) error
	GetClientHealth(ctx context.Context, tenantID, clientID string) (ClientHealth, error)
	ListActiveClients(ctx context.Context) ([]ClientRef, error)
}
