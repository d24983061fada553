package db

import (
	"context"
	"database/sql"
	"sync"

	"golang.org/x/sync/singleflight"

	"radar-backend/internal/shared/telemetry"
)

var (
	sharedMu     sync.Mutex
	sharedDB     *sql.DB
	connectGroup singleflight.Group
)

// GetSingleton returns the process-wide pool, connecting on first use. Concurrent
// first callers share one connect attempt; a failed attempt is retried by the next call.
func GetSingleton(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if pool := cached(); pool != nil {
		return pool, nil
	}
	v, err, _ := connectGroup.Do("db", func() (any, error) {
		if pool := cached(); pool != nil {
			return pool, nil
		}
		pool, err := Connect(ctx, databaseURL, opts)
		if err != nil {
			return nil, err
		}
		sharedMu.Lock()
		sharedDB = pool
		sharedMu.Unlock()
		telemetry.Info("db.singleton.init", nil)
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func cached() *sql.DB {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return sharedDB
}
