// Package state tracks the last successfully stored bar date per instrument.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	appconfig "marketflow/config"
)

// ErrNotFound is returned by Get for an instrument that has never been fetched.
var ErrNotFound = errors.New("state not found")

// FetchState is the incremental checkpoint of one instrument.
type FetchState struct {
	Code      string
	LastDate  time.Time
	UpdatedAt time.Time
}

// Store persists FetchState. Advance never moves LastDate backwards; an older
// date is accepted and ignored.
type Store interface {
	Get(ctx context.Context, code string) (FetchState, error)
	Advance(ctx context.Context, code string, date time.Time) error
	AdvanceMany(ctx context.Context, updates map[string]time.Time) map[string]error
	Close() error
}

// Open selects the backend named by storage.state.backend.
func Open(ctx context.Context, cfg *appconfig.Config) (Store, error) {
	switch cfg.Storage.State.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(ctx, cfg.Storage.State.SQLitePath)
	case "redis":
		return NewRedis(ctx, cfg.Storage.Redis.URL, cfg.Storage.Redis.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Storage.State.Backend)
	}
}

// advanceEach applies updates one instrument at a time. A failure on one
// code is reported in the result map and does not affect the others.
func advanceEach(ctx context.Context, s Store, updates map[string]time.Time) map[string]error {
	errs := make(map[string]error)
	for code, date := range updates {
		if err := s.Advance(ctx, code, date); err != nil {
			errs[code] = err
		}
	}
	return errs
}
