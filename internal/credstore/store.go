// Package credstore persists per-session credential blobs. Blobs are opaque
// to the rest of the system and round-trip byte-for-byte. Two backends exist:
// sqlite (default, single-node) and postgres (managed, DSN from env). A nil
// Store is a valid degraded mode — sessions then live in memory only and do
// not survive restart.
package credstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no blob exists for a session.
var ErrNotFound = errors.New("credstore: session not found")

//go:embed migrations
var migrationsFS embed.FS

// Store is the credential persistence gateway.
type Store interface {
	// Load returns the blob saved for a session id, or ErrNotFound.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Save upserts the blob for a session id.
	Save(ctx context.Context, sessionID string, blob []byte) error

	// Delete removes a session's blob. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, sessionID string) error

	Close() error
}

// Config selects the backend.
type Config struct {
	PostgresDSN string
	SQLitePath  string
}

// Open creates a Store, preferring postgres when a DSN is configured.
// Migrations run on open.
func Open(cfg Config) (Store, error) {
	if cfg.PostgresDSN != "" {
		s, err := OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres credstore: %w", err)
		}
		return s, nil
	}

	s, err := OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite credstore: %w", err)
	}
	return s, nil
}
