package core

import "context"

// SnapshotStore defines the interface for different snapshot backend implementations.
// Keys are instrument keys (see InstrumentKey).
type SnapshotStore interface {
	// Save replaces the stored snapshot for key
	Save(ctx context.Context, key string, snapshot *MarketByOrderUpdate) error
	// Load returns the stored snapshot, or false when nothing is stored under key
	Load(ctx context.Context, key string) (*MarketByOrderUpdate, bool, error)
	// Delete removes the snapshot for key (no error when absent)
	Delete(ctx context.Context, key string) error
	// Keys lists every stored instrument key
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
