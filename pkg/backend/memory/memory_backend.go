package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/erain9/mbocache/pkg/core"
)

// MemoryBackend implements core.SnapshotStore in process memory.
// Snapshots are copied on the way in and out.
type MemoryBackend struct {
	sync.RWMutex
	snapshots map[string]*core.MarketByOrderUpdate
}

// NewMemoryBackend creates new instance of MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		snapshots: make(map[string]*core.MarketByOrderUpdate),
	}
}

// Save replaces the snapshot stored under key
func (b *MemoryBackend) Save(_ context.Context, key string, snapshot *core.MarketByOrderUpdate) error {
	b.Lock()
	defer b.Unlock()
	b.snapshots[key] = snapshot.Clone()
	return nil
}

// Load returns a copy of the snapshot stored under key
func (b *MemoryBackend) Load(_ context.Context, key string) (*core.MarketByOrderUpdate, bool, error) {
	b.RLock()
	defer b.RUnlock()
	snapshot, ok := b.snapshots[key]
	if !ok {
		return nil, false, nil
	}
	return snapshot.Clone(), true, nil
}

// Delete removes the snapshot stored under key
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.Lock()
	defer b.Unlock()
	delete(b.snapshots, key)
	return nil
}

// Keys returns the stored keys in sorted order
func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.RLock()
	defer b.RUnlock()
	keys := make([]string, 0, len(b.snapshots))
	for k := range b.snapshots {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Close drops every snapshot
func (b *MemoryBackend) Close() error {
	b.Lock()
	defer b.Unlock()
	clear(b.snapshots)
	return nil
}
