// Package pebble stores book snapshots in an embedded Pebble database so a
// restarted service can reseed its caches without a venue snapshot.
package pebble

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
)

var (
	keyPrefix = []byte("snapshot/")
	// '0' sorts right after '/'
	keyUpper = []byte("snapshot0")
)

// PebbleBackend implements core.SnapshotStore on Pebble. Writes are synced.
type PebbleBackend struct {
	db *pebble.DB
}

// Open opens or creates the database in dir
func Open(dir string) (*PebbleBackend, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory opens a database backed by an in-memory filesystem
func OpenInMemory() (*PebbleBackend, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", dir, err)
	}
	return &PebbleBackend{db: db}, nil
}

// Save replaces the snapshot stored under key
func (b *PebbleBackend) Save(_ context.Context, key string, snapshot *core.MarketByOrderUpdate) error {
	return b.db.Set(keyFor(key), codec.EncodeSnapshot(snapshot), pebble.Sync)
}

// Load returns the snapshot stored under key
func (b *PebbleBackend) Load(_ context.Context, key string) (*core.MarketByOrderUpdate, bool, error) {
	val, closer, err := b.db.Get(keyFor(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	// val is only valid until closer is closed; DecodeSnapshot copies what it keeps
	snapshot, err := codec.DecodeSnapshot(val)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot %s: %w", key, err)
	}
	return snapshot, true, nil
}

// Delete removes the snapshot stored under key
func (b *PebbleBackend) Delete(_ context.Context, key string) error {
	return b.db.Delete(keyFor(key), pebble.Sync)
}

// Keys returns every stored key in byte order
func (b *PebbleBackend) Keys(_ context.Context) ([]string, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: keyUpper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	keys := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(bytes.TrimPrefix(iter.Key(), keyPrefix)))
	}
	return keys, iter.Error()
}

// Close closes the database
func (b *PebbleBackend) Close() error {
	return b.db.Close()
}

func keyFor(key string) []byte {
	return append(append([]byte(nil), keyPrefix...), key...)
}
