// Package store persists room documents and their edit history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load for a room that was never saved.
var ErrNotFound = errors.New("store: document not found")

// Snapshot is the saved form of a room document.
type Snapshot struct {
	// State is an encoded crdt.Update reproducing the document.
	State []byte
	// Fields copies the plain fields of the document, rendered for display,
	// so they can be queried without decoding State.
	Fields map[string]string
}

// HistoryEntry is one saved batch of edits.
type HistoryEntry struct {
	ID     string
	Room   string
	Author uint32
	Update []byte
	Time   time.Time
}

// Store is a document store.
type Store interface {
	// Load returns the last saved snapshot of room.
	Load(ctx context.Context, room string) (Snapshot, error)
	// Save replaces the snapshot of room and appends history atomically.
	Save(ctx context.Context, room string, snap Snapshot, history []HistoryEntry) error
	// History returns the history of room, oldest first.
	History(ctx context.Context, room string) ([]HistoryEntry, error)
	Close() error
}
