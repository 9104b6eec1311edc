// Package checkpoint provides durable conversation snapshots keyed by thread.
//
// Each thread has exactly one record: the snapshot written after the most
// recently completed step. Saving a thread overwrites its previous record.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints for suspension and crash recovery.
// Implementations must be safe for concurrent use across threads.
type Store interface {
	// Save stores the checkpoint for a thread, replacing any previous one.
	Save(ctx context.Context, threadID string, data []byte) error

	// Load retrieves the checkpoint for a thread.
	// Returns ErrNotFound if the thread has no checkpoint.
	Load(ctx context.Context, threadID string) ([]byte, error)

	// Delete removes a thread's checkpoint.
	// Returns nil if the thread has no checkpoint.
	Delete(ctx context.Context, threadID string) error

	// List returns metadata for every stored thread, most recent first.
	List(ctx context.Context) ([]Info, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Locker is implemented by stores shared between processes. Lock blocks
// until the caller holds threadID exclusively or ctx ends; the returned
// func releases it and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, threadID string) (unlock func(), err error)
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	UpdatedAt time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
