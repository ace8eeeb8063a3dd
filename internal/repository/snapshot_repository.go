package repository

import (
	"context"
	"errors"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// ErrSnapshotNotFound is returned when no dialogue has been stored for a user.
var ErrSnapshotNotFound = errors.New("dialogue snapshot not found")

// ErrLockTimeout is returned when the per-user lock could not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for dialogue lock")

// SnapshotStore persists one dialogue snapshot per (channel number, user).
type SnapshotStore interface {
	Get(ctx context.Context, channelNumberID, userID string) (*domain.DialogueSnapshot, error)
	Upsert(ctx context.Context, snapshot *domain.DialogueSnapshot) error
}

// SnapshotLocker serializes work on one dialogue across processes.
type SnapshotLocker interface {
	// Acquire blocks until the lock for key is held, ctx ends or the wait
	// budget runs out. The returned func releases the lock.
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}
