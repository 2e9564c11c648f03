package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendFile  = "file"
	BackendBbolt = "bbolt"
	BackendRedis = "redis"
)

// FlagRecord is the persisted maintenance flag.
type FlagRecord struct {
	ExpiresAt time.Time // zero = no expiry
}

// Expired reports whether the record carries a deadline that has passed at now.
func (r FlagRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store is the persistence interface shared by the maintenance state and the allow list.
// Allow-list entries are addressed by identifier only; encoding IPs is the caller's job.
type Store interface {
	// Flag operations. GetFlag reports found=false when no flag is persisted.
	GetFlag(ctx context.Context) (FlagRecord, bool, error)
	SetFlag(ctx context.Context, rec FlagRecord) error
	// DeleteFlag succeeds when the flag is already absent.
	DeleteFlag(ctx context.Context) error

	// Allow-list operations.
	PutAllowed(ctx context.Context, id string) error
	// DeleteAllowed succeeds when the entry is already absent.
	DeleteAllowed(ctx context.Context, id string) error
	ListAllowed(ctx context.Context) ([]string, error)
	// HasAllowed is a point lookup for one identifier.
	HasAllowed(ctx context.Context, id string) (bool, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}

// PersistenceError reports a failed read, write or delete against the backing store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
