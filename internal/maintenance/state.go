// Package maintenance owns the maintenance flag lifecycle and the per-request
// gating decision built on top of it.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/developingchet/maintenance-gate/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	expireKey        = "expire"
	writebackTimeout = 5 * time.Second
)

// Status is a point-in-time view of the maintenance flag.
type Status struct {
	Active bool
	// ExpiresAt is zero when the window has no expiry.
	ExpiresAt time.Time
	// Remaining is the time left until ExpiresAt, zero when there is no expiry.
	Remaining time.Duration
}

// DurationError reports a negative activation duration.
type DurationError struct {
	Minutes int
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("duration must be zero or a positive number of minutes, got %d", e.Minutes)
}

// State reads and writes the maintenance flag. An expired flag reads as
// inactive immediately; clearing it from the store happens in the background.
type State struct {
	store storage.Store
	log   zerolog.Logger
	now   func() time.Time
	group singleflight.Group
}

// NewState creates a State over store.
func NewState(store storage.Store, log zerolog.Logger) *State {
	return &State{store: store, log: log, now: time.Now}
}

// IsActive reports whether maintenance mode is on right now.
func (s *State) IsActive(ctx context.Context) (bool, error) {
	st, err := s.Snapshot(ctx)
	return st.Active, err
}

// Snapshot returns the current status, scheduling an expiry write-back when the
// stored flag has run out.
func (s *State) Snapshot(ctx context.Context) (Status, error) {
	rec, ok, err := s.store.GetFlag(ctx)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, nil
	}
	now := s.now()
	if rec.Expired(now) {
		s.scheduleExpiry()
		return Status{}, nil
	}
	st := Status{Active: true, ExpiresAt: rec.ExpiresAt}
	if !rec.ExpiresAt.IsZero() {
		st.Remaining = rec.ExpiresAt.Sub(now)
	}
	return st, nil
}

// Activate turns maintenance mode on. minutes == 0 means no expiry; otherwise
// the absolute deadline now+minutes is persisted, at one-second resolution.
func (s *State) Activate(ctx context.Context, minutes int) (Status, error) {
	if minutes < 0 {
		return Status{}, &DurationError{Minutes: minutes}
	}
	var rec storage.FlagRecord
	st := Status{Active: true}
	if minutes > 0 {
		now := s.now()
		d := time.Duration(minutes) * time.Minute
		rec.ExpiresAt = time.Unix(now.Add(d).Unix(), 0)
		st.ExpiresAt = rec.ExpiresAt
		st.Remaining = rec.ExpiresAt.Sub(now)
	}
	if err := s.store.SetFlag(ctx, rec); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Deactivate clears the flag. An already inactive store is not an error.
func (s *State) Deactivate(ctx context.Context) error {
	return s.store.DeleteFlag(ctx)
}

// Wait blocks until any in-flight expiry write-back has finished.
func (s *State) Wait() {
	_, _, _ = s.group.Do(expireKey, func() (any, error) { return nil, nil })
}

// scheduleExpiry starts at most one background write-back at a time. DoChan
// results are buffered, so callers never read them.
func (s *State) scheduleExpiry() {
	s.group.DoChan(expireKey, s.clearExpired)
}

func (s *State) clearExpired() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writebackTimeout)
	defer cancel()

	// Re-read so a window activated after the expiry was observed survives.
	rec, ok, err := s.store.GetFlag(ctx)
	if err == nil && (!ok || !rec.Expired(s.now())) {
		metrics.ExpiryWritebacks.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	if err == nil {
		err = s.store.DeleteFlag(ctx)
	}
	if err != nil {
		metrics.ExpiryWritebacks.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Msg("expiry write-back failed")
		return nil, err
	}
	metrics.ExpiryWritebacks.WithLabelValues("success").Inc()
	s.log.Info().Time("expired_at", rec.ExpiresAt).Msg("maintenance window expired, flag cleared")
	return nil, nil
}
