package allowlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/developingchet/maintenance-gate/internal/storage"
	"github.com/rs/zerolog"
)

// List is the allow-list view over a storage.Store. It encodes and decodes
// identifiers but leaves validation of caller input to Validate.
type List struct {
	store storage.Store
	log   zerolog.Logger
}

// New creates a List backed by store.
func New(store storage.Store, log zerolog.Logger) *List {
	return &List{store: store, log: log}
}

// Add creates an entry per address. Re-adding an existing address is a no-op.
// Addresses must already be valid; the first one that cannot be encoded aborts.
func (l *List) Add(ctx context.Context, ips ...string) error {
	for _, ip := range ips {
		id, err := Encode(ip)
		if err != nil {
			return err
		}
		if err := l.store.PutAllowed(ctx, id); err != nil {
			return fmt.Errorf("add %s: %w", ip, err)
		}
	}
	return nil
}

// Remove deletes entries matching ips, or every entry when ips is empty.
// It continues past individual delete failures and returns all of them joined,
// so one stuck entry does not keep the rest on the list.
func (l *List) Remove(ctx context.Context, ips ...string) error {
	ids, err := l.store.ListAllowed(ctx)
	if err != nil {
		return err
	}

	var targets map[string]struct{}
	if len(ips) > 0 {
		targets = make(map[string]struct{}, len(ips))
		for _, ip := range ips {
			norm, err := Normalize(ip)
			if err != nil {
				return err
			}
			targets[norm] = struct{}{}
		}
	}

	var errs []error
	for _, id := range ids {
		if targets != nil {
			addr, err := Decode(id)
			if err != nil {
				continue
			}
			if _, ok := targets[addr]; !ok {
				continue
			}
		}
		if err := l.store.DeleteAllowed(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Addresses enumerates the stored entries in decoded form. Identifiers that do
// not decode are logged and skipped. No ordering is guaranteed.
func (l *List) Addresses(ctx context.Context) ([]string, error) {
	ids, err := l.store.ListAllowed(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		addr, err := Decode(id)
		if err != nil {
			l.log.Warn().Err(err).Str("identifier", id).Msg("skipping undecodable allow-list entry")
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

// Contains reports whether ip is on the list. An unparseable ip is never listed.
func (l *List) Contains(ctx context.Context, ip string) (bool, error) {
	want, err := Encode(ip)
	if err != nil {
		return false, nil
	}
	return l.store.HasAllowed(ctx, want)
}
