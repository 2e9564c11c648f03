// Package admin is the single operation set shared by the CLI and the admin API.
package admin

import (
	"context"
	"errors"
	"sort"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/rs/zerolog"
)

// Service validates caller input and forwards to the maintenance state and
// allow list. Whitelist mutations are all-or-nothing on validation.
type Service struct {
	state *maintenance.State
	allow *allowlist.List
	log   zerolog.Logger
}

// New creates a Service.
func New(state *maintenance.State, allow *allowlist.List, log zerolog.Logger) *Service {
	return &Service{state: state, allow: allow, log: log}
}

// Status reports the current maintenance status.
func (s *Service) Status(ctx context.Context) (maintenance.Status, error) {
	st, err := s.state.Snapshot(ctx)
	s.record("status", err)
	return st, err
}

// Activate turns maintenance mode on for minutes, or indefinitely for 0.
func (s *Service) Activate(ctx context.Context, minutes int) (maintenance.Status, error) {
	st, err := s.state.Activate(ctx, minutes)
	s.record("activate", err)
	if err != nil {
		return st, err
	}
	ev := s.log.Info().Int("duration_minutes", minutes)
	if !st.ExpiresAt.IsZero() {
		ev = ev.Time("expires_at", st.ExpiresAt)
	}
	ev.Msg("maintenance mode activated")
	return st, nil
}

// Deactivate turns maintenance mode off. Already off is success.
func (s *Service) Deactivate(ctx context.Context) error {
	err := s.state.Deactivate(ctx)
	s.record("deactivate", err)
	if err == nil {
		s.log.Info().Msg("maintenance mode deactivated")
	}
	return err
}

// Reset deactivates and clears the whole allow list. Both steps are attempted
// even if the first fails.
func (s *Service) Reset(ctx context.Context) error {
	err := errors.Join(s.state.Deactivate(ctx), s.allow.Remove(ctx))
	s.record("reset", err)
	if err == nil {
		s.log.Info().Msg("maintenance state reset")
	}
	return err
}

// AddToWhitelist validates every address and, only if all are valid, adds them.
// Invalid input yields *allowlist.ValidationError.
func (s *Service) AddToWhitelist(ctx context.Context, ips []string) error {
	valid, err := allowlist.Validate(ips)
	if err == nil {
		err = s.allow.Add(ctx, valid...)
	}
	s.record("whitelist_add", err)
	if err == nil {
		s.log.Info().Strs("ips", valid).Msg("addresses added to allow list")
	}
	return err
}

// RemoveFromWhitelist validates every address and, only if all are valid,
// removes them. An empty ips clears the list.
func (s *Service) RemoveFromWhitelist(ctx context.Context, ips []string) error {
	valid, err := allowlist.Validate(ips)
	if err == nil {
		err = s.allow.Remove(ctx, valid...)
	}
	s.record("whitelist_remove", err)
	if err == nil {
		if len(valid) == 0 {
			s.log.Info().Msg("allow list cleared")
		} else {
			s.log.Info().Strs("ips", valid).Msg("addresses removed from allow list")
		}
	}
	return err
}

// ListWhitelist returns the allow-listed addresses, sorted.
func (s *Service) ListWhitelist(ctx context.Context) ([]string, error) {
	ips, err := s.allow.Addresses(ctx)
	s.record("whitelist_list", err)
	if err != nil {
		return nil, err
	}
	sort.Strings(ips)
	metrics.AllowListEntries.Set(float64(len(ips)))
	return ips, nil
}

// Whitelist is the combined command form: with remove, ips are removed (all
// entries when ips is empty); without remove, non-empty ips are added. The
// resulting list is returned.
func (s *Service) Whitelist(ctx context.Context, ips []string, remove bool) ([]string, error) {
	var err error
	switch {
	case remove:
		err = s.RemoveFromWhitelist(ctx, ips)
	case len(ips) > 0:
		err = s.AddToWhitelist(ctx, ips)
	}
	if err != nil {
		return nil, err
	}
	return s.ListWhitelist(ctx)
}

func (s *Service) record(op string, err error) {
	status := "success"
	var ve *allowlist.ValidationError
	var de *maintenance.DurationError
	switch {
	case err == nil:
	case errors.As(err, &ve), errors.As(err, &de):
		status = "invalid"
	default:
		status = "error"
		metrics.StoreErrors.WithLabelValues(op).Inc()
		s.log.Error().Err(err).Str("op", op).Msg("admin operation failed")
	}
	metrics.AdminOperations.WithLabelValues(op, status).Inc()
}
