// Package janitor runs periodic maintenance-state housekeeping.
package janitor

import (
	"context"
	"time"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/rs/zerolog"
)

// Janitor clears expired windows on idle deployments and refreshes gauges.
type Janitor struct {
	state    *maintenance.State
	allow    *allowlist.List
	interval time.Duration
	log      zerolog.Logger
}

// New creates a Janitor.
func New(state *maintenance.State, allow *allowlist.List, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{state: state, allow: allow, interval: interval, log: log}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			j.state.Wait()
			return nil
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	// Snapshot schedules the expiry write-back when the window has run out.
	st, err := j.state.Snapshot(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("janitor_flag").Inc()
		j.log.Warn().Err(err).Msg("janitor: read maintenance flag failed")
	} else {
		if st.Active {
			metrics.Active.Set(1)
		} else {
			metrics.Active.Set(0)
		}
		if st.ExpiresAt.IsZero() {
			metrics.ExpiresAt.Set(0)
		} else {
			metrics.ExpiresAt.Set(float64(st.ExpiresAt.Unix()))
		}
	}

	ips, err := j.allow.Addresses(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("janitor_allowlist").Inc()
		j.log.Warn().Err(err).Msg("janitor: list allow list failed")
	} else {
		metrics.AllowListEntries.Set(float64(len(ips)))
	}

	j.log.Debug().Bool("active", st.Active).Int("allowlist_entries", len(ips)).Msg("janitor: tick complete")
}
