package maintenance

import (
	"context"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/rs/zerolog"
)

// Reason explains a Decision. Values double as metric label values.
type Reason string

const (
	ReasonInactive    Reason = "inactive"
	ReasonBlocked     Reason = "blocked"
	ReasonAllowListed Reason = "allow_listed"
	ReasonExemptPath  Reason = "exempt_path"
	ReasonStoreError  Reason = "store_error"
)

// Decision is the outcome of gating one request.
type Decision struct {
	Blocked bool
	Reason  Reason
}

// MaintenanceActive reports whether the decision was taken while maintenance
// mode was on, including allow-listed passes.
func (d Decision) MaintenanceActive() bool {
	return d.Reason == ReasonBlocked || d.Reason == ReasonAllowListed
}

// Gate decides whether a request from a client address should be blocked.
type Gate struct {
	state      *State
	allow      *allowlist.List
	failClosed bool
	log        zerolog.Logger
}

// NewGate creates a Gate. With failClosed set, a store failure blocks the
// request; otherwise it is let through.
func NewGate(state *State, allow *allowlist.List, failClosed bool, log zerolog.Logger) *Gate {
	return &Gate{state: state, allow: allow, failClosed: failClosed, log: log}
}

// ShouldBlock reports whether a request from ip must receive the maintenance
// response. An empty ip cannot match the allow list.
func (g *Gate) ShouldBlock(ctx context.Context, ip string) bool {
	return g.Evaluate(ctx, ip).Blocked
}

// Evaluate returns the full decision for ip.
func (g *Gate) Evaluate(ctx context.Context, ip string) Decision {
	active, err := g.state.IsActive(ctx)
	if err != nil {
		return g.storeFailure("get_flag", err)
	}
	if !active {
		return Decision{Reason: ReasonInactive}
	}
	if ip == "" {
		return Decision{Blocked: true, Reason: ReasonBlocked}
	}
	listed, err := g.allow.Contains(ctx, ip)
	if err != nil {
		return g.storeFailure("list_allowed", err)
	}
	if listed {
		return Decision{Reason: ReasonAllowListed}
	}
	return Decision{Blocked: true, Reason: ReasonBlocked}
}

func (g *Gate) storeFailure(op string, err error) Decision {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	g.log.Error().Err(err).Str("op", op).Bool("fail_closed", g.failClosed).Msg("gate: store read failed")
	return Decision{Blocked: g.failClosed, Reason: ReasonStoreError}
}
