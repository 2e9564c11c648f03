package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/developingchet/maintenance-gate/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestGate(t *testing.T, failClosed bool) (*Gate, *State, *allowlist.List, *testutil.MockStore) {
	t.Helper()
	store := testutil.NewMockStore()
	state, _ := newTestState(store)
	allow := allowlist.New(store, zerolog.Nop())
	return NewGate(state, allow, failClosed, zerolog.Nop()), state, allow, store
}

func TestGateNeverBlocksWhenInactive(t *testing.T) {
	ctx := context.Background()
	g, _, allow, _ := newTestGate(t, false)
	_ = allow.Add(ctx, "192.168.1.5")

	for _, ip := range []string{"", "192.168.1.5", "203.0.113.9", "fe80::1", "garbage"} {
		d := g.Evaluate(ctx, ip)
		if d.Blocked || d.Reason != ReasonInactive {
			t.Errorf("Evaluate(%q) while inactive: %+v", ip, d)
		}
	}
}

func TestGateActiveWithAllowList(t *testing.T) {
	ctx := context.Background()
	g, state, allow, _ := newTestGate(t, false)
	if _, err := state.Activate(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if err := allow.Add(ctx, "192.168.1.5"); err != nil {
		t.Fatal(err)
	}

	if g.ShouldBlock(ctx, "192.168.1.5") {
		t.Error("allow-listed client should pass")
	}
	if !g.ShouldBlock(ctx, "203.0.113.9") {
		t.Error("other client should be blocked")
	}
	if !g.ShouldBlock(ctx, "") {
		t.Error("missing client address should be blocked while active")
	}
	if d := g.Evaluate(ctx, "::ffff:192.168.1.5"); d.Blocked || d.Reason != ReasonAllowListed {
		t.Errorf("IPv4-mapped form of an allowed address: %+v", d)
	}
	if !g.Evaluate(ctx, "192.168.1.5").MaintenanceActive() {
		t.Error("allow-listed pass should still report maintenance active")
	}
	if active, _ := state.IsActive(ctx); !active {
		t.Error("status should report active")
	}
}

func TestGateFailsOpenByDefault(t *testing.T) {
	ctx := context.Background()
	g, state, _, store := newTestGate(t, false)
	_, _ = state.Activate(ctx, 0)

	before := promtest.ToFloat64(metrics.StoreErrors.WithLabelValues("get_flag"))
	store.SetError("GetFlag", errors.New("permission denied"))
	d := g.Evaluate(ctx, "203.0.113.9")
	if d.Blocked || d.Reason != ReasonStoreError {
		t.Errorf("fail-open decision: %+v", d)
	}
	if got := promtest.ToFloat64(metrics.StoreErrors.WithLabelValues("get_flag")); got != before+1 {
		t.Errorf("store_errors_total{op=get_flag}: got %v want %v", got, before+1)
	}
}

func TestGateFailClosed(t *testing.T) {
	ctx := context.Background()
	g, state, _, store := newTestGate(t, true)
	_, _ = state.Activate(ctx, 0)

	store.SetError("GetFlag", errors.New("permission denied"))
	if d := g.Evaluate(ctx, "203.0.113.9"); !d.Blocked || d.Reason != ReasonStoreError {
		t.Errorf("fail-closed on flag read: %+v", d)
	}
	store.SetError("HasAllowed", errors.New("permission denied"))
	if d := g.Evaluate(ctx, "203.0.113.9"); !d.Blocked || d.Reason != ReasonStoreError {
		t.Errorf("fail-closed on allow-list read: %+v", d)
	}
}

func TestGateDoesNotMutateState(t *testing.T) {
	ctx := context.Background()
	g, state, _, store := newTestGate(t, false)
	_, _ = state.Activate(ctx, 0)
	sets, deletes := store.Calls("SetFlag"), store.Calls("DeleteFlag")
	for i := 0; i < 10; i++ {
		g.ShouldBlock(ctx, "203.0.113.9")
	}
	state.Wait()
	if store.Calls("SetFlag") != sets || store.Calls("DeleteFlag") != deletes {
		t.Error("gating an unexpired flag must not write to the store")
	}
}
