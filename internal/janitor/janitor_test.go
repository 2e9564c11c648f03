package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/developingchet/maintenance-gate/internal/storage"
	"github.com/developingchet/maintenance-gate/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestJanitor(store storage.Store) (*Janitor, *maintenance.State, *allowlist.List) {
	state := maintenance.NewState(store, zerolog.Nop())
	allow := allowlist.New(store, zerolog.Nop())
	return New(state, allow, 50*time.Millisecond, zerolog.Nop()), state, allow
}

func TestJanitor_ClearsExpiredFlag(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	j, state, _ := newTestJanitor(store)

	if err := store.SetFlag(ctx, storage.FlagRecord{ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	j.tick(ctx)
	state.Wait()

	if store.HasFlag() {
		t.Error("expired flag should have been cleared")
	}
	if got := promtest.ToFloat64(metrics.Active); got != 0 {
		t.Errorf("active gauge: got %v", got)
	}
}

func TestJanitor_KeepsActiveFlagAndSetsGauges(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	j, state, allow := newTestJanitor(store)

	st, err := state.Activate(ctx, 60)
	if err != nil {
		t.Fatal(err)
	}
	_ = allow.Add(ctx, "10.0.0.1", "fe80::1")
	j.tick(ctx)

	if !store.HasFlag() {
		t.Fatal("active flag must survive a tick")
	}
	if got := promtest.ToFloat64(metrics.Active); got != 1 {
		t.Errorf("active gauge: got %v", got)
	}
	if got := promtest.ToFloat64(metrics.ExpiresAt); got != float64(st.ExpiresAt.Unix()) {
		t.Errorf("expires_at gauge: got %v want %v", got, st.ExpiresAt.Unix())
	}
	if got := promtest.ToFloat64(metrics.AllowListEntries); got != 2 {
		t.Errorf("allowlist gauge: got %v", got)
	}
}

func TestJanitor_StoreErrorsDoNotPanic(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	j, _, _ := newTestJanitor(store)

	before := promtest.ToFloat64(metrics.StoreErrors.WithLabelValues("janitor_flag"))
	store.SetError("GetFlag", errors.New("io"))
	store.SetError("ListAllowed", errors.New("io"))
	j.tick(ctx)
	if got := promtest.ToFloat64(metrics.StoreErrors.WithLabelValues("janitor_flag")); got != before+1 {
		t.Errorf("store_errors_total{op=janitor_flag}: got %v want %v", got, before+1)
	}
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	store := testutil.NewMockStore()
	j, _, _ := newTestJanitor(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
	if store.Calls("GetFlag") < 2 {
		t.Errorf("expected several ticks, got %d flag reads", store.Calls("GetFlag"))
	}
}
