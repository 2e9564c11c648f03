package metrics_test

import (
	"testing"

	"github.com/developingchet/maintenance-gate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var collectors = map[string]prometheus.Collector{
	"maintenance_gate_gate_decisions_total":    metrics.GateDecisions,
	"maintenance_gate_store_errors_total":      metrics.StoreErrors,
	"maintenance_gate_admin_operations_total":  metrics.AdminOperations,
	"maintenance_gate_expiry_writebacks_total": metrics.ExpiryWritebacks,
	"maintenance_gate_active":                  metrics.Active,
	"maintenance_gate_expires_at_seconds":      metrics.ExpiresAt,
	"maintenance_gate_allowlist_entries":       metrics.AllowListEntries,
}

// touch makes every vector emit one series so Gather reports it.
func touch() {
	metrics.GateDecisions.WithLabelValues("blocked", "blocked")
	metrics.StoreErrors.WithLabelValues("get_flag")
	metrics.AdminOperations.WithLabelValues("activate", "success")
	metrics.ExpiryWritebacks.WithLabelValues("success")
}

func TestCollectorsLint(t *testing.T) {
	touch()
	for name, c := range collectors {
		t.Run(name, func(t *testing.T) {
			problems, err := testutil.CollectAndLint(c)
			if err != nil {
				t.Fatalf("CollectAndLint: %v", err)
			}
			for _, p := range problems {
				t.Errorf("lint: %s: %s", p.Metric, p.Text)
			}
		})
	}
}

func TestGatheredNamesAndHelp(t *testing.T) {
	touch()
	reg := prometheus.NewPedanticRegistry()
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	seen := make(map[string]bool, len(families))
	for _, mf := range families {
		seen[mf.GetName()] = true
		if mf.GetHelp() == "" {
			t.Errorf("%s has no help text", mf.GetName())
		}
	}
	for name := range collectors {
		if !seen[name] {
			t.Errorf("%s not gathered", name)
		}
	}
}

func TestDecisionLabels(t *testing.T) {
	c := metrics.GateDecisions.WithLabelValues("pass", "allow_listed")
	before := testutil.ToFloat64(c)
	c.Inc()
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("gate_decisions_total{pass,allow_listed}: got %v want %v", got, before+1)
	}
}

func TestGaugeSet(t *testing.T) {
	metrics.AllowListEntries.Set(3)
	if got := testutil.ToFloat64(metrics.AllowListEntries); got != 3 {
		t.Errorf("AllowListEntries: got %v want 3", got)
	}
}
