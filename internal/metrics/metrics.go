package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "maintenance_gate"

var (
	// GateDecisions counts request filter outcomes.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Request filter outcomes by result and reason.",
	}, []string{"result", "reason"})

	// StoreErrors counts failed store operations seen by the gate and admin layers.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Failed maintenance store operations.",
	}, []string{"op"})

	// AdminOperations counts administrative calls.
	AdminOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admin_operations_total",
		Help:      "Administrative operations by outcome.",
	}, []string{"op", "status"})

	// ExpiryWritebacks counts background deactivations after an observed expiry.
	ExpiryWritebacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expiry_writebacks_total",
		Help:      "Background flag deletions after an observed expiry.",
	}, []string{"status"})

	// Active is 1 while maintenance mode is on.
	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active",
		Help:      "1 while maintenance mode is active.",
	})

	// ExpiresAt is the Unix deadline of the active window, 0 when none.
	ExpiresAt = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "expires_at_seconds",
		Help:      "Unix time at which maintenance mode expires, 0 for no expiry.",
	})

	// AllowListEntries tracks the allow-list size.
	AllowListEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "allowlist_entries",
		Help:      "Addresses currently on the maintenance allow list.",
	})
)
