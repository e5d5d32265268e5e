package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Coordinator metrics live in their own package so lock, messenger and
// pipeline can record without depending on each other.

var (
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcoord_operations_total",
		Help: "Client operations by service and result code",
	}, []string{"service", "code"})

	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txcoord_operation_duration_seconds",
		Help:    "Client operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"service"})

	LockBusy = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcoord_lock_busy_total",
		Help: "Acquisitions refused because the resource was busy",
	}, []string{"resource"})

	AuditCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txcoord_audit_cancelled_total",
		Help: "Audit runs that ended cancelled",
	})

	Compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txcoord_compensations_total",
		Help: "Compensating end/abort messages sent to participants",
	}, []string{"kind"})

	ClusterState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txcoord_cluster_state",
		Help: "1 for the current cluster state of the coordinator",
	}, []string{"state"})
)

// Register registers the coordinator metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	collectors := []prometheus.Collector{
		Operations,
		OperationDuration,
		LockBusy,
		AuditCancelled,
		Compensations,
		ClusterState,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// SetClusterState marks state as current and clears the previous one.
func SetClusterState(previous, current string) {
	if previous != "" {
		ClusterState.WithLabelValues(previous).Set(0)
	}
	ClusterState.WithLabelValues(current).Set(1)
}
