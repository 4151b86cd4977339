package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Replica metrics. They live in their own package so that node and main can
// both reach them without an import cycle.

var (
	OperationsAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsae_operations_admitted_total",
		Help: "Operations admitted into the log, by origin (local or remote)",
	}, []string{"origin"})

	OperationsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsae_operations_rejected_total",
		Help: "Duplicate or out of order operations ignored by the log",
	})

	OperationsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsae_operations_purged_total",
		Help: "Operations removed from the log once acknowledged by every replica",
	})

	Sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsae_sessions_total",
		Help: "Anti-entropy sessions, by role (originator or partner) and result",
	}, []string{"role", "result"})

	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsae_session_duration_ms",
		Help:    "Duration of anti-entropy sessions in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	LogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsae_log_size",
		Help: "Operations currently stored in the log",
	})
)

// RegisterTSAE registers the replica metrics on the given registry (or default if nil).
func RegisterTSAE(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		OperationsAdmitted, OperationsRejected, OperationsPurged, Sessions, SessionDuration, LogSize,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
