// Package metrics exposes Prometheus instruments for the auth flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Auth groups the auth-flow instruments. A nil *Auth is valid and records
// nothing.
type Auth struct {
	operations *prometheus.CounterVec
	hashing    prometheus.Histogram
}

// NewAuth creates the instruments and registers them on reg.
func NewAuth(reg prometheus.Registerer) (*Auth, error) {
	m := &Auth{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usersvc",
			Name:      "auth_operations_total",
			Help:      "Auth operations by operation name and result status.",
		}, []string{"operation", "status"}),
		hashing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "usersvc",
			Name:      "password_hash_seconds",
			Help:      "Time spent hashing or verifying passwords.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.hashing} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOperation counts one finished operation.
func (m *Auth) ObserveOperation(operation, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
}

// ObserveHashing records how long a hash or verify call took.
func (m *Auth) ObserveHashing(d time.Duration) {
	if m == nil {
		return
	}
	m.hashing.Observe(d.Seconds())
}
