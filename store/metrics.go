package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tendril"

type metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Mapper operations by keyspace and result.",
		}, []string{"op", "keyspace", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Mapper operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op", "keyspace"}),
	}
	if reg != nil {
		m.ops = register(reg, m.ops)
		m.duration = register(reg, m.duration)
	}
	return m
}

// register returns the already registered collector when another Store
// registered the same metric on reg.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(op, keyspace string, start time.Time, err error) {
	m.ops.WithLabelValues(op, keyspace, result(err)).Inc()
	m.duration.WithLabelValues(op, keyspace).Observe(time.Since(start).Seconds())
}

func result(err error) string {
	var nc *NotConnectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &nc):
		return "not_connected"
	default:
		return "error"
	}
}
