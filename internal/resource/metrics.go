package resource

import (
	"github.com/prometheus/client_golang/prometheus"
)

type poolMetrics struct {
	inUse    *prometheus.GaugeVec
	rejected prometheus.Counter
}

// EnableMetrics registers pool gauges and counters with reg. Call before the
// pool is shared with dispatch paths.
func (p *Pool) EnableMetrics(reg prometheus.Registerer) error {
	m := &poolMetrics{
		inUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rpc_runtime",
			Subsystem: "resources",
			Name:      "units_in_use",
			Help:      "Currently claimed units per resource label.",
		}, []string{"label"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpc_runtime",
			Subsystem: "resources",
			Name:      "claims_rejected_total",
			Help:      "Claims rejected because a resource was at capacity.",
		}),
	}
	if err := reg.Register(m.inUse); err != nil {
		return err
	}
	if err := reg.Register(m.rejected); err != nil {
		return err
	}

	p.mu.Lock()
	p.metrics = m
	for i, label := range p.labels {
		m.inUse.WithLabelValues(label).Set(float64(p.inUse[i]))
	}
	p.mu.Unlock()
	return nil
}

func (m *poolMetrics) setInUse(label string, units uint16) {
	if m == nil {
		return
	}
	m.inUse.WithLabelValues(label).Set(float64(units))
}

func (m *poolMetrics) rejectedClaim() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
