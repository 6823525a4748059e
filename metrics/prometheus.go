package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus turns metrics into counters labeled by relay.
type Prometheus struct {
	counters *prometheus.CounterVec
}

// NewPrometheus registers a nostrbus_events_total counter vector on reg.
func NewPrometheus(reg prometheus.Registerer, account string) (*Prometheus, error) {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "nostrbus",
		Name:        "events_total",
		Help:        "Relay bus events by name and relay.",
		ConstLabels: prometheus.Labels{"account": account},
	}, []string{"name", "relay"})

	if err := reg.Register(counters); err != nil {
		return nil, err
	}
	return &Prometheus{counters: counters}, nil
}

// Record adds the metric's value to its counter. Negative values are ignored since
// counters only go up.
func (p *Prometheus) Record(m Metric) {
	if m.Value < 0 {
		return
	}
	p.counters.WithLabelValues(strings.ReplaceAll(m.Name, ".", "_"), m.Tags["relay"]).Add(m.Value)
}
