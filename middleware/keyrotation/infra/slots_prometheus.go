package infra

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSlots publica a ocupação das vagas de upstream.
type PrometheusSlots struct {
	inFlight prometheus.Gauge
	rejected prometheus.Counter
}

func NewPrometheusSlots(reg prometheus.Registerer, capacity int) (*PrometheusSlots, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusSlots{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyrotation_upstream_inflight",
			Help: "Requests currently forwarded to the upstream.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyrotation_upstream_rejected_total",
			Help: "Requests rejected for lack of an upstream slot.",
		}),
	}
	capGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keyrotation_upstream_capacity",
		Help: "Maximum concurrent upstream requests.",
	})
	capGauge.Set(float64(capacity))

	for _, c := range []prometheus.Collector{p.inFlight, p.rejected, capGauge} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusSlots) InFlight(n int) { p.inFlight.Set(float64(n)) }

func (p *PrometheusSlots) Rejected() { p.rejected.Inc() }
