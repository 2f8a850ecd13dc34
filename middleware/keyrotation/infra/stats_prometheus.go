package infra

import (
	"context"

	"apikey-gateway/middleware/keyrotation/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as admissões como contador por outcome.
// Sem label de credencial: cardinalidade fixa.
type PrometheusStats struct {
	admissions *prometheus.CounterVec
}

// NewPrometheusStats registra os coletores em reg (nil usa o registry padrão).
func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyrotation_admissions_total",
		Help: "Credential admission attempts by outcome.",
	}, []string{"outcome"})

	if err := reg.Register(admissions); err != nil {
		return nil, err
	}
	for _, o := range []domain.Outcome{domain.OutcomeAdmitted, domain.OutcomeExhausted, domain.OutcomeStoreError} {
		admissions.WithLabelValues(string(o))
	}
	return &PrometheusStats{admissions: admissions}, nil
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	if ev.Outcome == "" {
		return nil
	}
	p.admissions.WithLabelValues(string(ev.Outcome)).Inc()
	return nil
}

// Admissions devolve o coletor (útil em testes).
func (p *PrometheusStats) Admissions() *prometheus.CounterVec { return p.admissions }
