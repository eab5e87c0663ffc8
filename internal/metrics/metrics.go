// Package metrics - счётчики исходов торгов и фоновой обработки сроков.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder фиксирует события биржи грузов.
type Recorder interface {
	// BidTransition учитывает переход предложения в статус status (n штук).
	BidTransition(status string, n int)
	// TenderOutcome учитывает итог ответа или смену статуса тендера.
	TenderOutcome(outcome string)
	// SweepProcessed учитывает результат одного прохода фоновой обработки.
	SweepProcessed(kind string, n int)
	// SweepFailure учитывает ошибку обработки одного элемента.
	SweepFailure(kind string)
}

// NopRecorder ничего не записывает.
type NopRecorder struct{}

func (NopRecorder) BidTransition(string, int)  {}
func (NopRecorder) TenderOutcome(string)       {}
func (NopRecorder) SweepProcessed(string, int) {}
func (NopRecorder) SweepFailure(string)        {}

// PromRecorder пишет события в метрики Prometheus.
type PromRecorder struct {
	bids          *prometheus.CounterVec
	tenders       *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepFailures *prometheus.CounterVec
}

// NewPromRecorder регистрирует метрики в reg. nil означает глобальный регистратор.
func NewPromRecorder(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	bids := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_bid_transitions_total",
		Help: "Bid status transitions by target status",
	}, []string{"status"})
	tenders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_tender_outcomes_total",
		Help: "Tender responses and status changes by outcome",
	}, []string{"outcome"})
	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_sweep_transitions_total",
		Help: "Rows transitioned by the expiry sweeper",
	}, []string{"kind"})
	sweepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_sweep_failures_total",
		Help: "Per-item failures inside the expiry sweeper",
	}, []string{"kind"})

	var err error
	if bids, err = register(reg, bids); err != nil {
		return nil, err
	}
	if tenders, err = register(reg, tenders); err != nil {
		return nil, err
	}
	if sweeps, err = register(reg, sweeps); err != nil {
		return nil, err
	}
	if sweepFailures, err = register(reg, sweepFailures); err != nil {
		return nil, err
	}
	return &PromRecorder{bids: bids, tenders: tenders, sweeps: sweeps, sweepFailures: sweepFailures}, nil
}

// register переиспользует уже зарегистрированный коллектор с тем же именем.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

func (p *PromRecorder) BidTransition(status string, n int) {
	if n > 0 {
		p.bids.WithLabelValues(status).Add(float64(n))
	}
}

func (p *PromRecorder) TenderOutcome(outcome string) {
	p.tenders.WithLabelValues(outcome).Inc()
}

func (p *PromRecorder) SweepProcessed(kind string, n int) {
	if n > 0 {
		p.sweeps.WithLabelValues(kind).Add(float64(n))
	}
}

func (p *PromRecorder) SweepFailure(kind string) {
	p.sweepFailures.WithLabelValues(kind).Inc()
}
