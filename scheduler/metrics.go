package scheduler

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	resultSuccess    = "success"
	resultInfeasible = "infeasible"
	resultDiverged   = "diverged"
	resultError      = "error"
)

// Metrics holds the Prometheus collectors of the scheduler.
type Metrics struct {
	gatherer prometheus.Gatherer

	Optimizations        *prometheus.CounterVec
	OptimizationDuration prometheus.Histogram
	Simulations          *prometheus.CounterVec
	ScheduleExpectedCost prometheus.Gauge
	GemaalLevel          prometheus.Gauge
}

// NewMetrics registers the scheduler metrics against reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		gatherer: gatherer,
		Optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peil_optimizations_total",
			Help: "Pump schedule optimisations by result.",
		}, []string{"result"}),
		OptimizationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peil_optimization_duration_seconds",
			Help:    "Duration of pump schedule optimisations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		Simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peil_simulations_total",
			Help: "Network simulation runs by result.",
		}, []string{"result"}),
		ScheduleExpectedCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peil_schedule_expected_cost_eur",
			Help: "Expected energy cost of the current pump schedule.",
		}),
		GemaalLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peil_gemaal_upstream_level_meters",
			Help: "Last water level read on the suction side of the gemaal.",
		}),
	}

	var err error
	if m.Optimizations, err = register(reg, m.Optimizations); err != nil {
		return nil, err
	}
	if m.OptimizationDuration, err = register(reg, m.OptimizationDuration); err != nil {
		return nil, err
	}
	if m.Simulations, err = register(reg, m.Simulations); err != nil {
		return nil, err
	}
	if m.ScheduleExpectedCost, err = register(reg, m.ScheduleExpectedCost); err != nil {
		return nil, err
	}
	if m.GemaalLevel, err = register(reg, m.GemaalLevel); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// register adds c to reg, or returns the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
