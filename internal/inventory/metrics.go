package inventory

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes ledger counters.
type Metrics struct {
	movements      *prometheus.CounterVec
	shortfalls     prometheus.Counter
	shortfallUnits prometheus.Counter
}

// NewMetrics registers the inventory collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wms_inventory_movements_total",
		Help: "Committed stock movements by kind.",
	}, []string{"kind"})
	shortfalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wms_fifo_shortfalls_total",
		Help: "Outbounds whose batches could not cover the requested quantity.",
	})
	units := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wms_fifo_shortfall_units_total",
		Help: "Units dispatched without batch coverage.",
	})
	registerer.MustRegister(movements, shortfalls, units)
	return &Metrics{movements: movements, shortfalls: shortfalls, shortfallUnits: units}
}

func (m *Metrics) movement(kind string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind).Inc()
}

func (m *Metrics) shortfall(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.shortfalls.Inc()
	m.shortfallUnits.Add(float64(units))
}
