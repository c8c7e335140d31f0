package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors exposes simulator activity as Prometheus metrics. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	// events counts executed events by kind
	events *prometheus.CounterVec

	// queueLength tracks the number of queued events after each event
	queueLength prometheus.Gauge

	// partsCreated counts registered instances by population
	partsCreated *prometheus.CounterVec

	// partsDied counts removed instances by population
	partsDied *prometheus.CounterVec

	// liveParts tracks the live count of each population at the serial point
	liveParts *prometheus.GaugeVec

	// connections counts connections made by population
	connections *prometheus.CounterVec

	// flushes counts EventStep compactions
	flushes prometheus.Counter
}

// NewCollectors registers the simulator metrics with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spikesim_events_total",
			Help: "Total events executed by kind",
		}, []string{"kind"}),
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "spikesim_queue_length",
			Help: "Events queued after the last executed event",
		}),
		partsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spikesim_parts_created_total",
			Help: "Total instances created by population",
		}, []string{"population"}),
		partsDied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spikesim_parts_died_total",
			Help: "Total instances removed by population",
		}, []string{"population"}),
		liveParts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spikesim_live_parts",
			Help: "Live instances by population",
		}, []string{"population"}),
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spikesim_connections_total",
			Help: "Total connections made by population",
		}, []string{"population"}),
		flushes: f.NewCounter(prometheus.CounterOpts{
			Name: "spikesim_step_flushes_total",
			Help: "Total EventStep member list compactions",
		}),
	}
}

func (c *Collectors) event(k EventKind, queued int) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(k.String()).Inc()
	c.queueLength.Set(float64(queued))
}

func (c *Collectors) created(pop string) {
	if c == nil {
		return
	}
	c.partsCreated.WithLabelValues(pop).Inc()
}

func (c *Collectors) died(pop string) {
	if c == nil {
		return
	}
	c.partsDied.WithLabelValues(pop).Inc()
}

func (c *Collectors) population(pop string, live int) {
	if c == nil {
		return
	}
	c.liveParts.WithLabelValues(pop).Set(float64(live))
}

func (c *Collectors) connected(pop string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.connections.WithLabelValues(pop).Add(float64(n))
}

func (c *Collectors) flush() {
	if c == nil {
		return
	}
	c.flushes.Inc()
}
