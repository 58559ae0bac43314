// Package metrics wires the ESLR engine's observability hooks to
// Prometheus, following a Collector-struct-of-metrics shape:
// gauges for live-state counts, counters for packet/event volumes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/goeslr/internal/engine"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "eslrd"
	subsystem = "eslr"
)

// Label names.
const (
	labelKind     = "kind"
	labelReason   = "reason"
	labelState    = "state"
	labelTable    = "table"
	labelValidity = "validity"
)

// -------------------------------------------------------------------------
// Collector — Prometheus ESLR Metrics
// -------------------------------------------------------------------------

// Collector holds every ESLR Prometheus metric and implements
// engine.Metrics, so it can be handed straight to engine.New.
type Collector struct {
	// NeighborsByState tracks the live neighbor-table population by state
	// (Void/Valid/Invalid). Updated by SetNeighborCounts from a periodic
	// snapshot, the programmatic counterpart of protocol debug printer.
	NeighborsByState *prometheus.GaugeVec

	// RoutesByTable tracks the live route population by table
	// (main/backup) and validity (Valid/Invalid/LocalHost).
	RoutesByTable *prometheus.GaugeVec

	// PacketsSent counts transmitted ESLR packets by kind (hello, hi,
	// request, response, server-com).
	PacketsSent *prometheus.CounterVec

	// PacketsReceived counts received ESLR packets by kind.
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts silently discarded packets by drop reason
	// (decode, auth, unknown-neighbor, own-network, stale-sequence, ...).
	PacketsDropped *prometheus.CounterVec

	// RoutesPromoted counts backup-to-main promotions.
	RoutesPromoted prometheus.Counter

	// RoutesInvalidated counts route invalidations by reason (Expire or
	// Broken; a disconnected advertisement counts as Broken).
	RoutesInvalidated *prometheus.CounterVec

	// TriggeredSuppressedTotal counts triggered-update requests suppressed
	// by the cooldown timer.
	TriggeredSuppressedTotal prometheus.Counter
}

var _ engine.Metrics = (*Collector)(nil)

// NewCollector creates a Collector with all ESLR metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.NeighborsByState,
		c.RoutesByTable,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.RoutesPromoted,
		c.RoutesInvalidated,
		c.TriggeredSuppressedTotal,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		NeighborsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "neighbors",
			Help:      "Number of neighbor records by state.",
		}, []string{labelState}),

		RoutesByTable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes",
			Help:      "Number of route records by table and validity.",
		}, []string{labelTable, labelValidity}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total ESLR packets transmitted, by kind.",
		}, []string{labelKind}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total ESLR packets received, by kind.",
		}, []string{labelKind}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total ESLR packets silently discarded, by reason.",
		}, []string{labelReason}),

		RoutesPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes_promoted_total",
			Help:      "Total backup-to-main route promotions.",
		}),

		RoutesInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routes_invalidated_total",
			Help:      "Total route invalidations, by reason.",
		}, []string{labelReason}),

		TriggeredSuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "triggered_suppressed_total",
			Help:      "Total triggered-update requests suppressed by the cooldown timer.",
		}),
	}
}

// -------------------------------------------------------------------------
// engine.Metrics implementation
// -------------------------------------------------------------------------

// PacketSent implements engine.Metrics.
func (c *Collector) PacketSent(kind string) {
	c.PacketsSent.WithLabelValues(kind).Inc()
}

// PacketReceived implements engine.Metrics.
func (c *Collector) PacketReceived(kind string) {
	c.PacketsReceived.WithLabelValues(kind).Inc()
}

// PacketDropped implements engine.Metrics.
func (c *Collector) PacketDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// RoutePromoted implements engine.Metrics.
func (c *Collector) RoutePromoted() {
	c.RoutesPromoted.Inc()
}

// RouteInvalidated implements engine.Metrics.
func (c *Collector) RouteInvalidated(reason string) {
	c.RoutesInvalidated.WithLabelValues(reason).Inc()
}

// TriggeredSuppressed implements engine.Metrics.
func (c *Collector) TriggeredSuppressed() {
	c.TriggeredSuppressedTotal.Inc()
}

// -------------------------------------------------------------------------
// Live-state gauges
// -------------------------------------------------------------------------

// SetNeighborCounts replaces the neighbor-by-state gauge values with a
// fresh snapshot. counts maps a neighbor.State.String() to its population.
func (c *Collector) SetNeighborCounts(counts map[string]int) {
	for _, state := range []string{"Void", "Valid", "Invalid"} {
		c.NeighborsByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// SetRouteCounts replaces the routes-by-table-and-validity gauge values
// with a fresh snapshot. counts is keyed {table, validity}, e.g.
// {"main", "Valid"} or {"backup", "LocalHost"}.
func (c *Collector) SetRouteCounts(counts map[[2]string]int) {
	c.RoutesByTable.Reset()
	for key, n := range counts {
		c.RoutesByTable.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}
