// Package metrics registers the Prometheus collectors this SFU
// exposes on /metrics, in the style of the retrieved rillnet
// prometheus_collector.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every gauge/counter the Router and Room report
// through, registered against its own private Registry rather than
// the global default — so a process (or a test) can construct more
// than one Collector without a duplicate-registration panic. A nil
// *Collector is safe to call methods on (no-op), so wiring metrics is
// optional for callers that just want a working server.
type Collector struct {
	registry *prometheus.Registry

	activeRooms        prometheus.Gauge
	activeParticipants prometheus.Gauge
	forwardedPackets   prometheus.Counter
	rejectedOffers     prometheus.Counter
	droppedLoopTasks   prometheus.Counter
	ssrcAllocations    prometheus.Counter
}

// New registers a fresh set of collectors against a new private
// registry, retrievable via Registry for exposing on /metrics.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaymesh_active_rooms",
			Help: "Number of rooms currently held by the router, from the first authorized offer into a room until it is emptied.",
		}),
		activeParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaymesh_active_participants",
			Help: "Number of participants currently added to a room, across all rooms.",
		}),
		forwardedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaymesh_forwarded_rtp_packets_total",
			Help: "Total RTP packets forwarded from a publisher to a subscriber.",
		}),
		rejectedOffers: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaymesh_rejected_offers_total",
			Help: "Total offer messages rejected for an invalid or expired join token.",
		}),
		droppedLoopTasks: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaymesh_dropped_loop_tasks_total",
			Help: "Total Loop tasks that panicked and were skipped.",
		}),
		ssrcAllocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaymesh_ssrc_allocations_total",
			Help: "Total SSRCs allocated across all rooms.",
		}),
	}
}

// Registry returns the private Prometheus registry this Collector's
// metrics are registered against, for mounting on /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RoomCreated()      { c.addRooms(1) }
func (c *Collector) RoomDestroyed()    { c.addRooms(-1) }
func (c *Collector) ParticipantAdded() { c.addParticipants(1) }
func (c *Collector) ParticipantRemoved() { c.addParticipants(-1) }

func (c *Collector) PacketForwarded() {
	if c == nil {
		return
	}
	c.forwardedPackets.Inc()
}

func (c *Collector) OfferRejected() {
	if c == nil {
		return
	}
	c.rejectedOffers.Inc()
}

func (c *Collector) LoopTaskDropped() {
	if c == nil {
		return
	}
	c.droppedLoopTasks.Inc()
}

func (c *Collector) SSRCAllocated() {
	if c == nil {
		return
	}
	c.ssrcAllocations.Inc()
}

func (c *Collector) addRooms(delta float64) {
	if c == nil {
		return
	}
	c.activeRooms.Add(delta)
}

func (c *Collector) addParticipants(delta float64) {
	if c == nil {
		return
	}
	c.activeParticipants.Add(delta)
}
