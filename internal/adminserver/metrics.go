package adminserver

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/protohackers/speed-daemon/internal/dispatch"
	"github.com/protohackers/speed-daemon/internal/store"
)

// collector is a custom prometheus.Collector. Its per-road gauges and
// dispatcher count are read straight out of the store and router on
// every scrape; the two running totals (tickets minted, observations
// recorded) are counters it accumulates itself from onTicket and
// onObservation.
type collector struct {
	store  *store.Store
	router *dispatch.Router

	mu             sync.Mutex
	ticketsMinted  uint64
	observationsIn uint64

	roadObservations *prometheus.Desc
	roadQueueDepth   *prometheus.Desc
	dispatcherCount  *prometheus.Desc
	ticketsTotal     *prometheus.Desc
	observationsTotal *prometheus.Desc
}

func newCollector(st *store.Store, rt *dispatch.Router) *collector {
	return &collector{
		store:  st,
		router: rt,
		roadObservations: prometheus.NewDesc(
			"speed_daemon_road_observations",
			"Number of recorded observations for a road.",
			[]string{"road"}, nil,
		),
		roadQueueDepth: prometheus.NewDesc(
			"speed_daemon_road_ticket_queue_depth",
			"Number of tickets queued for a road awaiting a live dispatcher.",
			[]string{"road"}, nil,
		),
		dispatcherCount: prometheus.NewDesc(
			"speed_daemon_live_dispatchers",
			"Number of currently registered dispatcher road-subscriptions.",
			nil, nil,
		),
		ticketsTotal: prometheus.NewDesc(
			"speed_daemon_tickets_minted_total",
			"Total tickets minted since process start.",
			nil, nil,
		),
		observationsTotal: prometheus.NewDesc(
			"speed_daemon_observations_total",
			"Total observations recorded since process start.",
			nil, nil,
		),
	}
}

func (c *collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.roadObservations
	descs <- c.roadQueueDepth
	descs <- c.dispatcherCount
	descs <- c.ticketsTotal
	descs <- c.observationsTotal
}

func (c *collector) Collect(metrics chan<- prometheus.Metric) {
	stats := c.store.Snapshot()
	for road, n := range stats.ObservationsByRoad {
		metrics <- prometheus.MustNewConstMetric(
			c.roadObservations, prometheus.GaugeValue, float64(n), roadLabel(road),
		)
		metrics <- prometheus.MustNewConstMetric(
			c.roadQueueDepth, prometheus.GaugeValue, float64(c.router.QueueDepth(road)), roadLabel(road),
		)
	}

	metrics <- prometheus.MustNewConstMetric(
		c.dispatcherCount, prometheus.GaugeValue, float64(c.router.DispatcherCount()),
	)

	c.mu.Lock()
	tickets, obs := c.ticketsMinted, c.observationsIn
	c.mu.Unlock()
	metrics <- prometheus.MustNewConstMetric(c.ticketsTotal, prometheus.CounterValue, float64(tickets))
	metrics <- prometheus.MustNewConstMetric(c.observationsTotal, prometheus.CounterValue, float64(obs))
}

// onTicket and onObservation feed this collector's counters. Called from
// the store/router's notification hooks; must not block.
func (c *collector) onTicket(store.Ticket) {
	c.mu.Lock()
	c.ticketsMinted++
	c.mu.Unlock()
}

func (c *collector) onObservation(store.Observation) {
	c.mu.Lock()
	c.observationsIn++
	c.mu.Unlock()
}

func roadLabel(road uint16) string {
	return strconv.FormatUint(uint64(road), 10)
}
