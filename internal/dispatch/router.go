// Package dispatch implements the per-road ticket routing layer: FIFO
// queues for roads with no live dispatcher, and delivery to registered
// dispatcher sessions. It is the single point of mutual exclusion for
// per-road queues and the dispatcher registry (the claimed-days decision
// lives in internal/store instead, keyed per plate).
package dispatch

import (
	"sync"

	"github.com/protohackers/speed-daemon/internal/store"
)

// Handle is an opaque, per-dispatcher-session delivery target. The
// router never holds a pointer to a session or its socket directly —
// only this handle — so there is no store/router -> session -> store
// reference cycle. A dispatcher session passes itself as its Handle to
// Router.RegisterDispatcher and withdraws it with UnregisterDispatcher.
type Handle interface {
	// Deliver attempts to write t to the underlying session. It returns
	// an error if the write failed, in which case the router requeues
	// t at the head of the road's queue and drops this handle from
	// every road it was registered for.
	Deliver(t store.Ticket) error
}

// EventSink receives a non-blocking notification for every ticket that
// is either delivered immediately or appended to a road's queue. Used by
// the admin plane's live feed; must never block or panic.
type EventSink interface {
	OnTicket(t store.Ticket)
}

// Router owns every road's pending-ticket queue and live-dispatcher set.
type Router struct {
	sink EventSink

	mu    sync.Mutex
	roads map[uint16]*roadQueue
}

type roadQueue struct {
	pending     []store.Ticket
	dispatchers []Handle
	nextRR      int  // round-robin cursor for delivery among live dispatchers
	draining    bool // a RegisterDispatcher drain is in flight for this road
}

// New creates an empty Router. sink may be nil.
func New(sink EventSink) *Router {
	return &Router{sink: sink, roads: make(map[uint16]*roadQueue)}
}

// SetSink replaces the router's event sink. Intended for process startup,
// where the admin plane (the sink) needs the router constructed first so
// it can read queue depths, creating an ordering dependency that a
// constructor argument alone can't satisfy.
func (rt *Router) SetSink(sink EventSink) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.sink = sink
}

func (rt *Router) queueFor(road uint16) *roadQueue {
	q, ok := rt.roads[road]
	if !ok {
		q = &roadQueue{}
		rt.roads[road] = q
	}
	return q
}

// Submit routes a newly minted ticket: deliver immediately to a live
// dispatcher for t.Road if one exists, otherwise append to that road's
// FIFO queue. Implements store.Router.
//
// While a road is draining (a dispatcher just registered and is being
// caught up on the backlog by RegisterDispatcher/drainRoad), Submit
// always queues rather than delivering directly — otherwise a ticket
// minted mid-drain could reach the dispatcher ahead of older queued
// tickets still waiting to be popped, breaking FIFO order.
func (rt *Router) Submit(t store.Ticket) {
	rt.mu.Lock()
	q := rt.queueFor(t.Road)
	if q.draining {
		q.pending = append(q.pending, t)
		rt.mu.Unlock()
		rt.notify(t)
		return
	}
	h, ok := rt.pickDispatcherLocked(q)
	if !ok {
		q.pending = append(q.pending, t)
		rt.mu.Unlock()
		rt.notify(t)
		return
	}
	rt.mu.Unlock()

	if err := h.Deliver(t); err != nil {
		rt.requeueAndDrop(t.Road, t, h)
	}
	rt.notify(t)
}

// pickDispatcherLocked selects the next live dispatcher for q in
// round-robin order. Caller holds rt.mu.
func (rt *Router) pickDispatcherLocked(q *roadQueue) (Handle, bool) {
	if len(q.dispatchers) == 0 {
		return nil, false
	}
	q.nextRR %= len(q.dispatchers)
	h := q.dispatchers[q.nextRR]
	q.nextRR++
	return h, true
}

func (rt *Router) notify(t store.Ticket) {
	rt.mu.Lock()
	sink := rt.sink
	rt.mu.Unlock()
	if sink != nil {
		sink.OnTicket(t)
	}
}

// requeueAndDrop pushes t back to the head of road's queue and removes
// the failed handle from every road it was registered for.
func (rt *Router) requeueAndDrop(road uint16, t store.Ticket, h Handle) {
	rt.mu.Lock()
	q := rt.queueFor(road)
	q.pending = append([]store.Ticket{t}, q.pending...)
	rt.mu.Unlock()
	rt.dropHandleEverywhere(h)
}

func (rt *Router) dropHandleEverywhere(h Handle) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, q := range rt.roads {
		q.dispatchers = removeHandle(q.dispatchers, h)
		if q.nextRR > len(q.dispatchers) {
			q.nextRR = 0
		}
	}
}

func removeHandle(hs []Handle, target Handle) []Handle {
	out := hs[:0]
	for _, h := range hs {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

// RegisterDispatcher registers h for every road in roads, then drains
// each road's pending queue into h in FIFO order, stopping that road's
// drain on the first write failure (the ticket that failed is requeued
// and h is dropped from every road, per Deliver's contract — roads after
// the failing one are neither registered nor drained for this handle).
//
// Each road is marked "draining" for the duration of its own drain so
// that Submit queues rather than delivers concurrently minted tickets
// for that road until the backlog is fully flushed; see Submit.
func (rt *Router) RegisterDispatcher(roads []uint16, h Handle) {
	for _, road := range roads {
		rt.mu.Lock()
		q := rt.queueFor(road)
		q.dispatchers = append(q.dispatchers, h)
		q.draining = true
		rt.mu.Unlock()

		if !rt.drainRoad(road, h) {
			return
		}
	}
}

// drainRoad sends every currently-pending ticket on road to h, in FIFO
// order, stopping at the first failure, and clears road's draining flag
// before returning by either path. It reports whether the drain finished
// without a delivery failure.
func (rt *Router) drainRoad(road uint16, h Handle) bool {
	for {
		rt.mu.Lock()
		q := rt.queueFor(road)
		if len(q.pending) == 0 {
			q.draining = false
			rt.mu.Unlock()
			return true
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		rt.mu.Unlock()

		if err := h.Deliver(t); err != nil {
			rt.mu.Lock()
			rt.queueFor(road).draining = false
			rt.mu.Unlock()
			rt.requeueAndDrop(road, t, h)
			return false
		}
	}
}

// UnregisterDispatcher removes h from every road's live-dispatcher set.
// Tickets already written are considered delivered; anything still
// queued remains for the next dispatcher.
func (rt *Router) UnregisterDispatcher(roads []uint16, h Handle) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, road := range roads {
		q := rt.queueFor(road)
		q.dispatchers = removeHandle(q.dispatchers, h)
		if q.nextRR > len(q.dispatchers) {
			q.nextRR = 0
		}
	}
}

// QueueDepth returns the number of pending tickets for road. Used by the
// admin plane's metrics collector.
func (rt *Router) QueueDepth(road uint16) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.queueFor(road).pending)
}

// Roads returns every road the router has an entry for: any road that
// has ever had a dispatcher registered, a ticket submitted, or a
// QueueDepth lookup. Entries are never removed.
func (rt *Router) Roads() []uint16 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]uint16, 0, len(rt.roads))
	for road := range rt.roads {
		out = append(out, road)
	}
	return out
}

// DispatcherCount returns the number of live dispatcher handles across
// every road (a dispatcher subscribed to N roads counts N times, one per
// subscription, matching how the registry itself counts them).
func (rt *Router) DispatcherCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for _, q := range rt.roads {
		n += len(q.dispatchers)
	}
	return n
}
