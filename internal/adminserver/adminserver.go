// Package adminserver implements the read-only HTTP admin plane: a
// liveness endpoint, Prometheus metrics, and a websocket feed of tickets
// and observations for operator dashboards. It is wholly disjoint from
// the enforcement TCP port and never delays or drops a real ticket —
// every hook it registers is best-effort and non-blocking, mirroring the
// teacher's broadcast-to-websocket-clients pattern.
package adminserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/protohackers/speed-daemon/internal/dispatch"
	"github.com/protohackers/speed-daemon/internal/store"
)

// AdminEvent is the JSON shape pushed to every connected /ws/tickets
// client: exactly one of Ticket or Observation is set.
type AdminEvent struct {
	Type        string              `json:"type"` // "ticket" or "observation"
	Ticket      *store.Ticket       `json:"ticket,omitempty"`
	Observation *store.Observation  `json:"observation,omitempty"`
	Stamp       int64               `json:"stamp"`
}

// Server is the admin HTTP server.
type Server struct {
	listenAddr string
	store      *store.Store
	router     *dispatch.Router
	collector  *collector
	startedAt  time.Time

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// New wires an admin server to the shared store and router. It
// registers itself as the store's observation hook; the caller is
// responsible for also wiring it (typically alongside other sinks, via
// a fan-out EventSink) as the router's ticket sink with SetSink, since
// OnTicket here is one of possibly several listeners.
func New(listenAddr string, st *store.Store, rt *dispatch.Router) *Server {
	s := &Server{
		listenAddr: listenAddr,
		store:      st,
		router:     rt,
		collector:  newCollector(st, rt),
		startedAt:  time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
	st.OnObservation(func(obs store.Observation) {
		s.collector.onObservation(obs)
		s.broadcast(AdminEvent{Type: "observation", Observation: &obs, Stamp: time.Now().UnixMilli()})
	})
	return s
}

// OnTicket implements dispatch.EventSink.
func (s *Server) OnTicket(t store.Ticket) {
	s.collector.onTicket(t)
	s.broadcast(AdminEvent{Type: "ticket", Ticket: &t, Stamp: time.Now().UnixMilli()})
}

// Run starts the HTTP server and blocks until ctx is cancelled or
// ListenAndServe fails. Registers this collector with its own registry
// (not the global default) so it never collides with a host process's
// existing metrics.
func (s *Server) Run(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(s.collector)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws/tickets", s.handleWS)

	srv := &http.Server{Addr: s.listenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[adminserver] listening on %s", s.listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Snapshot()
	resp := map[string]interface{}{
		"status":      "ok",
		"uptime_s":    int64(time.Since(s.startedAt).Seconds()),
		"roads":       stats.Roads,
		"dispatchers": s.router.DispatcherCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[adminserver] ws upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// broadcast fans ev out to every connected websocket client. A client
// whose send buffer is full misses this event rather than blocking the
// sender; it stays connected —
// this path runs inline with store.Record and dispatch.Submit and must
// never stall enforcement traffic.
func (s *Server) broadcast(ev AdminEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client too slow to keep up; drop this event for it rather
			// than block the caller.
		}
	}
}
