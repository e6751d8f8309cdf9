package adminserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/protohackers/speed-daemon/internal/dispatch"
	"github.com/protohackers/speed-daemon/internal/store"
)

func TestHealthzReportsRoadCount(t *testing.T) {
	rt := dispatch.New(nil)
	st := store.New(rt)
	st.SetLimit(1, 60)
	st.Record(store.Observation{Plate: "X", Road: 1, Mile: 0, Timestamp: 0})

	s := New(":0", st, rt)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got status field %v, want ok", body["status"])
	}
	if roads, ok := body["roads"].(float64); !ok || roads != 1 {
		t.Fatalf("got roads %v, want 1", body["roads"])
	}
}

func TestOnTicketFeedsCollectorCounters(t *testing.T) {
	rt := dispatch.New(nil)
	st := store.New(rt)
	s := New(":0", st, rt)

	s.OnTicket(store.Ticket{Plate: "X", Road: 1})
	s.OnTicket(store.Ticket{Plate: "Y", Road: 2})

	s.collector.mu.Lock()
	got := s.collector.ticketsMinted
	s.collector.mu.Unlock()
	if got != 2 {
		t.Fatalf("got %d tickets counted, want 2", got)
	}
}
