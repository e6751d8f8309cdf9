package session

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/protohackers/speed-daemon/internal/codec"
	"github.com/protohackers/speed-daemon/internal/dispatch"
	"github.com/protohackers/speed-daemon/internal/store"
)

// newPipe returns a connected pair of net.Conn for test use, with
// reasonable deadlines support (net.Pipe supports SetDeadline since Go
// 1.10).
func newPipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

// TestProtocolErrorOnPlateBeforeRole reproduces scenario S6: a Plate
// message before any role registration gets an Error reply and the
// connection is closed.
func TestProtocolErrorOnPlateBeforeRole(t *testing.T) {
	serverConn, clientConn := newPipe()
	st := store.New(dispatch.New(nil))
	rt := dispatch.New(nil)
	s := New(serverConn, st, rt)

	done := make(chan struct{})
	go func() {
		s.Serve()
		close(done)
	}()

	enc := codec.NewEncoder(clientConn)
	go enc.WritePlate(codec.Plate{Plate: "X", Timestamp: 1})

	dec := codec.NewDecoder(bufio.NewReader(clientConn))
	id, err := dec.ReadMessageID()
	if err != nil {
		t.Fatalf("read id: %v", err)
	}
	if id != codec.IDError {
		t.Fatalf("got id 0x%02x, want IDError", id)
	}
	if _, err := dec.ReadError(); err != nil {
		t.Fatalf("read error body: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not close after protocol error")
	}
	clientConn.Close()
}

// TestBasicTicketEndToEnd reproduces scenario S1 across two camera
// sessions and a dispatcher session wired through a shared store and
// router.
func TestBasicTicketEndToEnd(t *testing.T) {
	rt := dispatch.New(nil)
	st := store.New(rt)

	cam1Server, cam1Client := newPipe()
	cam2Server, cam2Client := newPipe()
	dispServer, dispClient := newPipe()

	go New(cam1Server, st, rt).Serve()
	go New(cam2Server, st, rt).Serve()
	go New(dispServer, st, rt).Serve()

	dispEnc := codec.NewEncoder(dispClient)
	if err := dispEnc.WriteIAmDispatcher(codec.IAmDispatcher{Roads: []uint16{123}}); err != nil {
		t.Fatalf("write IAmDispatcher: %v", err)
	}

	cam1Enc := codec.NewEncoder(cam1Client)
	cam1Enc.WriteIAmCamera(codec.IAmCamera{Road: 123, Mile: 8, Limit: 60})
	cam1Enc.WritePlate(codec.Plate{Plate: "UN1X", Timestamp: 0})

	cam2Enc := codec.NewEncoder(cam2Client)
	cam2Enc.WriteIAmCamera(codec.IAmCamera{Road: 123, Mile: 9, Limit: 60})
	cam2Enc.WritePlate(codec.Plate{Plate: "UN1X", Timestamp: 45})

	dispDec := codec.NewDecoder(bufio.NewReader(dispClient))
	id, err := dispDec.ReadMessageID()
	if err != nil {
		t.Fatalf("read id: %v", err)
	}
	if id != codec.IDTicket {
		t.Fatalf("got id 0x%02x, want IDTicket", id)
	}
	ticket, err := dispDec.ReadTicket()
	if err != nil {
		t.Fatalf("read ticket: %v", err)
	}

	want := codec.Ticket{Plate: "UN1X", Road: 123, Mile1: 8, Timestamp1: 0, Mile2: 9, Timestamp2: 45, Speed: 8000}
	if ticket != want {
		t.Fatalf("got %+v, want %+v", ticket, want)
	}

	cam1Client.Close()
	cam2Client.Close()
	dispClient.Close()
}

// TestDuplicateWantHeartbeatIsProtocolError checks WantHeartbeat
// idempotency (§4.2).
func TestDuplicateWantHeartbeatIsProtocolError(t *testing.T) {
	serverConn, clientConn := newPipe()
	rt := dispatch.New(nil)
	st := store.New(rt)
	s := New(serverConn, st, rt)

	done := make(chan struct{})
	go func() {
		s.Serve()
		close(done)
	}()

	enc := codec.NewEncoder(clientConn)
	enc.WriteWantHeartbeat(codec.WantHeartbeat{IntervalDs: 0})
	enc.WriteWantHeartbeat(codec.WantHeartbeat{IntervalDs: 0})

	dec := codec.NewDecoder(bufio.NewReader(clientConn))
	id, err := dec.ReadMessageID()
	if err != nil {
		t.Fatalf("read id: %v", err)
	}
	if id != codec.IDError {
		t.Fatalf("got id 0x%02x, want IDError", id)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not close after duplicate WantHeartbeat")
	}
	clientConn.Close()
}

// TestHeartbeatCadence reproduces scenario S5: after a WantHeartbeat
// request, three successive Heartbeat messages arrive, each within 2s of
// the previous read; the spacing between them is not measured.
func TestHeartbeatCadence(t *testing.T) {
	serverConn, clientConn := newPipe()
	rt := dispatch.New(nil)
	st := store.New(rt)
	s := New(serverConn, st, rt)

	go s.Serve()
	defer clientConn.Close()

	enc := codec.NewEncoder(clientConn)
	// 1 decisecond = 100ms, fast enough to keep the test quick.
	if err := enc.WriteWantHeartbeat(codec.WantHeartbeat{IntervalDs: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	dec := codec.NewDecoder(bufio.NewReader(clientConn))
	for i := 0; i < 3; i++ {
		clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		id, err := dec.ReadMessageID()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if id != codec.IDHeartbeat {
			t.Fatalf("got id 0x%02x, want IDHeartbeat", id)
		}
	}
}
