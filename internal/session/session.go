// Package session implements the per-connection role state machine
// described in the Speed Daemon design: a connection starts in the
// Unknown role and becomes exactly one of Camera or Dispatcher for its
// lifetime, dispatching incoming messages accordingly and emitting
// heartbeats on request.
package session

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/protohackers/speed-daemon/internal/codec"
	"github.com/protohackers/speed-daemon/internal/dispatch"
	"github.com/protohackers/speed-daemon/internal/store"
)

// Role identifies which half of the protocol a session has settled into.
type Role int

const (
	RoleUnknown Role = iota
	RoleCamera
	RoleDispatcher
)

// protoErr marks an error that must be reported to the peer with an
// Error message before the connection closes, as opposed to a plain I/O
// error (closed silently).
type protoErr struct{ reason string }

func (e *protoErr) Error() string { return e.reason }

func protocolError(reason string) error { return &protoErr{reason: reason} }

// Store is the subset of *store.Store a session needs.
type Store interface {
	SetLimit(road uint16, limit uint16)
	Record(obs store.Observation)
}

// Router is the subset of *dispatch.Router a session needs.
type Router interface {
	RegisterDispatcher(roads []uint16, h dispatch.Handle)
	UnregisterDispatcher(roads []uint16, h dispatch.Handle)
}

// Session is one accepted TCP connection's protocol handler.
type Session struct {
	conn net.Conn
	dec  *codec.Decoder
	enc  *codec.Encoder
	bw   *bufio.Writer

	store  Store
	router Router

	writeMu sync.Mutex

	role          Role
	cameraRoad    uint16
	cameraMile    uint16
	dispatchRoads []uint16

	hb heartbeatState
}

// New wraps an accepted connection. r and rt back the session's
// observation recording and ticket routing; both may be shared across
// many sessions.
func New(conn net.Conn, r Store, rt Router) *Session {
	bw := bufio.NewWriter(conn)
	return &Session{
		conn:   conn,
		dec:    codec.NewDecoder(bufio.NewReader(conn)),
		enc:    codec.NewEncoder(bw),
		bw:     bw,
		store:  r,
		router: rt,
	}
}

// Serve runs the session to completion: reads and dispatches messages,
// emits heartbeats, and returns once the connection is closed for any
// reason. It never panics on malformed input.
func (s *Session) Serve() {
	defer s.cleanup()

	for {
		now := time.Now()
		if s.hb.due(now) {
			if err := s.emitHeartbeat(); err != nil {
				return
			}
			s.hb.advance(now)
			continue
		}

		s.conn.SetReadDeadline(s.hb.readDeadline(now))
		id, err := s.dec.ReadMessageID()
		if err != nil {
			if isTimeout(err) {
				continue // loop back around to the heartbeat check
			}
			return // clean EOF or other I/O error: close silently
		}

		if err := s.handle(id); err != nil {
			var pe *protoErr
			if errors.As(err, &pe) {
				s.sendErrorAndClose(pe.reason)
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// handle decodes and processes exactly one message body for id,
// dispatching by the session's current role. Any returned error is
// either a *protoErr (send Error, then close) or a plain I/O error
// (close silently).
func (s *Session) handle(id byte) error {
	switch s.role {
	case RoleUnknown:
		return s.handleUnknown(id)
	case RoleCamera:
		return s.handleCamera(id)
	case RoleDispatcher:
		return s.handleDispatcher(id)
	default:
		return protocolError("internal error: unknown role")
	}
}

func (s *Session) handleUnknown(id byte) error {
	switch id {
	case codec.IDWantHeartbeat:
		return s.handleWantHeartbeat()
	case codec.IDIAmCamera:
		cam, err := s.dec.ReadIAmCamera()
		if err != nil {
			return decodeErr(err)
		}
		s.role = RoleCamera
		s.cameraRoad = cam.Road
		s.cameraMile = cam.Mile
		s.store.SetLimit(cam.Road, cam.Limit)
		return nil
	case codec.IDIAmDispatcher:
		d, err := s.dec.ReadIAmDispatcher()
		if err != nil {
			return decodeErr(err)
		}
		s.role = RoleDispatcher
		s.dispatchRoads = d.Roads
		s.router.RegisterDispatcher(d.Roads, s)
		return nil
	default:
		return unexpectedMessage(id, "a connection with no registered role")
	}
}

func (s *Session) handleCamera(id byte) error {
	switch id {
	case codec.IDWantHeartbeat:
		return s.handleWantHeartbeat()
	case codec.IDPlate:
		p, err := s.dec.ReadPlate()
		if err != nil {
			return decodeErr(err)
		}
		s.store.Record(store.Observation{
			Plate:     p.Plate,
			Road:      s.cameraRoad,
			Mile:      s.cameraMile,
			Timestamp: p.Timestamp,
		})
		return nil
	default:
		return unexpectedMessage(id, "a camera connection")
	}
}

func (s *Session) handleDispatcher(id byte) error {
	switch id {
	case codec.IDWantHeartbeat:
		return s.handleWantHeartbeat()
	default:
		return unexpectedMessage(id, "a dispatcher connection")
	}
}

// unexpectedMessage builds a protocol error for a message tag that's out
// of place for ctx, distinguishing a tag the codec doesn't recognize at
// all from one that's merely disallowed in the current role.
func unexpectedMessage(id byte, ctx string) error {
	if !codec.IsKnownMessageID(id) {
		return protocolError(codec.UnknownMessageIDError(id).Error())
	}
	return protocolError("unexpected message for " + ctx)
}

func (s *Session) handleWantHeartbeat() error {
	wh, err := s.dec.ReadWantHeartbeat()
	if err != nil {
		return decodeErr(err)
	}
	if !s.hb.request(wh.IntervalDs, time.Now()) {
		return protocolError("heartbeat already requested")
	}
	return nil
}

// decodeErr classifies an error surfaced while decoding a message body
// (i.e. after the type tag has already been consumed) as a protocol
// error: per §4.1/§7, truncated input, non-ASCII strings, and oversized
// lengths are all framing errors reported with one Error message before
// closing.
func decodeErr(err error) error {
	if err == nil {
		return nil
	}
	return protocolError("malformed message: " + describeDecodeErr(err))
}

func describeDecodeErr(err error) string {
	switch {
	case errors.Is(err, codec.ErrNotASCII):
		return "non-ASCII string"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "truncated message"
	default:
		return "decode error"
	}
}

func (s *Session) emitHeartbeat() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.WriteHeartbeat(); err != nil {
		return err
	}
	return s.flushLocked()
}

// Deliver implements dispatch.Handle: it writes a Ticket message to this
// session's socket. Called from the router, possibly from a different
// goroutine than the one running Serve.
func (s *Session) Deliver(t store.Ticket) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.enc.WriteTicket(codec.Ticket{
		Plate:      t.Plate,
		Road:       t.Road,
		Mile1:      t.Mile1,
		Timestamp1: t.Timestamp1,
		Mile2:      t.Mile2,
		Timestamp2: t.Timestamp2,
		Speed:      t.Speed,
	})
	if err != nil {
		return err
	}
	return s.flushLocked()
}

func (s *Session) sendErrorAndClose(reason string) {
	s.writeMu.Lock()
	if err := s.enc.WriteError(codec.Error{Msg: reason}); err != nil {
		log.Printf("[session] error message write failed for %s: %v", s.conn.RemoteAddr(), err)
	} else if err := s.flushLocked(); err != nil {
		log.Printf("[session] error message flush failed for %s: %v", s.conn.RemoteAddr(), err)
	}
	s.writeMu.Unlock()
}

// flushLocked flushes the buffered socket writer. Caller holds writeMu.
func (s *Session) flushLocked() error {
	return s.bw.Flush()
}

func (s *Session) cleanup() {
	if s.role == RoleDispatcher {
		s.router.UnregisterDispatcher(s.dispatchRoads, s)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Printf("[session] close error for %s: %v", s.conn.RemoteAddr(), err)
	}
}
