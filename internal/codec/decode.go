package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Decoder reads primitive values and whole messages from a byte stream
// using the wire format in package doc. It keeps no buffering of its own;
// callers typically wrap conn in a *bufio.Reader before constructing one.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) readFull(buf []byte) error {
	_, err := io.ReadFull(d.r, buf)
	return err
}

func (d *Decoder) readU8() (uint8, error) {
	var buf [1]byte
	if err := d.readFull(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *Decoder) readU16() (uint16, error) {
	var buf [2]byte
	if err := d.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *Decoder) readU32() (uint32, error) {
	var buf [4]byte
	if err := d.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (d *Decoder) readStr() (string, error) {
	n, err := d.readU8()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return "", err
	}
	for _, b := range buf {
		if b >= 0x80 {
			return "", ErrNotASCII
		}
	}
	return string(buf), nil
}

func (d *Decoder) readU16Array() ([]uint16, error) {
	n, err := d.readU8()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		v, err := d.readU16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadMessageID reads the single-byte type tag that precedes every
// message's body. Callers use this to pick which Read* method to call
// next; this split (rather than a single polymorphic ReadMessage) mirrors
// the per-role dispatch tables in internal/session.
func (d *Decoder) ReadMessageID() (byte, error) {
	return d.readU8()
}

// ReadError decodes an Error body (after the tag byte has been consumed).
func (d *Decoder) ReadError() (Error, error) {
	msg, err := d.readStr()
	if err != nil {
		return Error{}, err
	}
	return Error{Msg: msg}, nil
}

// ReadPlate decodes a Plate body.
func (d *Decoder) ReadPlate() (Plate, error) {
	plate, err := d.readStr()
	if err != nil {
		return Plate{}, err
	}
	ts, err := d.readU32()
	if err != nil {
		return Plate{}, err
	}
	return Plate{Plate: plate, Timestamp: ts}, nil
}

// ReadTicket decodes a Ticket body.
func (d *Decoder) ReadTicket() (Ticket, error) {
	var t Ticket
	var err error
	if t.Plate, err = d.readStr(); err != nil {
		return Ticket{}, err
	}
	if t.Road, err = d.readU16(); err != nil {
		return Ticket{}, err
	}
	if t.Mile1, err = d.readU16(); err != nil {
		return Ticket{}, err
	}
	if t.Timestamp1, err = d.readU32(); err != nil {
		return Ticket{}, err
	}
	if t.Mile2, err = d.readU16(); err != nil {
		return Ticket{}, err
	}
	if t.Timestamp2, err = d.readU32(); err != nil {
		return Ticket{}, err
	}
	if t.Speed, err = d.readU16(); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// ReadWantHeartbeat decodes a WantHeartbeat body.
func (d *Decoder) ReadWantHeartbeat() (WantHeartbeat, error) {
	iv, err := d.readU32()
	if err != nil {
		return WantHeartbeat{}, err
	}
	return WantHeartbeat{IntervalDs: iv}, nil
}

// ReadIAmCamera decodes an IAmCamera body.
func (d *Decoder) ReadIAmCamera() (IAmCamera, error) {
	var c IAmCamera
	var err error
	if c.Road, err = d.readU16(); err != nil {
		return IAmCamera{}, err
	}
	if c.Mile, err = d.readU16(); err != nil {
		return IAmCamera{}, err
	}
	if c.Limit, err = d.readU16(); err != nil {
		return IAmCamera{}, err
	}
	return c, nil
}

// ReadIAmDispatcher decodes an IAmDispatcher body.
func (d *Decoder) ReadIAmDispatcher() (IAmDispatcher, error) {
	roads, err := d.readU16Array()
	if err != nil {
		return IAmDispatcher{}, err
	}
	return IAmDispatcher{Roads: roads}, nil
}

// IsKnownMessageID reports whether id matches one of the message types
// defined by this package, regardless of which role is allowed to send
// it. Callers use this to distinguish a genuinely unrecognized tag byte
// from a recognized one that's merely out of place for the connection's
// current role.
func IsKnownMessageID(id byte) bool {
	switch id {
	case IDError, IDPlate, IDTicket, IDWantHeartbeat, IDHeartbeat, IDIAmCamera, IDIAmDispatcher:
		return true
	default:
		return false
	}
}

// UnknownMessageIDError formats a diagnostic for a tag byte with no known
// body reader. Wraps ErrUnknownMessageID so callers can still errors.Is
// against the sentinel while logging the offending byte.
func UnknownMessageIDError(id byte) error {
	return fmt.Errorf("%w: 0x%02x", ErrUnknownMessageID, id)
}
