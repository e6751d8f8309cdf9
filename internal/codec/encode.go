package codec

import (
	"encoding/binary"
	"io"
)

// Encoder writes primitive values and whole messages to a byte stream
// using the wire format in package doc.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) writeU8(v uint8) error {
	_, err := e.w.Write([]byte{v})
	return err
}

func (e *Encoder) writeU16(v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Encoder) writeU32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := e.w.Write(buf[:])
	return err
}

func (e *Encoder) writeStr(s string) error {
	if len(s) > 255 {
		return ErrTooLong
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return ErrNotASCII
		}
	}
	if err := e.writeU8(uint8(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

func (e *Encoder) writeU16Array(vs []uint16) error {
	if len(vs) > 255 {
		return ErrTooLong
	}
	if err := e.writeU8(uint8(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := e.writeU16(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteError encodes and writes a complete Error message (tag + body).
func (e *Encoder) WriteError(m Error) error {
	if err := e.writeU8(IDError); err != nil {
		return err
	}
	return e.writeStr(m.Msg)
}

// WritePlate encodes and writes a complete Plate message (tag + body).
func (e *Encoder) WritePlate(m Plate) error {
	if err := e.writeU8(IDPlate); err != nil {
		return err
	}
	if err := e.writeStr(m.Plate); err != nil {
		return err
	}
	return e.writeU32(m.Timestamp)
}

// WriteTicket encodes and writes a complete Ticket message (tag + body).
func (e *Encoder) WriteTicket(m Ticket) error {
	if err := e.writeU8(IDTicket); err != nil {
		return err
	}
	if err := e.writeStr(m.Plate); err != nil {
		return err
	}
	if err := e.writeU16(m.Road); err != nil {
		return err
	}
	if err := e.writeU16(m.Mile1); err != nil {
		return err
	}
	if err := e.writeU32(m.Timestamp1); err != nil {
		return err
	}
	if err := e.writeU16(m.Mile2); err != nil {
		return err
	}
	if err := e.writeU32(m.Timestamp2); err != nil {
		return err
	}
	return e.writeU16(m.Speed)
}

// WriteWantHeartbeat encodes and writes a complete WantHeartbeat message.
func (e *Encoder) WriteWantHeartbeat(m WantHeartbeat) error {
	if err := e.writeU8(IDWantHeartbeat); err != nil {
		return err
	}
	return e.writeU32(m.IntervalDs)
}

// WriteHeartbeat encodes and writes a complete Heartbeat message (empty
// body).
func (e *Encoder) WriteHeartbeat() error {
	return e.writeU8(IDHeartbeat)
}

// WriteIAmCamera encodes and writes a complete IAmCamera message.
func (e *Encoder) WriteIAmCamera(m IAmCamera) error {
	if err := e.writeU8(IDIAmCamera); err != nil {
		return err
	}
	if err := e.writeU16(m.Road); err != nil {
		return err
	}
	if err := e.writeU16(m.Mile); err != nil {
		return err
	}
	return e.writeU16(m.Limit)
}

// WriteIAmDispatcher encodes and writes a complete IAmDispatcher message.
func (e *Encoder) WriteIAmDispatcher(m IAmDispatcher) error {
	if err := e.writeU8(IDIAmDispatcher); err != nil {
		return err
	}
	return e.writeU16Array(m.Roads)
}
