package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRoundTripPlate(t *testing.T) {
	in := Plate{Plate: "UN1X", Timestamp: 45}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WritePlate(in); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := NewDecoder(&buf)
	id, err := dec.ReadMessageID()
	if err != nil || id != IDPlate {
		t.Fatalf("id = %v, %v, want IDPlate", id, err)
	}
	out, err := dec.ReadPlate()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestRoundTripTicket(t *testing.T) {
	in := Ticket{
		Plate: "UN1X", Road: 123, Mile1: 8, Timestamp1: 0,
		Mile2: 9, Timestamp2: 45, Speed: 8000,
	}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WriteTicket(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := NewDecoder(&buf)
	if _, err := dec.ReadMessageID(); err != nil {
		t.Fatalf("id: %v", err)
	}
	out, err := dec.ReadTicket()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestRoundTripIAmDispatcher(t *testing.T) {
	in := IAmDispatcher{Roads: []uint16{0xf00, 0xba6, 0xba2}}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WriteIAmDispatcher(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec := NewDecoder(&buf)
	if _, err := dec.ReadMessageID(); err != nil {
		t.Fatalf("id: %v", err)
	}
	out, err := dec.ReadIAmDispatcher()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Roads) != len(in.Roads) {
		t.Fatalf("got %v, want %v", out.Roads, in.Roads)
	}
	for i := range in.Roads {
		if out.Roads[i] != in.Roads[i] {
			t.Fatalf("got %v, want %v", out.Roads, in.Roads)
		}
	}
}

func TestIAmCameraExactBytes(t *testing.T) {
	// From the spec's S1 scenario: IAmCamera road=123 mile=8 limit=60.
	want := []byte{0x80, 0x00, 0x7B, 0x00, 0x08, 0x00, 0x3C}
	var buf bytes.Buffer
	err := NewEncoder(&buf).WriteIAmCamera(IAmCamera{Road: 123, Mile: 8, Limit: 60})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x, want % x", buf.Bytes(), want)
	}
}

func TestPlateExactBytes(t *testing.T) {
	want := []byte{0x20, 0x04, 0x55, 0x4E, 0x31, 0x58, 0x00, 0x00, 0x00, 0x00}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WritePlate(Plate{Plate: "UN1X", Timestamp: 0}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x, want % x", buf.Bytes(), want)
	}
}

func TestDecodeNonASCIIFails(t *testing.T) {
	// str with length 1, byte 0xFF.
	buf := bytes.NewReader([]byte{0x01, 0xFF})
	if _, err := NewDecoder(buf).readStr(); !errors.Is(err, ErrNotASCII) {
		t.Fatalf("got %v, want ErrNotASCII", err)
	}
}

func TestEncodeNonASCIIFails(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).WritePlate(Plate{Plate: "\xffbad", Timestamp: 0})
	if !errors.Is(err, ErrNotASCII) {
		t.Fatalf("got %v, want ErrNotASCII", err)
	}
}

func TestEncodeStringTooLongFails(t *testing.T) {
	var buf bytes.Buffer
	long := strings.Repeat("a", 256)
	err := NewEncoder(&buf).WritePlate(Plate{Plate: long, Timestamp: 0})
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("got %v, want ErrTooLong", err)
	}
}

func TestEncodeArrayTooLongFails(t *testing.T) {
	var buf bytes.Buffer
	roads := make([]uint16, 256)
	err := NewEncoder(&buf).WriteIAmDispatcher(IAmDispatcher{Roads: roads})
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("got %v, want ErrTooLong", err)
	}
}

func TestDecodeTruncatedFails(t *testing.T) {
	// IAmCamera tag + only 2 of 6 body bytes.
	buf := bytes.NewReader([]byte{0x80, 0x00, 0x7B})
	dec := NewDecoder(buf)
	if _, err := dec.ReadMessageID(); err != nil {
		t.Fatalf("id: %v", err)
	}
	if _, err := dec.ReadIAmCamera(); err == nil {
		t.Fatal("expected error on truncated input")
	}
}

func TestDecodeThenEncodePrefix(t *testing.T) {
	// decode(b) succeeding and consuming k bytes implies encode(v) returns
	// the first k bytes of b, for a buffer with trailing garbage appended.
	var msg bytes.Buffer
	want := Ticket{Plate: "ABC", Road: 1, Mile1: 2, Timestamp1: 3, Mile2: 4, Timestamp2: 5, Speed: 6}
	if err := NewEncoder(&msg).WriteTicket(want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	k := msg.Len()
	b := append(append([]byte{}, msg.Bytes()...), 0xAA, 0xBB, 0xCC)

	dec := NewDecoder(bytes.NewReader(b))
	if _, err := dec.ReadMessageID(); err != nil {
		t.Fatalf("id: %v", err)
	}
	got, err := dec.ReadTicket()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	var reenc bytes.Buffer
	if err := NewEncoder(&reenc).WriteTicket(got); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(reenc.Bytes(), b[:k]) {
		t.Fatalf("re-encoded % x != prefix % x", reenc.Bytes(), b[:k])
	}
}
