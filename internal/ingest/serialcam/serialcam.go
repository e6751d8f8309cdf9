// Package serialcam implements the optional serial-attached ALPR camera
// ingest bridge: a roadside unit wired over RS-232/RS-485 instead of
// TCP, speaking a length+CRC32 framed protocol distinct from the
// internal/codec wire format. Frames decode directly into
// store.Observation values for a single fixed road (and its limit),
// configured once at startup rather than renegotiated per connection;
// the mile marker is carried in each frame.
package serialcam

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/protohackers/speed-daemon/internal/store"
)

// Config describes the serial port and the fixed camera identity every
// frame from it is attributed to.
type Config struct {
	Port     string
	BaudRate int
	Road     uint16
	Limit    uint16
}

// Store is the subset of *store.Store the bridge needs.
type Store interface {
	SetLimit(road uint16, limit uint16)
	Record(obs store.Observation)
}

// Bridge reads framed observations from a serial port and feeds them
// into a Store. One Bridge serves exactly one camera identity.
type Bridge struct {
	cfg   Config
	store Store
	port  serial.Port
}

// Open opens the configured serial port and registers the bridge's
// fixed road limit. Returns an error if the port cannot be opened; the
// caller decides whether that's fatal (it shouldn't be, per §4.8 — a
// missing serial camera must never block the TCP listener).
func Open(cfg Config, st Store) (*Bridge, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serialcam: failed to open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialcam: failed to set read timeout: %w", err)
	}
	st.SetLimit(cfg.Road, cfg.Limit)
	return &Bridge{cfg: cfg, store: st, port: port}, nil
}

// Close releases the underlying serial port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

// Run reads frames until done is closed or the port reports io.EOF at a
// frame boundary, which it returns. Every other error (CRC mismatch,
// truncated read, malformed payload, or any other port read error) is
// logged and skipped, and Run reads the next length prefix rather than
// exiting.
func (b *Bridge) Run(done <-chan struct{}) error {
	r := bufio.NewReader(b.port)
	for {
		select {
		case <-done:
			return nil
		default:
		}

		obs, err := b.readFrame(r)
		if err != nil {
			if err == errTimeout {
				continue
			}
			if err == io.EOF {
				return err
			}
			log.Printf("[serialcam] %s: discarding frame: %v", b.cfg.Port, err)
			continue
		}
		b.store.Record(obs)
	}
}

var errTimeout = fmt.Errorf("serialcam: read timeout")

// readFrame reads exactly one <len><payload><crc32> frame and decodes
// its payload into an Observation. Any error leaves r positioned after
// whatever bytes were consumed so the next call attempts to resync on a
// fresh length prefix.
func (b *Bridge) readFrame(r *bufio.Reader) (store.Observation, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return store.Observation{}, classifyReadErr(err)
	}
	payloadLen := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return store.Observation{}, classifyReadErr(err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return store.Observation{}, classifyReadErr(err)
	}
	want := binary.BigEndian.Uint32(crcBuf[:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return store.Observation{}, fmt.Errorf("crc mismatch: got 0x%08x, want 0x%08x", got, want)
	}

	return b.decodePayload(payload)
}

// decodePayload parses "<plate>\x00<u16 mile><u32 timestamp>".
func (b *Bridge) decodePayload(payload []byte) (store.Observation, error) {
	sep := strings.IndexByte(string(payload), 0x00)
	if sep < 0 {
		return store.Observation{}, fmt.Errorf("missing plate separator")
	}
	plate := string(payload[:sep])
	rest := payload[sep+1:]
	if len(rest) != 6 {
		return store.Observation{}, fmt.Errorf("bad payload length %d", len(payload))
	}
	mile := binary.BigEndian.Uint16(rest[0:2])
	ts := binary.BigEndian.Uint32(rest[2:6])

	return store.Observation{
		Plate:     plate,
		Road:      b.cfg.Road,
		Mile:      mile,
		Timestamp: ts,
	}, nil
}

func classifyReadErr(err error) error {
	if to, ok := err.(interface{ Timeout() bool }); ok && to.Timeout() {
		return errTimeout
	}
	return err
}
