// Package auditlog records every minted ticket to a rotating CSV file,
// adapted from the teacher's telemetry logger: same open/rotate/flush
// shape, a ticket row instead of a sensor-frame row.
package auditlog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/protohackers/speed-daemon/internal/store"
)

const maxRowsPerFile = 100_000

var csvHeader = []string{
	"logged_at", "plate", "road", "mile1", "timestamp1", "mile2", "timestamp2", "speed_mph_x100",
}

// Config holds audit log configuration.
type Config struct {
	Enabled bool
	Path    string
}

// Log records ticket rows to a rotating CSV file under a directory.
type Log struct {
	mu      sync.Mutex
	dir     string
	enabled bool

	file   *os.File
	writer *csv.Writer
	rows   int
}

// New creates a Log from cfg. When cfg.Enabled is false, Record is a
// no-op and no file is ever opened.
func New(cfg Config) *Log {
	dir := cfg.Path
	if dir == "" {
		dir = "/var/log/speed-daemon"
	}
	return &Log{dir: dir, enabled: cfg.Enabled}
}

// Record appends one row for t. Safe to call as a dispatch.EventSink's
// OnTicket hook, or chained alongside one.
func (l *Log) Record(t store.Ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := time.Now()
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[auditlog] rotate failed: %v", err)
			return
		}
	}

	row := buildRow(now, t)
	if err := l.writer.Write(row); err != nil {
		log.Printf("[auditlog] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Log) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("tickets_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[auditlog] opened %s", path)
	return nil
}

func (l *Log) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(loggedAt time.Time, t store.Ticket) []string {
	return []string{
		loggedAt.Format(time.RFC3339Nano),
		t.Plate,
		strconv.FormatUint(uint64(t.Road), 10),
		strconv.FormatUint(uint64(t.Mile1), 10),
		strconv.FormatUint(uint64(t.Timestamp1), 10),
		strconv.FormatUint(uint64(t.Mile2), 10),
		strconv.FormatUint(uint64(t.Timestamp2), 10),
		strconv.FormatUint(uint64(t.Speed), 10),
	}
}
