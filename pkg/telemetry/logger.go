// Package telemetry provides the durable NDJSON sink for unified events.
// The file is the source of truth; a bounded in-memory ring mirrors recent
// events for tests and for degraded operation when the disk goes away.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// RingSize is the capacity of the in-memory event ring.
const RingSize = 1024

// appendRetries bounds how many times a failed file append is retried
// before the logger demotes itself to ring-only operation.
const appendRetries = 3

// Logger appends one NDJSON record per unified event to telemetry.jsonl.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string

	ring  []models.UnifiedEvent
	start int // index of oldest ring entry
	count int

	// degraded is set when appends persistently fail; events then live
	// only in the ring and the session is flagged.
	degraded bool
}

// NewLogger opens (or creates) the telemetry file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	return &Logger{
		file: f,
		path: path,
		ring: make([]models.UnifiedEvent, RingSize),
	}, nil
}

// Append writes one event. The ring always receives the event; the file
// write is retried a bounded number of times, after which the logger
// degrades to ring-only and reports the demotion once.
func (l *Logger) Append(ev models.UnifiedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.push(ev)

	if l.degraded {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}
	data = append(data, '\n')

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond

	var writeErr error
	for attempt := 0; attempt <= appendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(bo.NextBackOff())
		}
		_, writeErr = l.file.Write(data)
		if writeErr == nil {
			return nil
		}
	}

	l.degraded = true
	slog.Error("Telemetry append persistently failing, demoting to in-memory ring",
		"file", l.path, "error", writeErr)
	return fmt.Errorf("telemetry append failed: %w", writeErr)
}

// Degraded reports whether the logger has fallen back to ring-only mode.
func (l *Logger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// Ring returns the buffered events, oldest first.
func (l *Logger) Ring() []models.UnifiedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.UnifiedEvent, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(l.start+i)%RingSize])
	}
	return out
}

// Close syncs and closes the file. Durability on orderly shutdown is the
// logger's contract; crash durability is best-effort by OS buffering.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// push appends to the ring, evicting the oldest entry when full.
// Caller holds l.mu.
func (l *Logger) push(ev models.UnifiedEvent) {
	if l.count < RingSize {
		l.ring[(l.start+l.count)%RingSize] = ev
		l.count++
		return
	}
	l.ring[l.start] = ev
	l.start = (l.start + 1) % RingSize
}
