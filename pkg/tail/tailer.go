// Package tail streams new NDJSON records from append-only session log
// files. Each tailer exposes a lazy, infinite, non-restartable sequence of
// raw lines; typed decoding is layered on top (see stream.go).
package tail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the backup poll period. Filesystem-event loss is
// common on macOS and network filesystems, so the poll is always armed.
const DefaultPollInterval = 2 * time.Second

// retry intervals for transient I/O errors.
const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

// Tailer follows a single append-only file. Lines written before Start are
// replayed first (file-append truth: entries must not be lost), then new
// lines are delivered as they arrive.
type Tailer struct {
	path         string
	pollInterval time.Duration

	lines chan []byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// cursor and partial are only touched by the run goroutine.
	cursor  int64
	partial []byte
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithPollInterval overrides the backup poll period. Non-positive values
// keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// New creates a tailer for path. The file is created empty when absent so
// producers and consumers can start in either order.
func New(path string, opts ...Option) (*Tailer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	t := &Tailer{
		path:         path,
		pollInterval: DefaultPollInterval,
		lines:        make(chan []byte, 256),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Lines returns the channel of raw NDJSON lines, without trailing newline.
// Closed when the tailer stops.
func (t *Tailer) Lines() <-chan []byte { return t.lines }

// Start launches the tail loop. ctx cancellation behaves like Stop.
func (t *Tailer) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
}

// Stop releases the file handle, stops the poll, and drains any in-flight
// notification. Safe to call multiple times.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

func (t *Tailer) run(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.lines)

	log := slog.With("file", t.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Degrade to poll-only. The backup poll alone satisfies the
		// delivery contract, just with higher latency.
		log.Warn("fsnotify unavailable, falling back to polling", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(t.path); err != nil {
			log.Warn("failed to watch file, falling back to polling", "error", err)
		}
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0 // retry forever; the stream must not stop

	// Replay existing content before reacting to notifications.
	t.readNew(ctx, log, bo)

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				t.readNew(ctx, log, bo)
			}

		case werr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn("file watcher error", "error", werr)

		case <-ticker.C:
			t.readNew(ctx, log, bo)
		}
	}
}

// readNew reads from the cursor to EOF and delivers complete lines.
// Transient I/O errors are retried with exponential backoff; the retry
// sleep remains interruptible by Stop.
func (t *Tailer) readNew(ctx context.Context, log *slog.Logger, bo *backoff.ExponentialBackOff) {
	for {
		err := t.readOnce(ctx, log)
		if err == nil {
			bo.Reset()
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}

		wait := bo.NextBackOff()
		log.Warn("read failed, retrying", "error", err, "backoff", wait)
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (t *Tailer) readOnce(ctx context.Context, log *slog.Logger) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	// Truncation is a protocol violation: the session log files are
	// strictly append-only. Log loudly, reset, and continue.
	if info.Size() < t.cursor {
		log.Error("append-only file shrank, protocol violation; resetting cursor",
			"old_cursor", t.cursor, "size", info.Size())
		t.cursor = 0
		t.partial = nil
	}

	if info.Size() == t.cursor {
		return nil
	}

	if _, err := f.Seek(t.cursor, io.SeekStart); err != nil {
		return err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	t.cursor += int64(len(data))

	buf := append(t.partial, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)

		// Blocking send: channel saturation is the backpressure path
		// from the hub back to the tailers.
		select {
		case t.lines <- out:
		case <-t.done:
			return context.Canceled
		case <-ctx.Done():
			return context.Canceled
		}
	}

	// Partial trailing line stays buffered until its newline arrives.
	t.partial = append(t.partial[:0], buf...)
	return nil
}
