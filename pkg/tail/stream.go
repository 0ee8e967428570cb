package tail

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Stream decodes a tailer's raw lines into typed records. Malformed JSON
// is logged and skipped — a bad line never stops the stream.
type Stream[T any] struct {
	tailer *Tailer
	out    chan T
	wg     sync.WaitGroup
}

// NewStream wraps a tailer with JSON decoding into T.
func NewStream[T any](t *Tailer) *Stream[T] {
	return &Stream[T]{
		tailer: t,
		out:    make(chan T, 64),
	}
}

// Records returns the typed record channel. Closed when the underlying
// tailer stops.
func (s *Stream[T]) Records() <-chan T { return s.out }

// Start launches the tailer and the decode loop.
func (s *Stream[T]) Start(ctx context.Context) {
	s.tailer.Start(ctx)
	s.wg.Add(1)
	go s.decodeLoop(ctx)
}

// Stop stops the underlying tailer and waits for the decode loop to drain.
func (s *Stream[T]) Stop() {
	s.tailer.Stop()
	s.wg.Wait()
}

func (s *Stream[T]) decodeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.out)

	for line := range s.tailer.Lines() {
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Skipping malformed log line",
				"file", s.tailer.path, "error", err)
			continue
		}
		select {
		case s.out <- rec:
		case <-ctx.Done():
			return
		}
	}
}
