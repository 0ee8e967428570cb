// Package heartbeat watches for an orphaned session: a runtime whose IPC
// socket has vanished from the filesystem. The probe is deliberately dumb
// (a stat, not a connect) so it cannot hang on a wedged peer.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Monitor probes a socket path on a fixed interval and invokes the
// OnOrphaned callback after a configured number of consecutive misses.
type Monitor struct {
	socketPath string
	interval   time.Duration
	maxMisses  int

	// OnOrphaned fires exactly once, from the monitor goroutine, when the
	// miss threshold is reached. The monitor stops itself afterwards.
	OnOrphaned func()

	misses int

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor. interval and maxMisses must be positive;
// callers get them validated through the runtime config.
func NewMonitor(socketPath string, interval time.Duration, maxMisses int, onOrphaned func()) *Monitor {
	return &Monitor{
		socketPath: socketPath,
		interval:   interval,
		maxMisses:  maxMisses,
		OnOrphaned: onOrphaned,
		done:       make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
	slog.Info("Heartbeat monitor started",
		"socket", m.socketPath, "interval", m.interval, "max_misses", m.maxMisses)
}

// Stop halts the probe loop. Safe to call multiple times, including from
// inside OnOrphaned.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Wait blocks until the probe loop has exited.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	log := slog.With("socket", m.socketPath)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.probe() {
				if m.misses > 0 {
					log.Info("Heartbeat recovered", "after_misses", m.misses)
				}
				m.misses = 0
				continue
			}

			m.misses++
			log.Warn("Heartbeat miss", "misses", m.misses, "max", m.maxMisses)
			if m.misses >= m.maxMisses {
				log.Error("Session orphaned, triggering teardown")
				if m.OnOrphaned != nil {
					m.OnOrphaned()
				}
				return
			}
		}
	}
}

// probe reports whether the socket still exists. Any stat error other
// than absence counts as a hit: a permission hiccup is not an orphan.
func (m *Monitor) probe() bool {
	_, err := os.Stat(m.socketPath)
	if err == nil {
		return true
	}
	return !os.IsNotExist(err)
}
