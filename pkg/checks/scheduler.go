// Package checks runs a module's check scripts on their polling intervals
// and appends the results to the session's checks.log. The scheduler is a
// pure producer: it never decides completions, it only generates evidence
// for the hub to consume through the checks tailer.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/container"
	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/rules"
)

// messageLimit caps the stdout head recorded per check invocation.
const messageLimit = 1024

// Executor runs a command inside the lab container. Satisfied by
// *container.Runtime; tests substitute a fake.
type Executor interface {
	Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*container.ExecResult, error)
}

// Scheduler polls one worker goroutine per check descriptor.
type Scheduler struct {
	exec        Executor
	containerID string

	// containerChecksDir is where the module's checks directory is
	// mounted inside the container; scripts execute from there.
	containerChecksDir string
	scriptTimeout      time.Duration

	descriptors []rules.CheckDescriptor
	taskIndex   map[string]int

	logPath string
	logMu   sync.Mutex
	logFile *os.File

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config carries the scheduler's dependencies.
type Config struct {
	Executor           Executor
	ContainerID        string
	ContainerChecksDir string
	ScriptTimeout      time.Duration
	Descriptors        []rules.CheckDescriptor
	// TaskIndex maps step ID to its 1-based position in the module, for
	// the optional taskIndex field on check records.
	TaskIndex map[string]int
	LogPath   string
}

// NewScheduler opens the checks log for appending and prepares the
// workers. Nothing runs until Start.
func NewScheduler(cfg Config) (*Scheduler, error) {
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checks log: %w", err)
	}

	timeout := cfg.ScriptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Scheduler{
		exec:               cfg.Executor,
		containerID:        cfg.ContainerID,
		containerChecksDir: cfg.ContainerChecksDir,
		scriptTimeout:      timeout,
		descriptors:        cfg.Descriptors,
		taskIndex:          cfg.TaskIndex,
		logPath:            cfg.LogPath,
		logFile:            f,
		done:               make(chan struct{}),
	}, nil
}

// Start launches one worker per descriptor. Each worker fires once
// immediately, then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	for _, d := range s.descriptors {
		s.wg.Add(1)
		go s.worker(ctx, d)
	}
	slog.Info("Check scheduler started", "checks", len(s.descriptors))
}

// Stop halts all workers and closes the log. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.logMu.Lock()
		defer s.logMu.Unlock()
		if err := s.logFile.Close(); err != nil {
			slog.Warn("Failed to close checks log", "error", err)
		}
		slog.Info("Check scheduler stopped")
	})
}

func (s *Scheduler) worker(ctx context.Context, d rules.CheckDescriptor) {
	defer s.wg.Done()

	log := slog.With("step_id", d.StepID, "script", filepath.Base(d.Script))

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	// Immediate first run: the environment may already satisfy the check
	// before the student does anything.
	s.runCheck(ctx, log, d)

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCheck(ctx, log, d)
			// A tick that queued while the script ran means the script
			// overran its interval; skip it rather than backlog.
			select {
			case <-ticker.C:
				log.Warn("Check overran its interval, skipping tick", "interval", d.Interval)
			default:
			}
		}
	}
}

// runCheck executes one script invocation and records the outcome. Spawn
// failures become status "error"; the scheduler never stops on them.
func (s *Scheduler) runCheck(ctx context.Context, log *slog.Logger, d rules.CheckDescriptor) {
	script := filepath.Join(s.containerChecksDir, filepath.Base(d.Script))

	rec := models.CheckRecord{
		StepID:    d.StepID,
		Timestamp: time.Now().UTC(),
	}
	if idx, ok := s.taskIndex[d.StepID]; ok {
		rec.TaskIndex = &idx
	}

	res, err := s.exec.Exec(ctx, s.containerID, []string{"sh", script}, s.scriptTimeout)
	switch {
	case err != nil:
		log.Warn("Check script failed to run", "error", err)
		rec.Status = models.CheckError
		rec.Message = truncate(err.Error(), messageLimit)
	case res.ExitCode == 0:
		rec.Status = models.CheckPassed
		rec.Message = truncate(string(res.Stdout), messageLimit)
	default:
		rec.Status = models.CheckFailed
		rec.Message = truncate(string(res.Stdout), messageLimit)
	}

	if err := s.append(&rec); err != nil {
		log.Error("Failed to append check record", "error", err)
	}
}

// append writes one record as a single NDJSON line and fsyncs, so a
// teardown mid-write never leaves a torn line for the tailer.
func (s *Scheduler) append(rec *models.CheckRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal check record: %w", err)
	}
	data = append(data, '\n')

	// The log closes only after wg.Wait, so in-flight appends during
	// shutdown still land.
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if _, err := s.logFile.Write(data); err != nil {
		return fmt.Errorf("write check record: %w", err)
	}
	return s.logFile.Sync()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
