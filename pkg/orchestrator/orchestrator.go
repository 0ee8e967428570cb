// Package orchestrator owns the lifecycle of a lab session end to end:
// the container precondition gate, the event hub and its satellites, the
// tmux surface the student sees, and teardown on every exit path. It is
// the only component that starts or stops other components.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/checks"
	"github.com/codeready-toolchain/labrun/pkg/config"
	"github.com/codeready-toolchain/labrun/pkg/container"
	"github.com/codeready-toolchain/labrun/pkg/heartbeat"
	"github.com/codeready-toolchain/labrun/pkg/hub"
	"github.com/codeready-toolchain/labrun/pkg/layout"
	"github.com/codeready-toolchain/labrun/pkg/progress"
	"github.com/codeready-toolchain/labrun/pkg/rules"
	"github.com/codeready-toolchain/labrun/pkg/session"
)

// ErrEnvironment marks failures of the world around the runtime: docker
// unreachable, image missing, healthcheck failure. Callers map it to its
// own exit code.
var ErrEnvironment = errors.New("environment error")

// In-container mount points for the host-side module material.
const (
	containerChecksDir  = "/opt/lab/checks"
	containerSessionDir = "/var/lab/session"
)

// Phase is the session lifecycle state.
type Phase string

// Lifecycle phases. Transitions are linear; healthchecking can jump
// straight to terminated on failure.
const (
	PhaseBooting        Phase = "booting"
	PhaseHealthchecking Phase = "healthchecking"
	PhaseRunning        Phase = "running"
	PhaseDraining       Phase = "draining"
	PhaseTerminated     Phase = "terminated"
)

// Options selects the session mode.
type Options struct {
	// StudentID attributes progress rows. Defaults to "local".
	StudentID string

	// Interactive builds the tmux surface and attaches the terminal.
	// lab-test mode runs headless instead.
	Interactive bool

	// ScriptPath is the lab-test input file: one shell command per line,
	// executed in the container in order.
	ScriptPath string

	// TestTimeout bounds a lab-test run. Zero means 10 minutes.
	TestTimeout time.Duration
}

// Orchestrator supervises one session.
type Orchestrator struct {
	cfg  *config.Config
	opts Options

	sess        *session.Session
	runtime     *container.Runtime
	containerID string

	eventHub  *hub.Hub
	scheduler *checks.Scheduler
	monitor   *heartbeat.Monitor

	progressStore *progress.Store
	updater       *progress.Updater

	surface *layout.Layout

	mu    sync.Mutex
	phase Phase

	teardownOnce sync.Once
}

// New builds an orchestrator. Nothing happens until Run.
func New(cfg *config.Config, opts Options) *Orchestrator {
	if opts.StudentID == "" {
		opts.StudentID = "local"
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 10 * time.Minute
	}
	return &Orchestrator{cfg: cfg, opts: opts, phase: PhaseBooting}
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	slog.Info("Session phase changed", "phase", p)
}

// Session returns the session, nil before Run has bootstrapped it.
func (o *Orchestrator) Session() *session.Session { return o.sess }

// Run executes the full session lifecycle and blocks until teardown has
// finished. The returned error is nil for an orderly exit (student
// detach, signal, orphan, completed test run); failed or timed-out test
// runs and unrecoverable sink failures return non-nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	module := o.cfg.Module
	rc := o.cfg.Runtime

	// --- booting ---

	sess, err := session.New(rc.SessionRoot, module.ID, module.LabType, o.opts.StudentID)
	if err != nil {
		return fmt.Errorf("bootstrap session directory: %w", err)
	}
	o.sess = sess
	log := slog.With("session_id", sess.ID, "module_id", module.ID)
	log.Info("Session created", "dir", sess.Dir)

	if err := writePIDFile(sess.PIDFile(session.MonitorPIDName), os.Getpid()); err != nil {
		log.Warn("Failed to write monitor PID file", "error", err)
	}

	ruleSet, err := rules.New(module, o.cfg.ChecksDir())
	if err != nil {
		return fmt.Errorf("build rule set: %w", err)
	}

	binds := []string{
		o.cfg.ChecksDir() + ":" + containerChecksDir + ":ro",
		sess.Dir + ":" + containerSessionDir,
	}
	o.runtime, err = container.NewRuntime(rc.DockerImage, rc.ContainerWorkdir, binds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnvironment, err)
	}
	defer o.runtime.Close()

	if err := o.runtime.EnsureImage(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrEnvironment, err)
	}

	o.containerID, err = o.runtime.Start(ctx, "lab-"+sess.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnvironment, err)
	}
	if err := os.WriteFile(sess.ContainerIDFile(), []byte(o.containerID+"\n"), 0o644); err != nil {
		log.Warn("Failed to write container ID file", "error", err)
	}

	// --- healthchecking ---

	o.setPhase(PhaseHealthchecking)
	if err := o.runtime.Healthcheck(ctx, o.containerID,
		rc.HealthcheckFiles, rc.HealthcheckCmds, rc.HealthcheckTimeout); err != nil {
		log.Error("Healthcheck failed, killing container", "error", err)
		_ = o.runtime.Stop(context.Background(), o.containerID)
		o.setPhase(PhaseTerminated)
		return fmt.Errorf("%w: healthcheck: %w", ErrEnvironment, err)
	}

	// --- running ---

	if err := o.startComponents(ctx, ruleSet); err != nil {
		o.teardown("startup failure")
		return err
	}
	o.setPhase(PhaseRunning)

	reason, runErr := o.wait(ctx)

	// --- draining ---

	o.setPhase(PhaseDraining)
	o.teardown(reason)
	o.setPhase(PhaseTerminated)
	return runErr
}

// startComponents brings up the hub and its satellites in dependency
// order: hub (telemetry, state, IPC, tailers) first, then the check
// scheduler producing into checks.log, then the heartbeat watching the
// socket the hub just bound, then the progress updater, then the surface.
func (o *Orchestrator) startComponents(ctx context.Context, ruleSet *rules.RuleSet) error {
	module := o.cfg.Module
	rc := o.cfg.Runtime
	sess := o.sess

	eventHub, err := hub.New(sess, module, ruleSet, rc)
	if err != nil {
		return fmt.Errorf("assemble event hub: %w", err)
	}
	if err := eventHub.Start(ctx); err != nil {
		return fmt.Errorf("start event hub: %w", err)
	}
	o.eventHub = eventHub

	taskIndex := make(map[string]int, len(module.Steps))
	for i, step := range module.Steps {
		taskIndex[step.ID] = i + 1
	}
	o.scheduler, err = checks.NewScheduler(checks.Config{
		Executor:           o.runtime,
		ContainerID:        o.containerID,
		ContainerChecksDir: containerChecksDir,
		ScriptTimeout:      rc.ScriptTimeout,
		Descriptors:        ruleSet.Checks(),
		TaskIndex:          taskIndex,
		LogPath:            sess.ChecksLog(),
	})
	if err != nil {
		return fmt.Errorf("create check scheduler: %w", err)
	}
	o.scheduler.Start(ctx)

	o.monitor = heartbeat.NewMonitor(sess.SocketPath(), rc.HeartbeatInterval, rc.HeartbeatMisses, nil)

	o.progressStore, err = progress.Open(filepath.Join(rc.SessionRoot, "progress.db"))
	if err != nil {
		// Losing the course-level view does not invalidate the session.
		slog.Warn("Progress database unavailable, session-only progress", "error", err)
	} else {
		o.updater, err = progress.NewUpdater(o.progressStore, sess.TelemetryLog(),
			o.opts.StudentID, module.ID)
		if err != nil {
			slog.Warn("Progress updater unavailable", "error", err)
		} else {
			o.updater.Start(ctx)
			if err := writePIDFile(sess.PIDFile(session.ProgressPIDName), os.Getpid()); err != nil {
				slog.Warn("Failed to write progress updater PID file", "error", err)
			}
		}
	}

	if o.opts.Interactive {
		if err := o.buildSurface(ctx); err != nil {
			return err
		}
	}
	return nil
}

// buildSurface creates the tmux layout. The shell pane attaches to the
// container through the recording shim; the tutor and UI panes get the
// session directory via LAB_SESSION_DIR.
func (o *Orchestrator) buildSurface(ctx context.Context) error {
	rc := o.cfg.Runtime
	sess := o.sess

	uiCmd := rc.UICommand
	if uiCmd == "" {
		exe, err := os.Executable()
		if err != nil {
			exe = "lab"
		}
		uiCmd = fmt.Sprintf("%s ui --session-dir %s", exe, sess.Dir)
	}

	tutorCmd := ""
	if rc.TutorOn() && rc.TutorCommand != "" {
		tutorCmd = rc.TutorCommand
	}
	envPrefix := "LAB_SESSION_DIR=" + sess.Dir + " "
	if tutorCmd != "" {
		tutorCmd = envPrefix + tutorCmd
	}

	surface, err := layout.Build(ctx, layout.Config{
		SessionName:   "lab-" + sess.ID,
		ShellCommand:  "docker attach " + o.containerID,
		RecordingPath: sess.RecordingFile(),
		TutorCommand:  tutorCmd,
		UICommand:     envPrefix + uiCmd,
		TutorWidthPct: rc.Layout.TutorWidthPct,
		UIWidthPct:    rc.Layout.UIWidthPct,
	})
	if err != nil {
		return fmt.Errorf("%w: build terminal layout: %w", ErrEnvironment, err)
	}
	o.surface = surface
	return nil
}

// testResult is the outcome of a scripted run: the teardown reason and,
// for failed or timed-out runs, the error Run propagates.
type testResult struct {
	reason string
	err    error
}

// wait blocks until one of the exit conditions fires and returns the
// teardown reason plus the error Run should propagate. Orderly exits
// (signal, detach, orphan, completed test) carry a nil error.
func (o *Orchestrator) wait(ctx context.Context) (string, error) {
	sess := o.sess

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	orphaned := make(chan struct{})
	o.monitor.OnOrphaned = func() { close(orphaned) }
	o.monitor.Start(ctx)

	attachDone := make(chan error, 1)
	if o.opts.Interactive && o.surface != nil {
		go func() { attachDone <- o.surface.Attach(ctx) }()
	}

	testDone := make(chan testResult, 1)
	if !o.opts.Interactive {
		go o.runScripted(ctx, testDone)
	}

	select {
	case <-ctx.Done():
		return "context cancelled", nil
	case sig := <-sigCh:
		slog.Info("Signal received", "session_id", sess.ID, "signal", sig)
		return "signal: " + sig.String(), nil
	case err := <-o.eventHub.Fatal():
		slog.Error("Fatal sink error", "session_id", sess.ID, "error", err)
		return "sink failure", fmt.Errorf("unrecoverable sink failure: %w", err)
	case <-orphaned:
		return "orphaned", nil
	case err := <-attachDone:
		if err != nil {
			slog.Warn("Terminal detached with error", "session_id", sess.ID, "error", err)
		}
		return "student exit", nil
	case res := <-testDone:
		return res.reason, res.err
	}
}

// teardown releases every resource in reverse start order. Idempotent and
// best-effort: a step that fails is logged and the rest still run.
func (o *Orchestrator) teardown(reason string) {
	o.teardownOnce.Do(func() {
		rc := o.cfg.Runtime
		log := slog.With("session_id", o.sess.ID)
		log.Info("Tearing down session", "reason", reason)

		if o.surface != nil {
			o.surface.Kill()
		}
		if o.scheduler != nil {
			o.scheduler.Stop()
		}
		if o.monitor != nil {
			o.monitor.Stop()
		}
		if o.eventHub != nil {
			o.eventHub.Stop(reason)
		}
		if o.updater != nil {
			o.updater.Stop()
		}
		if o.progressStore != nil {
			if err := o.progressStore.Close(); err != nil {
				log.Warn("Failed to close progress store", "error", err)
			}
		}

		// Externally supervised helpers (the tutor's watcher) recorded
		// their PIDs in the session directory; take them down with the
		// same grace the container gets.
		for _, name := range []string{session.TutorWatcherPIDName} {
			if pid := readPIDFile(o.sess.PIDFile(name)); pid > 0 && pid != os.Getpid() {
				if err := terminateProcess(pid, rc.ShutdownGrace); err != nil {
					log.Warn("Failed to terminate helper process", "pid_file", name, "error", err)
				}
			}
		}

		if o.containerID != "" {
			stopCtx, cancel := context.WithTimeout(context.Background(), rc.ShutdownGrace+stopSlack)
			defer cancel()
			if err := o.runtime.Stop(stopCtx, o.containerID); err != nil {
				log.Warn("Failed to stop container", "error", err)
			}
		}

		for _, name := range []string{session.MonitorPIDName, session.ProgressPIDName} {
			_ = os.Remove(o.sess.PIDFile(name))
		}

		log.Info("Session torn down. Telemetry and state preserved", "dir", o.sess.Dir)
	})
}

// stopSlack pads the container stop deadline past the docker-side SIGTERM
// grace so the API call itself does not time out first.
const stopSlack = 2 * time.Second

// runScripted drives a lab-test session: each line of the script file is
// executed in the container and recorded to commands.log, then the run
// waits for all steps to complete or times out.
func (o *Orchestrator) runScripted(ctx context.Context, done chan<- testResult) {
	if o.opts.ScriptPath != "" {
		if err := o.replayScript(ctx); err != nil {
			slog.Error("Scripted input failed", "error", err)
			done <- testResult{reason: "test script failure", err: fmt.Errorf("replay test script: %w", err)}
			return
		}
	}

	deadline := time.NewTimer(o.opts.TestTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			done <- testResult{reason: "context cancelled"}
			return
		case <-deadline.C:
			done <- testResult{
				reason: "test timeout",
				err:    fmt.Errorf("test run timed out after %s with incomplete steps", o.opts.TestTimeout),
			}
			return
		case <-poll.C:
			if o.eventHub.AllTasksComplete() {
				done <- testResult{reason: "all tasks complete"}
				return
			}
		}
	}
}
