// Package hub is the central coordinator of a lab session: it owns the
// tailers, the adapter, and every sink (telemetry, state, IPC), and it is
// the single serialization point for all mutations. Evidence flows in from
// three concurrent sources; everything downstream happens on one
// goroutine, which is what makes the dedup window, the completion set, and
// the causal ordering of task_completed events trivially correct.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/labrun/pkg/adapter"
	"github.com/codeready-toolchain/labrun/pkg/config"
	"github.com/codeready-toolchain/labrun/pkg/ipc"
	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/rules"
	"github.com/codeready-toolchain/labrun/pkg/session"
	"github.com/codeready-toolchain/labrun/pkg/state"
	"github.com/codeready-toolchain/labrun/pkg/tail"
	"github.com/codeready-toolchain/labrun/pkg/telemetry"
)

// Hub wires tailers → adapter → {telemetry, state, IPC}.
type Hub struct {
	sess    *session.Session
	module  *models.Module
	adapter adapter.Adapter

	telemetry *telemetry.Logger
	state     *state.Writer
	ipcServer *ipc.Server

	commands *tail.Stream[models.CommandRecord]
	checks   *tail.Stream[models.CheckRecord]
	tutor    *tail.Stream[models.TutorUtterance]

	dedup *dedupWindow

	// completed is the authoritative at-most-once set for completion
	// signals, keyed by step ID. Only touched from the event loop.
	completed map[string]bool

	// taskIndex maps step ID → 1-based position, for the legacy taskId
	// field on IPC frames.
	taskIndex map[string]string

	fatal chan error

	done     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	started  bool
}

// New assembles a hub for the session. Nothing is opened until Start.
func New(sess *session.Session, module *models.Module, ruleSet *rules.RuleSet, rc *config.RuntimeConfig) (*Hub, error) {
	ad, err := adapter.New(module.LabType, ruleSet)
	if err != nil {
		return nil, err
	}

	taskIndex := make(map[string]string, len(module.Steps))
	for i, step := range module.Steps {
		taskIndex[step.ID] = fmt.Sprintf("%d", i+1)
	}

	h := &Hub{
		sess:      sess,
		module:    module,
		adapter:   ad,
		dedup:     newDedupWindow(Window),
		completed: make(map[string]bool),
		taskIndex: taskIndex,
		fatal:     make(chan error, 1),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}

	pollOpt := tail.WithPollInterval(rc.TailPollInterval)
	if err := mkStream(&h.commands, sess.CommandsLog(), pollOpt); err != nil {
		return nil, err
	}
	if err := mkStream(&h.checks, sess.ChecksLog(), pollOpt); err != nil {
		return nil, err
	}
	if err := mkStream(&h.tutor, sess.TutorSpeechLog(), pollOpt); err != nil {
		return nil, err
	}

	return h, nil
}

func mkStream[T any](dst **tail.Stream[T], path string, opts ...tail.Option) error {
	t, err := tail.New(path, opts...)
	if err != nil {
		return fmt.Errorf("create tailer for %s: %w", path, err)
	}
	*dst = tail.NewStream[T](t)
	return nil
}

// Start runs the startup sequence in strict order: telemetry +
// session_started, state writer (all steps incomplete), IPC bind, tailers,
// then the event loop. Replay of pre-existing lines counts as normal
// input.
func (h *Hub) Start(ctx context.Context) error {
	log := slog.With("session_id", h.sess.ID, "module_id", h.module.ID)

	tl, err := telemetry.NewLogger(h.sess.TelemetryLog())
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	h.telemetry = tl

	started := models.NewEvent(h.sess.ID, h.module.LabType, models.SessionStartedPayload{
		ModuleID:  h.module.ID,
		LabType:   h.module.LabType,
		StudentID: h.sess.StudentID,
	})
	if err := tl.Append(started); err != nil {
		h.closeSinks()
		return fmt.Errorf("emit session_started: %w", err)
	}

	sw, err := state.NewWriter(h.sess.StateFile(), h.module)
	if err != nil {
		// A sink that outlives a failed Start leaks its file handle: Stop
		// never runs for a hub that did not start.
		h.closeSinks()
		return fmt.Errorf("initialize state: %w", err)
	}
	h.state = sw

	h.ipcServer = ipc.NewServer(h.sess.SocketPath())
	if err := h.ipcServer.Start(ctx); err != nil {
		h.closeSinks()
		return fmt.Errorf("bind IPC socket: %w", err)
	}

	h.commands.Start(ctx)
	h.checks.Start(ctx)
	h.tutor.Start(ctx)

	go h.loop(ctx)
	h.started = true

	log.Info("Event hub started", "lab_type", h.module.LabType)
	return nil
}

// closeSinks releases whatever sinks Start managed to open before
// failing.
func (h *Hub) closeSinks() {
	if h.telemetry != nil {
		if err := h.telemetry.Close(); err != nil {
			slog.Warn("Failed to close telemetry after startup failure", "error", err)
		}
		h.telemetry = nil
	}
	if h.ipcServer != nil {
		h.ipcServer.Close()
		h.ipcServer = nil
	}
}

// Fatal delivers at most one unrecoverable sink error. The orchestrator
// treats it as the trigger for draining.
func (h *Hub) Fatal() <-chan error { return h.fatal }

// Telemetry exposes the logger, mainly so tests can inspect the ring.
func (h *Hub) Telemetry() *telemetry.Logger { return h.telemetry }

// StateSnapshot returns a copy of the current state projection.
func (h *Hub) StateSnapshot() models.StateSnapshot { return h.state.Snapshot() }

// SocketPath returns the IPC socket path the hub bound.
func (h *Hub) SocketPath() string { return h.sess.SocketPath() }

// Stop runs the shutdown sequence: stop intake, emit session_ended, close
// IPC clients, close telemetry, fsync state. Idempotent.
func (h *Hub) Stop(reason string) {
	h.stopOnce.Do(func() {
		if !h.started {
			return
		}
		log := slog.With("session_id", h.sess.ID)
		log.Info("Event hub stopping", "reason", reason)

		// Stop intake first so the loop drains and exits; sinks must
		// outlive the loop.
		h.commands.Stop()
		h.checks.Stop()
		h.tutor.Stop()
		close(h.done)
		<-h.loopDone

		ended := models.NewEvent(h.sess.ID, h.module.LabType, models.SessionEndedPayload{Reason: reason})
		if err := h.telemetry.Append(ended); err != nil {
			log.Warn("Failed to emit session_ended", "error", err)
		}

		h.ipcServer.Close()

		if err := h.telemetry.Close(); err != nil {
			log.Warn("Failed to close telemetry", "error", err)
		}
		if err := h.state.Sync(); err != nil {
			log.Warn("Failed to sync state on shutdown", "error", err)
		}
		log.Info("Event hub stopped")
	})
}

// loop is the single serialization point. Every mutation of telemetry,
// state, the dedup window, and the completion set happens here.
func (h *Hub) loop(ctx context.Context) {
	defer close(h.loopDone)

	commands := h.commands.Records()
	checks := h.checks.Records()
	tutor := h.tutor.Records()

	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return

		case rec, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			h.handle(h.adapter.OnCommand(&rec))

		case rec, ok := <-checks:
			if !ok {
				checks = nil
				continue
			}
			h.handle(h.adapter.OnCheck(&rec))

		case u, ok := <-tutor:
			if !ok {
				tutor = nil
				continue
			}
			h.handle(h.adapter.OnUtterance(&u))
		}
	}
}

// handle applies one adapter output: events through the dedup window into
// telemetry, then the completion signal — state, IPC, and the
// task_completed event strictly after the causal event.
func (h *Hub) handle(out adapter.Output) {
	for _, payload := range out.Payloads {
		ev := models.NewEvent(h.sess.ID, h.module.LabType, payload)
		if h.dedup.suppress(&ev) {
			continue
		}
		if err := h.telemetry.Append(ev); err != nil {
			slog.Warn("Telemetry append failed", "event_type", ev.EventType, "error", err)
		}
	}

	if out.Signal != nil {
		h.complete(out.Signal)
	}
}

// complete delivers a completion signal at most once per (session, step).
func (h *Hub) complete(sig *models.CompletionSignal) {
	if h.completed[sig.StepID] {
		return
	}
	h.completed[sig.StepID] = true

	log := slog.With("session_id", h.sess.ID, "step_id", sig.StepID, "source", sig.Source)

	changed, err := h.state.MarkCompleted(sig.StepID, sig.Source, sig.At)
	if err != nil {
		// Persistent state failure invalidates future progress: flag it
		// and let the orchestrator drain the session.
		log.Error("State write failed", "error", err)
		select {
		case h.fatal <- fmt.Errorf("state write for step %s: %w", sig.StepID, err):
		default:
		}
		return
	}
	if !changed {
		// Unknown step or already complete in a reused directory.
		log.Warn("Completion signal did not change state")
		return
	}

	frame, err := ipc.NewFrame(ipc.FrameTaskCompleted, ipc.TaskCompletedPayload{
		StepID: sig.StepID,
		TaskID: h.taskIndex[sig.StepID],
		Source: sig.Source,
	})
	if err == nil {
		h.ipcServer.Broadcast(frame)
	}
	if refresh, err := ipc.NewFrame(ipc.FrameUpdate, ipc.UpdatePayload{State: h.state.Snapshot()}); err == nil {
		h.ipcServer.Broadcast(refresh)
	}

	ev := models.NewEvent(h.sess.ID, h.module.LabType, models.TaskCompletedPayload{
		StepID: sig.StepID,
		Source: sig.Source,
	})
	if err := h.telemetry.Append(ev); err != nil {
		log.Warn("Failed to emit task_completed", "error", err)
	}

	log.Info("Step completed")
}

// AllTasksComplete reports whether every step carrying validation has been
// completed. Used by lab-test mode to decide when to stop.
func (h *Hub) AllTasksComplete() bool {
	snap := h.state.Snapshot()
	for _, step := range h.module.Steps {
		if step.Validation == nil {
			continue
		}
		st := snap.Step(step.ID)
		if st == nil || !st.Completed {
			return false
		}
	}
	return true
}
