package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/tail"
)

// Updater tails a session's telemetry stream and persists every
// task_completed event into the store. It runs alongside the hub rather
// than inside it: losing the updater costs durability of the course-level
// view, never session correctness.
type Updater struct {
	store     *Store
	studentID string
	moduleID  string

	events *tail.Stream[models.UnifiedEvent]

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewUpdater builds an updater tailing telemetryPath.
func NewUpdater(store *Store, telemetryPath, studentID, moduleID string, opts ...tail.Option) (*Updater, error) {
	t, err := tail.New(telemetryPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry tailer: %w", err)
	}
	return &Updater{
		store:     store,
		studentID: studentID,
		moduleID:  moduleID,
		events:    tail.NewStream[models.UnifiedEvent](t),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the tail-and-persist loop.
func (u *Updater) Start(ctx context.Context) {
	u.events.Start(ctx)
	u.wg.Add(1)
	go u.run(ctx)
	slog.Info("Progress updater started", "student_id", u.studentID, "module_id", u.moduleID)
}

// Stop halts the loop. Safe to call multiple times.
func (u *Updater) Stop() {
	u.stopOnce.Do(func() {
		u.events.Stop()
		close(u.done)
	})
	u.wg.Wait()
}

func (u *Updater) run(ctx context.Context) {
	defer u.wg.Done()

	for {
		select {
		case <-u.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-u.events.Records():
			if !ok {
				return
			}
			if ev.EventType != models.EventTaskCompleted {
				continue
			}
			payload, ok := ev.Payload.(models.TaskCompletedPayload)
			if !ok {
				continue
			}
			u.persist(ctx, &ev, &payload)
		}
	}
}

func (u *Updater) persist(ctx context.Context, ev *models.UnifiedEvent, payload *models.TaskCompletedPayload) {
	inserted, err := u.store.MarkCompleted(ctx, Record{
		StudentID:   u.studentID,
		ModuleID:    u.moduleID,
		StepID:      payload.StepID,
		CompletedAt: ev.Timestamp,
		Source:      string(payload.Source),
	})
	if err != nil {
		slog.Error("Failed to persist progress", "step_id", payload.StepID, "error", err)
		return
	}
	if inserted {
		slog.Info("Progress persisted", "step_id", payload.StepID, "source", payload.Source)
	}
}
