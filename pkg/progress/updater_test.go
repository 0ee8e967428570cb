package progress

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/tail"
)

func appendEvent(t *testing.T, path string, ev models.UnifiedEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestUpdaterPersistsTaskCompletions(t *testing.T) {
	store := openTestStore(t)
	telemetryPath := filepath.Join(t.TempDir(), "telemetry.jsonl")

	// Mixed stream: only task_completed events produce rows.
	appendEvent(t, telemetryPath, models.NewEvent("sess", models.LabTypeLinuxCLI,
		models.SessionStartedPayload{ModuleID: "mod-1", LabType: models.LabTypeLinuxCLI}))
	appendEvent(t, telemetryPath, models.NewEvent("sess", models.LabTypeLinuxCLI,
		models.StudentActionPayload{ActionKind: "execute_command", Action: "ls", Result: models.ResultSuccess}))
	appendEvent(t, telemetryPath, models.NewEvent("sess", models.LabTypeLinuxCLI,
		models.TaskCompletedPayload{StepID: "s1", Source: models.SourceCommand}))

	u, err := NewUpdater(store, telemetryPath, "student-1", "mod-1",
		tail.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	u.Start(context.Background())
	defer u.Stop()

	waitForCompleted(t, store, "student-1", "mod-1", []string{"s1"})

	// Live event after start.
	appendEvent(t, telemetryPath, models.NewEvent("sess", models.LabTypeLinuxCLI,
		models.TaskCompletedPayload{StepID: "s2", Source: models.SourceCheck}))

	waitForCompleted(t, store, "student-1", "mod-1", []string{"s1", "s2"})
}

func TestUpdaterIdempotentAcrossDuplicates(t *testing.T) {
	store := openTestStore(t)
	telemetryPath := filepath.Join(t.TempDir(), "telemetry.jsonl")

	ev := models.NewEvent("sess", models.LabTypeLinuxCLI,
		models.TaskCompletedPayload{StepID: "s1", Source: models.SourceCommand})
	appendEvent(t, telemetryPath, ev)
	appendEvent(t, telemetryPath, ev)

	u, err := NewUpdater(store, telemetryPath, "student-1", "mod-1",
		tail.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	u.Start(context.Background())
	defer u.Stop()

	waitForCompleted(t, store, "student-1", "mod-1", []string{"s1"})
}

func waitForCompleted(t *testing.T, store *Store, studentID, moduleID string, want []string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		completed, err := store.Completed(context.Background(), studentID, moduleID)
		require.NoError(t, err)
		if assert.ObjectsAreEqual(want, completed) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed = %v, want %v", completed, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
