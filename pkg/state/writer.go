// Package state owns the materialized state.json snapshot. The writer is
// the only component allowed to write the file; the UI and tutor read it
// at any time, which is safe because every update is an atomic rename.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// Writer projects completion signals into state.json.
type Writer struct {
	mu       sync.Mutex
	path     string
	snapshot *models.StateSnapshot
}

// NewWriter initializes state.json for the module with every step
// incomplete and writes the initial snapshot.
func NewWriter(path string, module *models.Module) (*Writer, error) {
	w := &Writer{
		path:     path,
		snapshot: models.NewStateSnapshot(module),
	}
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("write initial state: %w", err)
	}
	return w, nil
}

// MarkCompleted flips a step to completed and rewrites the snapshot.
// Completion is monotonic: marking an already-completed step is a no-op
// and reports false. Unknown step IDs also report false — the rule set is
// the authority on step existence, not the state file.
func (w *Writer) MarkCompleted(stepID string, source models.CompletionSource, at time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	step := w.snapshot.Step(stepID)
	if step == nil || step.Completed {
		return false, nil
	}

	step.Completed = true
	completedAt := at.UTC()
	step.CompletedAt = &completedAt
	step.CompletedBy = source
	w.snapshot.LastUpdated = time.Now().UTC()

	if err := w.flush(); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns a deep copy of the current snapshot.
func (w *Writer) Snapshot() models.StateSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := *w.snapshot
	out.Steps = make([]models.StepState, len(w.snapshot.Steps))
	copy(out.Steps, w.snapshot.Steps)
	return out
}

// Sync forces the current snapshot to disk. Called during shutdown.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

// flush writes the snapshot atomically: temp sibling + rename, so readers
// can never observe a partial file. Caller holds w.mu.
func (w *Writer) flush() error {
	data, err := json.MarshalIndent(w.snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Load reads a snapshot from disk. Used by lab-test verification and the
// progress updater; the writer itself never re-reads its own file.
func Load(path string) (*models.StateSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap models.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &snap, nil
}
