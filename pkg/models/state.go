package models

import "time"

// StateVersion is the current state.json schema version.
const StateVersion = 1

// StepState is one step's completion status in the materialized snapshot.
type StepState struct {
	ID          string           `json:"id"`
	Completed   bool             `json:"completed"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	CompletedBy CompletionSource `json:"completedBy,omitempty"`
}

// StateSnapshot is the state.json projection of completion signals.
// Step order matches the module's declaration order. Completion is
// monotonic: once a step is marked complete it stays complete until the
// session ends.
type StateSnapshot struct {
	Version     int         `json:"version"`
	ModuleID    string      `json:"moduleId"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Steps       []StepState `json:"steps"`
}

// NewStateSnapshot builds the initial snapshot for a module, all steps
// incomplete.
func NewStateSnapshot(m *Module) *StateSnapshot {
	steps := make([]StepState, len(m.Steps))
	for i, s := range m.Steps {
		steps[i] = StepState{ID: s.ID}
	}
	return &StateSnapshot{
		Version:     StateVersion,
		ModuleID:    m.ID,
		LastUpdated: time.Now().UTC(),
		Steps:       steps,
	}
}

// Step returns the state entry for a step ID, or nil.
func (s *StateSnapshot) Step(id string) *StepState {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// CompletedIDs returns the IDs of completed steps in declaration order.
func (s *StateSnapshot) CompletedIDs() []string {
	var ids []string
	for _, st := range s.Steps {
		if st.Completed {
			ids = append(ids, st.ID)
		}
	}
	return ids
}
