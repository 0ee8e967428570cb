// Package models defines the domain types shared across the lab runtime:
// module definitions, evidence records, unified events, and the materialized
// session state.
package models

import "time"

// LabType identifies the kind of lab a module drives. It selects the
// adapter used to normalize raw evidence into unified events.
type LabType string

// Supported lab types.
const (
	LabTypeLinuxCLI LabType = "linux_cli"
	LabTypePython   LabType = "python"
	LabTypeSplunk   LabType = "splunk"
)

// Valid reports whether lt is a known lab type.
func (lt LabType) Valid() bool {
	switch lt {
	case LabTypeLinuxCLI, LabTypePython, LabTypeSplunk:
		return true
	}
	return false
}

// StepKind classifies a step within a module.
type StepKind string

// Step kinds.
const (
	StepKindIntroduction StepKind = "introduction"
	StepKindTask         StepKind = "task"
	StepKindQuestion     StepKind = "question"
	StepKindSummary      StepKind = "summary"
)

// ValidationKind discriminates the StepValidation tagged union.
type ValidationKind string

// Validation kinds.
const (
	ValidationUserCheck      ValidationKind = "user-check"
	ValidationCommandPattern ValidationKind = "command-pattern"
	ValidationCheckScript    ValidationKind = "check-script"
)

// MinPollInterval is the floor for check-script polling. Intervals below
// this are clamped, not rejected.
const MinPollInterval = 500 * time.Millisecond

// DefaultPollInterval is used when a check-script validation omits one.
const DefaultPollInterval = 2 * time.Second

// StepValidation describes how a step is marked complete. Exactly one of
// the kind-specific field groups is meaningful, selected by Kind.
type StepValidation struct {
	Kind ValidationKind `yaml:"kind" json:"kind"`

	// user-check
	RequiredUser string `yaml:"required_user,omitempty" json:"requiredUser,omitempty"`

	// command-pattern. RequiredUser may additionally constrain the match.
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`

	// check-script
	ScriptRef      string `yaml:"script,omitempty" json:"scriptRef,omitempty"`
	PollIntervalMs int    `yaml:"poll_interval_ms,omitempty" json:"pollIntervalMs,omitempty"`
}

// Interval returns the effective polling period for a check-script
// validation: the default when unset, clamped to the floor otherwise.
func (v *StepValidation) Interval() time.Duration {
	if v.PollIntervalMs == 0 {
		return DefaultPollInterval
	}
	d := time.Duration(v.PollIntervalMs) * time.Millisecond
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// Step is a unit of progress within a module. Steps without validation
// (introductions, summaries) are never the target of a completion signal.
type Step struct {
	ID         string          `yaml:"id" json:"id"`
	Kind       StepKind        `yaml:"kind" json:"kind"`
	Title      string          `yaml:"title,omitempty" json:"title,omitempty"`
	Validation *StepValidation `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// Module is an authored lab definition. Immutable after load; the rule set
// is the sole consumer of validation metadata. Step order is preserved in
// every projection (state snapshot, telemetry, IPC frames).
type Module struct {
	ID      string  `yaml:"id" json:"id"`
	Title   string  `yaml:"title" json:"title"`
	LabType LabType `yaml:"lab_type" json:"labType"`
	Steps   []Step  `yaml:"steps" json:"steps"`
}

// StepByID returns the step with the given ID, or nil.
func (m *Module) StepByID(id string) *Step {
	for i := range m.Steps {
		if m.Steps[i].ID == id {
			return &m.Steps[i]
		}
	}
	return nil
}

// StepIDs returns step IDs in declaration order.
func (m *Module) StepIDs() []string {
	ids := make([]string, len(m.Steps))
	for i, s := range m.Steps {
		ids[i] = s.ID
	}
	return ids
}
