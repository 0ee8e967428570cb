package models

import "time"

// CommandRecord is one typed shell command as captured by the in-container
// logging shim and appended to commands.log. The working directory is
// serialized as "pwd" — the shim predates this runtime and the key is part
// of its wire format.
type CommandRecord struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Cwd       string    `json:"pwd"`
	Command   string    `json:"command"`
	ExitCode  *int      `json:"exitCode,omitempty"`
}

// Succeeded reports whether the command exited zero. A missing exit code
// counts as failure; the shim omits it only when the command never ran.
func (r *CommandRecord) Succeeded() bool {
	return r.ExitCode != nil && *r.ExitCode == 0
}

// CheckStatus is the outcome of a single check-script invocation.
type CheckStatus string

// Check statuses. "error" means the script could not be spawned, as
// opposed to running and exiting non-zero.
const (
	CheckPassed CheckStatus = "passed"
	CheckFailed CheckStatus = "failed"
	CheckError  CheckStatus = "error"
)

// CheckRecord is one validation-script result appended to checks.log by
// the check scheduler.
type CheckRecord struct {
	StepID    string      `json:"stepId"`
	Status    CheckStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	TaskIndex *int        `json:"taskIndex,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// TutorUtterance is one utterance captured from the tutor's stop-of-turn
// hook and appended to tutor-speech.jsonl.
type TutorUtterance struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	TurnID    string    `json:"turnId"`
}
