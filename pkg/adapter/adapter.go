// Package adapter normalizes raw evidence records into unified events and
// completion signals, one adapter variant per lab type.
//
// Adapters are invoked only from the event hub's serialization point, so
// the per-step already-signaled set needs no locking.
package adapter

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/rules"
)

// Action kinds by lab type.
const (
	ActionExecuteCommand = "execute_command"
	ActionPythonInput    = "python_input"
	ActionSplunkSearch   = "splunk_search"
)

// Output is what an adapter produces for one source record: zero or more
// event payloads (the hub stamps them into UnifiedEvents) and at most one
// completion signal.
type Output struct {
	Payloads []models.EventPayload
	Signal   *models.CompletionSignal
}

// Adapter is the per-lab-type normalizer.
type Adapter interface {
	LabType() models.LabType

	// OnCommand handles one typed shell command.
	OnCommand(rec *models.CommandRecord) Output

	// OnCheck handles one validation-script result.
	OnCheck(rec *models.CheckRecord) Output

	// OnUtterance handles one tutor utterance. Utterances are never
	// promoted to completion signals — no module grants the tutor that
	// authority.
	OnUtterance(u *models.TutorUtterance) Output
}

// New returns the adapter for a lab type.
func New(labType models.LabType, ruleSet *rules.RuleSet) (Adapter, error) {
	base := newBase(ruleSet)
	switch labType {
	case models.LabTypeLinuxCLI:
		return &LinuxCLIAdapter{base: base}, nil
	case models.LabTypePython:
		return &PythonAdapter{base: base}, nil
	case models.LabTypeSplunk:
		return &SplunkAdapter{base: base}, nil
	default:
		return nil, fmt.Errorf("no adapter for lab type %q", labType)
	}
}

// base carries the behavior shared by all adapters: rule matching, check
// forwarding, utterance forwarding, and the session-lifetime
// already-signaled set.
type base struct {
	rules    *rules.RuleSet
	signaled map[string]bool
}

func newBase(rs *rules.RuleSet) base {
	return base{
		rules:    rs,
		signaled: make(map[string]bool),
	}
}

// signal returns a completion signal for the step unless one was already
// produced this session. The hub enforces the same invariant again at its
// serialization point; this set keeps adapters from even proposing
// duplicates.
func (b *base) signal(stepID string, source models.CompletionSource, at time.Time) *models.CompletionSignal {
	if b.signaled[stepID] {
		return nil
	}
	b.signaled[stepID] = true
	return &models.CompletionSignal{StepID: stepID, Source: source, At: at}
}

// matchCommand applies the module's command-driven rules. First match
// wins; a match on an already-signaled step yields no signal.
func (b *base) matchCommand(rec *models.CommandRecord) *models.CompletionSignal {
	stepID, ok := b.rules.Match(rec)
	if !ok {
		return nil
	}
	return b.signal(stepID, models.SourceCommand, rec.Timestamp)
}

// onCheck forwards passed check results as completion signals, deduped by
// step ID. Failed and errored checks produce nothing — the check remains
// authoritative for current state, but only passes move progress.
func (b *base) onCheck(rec *models.CheckRecord) Output {
	if rec.Status != models.CheckPassed {
		return Output{}
	}
	return Output{Signal: b.signal(rec.StepID, models.SourceCheck, rec.Timestamp)}
}

// onUtterance forwards a tutor utterance as an event, never a signal.
func (b *base) onUtterance(u *models.TutorUtterance) Output {
	return Output{
		Payloads: []models.EventPayload{
			models.TutorUtterancePayload{Text: u.Text, TurnID: u.TurnID},
		},
	}
}

// studentAction builds the normalized student_action payload.
func studentAction(kind, action string, success bool) models.StudentActionPayload {
	result := models.ResultFailure
	if success {
		result = models.ResultSuccess
	}
	return models.StudentActionPayload{
		ActionKind: kind,
		Action:     action,
		Result:     result,
	}
}
