package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the UnifiedEvent payload union.
type EventType string

// Unified event types emitted to telemetry.
const (
	EventSessionStarted  EventType = "session_started"
	EventStudentAction   EventType = "student_action"
	EventTaskCompleted   EventType = "task_completed"
	EventSessionEnded    EventType = "session_ended"
	EventTutorUtterance  EventType = "tutor_utterance"
	EventCommandExecuted EventType = "command_executed" // legacy, linux_cli only
)

// ActionResult is the outcome of a student action.
type ActionResult string

// Action results.
const (
	ResultSuccess ActionResult = "success"
	ResultFailure ActionResult = "failure"
)

// CompletionSource identifies which evidence language produced a
// completion signal.
type CompletionSource string

// Completion sources.
const (
	SourceCommand CompletionSource = "command"
	SourceCheck   CompletionSource = "check"
	SourceTutor   CompletionSource = "tutor"
)

// EventPayload is implemented by every unified-event payload variant.
// The event type is derived from the payload, never set independently,
// so a payload can never appear under the wrong discriminator.
type EventPayload interface {
	EventType() EventType
}

// SessionStartedPayload opens the telemetry stream for a session.
type SessionStartedPayload struct {
	ModuleID  string  `json:"moduleId"`
	LabType   LabType `json:"labType"`
	StudentID string  `json:"studentId,omitempty"`
}

// EventType implements EventPayload.
func (SessionStartedPayload) EventType() EventType { return EventSessionStarted }

// SessionEndedPayload closes the telemetry stream for a session.
type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// EventType implements EventPayload.
func (SessionEndedPayload) EventType() EventType { return EventSessionEnded }

// StudentActionPayload is a normalized student action from any lab type.
type StudentActionPayload struct {
	ActionKind string       `json:"actionKind"`
	Action     string       `json:"action"`
	Result     ActionResult `json:"result"`
}

// EventType implements EventPayload.
func (StudentActionPayload) EventType() EventType { return EventStudentAction }

// TaskCompletedPayload records a step completion and the evidence source
// that triggered it.
type TaskCompletedPayload struct {
	StepID string           `json:"stepId"`
	Source CompletionSource `json:"source"`
}

// EventType implements EventPayload.
func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

// TutorUtterancePayload carries one tutor utterance into telemetry.
type TutorUtterancePayload struct {
	Text   string `json:"text"`
	TurnID string `json:"turnId,omitempty"`
}

// EventType implements EventPayload.
func (TutorUtterancePayload) EventType() EventType { return EventTutorUtterance }

// CommandExecutedPayload is the legacy linux_cli event shape, dual-written
// alongside student_action for consumers that predate the unified stream.
type CommandExecutedPayload struct {
	Command  string `json:"command"`
	User     string `json:"user,omitempty"`
	Cwd      string `json:"pwd,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// EventType implements EventPayload.
func (CommandExecutedPayload) EventType() EventType { return EventCommandExecuted }

// UnifiedEvent is one record in the telemetry stream. EventType always
// matches the payload variant.
type UnifiedEvent struct {
	SessionID string       `json:"sessionId"`
	LabType   LabType      `json:"labType"`
	EventType EventType    `json:"eventType"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   EventPayload `json:"payload"`
}

// NewEvent builds a UnifiedEvent for the given payload, stamping it with
// the current wall-clock time.
func NewEvent(sessionID string, labType LabType, payload EventPayload) UnifiedEvent {
	return UnifiedEvent{
		SessionID: sessionID,
		LabType:   labType,
		EventType: payload.EventType(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// unifiedEventWire mirrors UnifiedEvent with a raw payload for two-phase
// decoding.
type unifiedEventWire struct {
	SessionID string          `json:"sessionId"`
	LabType   LabType         `json:"labType"`
	EventType EventType       `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes a telemetry record, selecting the payload variant
// by eventType. Unknown fields inside payloads are ignored for forward
// compatibility; an unknown eventType is an error.
func (e *UnifiedEvent) UnmarshalJSON(data []byte) error {
	var wire unifiedEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var payload EventPayload
	switch wire.EventType {
	case EventSessionStarted:
		payload = &SessionStartedPayload{}
	case EventSessionEnded:
		payload = &SessionEndedPayload{}
	case EventStudentAction:
		payload = &StudentActionPayload{}
	case EventTaskCompleted:
		payload = &TaskCompletedPayload{}
	case EventTutorUtterance:
		payload = &TutorUtterancePayload{}
	case EventCommandExecuted:
		payload = &CommandExecutedPayload{}
	default:
		return fmt.Errorf("unknown event type %q", wire.EventType)
	}

	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", wire.EventType, err)
		}
	}

	e.SessionID = wire.SessionID
	e.LabType = wire.LabType
	e.EventType = wire.EventType
	e.Timestamp = wire.Timestamp
	e.Payload = deref(payload)
	return nil
}

// deref unwraps the pointer used during decoding so decoded events compare
// equal to events built with NewEvent.
func deref(p EventPayload) EventPayload {
	switch v := p.(type) {
	case *SessionStartedPayload:
		return *v
	case *SessionEndedPayload:
		return *v
	case *StudentActionPayload:
		return *v
	case *TaskCompletedPayload:
		return *v
	case *TutorUtterancePayload:
		return *v
	case *CommandExecutedPayload:
		return *v
	}
	return p
}

// CompletionSignal is the Hub-internal decision that a step is done.
// Delivered at most once per (session, stepId); the Hub owns that dedup.
type CompletionSignal struct {
	StepID string           `json:"stepId"`
	Source CompletionSource `json:"source"`
	At     time.Time        `json:"at"`
}
