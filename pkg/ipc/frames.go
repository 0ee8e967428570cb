// Package ipc implements the Unix-domain socket protocol between the lab
// runtime and the VTA UI. Framing is newline-delimited UTF-8 JSON.
package ipc

import (
	"encoding/json"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// FrameType discriminates IPC frames.
type FrameType string

// Server → client frame types.
const (
	FrameReady         FrameType = "ready"
	FrameUpdate        FrameType = "update"
	FrameClose         FrameType = "close"
	FrameTaskCompleted FrameType = "taskCompleted"
)

// Client → server frame types.
const (
	FrameSelected  FrameType = "selected"
	FrameCancelled FrameType = "cancelled"
)

// Frame is one newline-delimited JSON message on the socket. Payload
// shapes depend on Type; unknown payload fields are ignored by consumers.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskCompletedPayload is the payload of a taskCompleted frame. TaskID
// carries the step's position for UIs that index tasks numerically.
type TaskCompletedPayload struct {
	StepID string                  `json:"stepId"`
	TaskID string                  `json:"taskId"`
	Source models.CompletionSource `json:"source"`
}

// UpdatePayload is the payload of an update frame: the full state
// projection after a change. Clients that connected after earlier
// taskCompleted frames catch up from it — broadcast carries no history.
type UpdatePayload struct {
	State models.StateSnapshot `json:"state"`
}

// SelectedPayload is the payload of a client selected frame.
type SelectedPayload struct {
	Data any `json:"data"`
}

// NewFrame builds a frame with a marshaled payload. A nil payload yields
// an empty-payload frame (ready, close, cancelled).
func NewFrame(ft FrameType, payload any) (Frame, error) {
	f := Frame{Type: ft}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	f.Payload = data
	return f, nil
}
