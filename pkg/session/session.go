// Package session defines the Session value threaded through every
// runtime component. There are no process-wide singletons: anything that
// needs the session directory, ID, or file layout takes a *Session, which
// keeps multi-session-in-one-process testing tractable.
package session

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// File names within a session directory. The first four are strictly
// append-only for the lifetime of the session (and beyond — they are the
// audit trail).
const (
	CommandsLogName     = "commands.log"
	ChecksLogName       = "checks.log"
	TutorSpeechName     = "tutor-speech.jsonl"
	TelemetryName       = "telemetry.jsonl"
	StateFileName       = "state.json"
	ContainerIDName     = "container.id"
	SocketName          = "vta.sock"
	RecordingName       = "shell.rec"
	MonitorPIDName      = "monitor.pid"
	ProgressPIDName     = "progress-updater.pid"
	TutorWatcherPIDName = "tutor-watcher.pid"
)

// Session identifies one end-to-end lab run, from orchestrator boot to
// teardown. The ID is a ULID: monotonically sortable, chosen once at
// session start.
type Session struct {
	ID        string
	ModuleID  string
	LabType   models.LabType
	StudentID string
	Dir       string
	StartedAt time.Time
}

// New creates a session with a fresh ULID and its directory under root,
// pre-creating the append-only files so tailers and producers can start
// in either order.
func New(root, moduleID string, labType models.LabType, studentID string) (*Session, error) {
	now := time.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	dir := filepath.Join(root, fmt.Sprintf("%s-%s", moduleID, id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s := &Session{
		ID:        id,
		ModuleID:  moduleID,
		LabType:   labType,
		StudentID: studentID,
		Dir:       dir,
		StartedAt: now,
	}

	for _, name := range []string{CommandsLogName, ChecksLogName, TutorSpeechName} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("pre-create %s: %w", name, err)
		}
		_ = f.Close()
	}

	return s, nil
}

// Attach reuses an existing directory as a session directory. Any stale
// append-only content in it is replayed by the tailers — reusing a
// directory deliberately carries prior evidence over.
func Attach(dir, id, moduleID string, labType models.LabType, studentID string) *Session {
	return &Session{
		ID:        id,
		ModuleID:  moduleID,
		LabType:   labType,
		StudentID: studentID,
		Dir:       dir,
		StartedAt: time.Now().UTC(),
	}
}

// CommandsLog returns the path of the typed-command evidence file.
func (s *Session) CommandsLog() string { return filepath.Join(s.Dir, CommandsLogName) }

// ChecksLog returns the path of the check-result evidence file.
func (s *Session) ChecksLog() string { return filepath.Join(s.Dir, ChecksLogName) }

// TutorSpeechLog returns the path of the tutor utterance file.
func (s *Session) TutorSpeechLog() string { return filepath.Join(s.Dir, TutorSpeechName) }

// TelemetryLog returns the path of the unified telemetry stream.
func (s *Session) TelemetryLog() string { return filepath.Join(s.Dir, TelemetryName) }

// StateFile returns the path of the materialized state snapshot.
func (s *Session) StateFile() string { return filepath.Join(s.Dir, StateFileName) }

// ContainerIDFile returns the path of the container handle file.
func (s *Session) ContainerIDFile() string { return filepath.Join(s.Dir, ContainerIDName) }

// SocketPath returns the session-unique IPC socket path.
func (s *Session) SocketPath() string { return filepath.Join(s.Dir, SocketName) }

// RecordingFile returns the host-visible terminal recording path.
func (s *Session) RecordingFile() string { return filepath.Join(s.Dir, RecordingName) }

// PIDFile returns the path of a subprocess PID file.
func (s *Session) PIDFile(name string) string { return filepath.Join(s.Dir, name) }
