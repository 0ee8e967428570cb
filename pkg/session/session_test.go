package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

func TestNewCreatesDirectoryAndEvidenceFiles(t *testing.T) {
	root := t.TempDir()

	sess, err := New(root, "intro-linux", models.LabTypeLinuxCLI, "student-1")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.True(t, strings.HasPrefix(filepath.Base(sess.Dir), "intro-linux-"))
	assert.False(t, sess.StartedAt.IsZero())

	// The three append-only evidence files exist and are empty, so tailers
	// and producers can start in either order.
	for _, path := range []string{sess.CommandsLog(), sess.ChecksLog(), sess.TutorSpeechLog()} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Zero(t, info.Size(), path)
	}

	// Derived paths all live inside the session directory.
	assert.Equal(t, filepath.Join(sess.Dir, TelemetryName), sess.TelemetryLog())
	assert.Equal(t, filepath.Join(sess.Dir, StateFileName), sess.StateFile())
	assert.Equal(t, filepath.Join(sess.Dir, SocketName), sess.SocketPath())
	assert.Equal(t, filepath.Join(sess.Dir, MonitorPIDName), sess.PIDFile(MonitorPIDName))
}

func TestNewIDsAreUnique(t *testing.T) {
	root := t.TempDir()

	a, err := New(root, "mod", models.LabTypeLinuxCLI, "s")
	require.NoError(t, err)
	b, err := New(root, "mod", models.LabTypeLinuxCLI, "s")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestAttachReusesDirectory(t *testing.T) {
	root := t.TempDir()
	orig, err := New(root, "mod", models.LabTypeSplunk, "s")
	require.NoError(t, err)

	sess := Attach(orig.Dir, orig.ID, orig.ModuleID, orig.LabType, orig.StudentID)
	assert.Equal(t, orig.Dir, sess.Dir)
	assert.Equal(t, orig.ID, sess.ID)
	assert.Equal(t, models.LabTypeSplunk, sess.LabType)
}
