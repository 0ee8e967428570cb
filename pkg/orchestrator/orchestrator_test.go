package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/config"
	"github.com/codeready-toolchain/labrun/pkg/heartbeat"
	"github.com/codeready-toolchain/labrun/pkg/hub"
	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/rules"
	"github.com/codeready-toolchain/labrun/pkg/session"
)

func testModule() *models.Module {
	return &models.Module{
		ID:      "mod-1",
		LabType: models.LabTypeLinuxCLI,
		Steps: []models.Step{
			{ID: "never-done", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:  models.ValidationCommandPattern,
				Regex: `^this-command-is-never-typed$`,
			}},
		},
	}
}

// newScriptedOrchestrator wires just enough of a session (hub, monitor,
// session dir) to exercise the headless wait path without a container.
func newScriptedOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()

	module := testModule()
	sess, err := session.New(t.TempDir(), module.ID, module.LabType, "student-1")
	require.NoError(t, err)

	ruleSet, err := rules.New(module, "/checks")
	require.NoError(t, err)

	rc := config.DefaultRuntimeConfig()
	rc.TailPollInterval = 20 * time.Millisecond

	h, err := hub.New(sess, module, ruleSet, rc)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop("test cleanup") })

	o := New(&config.Config{Module: module, Runtime: rc}, opts)
	o.sess = sess
	o.eventHub = h
	o.monitor = heartbeat.NewMonitor(sess.SocketPath(), time.Hour, 3, nil)
	t.Cleanup(o.monitor.Stop)
	return o
}

func TestScriptedRunTimeoutIsAnError(t *testing.T) {
	o := newScriptedOrchestrator(t, Options{
		Interactive: false,
		TestTimeout: 150 * time.Millisecond,
	})

	reason, err := o.wait(context.Background())
	assert.Equal(t, "test timeout", reason)
	require.Error(t, err, "a timed-out test run must not report success")
	assert.Contains(t, err.Error(), "timed out")
}

func TestScriptedRunScriptFailureIsAnError(t *testing.T) {
	o := newScriptedOrchestrator(t, Options{
		Interactive: false,
		ScriptPath:  filepath.Join(t.TempDir(), "absent.script"),
		TestTimeout: 5 * time.Second,
	})

	reason, err := o.wait(context.Background())
	assert.Equal(t, "test script failure", reason)
	require.Error(t, err)
}
