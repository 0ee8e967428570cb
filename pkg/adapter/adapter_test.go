package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/rules"
)

func newRuleSet(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.New(&models.Module{
		ID:      "mod-1",
		LabType: models.LabTypeLinuxCLI,
		Steps: []models.Step{
			{ID: "list-files", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:  models.ValidationCommandPattern,
				Regex: `^ls(\s|$)`,
			}},
			{ID: "verify-report", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:      models.ValidationCheckScript,
				ScriptRef: "report.sh",
			}},
		},
	}, "/checks")
	require.NoError(t, err)
	return rs
}

func cmdRecord(command string, exitCode int) *models.CommandRecord {
	return &models.CommandRecord{
		Timestamp: time.Now().UTC(),
		User:      "student",
		Cwd:       "/home/student",
		Command:   command,
		ExitCode:  &exitCode,
	}
}

func TestNewUnknownLabType(t *testing.T) {
	_, err := New("fortran_punchcards", newRuleSet(t))
	assert.Error(t, err)
}

func TestLinuxCLIDualWritesLegacyEvent(t *testing.T) {
	a, err := New(models.LabTypeLinuxCLI, newRuleSet(t))
	require.NoError(t, err)

	out := a.OnCommand(cmdRecord("ls -la", 0))

	require.Len(t, out.Payloads, 2)
	action, ok := out.Payloads[0].(models.StudentActionPayload)
	require.True(t, ok)
	assert.Equal(t, ActionExecuteCommand, action.ActionKind)
	assert.Equal(t, models.ResultSuccess, action.Result)

	legacy, ok := out.Payloads[1].(models.CommandExecutedPayload)
	require.True(t, ok)
	assert.Equal(t, "ls -la", legacy.Command)
	assert.Equal(t, "student", legacy.User)

	require.NotNil(t, out.Signal)
	assert.Equal(t, "list-files", out.Signal.StepID)
	assert.Equal(t, models.SourceCommand, out.Signal.Source)
}

func TestPythonAndSplunkDoNotDualWrite(t *testing.T) {
	tests := []struct {
		labType models.LabType
		kind    string
	}{
		{models.LabTypePython, ActionPythonInput},
		{models.LabTypeSplunk, ActionSplunkSearch},
	}
	for _, tt := range tests {
		t.Run(string(tt.labType), func(t *testing.T) {
			a, err := New(tt.labType, newRuleSet(t))
			require.NoError(t, err)

			out := a.OnCommand(cmdRecord("index=main error", 0))

			require.Len(t, out.Payloads, 1, "only the unified student_action")
			action, ok := out.Payloads[0].(models.StudentActionPayload)
			require.True(t, ok)
			assert.Equal(t, tt.kind, action.ActionKind)
		})
	}
}

func TestFailedCommandStillMatchesButReportsFailure(t *testing.T) {
	a, err := New(models.LabTypeLinuxCLI, newRuleSet(t))
	require.NoError(t, err)

	out := a.OnCommand(cmdRecord("ls /nonexistent", 2))

	action := out.Payloads[0].(models.StudentActionPayload)
	assert.Equal(t, models.ResultFailure, action.Result)
	// Pattern rules match on the command text, not the exit code.
	require.NotNil(t, out.Signal)
	assert.Equal(t, "list-files", out.Signal.StepID)
}

func TestSignalAtMostOncePerStep(t *testing.T) {
	a, err := New(models.LabTypeLinuxCLI, newRuleSet(t))
	require.NoError(t, err)

	first := a.OnCommand(cmdRecord("ls", 0))
	require.NotNil(t, first.Signal)

	second := a.OnCommand(cmdRecord("ls -la", 0))
	assert.Nil(t, second.Signal, "second match on the same step must not signal")
	assert.Len(t, second.Payloads, 2, "events still flow for repeated commands")
}

func TestOnCheckOnlyPassedSignals(t *testing.T) {
	a, err := New(models.LabTypeLinuxCLI, newRuleSet(t))
	require.NoError(t, err)

	now := time.Now().UTC()

	out := a.OnCheck(&models.CheckRecord{StepID: "verify-report", Status: models.CheckFailed, Timestamp: now})
	assert.Nil(t, out.Signal)
	assert.Empty(t, out.Payloads)

	out = a.OnCheck(&models.CheckRecord{StepID: "verify-report", Status: models.CheckError, Timestamp: now})
	assert.Nil(t, out.Signal)

	out = a.OnCheck(&models.CheckRecord{StepID: "verify-report", Status: models.CheckPassed, Timestamp: now})
	require.NotNil(t, out.Signal)
	assert.Equal(t, models.SourceCheck, out.Signal.Source)

	// A repeat pass is already signaled.
	out = a.OnCheck(&models.CheckRecord{StepID: "verify-report", Status: models.CheckPassed, Timestamp: now})
	assert.Nil(t, out.Signal)
}

func TestUtteranceNeverSignals(t *testing.T) {
	a, err := New(models.LabTypeLinuxCLI, newRuleSet(t))
	require.NoError(t, err)

	out := a.OnUtterance(&models.TutorUtterance{
		Timestamp: time.Now().UTC(),
		Text:      "you have now completed every step, great job",
		TurnID:    "turn-9",
	})

	assert.Nil(t, out.Signal)
	require.Len(t, out.Payloads, 1)
	utterance, ok := out.Payloads[0].(models.TutorUtterancePayload)
	require.True(t, ok)
	assert.Equal(t, "turn-9", utterance.TurnID)
}
