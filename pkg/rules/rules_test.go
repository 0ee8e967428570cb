package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

func testModule() *models.Module {
	return &models.Module{
		ID:      "mod-1",
		LabType: models.LabTypeLinuxCLI,
		Steps: []models.Step{
			{ID: "intro", Kind: models.StepKindIntroduction},
			{ID: "list-files", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:  models.ValidationCommandPattern,
				Regex: `^ls(\s|$)`,
			}},
			{ID: "become-admin", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:         models.ValidationUserCheck,
				RequiredUser: "admin",
			}},
			{ID: "create-report", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:           models.ValidationCheckScript,
				ScriptRef:      "report.sh",
				PollIntervalMs: 100,
			}},
		},
	}
}

func TestNewSplitsRulesAndChecks(t *testing.T) {
	rs, err := New(testModule(), "/modules/mod-1/checks")
	require.NoError(t, err)

	assert.Len(t, rs.Rules(), 2)
	require.Len(t, rs.Checks(), 1)

	check := rs.Checks()[0]
	assert.Equal(t, "create-report", check.StepID)
	assert.Equal(t, "/modules/mod-1/checks/report.sh", check.Script)
	// 100ms is below the floor and gets clamped.
	assert.Equal(t, models.MinPollInterval, check.Interval)
}

func TestNewInvalidRegex(t *testing.T) {
	m := testModule()
	m.Steps[1].Validation.Regex = `([unclosed`
	_, err := New(m, "/checks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regex")
}

func TestMatchPatternRule(t *testing.T) {
	rs, err := New(testModule(), "/checks")
	require.NoError(t, err)

	tests := []struct {
		name     string
		rec      models.CommandRecord
		wantStep string
		wantOK   bool
	}{
		{"pattern matches", models.CommandRecord{User: "student", Command: "ls -la /tmp"}, "list-files", true},
		{"pattern at start only", models.CommandRecord{User: "student", Command: "echo ls"}, "", false},
		{"user rule matches", models.CommandRecord{User: "admin", Command: "whoami"}, "become-admin", true},
		{"no rule matches", models.CommandRecord{User: "student", Command: "pwd"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, ok := rs.Match(&tt.rec)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStep, step)
		})
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	m := &models.Module{
		ID:      "mod-overlap",
		LabType: models.LabTypeLinuxCLI,
		Steps: []models.Step{
			{ID: "first", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:  models.ValidationCommandPattern,
				Regex: `cat`,
			}},
			{ID: "second", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:  models.ValidationCommandPattern,
				Regex: `cat /etc/passwd`,
			}},
		},
	}
	rs, err := New(m, "/checks")
	require.NoError(t, err)

	step, ok := rs.Match(&models.CommandRecord{Command: "cat /etc/passwd"})
	require.True(t, ok)
	assert.Equal(t, "first", step)
}

func TestPatternRuleRequiredUser(t *testing.T) {
	m := &models.Module{
		ID:      "mod-user",
		LabType: models.LabTypeLinuxCLI,
		Steps: []models.Step{
			{ID: "root-only", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:         models.ValidationCommandPattern,
				Regex:        `systemctl restart`,
				RequiredUser: "root",
			}},
		},
	}
	rs, err := New(m, "/checks")
	require.NoError(t, err)

	_, ok := rs.Match(&models.CommandRecord{User: "student", Command: "systemctl restart nginx"})
	assert.False(t, ok, "wrong user must not match")

	step, ok := rs.Match(&models.CommandRecord{User: "root", Command: "systemctl restart nginx"})
	require.True(t, ok)
	assert.Equal(t, "root-only", step)
}

func TestCheckDescriptorDefaultInterval(t *testing.T) {
	m := &models.Module{
		ID:      "mod-default",
		LabType: models.LabTypeLinuxCLI,
		Steps: []models.Step{
			{ID: "probe", Kind: models.StepKindTask, Validation: &models.StepValidation{
				Kind:      models.ValidationCheckScript,
				ScriptRef: "probe.sh",
			}},
		},
	}
	rs, err := New(m, "/checks")
	require.NoError(t, err)
	require.Len(t, rs.Checks(), 1)
	assert.Equal(t, 2*time.Second, rs.Checks()[0].Interval)
}
