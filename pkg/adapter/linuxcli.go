package adapter

import "github.com/codeready-toolchain/labrun/pkg/models"

// LinuxCLIAdapter normalizes shell-command evidence for linux_cli labs.
// Besides the unified student_action it dual-writes a legacy
// command_executed event; consumers that predate the unified stream still
// key on it, and the legacy shape is preserved indefinitely.
type LinuxCLIAdapter struct {
	base
}

// LabType implements Adapter.
func (a *LinuxCLIAdapter) LabType() models.LabType { return models.LabTypeLinuxCLI }

// OnCommand implements Adapter.
func (a *LinuxCLIAdapter) OnCommand(rec *models.CommandRecord) Output {
	return Output{
		Payloads: []models.EventPayload{
			studentAction(ActionExecuteCommand, rec.Command, rec.Succeeded()),
			models.CommandExecutedPayload{
				Command:  rec.Command,
				User:     rec.User,
				Cwd:      rec.Cwd,
				ExitCode: rec.ExitCode,
			},
		},
		Signal: a.matchCommand(rec),
	}
}

// OnCheck implements Adapter.
func (a *LinuxCLIAdapter) OnCheck(rec *models.CheckRecord) Output { return a.onCheck(rec) }

// OnUtterance implements Adapter.
func (a *LinuxCLIAdapter) OnUtterance(u *models.TutorUtterance) Output { return a.onUtterance(u) }
