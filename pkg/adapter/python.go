package adapter

import "github.com/codeready-toolchain/labrun/pkg/models"

// PythonAdapter normalizes evidence for python labs. Unified events only —
// no legacy dual-write.
type PythonAdapter struct {
	base
}

// LabType implements Adapter.
func (a *PythonAdapter) LabType() models.LabType { return models.LabTypePython }

// OnCommand implements Adapter.
func (a *PythonAdapter) OnCommand(rec *models.CommandRecord) Output {
	return Output{
		Payloads: []models.EventPayload{
			studentAction(ActionPythonInput, rec.Command, rec.Succeeded()),
		},
		Signal: a.matchCommand(rec),
	}
}

// OnCheck implements Adapter.
func (a *PythonAdapter) OnCheck(rec *models.CheckRecord) Output { return a.onCheck(rec) }

// OnUtterance implements Adapter.
func (a *PythonAdapter) OnUtterance(u *models.TutorUtterance) Output { return a.onUtterance(u) }
