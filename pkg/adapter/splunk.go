package adapter

import "github.com/codeready-toolchain/labrun/pkg/models"

// SplunkAdapter normalizes evidence for splunk labs. Unified events only —
// no legacy dual-write, regardless of activity.
type SplunkAdapter struct {
	base
}

// LabType implements Adapter.
func (a *SplunkAdapter) LabType() models.LabType { return models.LabTypeSplunk }

// OnCommand implements Adapter.
func (a *SplunkAdapter) OnCommand(rec *models.CommandRecord) Output {
	return Output{
		Payloads: []models.EventPayload{
			studentAction(ActionSplunkSearch, rec.Command, rec.Succeeded()),
		},
		Signal: a.matchCommand(rec),
	}
}

// OnCheck implements Adapter.
func (a *SplunkAdapter) OnCheck(rec *models.CheckRecord) Output { return a.onCheck(rec) }

// OnUtterance implements Adapter.
func (a *SplunkAdapter) OnUtterance(u *models.TutorUtterance) Output { return a.onUtterance(u) }
