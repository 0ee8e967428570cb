package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// validate checks the loaded configuration. Any error here is a fatal
// configuration error — surfaced at startup with exit code 1, never
// per-event.
func validate(cfg *Config) error {
	v := &validator{cfg: cfg}
	if err := v.validateModule(); err != nil {
		return err
	}
	if err := v.validateSteps(); err != nil {
		return err
	}
	return v.validateRuntime()
}

type validator struct {
	cfg *Config
}

func (v *validator) validateModule() error {
	m := v.cfg.Module
	if m.ID == "" {
		return NewValidationError("module", "(unnamed)", "id", ErrMissingRequiredField)
	}
	if !m.LabType.Valid() {
		return NewValidationError("module", m.ID, "lab_type",
			fmt.Errorf("%w: %q", ErrInvalidValue, m.LabType))
	}
	if len(m.Steps) == 0 {
		return NewValidationError("module", m.ID, "steps", ErrMissingRequiredField)
	}
	return nil
}

func (v *validator) validateSteps() error {
	seen := make(map[string]bool)
	for _, step := range v.cfg.Module.Steps {
		if step.ID == "" {
			return NewValidationError("step", "(unnamed)", "id", ErrMissingRequiredField)
		}
		if seen[step.ID] {
			return NewValidationError("step", step.ID, "id", ErrDuplicateStep)
		}
		seen[step.ID] = true

		if step.Validation == nil {
			continue
		}
		if err := v.validateStepValidation(step.ID, step.Validation); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) validateStepValidation(stepID string, sv *models.StepValidation) error {
	switch sv.Kind {
	case models.ValidationUserCheck:
		if sv.RequiredUser == "" {
			return NewValidationError("step", stepID, "required_user", ErrMissingRequiredField)
		}

	case models.ValidationCommandPattern:
		if sv.Regex == "" {
			return NewValidationError("step", stepID, "regex", ErrMissingRequiredField)
		}
		if _, err := regexp.Compile(sv.Regex); err != nil {
			return NewValidationError("step", stepID, "regex",
				fmt.Errorf("%w: %w", ErrInvalidPattern, err))
		}

	case models.ValidationCheckScript:
		if sv.ScriptRef == "" {
			return NewValidationError("step", stepID, "script", ErrMissingRequiredField)
		}
		script := filepath.Join(v.cfg.ChecksDir(), sv.ScriptRef)
		if info, err := os.Stat(script); err != nil || info.IsDir() {
			return NewValidationError("step", stepID, "script",
				fmt.Errorf("%w: %s", ErrScriptNotFound, script))
		}
		if sv.PollIntervalMs < 0 {
			return NewValidationError("step", stepID, "poll_interval_ms",
				fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
		}

	default:
		return NewValidationError("step", stepID, "validation.kind",
			fmt.Errorf("%w: %q", ErrInvalidValue, sv.Kind))
	}
	return nil
}

func (v *validator) validateRuntime() error {
	rc := v.cfg.Runtime
	if rc.HeartbeatMisses < 1 {
		return NewValidationError("runtime", "heartbeat", "heartbeat_misses",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if rc.Layout.TutorWidthPct+rc.Layout.UIWidthPct >= 100 {
		return NewValidationError("runtime", "layout", "widths",
			fmt.Errorf("%w: tutor and UI regions must leave room for the shell", ErrInvalidValue))
	}
	return nil
}
