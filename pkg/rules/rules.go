// Package rules builds the per-module validation rule set: the completion
// conditions that turn raw evidence into step completions. Built once at
// session start from the loaded module definition; read-only thereafter.
package rules

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// Rule is one command-driven completion condition. An input matches a rule
// iff all specified predicates hold.
type Rule interface {
	StepID() string
	Matches(rec *models.CommandRecord) bool
}

// PatternRule matches a command against a regex, optionally constrained to
// a required user.
type PatternRule struct {
	stepID       string
	pattern      *regexp.Regexp
	requiredUser string
}

// StepID implements Rule.
func (r *PatternRule) StepID() string { return r.stepID }

// Matches implements Rule.
func (r *PatternRule) Matches(rec *models.CommandRecord) bool {
	if r.requiredUser != "" && rec.User != r.requiredUser {
		return false
	}
	return r.pattern.MatchString(rec.Command)
}

// Pattern returns the rule's regex source, for diagnostics.
func (r *PatternRule) Pattern() string { return r.pattern.String() }

// UserRule matches any command executed as the required user.
type UserRule struct {
	stepID       string
	requiredUser string
}

// StepID implements Rule.
func (r *UserRule) StepID() string { return r.stepID }

// Matches implements Rule.
func (r *UserRule) Matches(rec *models.CommandRecord) bool {
	return rec.User == r.requiredUser
}

// CheckDescriptor references one check script to poll for a step.
type CheckDescriptor struct {
	StepID   string
	Script   string // absolute path on the host
	Interval time.Duration
}

// RuleSet holds a module's completion conditions, split by evidence
// language: command-driven rules and polled check scripts.
type RuleSet struct {
	moduleID string
	rules    []Rule
	checks   []CheckDescriptor
}

// New compiles the rule set for a module. checksDir is the host directory
// containing the module's check scripts. An invalid regex is a fatal
// configuration error; the loader validates earlier, but compilation here
// guards direct construction in tests.
func New(module *models.Module, checksDir string) (*RuleSet, error) {
	rs := &RuleSet{moduleID: module.ID}

	for _, step := range module.Steps {
		v := step.Validation
		if v == nil {
			continue
		}
		switch v.Kind {
		case models.ValidationCommandPattern:
			re, err := regexp.Compile(v.Regex)
			if err != nil {
				return nil, fmt.Errorf("step %s: invalid regex %q: %w", step.ID, v.Regex, err)
			}
			rs.rules = append(rs.rules, &PatternRule{
				stepID:       step.ID,
				pattern:      re,
				requiredUser: v.RequiredUser,
			})

		case models.ValidationUserCheck:
			rs.rules = append(rs.rules, &UserRule{
				stepID:       step.ID,
				requiredUser: v.RequiredUser,
			})

		case models.ValidationCheckScript:
			rs.checks = append(rs.checks, CheckDescriptor{
				StepID:   step.ID,
				Script:   filepath.Join(checksDir, v.ScriptRef),
				Interval: v.Interval(),
			})
		}
	}

	return rs, nil
}

// ModuleID returns the owning module's ID.
func (s *RuleSet) ModuleID() string { return s.moduleID }

// Rules returns the command-driven rules in declaration order.
func (s *RuleSet) Rules() []Rule { return s.rules }

// Checks returns the check-script descriptors in declaration order.
func (s *RuleSet) Checks() []CheckDescriptor { return s.checks }

// Match returns the step ID of the first rule matching the record.
// First-match wins; ties are broken by declaration order.
func (s *RuleSet) Match(rec *models.CommandRecord) (string, bool) {
	for _, r := range s.rules {
		if r.Matches(rec) {
			return r.StepID(), true
		}
	}
	return "", false
}
