package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// ModuleFileName is the module definition file expected in a module
// working directory.
const ModuleFileName = "module.yaml"

// RuntimeFileName is the optional runtime overrides file.
const RuntimeFileName = "runtime.yaml"

// ChecksDirName holds the module's check scripts, referenced by
// check-script validations.
const ChecksDirName = "checks"

// Config is the fully loaded, validated configuration for one session:
// the immutable module definition plus runtime tunables.
type Config struct {
	Module    *models.Module
	Runtime   *RuntimeConfig
	ModuleDir string
}

// ChecksDir returns the absolute path of the module's check-scripts
// directory.
func (c *Config) ChecksDir() string {
	return filepath.Join(c.ModuleDir, ChecksDirName)
}

// Initialize loads, validates, and returns ready-to-use configuration for
// the module in moduleDir. This is the primary entry point.
//
// Steps performed:
//  1. Load module.yaml, expand environment variables
//  2. Apply the LAB_TYPE env override
//  3. Load runtime.yaml if present, merge over built-in defaults
//  4. Validate everything (step IDs, regexes, script references)
func Initialize(moduleDir string) (*Config, error) {
	log := slog.With("module_dir", moduleDir)
	log.Info("Initializing configuration")

	cfg, err := load(moduleDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"module_id", cfg.Module.ID,
		"lab_type", cfg.Module.LabType,
		"steps", len(cfg.Module.Steps))

	return cfg, nil
}

func load(moduleDir string) (*Config, error) {
	module, err := loadModuleYAML(moduleDir)
	if err != nil {
		return nil, NewLoadError(ModuleFileName, err)
	}

	// LAB_TYPE overrides the module-declared lab type. Validation happens
	// later so a bad override fails the same way a bad module does.
	if lt := os.Getenv("LAB_TYPE"); lt != "" {
		slog.Info("LAB_TYPE override in effect", "lab_type", lt)
		module.LabType = models.LabType(lt)
	}

	runtime, err := loadRuntimeYAML(moduleDir)
	if err != nil {
		return nil, NewLoadError(RuntimeFileName, err)
	}

	return &Config{
		Module:    module,
		Runtime:   runtime,
		ModuleDir: moduleDir,
	}, nil
}

func loadModuleYAML(moduleDir string) (*models.Module, error) {
	path := filepath.Join(moduleDir, ModuleFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var module models.Module
	if err := yaml.Unmarshal(data, &module); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return &module, nil
}

// loadRuntimeYAML reads runtime.yaml when present and merges user values
// over the built-in defaults (user wins).
func loadRuntimeYAML(moduleDir string) (*RuntimeConfig, error) {
	runtime := DefaultRuntimeConfig()

	path := filepath.Join(moduleDir, RuntimeFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			expandSessionRoot(runtime)
			return runtime, nil
		}
		return nil, err
	}

	var user RuntimeConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}

	if err := mergo.Merge(runtime, &user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
	}

	expandSessionRoot(runtime)
	return runtime, nil
}

// expandSessionRoot resolves a leading ~ in the session root.
func expandSessionRoot(rc *RuntimeConfig) {
	if strings.HasPrefix(rc.SessionRoot, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			rc.SessionRoot = filepath.Join(home, strings.TrimPrefix(rc.SessionRoot, "~"))
		}
	}
}
