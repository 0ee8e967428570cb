// labrun — interactive lab runtime. The default command starts a full
// session (container, telemetry, tmux surface); "test" runs the same
// pipeline headless against a scripted input file; "validate" checks a
// module definition without starting anything.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/labrun/pkg/config"
	"github.com/codeready-toolchain/labrun/pkg/orchestrator"
	"github.com/codeready-toolchain/labrun/pkg/rules"
	"github.com/codeready-toolchain/labrun/pkg/version"
)

// Exit codes: 0 orderly exit, 1 configuration error, 2 environment error
// (docker, healthcheck), 3 internal error.
const (
	exitOK          = 0
	exitConfig      = 1
	exitEnvironment = 2
	exitInternal    = 3
)

// resolveModuleDir picks the module directory: a positional argument
// wins over the --module-dir flag (and its MODULE_DIR default).
func resolveModuleDir(flagValue string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flagValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadDotEnv(moduleDir string) {
	envPath := filepath.Join(moduleDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}
}

func main() {
	setupLogging()

	var moduleDir string
	var studentID string

	root := &cobra.Command{
		Use:           "lab [module-dir]",
		Short:         "Run an interactive lab session",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), resolveModuleDir(moduleDir, args), orchestrator.Options{
				StudentID:   studentID,
				Interactive: true,
			})
		},
	}
	root.PersistentFlags().StringVar(&moduleDir, "module-dir",
		getEnv("MODULE_DIR", "."), "directory containing module.yaml")
	root.PersistentFlags().StringVar(&studentID, "student",
		getEnv("STUDENT_ID", ""), "student identifier for progress tracking")

	var scriptPath string
	var testTimeout time.Duration
	testCmd := &cobra.Command{
		Use:   "test [module-dir]",
		Short: "Run a headless session against a scripted input file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), resolveModuleDir(moduleDir, args), orchestrator.Options{
				StudentID:   studentID,
				Interactive: false,
				ScriptPath:  scriptPath,
				TestTimeout: testTimeout,
			})
		},
	}
	testCmd.Flags().StringVar(&scriptPath, "script", "", "file with one shell command per line")
	testCmd.Flags().DurationVar(&testTimeout, "timeout", 10*time.Minute, "abort the run after this long")

	validateCmd := &cobra.Command{
		Use:   "validate [module-dir]",
		Short: "Validate a module definition without starting a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(resolveModuleDir(moduleDir, args))
		},
	}

	root.AddCommand(testCmd, validateCmd, newUICommand())

	if err := root.Execute(); err != nil {
		slog.Error("Exiting with error", "error", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func runSession(ctx context.Context, moduleDir string, opts orchestrator.Options) error {
	loadDotEnv(moduleDir)
	slog.Info("Starting lab runtime", "version", version.Full(), "module_dir", moduleDir)

	cfg, err := config.Initialize(moduleDir)
	if err != nil {
		return err
	}

	return orchestrator.New(cfg, opts).Run(ctx)
}

// runValidate loads and validates the module definition, then compiles
// the rule set so regex and script-reference problems surface the same
// way they would at session start.
func runValidate(moduleDir string) error {
	loadDotEnv(moduleDir)

	cfg, err := config.Initialize(moduleDir)
	if err != nil {
		return err
	}

	ruleSet, err := rules.New(cfg.Module, cfg.ChecksDir())
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrValidationFailed, err)
	}

	fmt.Printf("module %s (%s): %d steps, %d command rules, %d checks\n",
		cfg.Module.ID, cfg.Module.LabType, len(cfg.Module.Steps),
		len(ruleSet.Rules()), len(ruleSet.Checks()))
	return nil
}

func exitCode(err error) int {
	var loadErr *config.LoadError
	var validationErr *config.ValidationError
	switch {
	case errors.As(err, &loadErr),
		errors.As(err, &validationErr),
		errors.Is(err, config.ErrValidationFailed):
		return exitConfig
	case errors.Is(err, orchestrator.ErrEnvironment):
		return exitEnvironment
	default:
		return exitInternal
	}
}
