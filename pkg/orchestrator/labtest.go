package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// replayScript executes the lab-test input file: one shell command per
// line, run inside the container in order and appended to commands.log as
// if the logging shim had captured them. Blank lines and #-comments are
// skipped. A command that fails to spawn is recorded without an exit code
// and the replay continues.
func (o *Orchestrator) replayScript(ctx context.Context) error {
	data, err := os.ReadFile(o.opts.ScriptPath)
	if err != nil {
		return fmt.Errorf("read test script: %w", err)
	}

	logFile, err := os.OpenFile(o.sess.CommandsLog(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open commands log: %w", err)
	}
	defer logFile.Close()

	rc := o.cfg.Runtime
	log := slog.With("session_id", o.sess.ID, "script", o.opts.ScriptPath)

	for _, line := range strings.Split(string(data), "\n") {
		cmd := strings.TrimSpace(line)
		if cmd == "" || strings.HasPrefix(cmd, "#") {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rec := models.CommandRecord{
			Timestamp: time.Now().UTC(),
			User:      "student",
			Cwd:       rc.ContainerWorkdir,
			Command:   cmd,
		}

		res, err := o.runtime.Exec(ctx, o.containerID, []string{"sh", "-c", cmd}, rc.ExecTimeout)
		if err != nil {
			log.Warn("Scripted command failed to run", "command", cmd, "error", err)
		} else {
			code := res.ExitCode
			rec.ExitCode = &code
		}

		encoded, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal command record: %w", err)
		}
		if _, err := logFile.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("append command record: %w", err)
		}
		if err := logFile.Sync(); err != nil {
			return fmt.Errorf("sync commands log: %w", err)
		}
	}

	log.Info("Test script replayed")
	return nil
}
