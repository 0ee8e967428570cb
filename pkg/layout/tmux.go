// Package layout builds the student-facing tmux surface: a detached tmux
// session with up to three regions (tutor, progress UI, shell) whose shell
// region attaches to the lab container through a terminal-recording shim.
// tmux is driven through its CLI; it has no wire protocol to speak of.
package layout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Config describes the regions to build.
type Config struct {
	// SessionName is the tmux session name, unique per lab session.
	SessionName string

	// ShellCommand attaches the student to the lab container, e.g.
	// "docker attach <id>".
	ShellCommand string

	// RecordingPath is the host-visible terminal recording written by the
	// shim around ShellCommand.
	RecordingPath string

	// TutorCommand is the tutor pane command; empty disables the tutor
	// region and the layout degrades to two panes.
	TutorCommand string

	// UICommand runs the progress UI pane.
	UICommand string

	TutorWidthPct int
	UIWidthPct    int
}

// Layout is a handle to a built tmux session.
type Layout struct {
	name string
}

// recordingShim wraps the shell command in script(1) so every byte of the
// student's terminal lands in a host file, whatever happens inside the
// container.
func recordingShim(shellCmd, recPath string) string {
	return fmt.Sprintf("script -q -f %s -c %s", shellQuote(recPath), shellQuote(shellCmd))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Build creates the detached tmux session and its panes. Pane order is
// left to right: tutor (optional), UI, shell; the shell pane gets focus.
func Build(ctx context.Context, cfg Config) (*Layout, error) {
	shell := recordingShim(cfg.ShellCommand, cfg.RecordingPath)

	first := shell
	if cfg.TutorCommand != "" {
		first = cfg.TutorCommand
	}
	if err := tmux(ctx, "new-session", "-d", "-s", cfg.SessionName, first); err != nil {
		return nil, fmt.Errorf("create tmux session: %w", err)
	}

	l := &Layout{name: cfg.SessionName}

	// Splits are percentage-of-remaining, so the UI split happens before
	// the shell split to keep the configured proportions.
	if cfg.TutorCommand != "" {
		remaining := 100 - cfg.TutorWidthPct
		if err := tmux(ctx, "split-window", "-h", "-t", cfg.SessionName,
			"-p", fmt.Sprintf("%d", remaining), cfg.UICommand); err != nil {
			l.Kill()
			return nil, fmt.Errorf("create UI pane: %w", err)
		}
		shellPct := 100 - cfg.UIWidthPct*100/remaining
		if err := tmux(ctx, "split-window", "-h", "-t", cfg.SessionName,
			"-p", fmt.Sprintf("%d", shellPct), shell); err != nil {
			l.Kill()
			return nil, fmt.Errorf("create shell pane: %w", err)
		}
	} else if cfg.UICommand != "" {
		// Two-pane layout: the session opened with the shell; put the UI
		// on the left at its configured width, then hand focus back to
		// the shell.
		if err := tmux(ctx, "split-window", "-h", "-b", "-t", cfg.SessionName,
			"-p", fmt.Sprintf("%d", cfg.UIWidthPct), cfg.UICommand); err != nil {
			l.Kill()
			return nil, fmt.Errorf("create UI pane: %w", err)
		}
		if err := tmux(ctx, "select-pane", "-t", cfg.SessionName, "-R"); err != nil {
			slog.Warn("Failed to focus shell pane", "error", err)
		}
	}

	slog.Info("Lab layout built", "tmux_session", cfg.SessionName, "tutor", cfg.TutorCommand != "")
	return l, nil
}

// Attach attaches the current terminal to the tmux session and blocks
// until the student detaches or the session dies.
func (l *Layout) Attach(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "tmux", "attach-session", "-t", l.name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Kill tears the tmux session down. Idempotent: a missing session is not
// an error.
func (l *Layout) Kill() {
	cmd := exec.Command("tmux", "kill-session", "-t", l.name)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if !strings.Contains(msg, "no server running") && !strings.Contains(msg, "session not found") {
			slog.Warn("Failed to kill tmux session", "tmux_session", l.name, "output", msg)
		}
	}
}

func tmux(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return nil
}
