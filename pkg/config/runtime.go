package config

import "time"

// RuntimeConfig groups the tunables of a lab session runtime. Values come
// from defaults, optionally overridden by a runtime.yaml next to the
// module definition (user values win, merged with mergo).
type RuntimeConfig struct {
	// SessionRoot is the directory under which per-session directories
	// are created. Defaults to ~/.labrun/sessions (expanded at load).
	SessionRoot string `yaml:"session_root"`

	// Container settings.
	DockerImage        string        `yaml:"docker_image"`
	ContainerWorkdir   string        `yaml:"container_workdir"`
	HealthcheckFiles   []string      `yaml:"healthcheck_files"`
	HealthcheckCmds    []string      `yaml:"healthcheck_cmds"`
	HealthcheckTimeout time.Duration `yaml:"healthcheck_timeout"`

	// Tutor pane. Disabled layouts fall back to (UI, shell).
	TutorEnabled *bool `yaml:"tutor_enabled,omitempty"`

	// TutorCommand launches the tutor program in its pane. The session
	// directory is exported as LAB_SESSION_DIR. Empty disables the pane
	// even when TutorEnabled is set.
	TutorCommand string `yaml:"tutor_command"`

	// UICommand launches the progress UI pane. Empty falls back to the
	// built-in IPC client.
	UICommand string `yaml:"ui_command"`

	// Layout sizes, in percent of the terminal width/height.
	Layout LayoutConfig `yaml:"layout"`

	// External call timeouts.
	ExecTimeout   time.Duration `yaml:"exec_timeout"`
	ScriptTimeout time.Duration `yaml:"script_timeout"`

	// ShutdownGrace is the hard deadline for cooperative cancellation;
	// after it, resources are force-released (SIGKILL, handle close).
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Heartbeat settings (socket-existence probe).
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatMisses   int           `yaml:"heartbeat_misses"`

	// TailPollInterval is the backup poll for tailers when filesystem
	// notifications are lost.
	TailPollInterval time.Duration `yaml:"tail_poll_interval"`
}

// LayoutConfig sizes the three terminal regions.
type LayoutConfig struct {
	TutorWidthPct int `yaml:"tutor_width_pct"`
	UIWidthPct    int `yaml:"ui_width_pct"`
}

// DefaultRuntimeConfig returns the built-in runtime configuration.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		SessionRoot:        "~/.labrun/sessions",
		DockerImage:        "labrun/lab-base:latest",
		ContainerWorkdir:   "/home/student",
		HealthcheckTimeout: 30 * time.Second,
		TutorEnabled:       BoolPtr(true),
		Layout: LayoutConfig{
			TutorWidthPct: 30,
			UIWidthPct:    30,
		},
		ExecTimeout:       5 * time.Second,
		ScriptTimeout:     10 * time.Second,
		ShutdownGrace:     5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatMisses:   3,
		TailPollInterval:  2 * time.Second,
	}
}

// TutorOn reports whether the tutor pane is enabled (default true).
func (c *RuntimeConfig) TutorOn() bool {
	return c.TutorEnabled == nil || *c.TutorEnabled
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }
