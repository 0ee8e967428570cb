package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// writePIDFile records pid at path.
func writePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// readPIDFile returns the PID recorded at path, or 0 when the file is
// absent or unparsable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// terminateProcess delivers SIGTERM and escalates to SIGKILL when the
// process is still alive after grace. A PID that is already gone is not
// an error.
func terminateProcess(pid int, grace time.Duration) error {
	alive, err := process.PidExists(int32(pid))
	if err != nil || !alive {
		return nil
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		alive, err := process.PidExists(int32(pid))
		if err != nil || !alive {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
