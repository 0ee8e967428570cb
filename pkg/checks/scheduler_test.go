package checks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/container"
	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/rules"
)

// fakeExecutor scripts exec outcomes per script basename.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]*container.ExecResult
	errs    map[string]error
	calls   map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		results: make(map[string]*container.ExecResult),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeExecutor) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*container.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	script := filepath.Base(cmd[len(cmd)-1])
	f.calls[script]++
	if err := f.errs[script]; err != nil {
		return nil, err
	}
	if res := f.results[script]; res != nil {
		return res, nil
	}
	return &container.ExecResult{ExitCode: 0}, nil
}

func (f *fakeExecutor) callCount(script string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[script]
}

func readRecords(t *testing.T, path string) []models.CheckRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []models.CheckRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.CheckRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func newScheduler(t *testing.T, exec Executor, descs []rules.CheckDescriptor) (*Scheduler, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "checks.log")
	s, err := NewScheduler(Config{
		Executor:           exec,
		ContainerID:        "cafebabe",
		ContainerChecksDir: "/opt/lab/checks",
		ScriptTimeout:      time.Second,
		Descriptors:        descs,
		TaskIndex:          map[string]int{"s1": 1, "s2": 2},
		LogPath:            logPath,
	})
	require.NoError(t, err)
	return s, logPath
}

func waitForRecords(t *testing.T, path string, n int) []models.CheckRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recs := readRecords(t, path)
		if len(recs) >= n {
			return recs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never reached %d check records", n)
	return nil
}

func TestStatusMapping(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["pass.sh"] = &container.ExecResult{ExitCode: 0, Stdout: []byte("report found\n")}
	exec.results["fail.sh"] = &container.ExecResult{ExitCode: 1, Stdout: []byte("missing\n")}
	exec.errs["broken.sh"] = errors.New("exec: container not running")

	s, logPath := newScheduler(t, exec, []rules.CheckDescriptor{
		{StepID: "s1", Script: "/mod/checks/pass.sh", Interval: time.Hour},
		{StepID: "s2", Script: "/mod/checks/fail.sh", Interval: time.Hour},
		{StepID: "s3", Script: "/mod/checks/broken.sh", Interval: time.Hour},
	})
	s.Start(context.Background())
	defer s.Stop()

	recs := waitForRecords(t, logPath, 3)

	byStep := map[string]models.CheckRecord{}
	for _, rec := range recs {
		byStep[rec.StepID] = rec
	}

	assert.Equal(t, models.CheckPassed, byStep["s1"].Status)
	assert.Equal(t, "report found\n", byStep["s1"].Message)
	require.NotNil(t, byStep["s1"].TaskIndex)
	assert.Equal(t, 1, *byStep["s1"].TaskIndex)

	assert.Equal(t, models.CheckFailed, byStep["s2"].Status)

	assert.Equal(t, models.CheckError, byStep["s3"].Status)
	assert.Contains(t, byStep["s3"].Message, "container not running")
	assert.Nil(t, byStep["s3"].TaskIndex)
}

func TestWorkerPollsOnInterval(t *testing.T) {
	exec := newFakeExecutor()
	s, logPath := newScheduler(t, exec, []rules.CheckDescriptor{
		{StepID: "s1", Script: "/mod/checks/probe.sh", Interval: 20 * time.Millisecond},
	})
	s.Start(context.Background())
	defer s.Stop()

	waitForRecords(t, logPath, 3)
	assert.GreaterOrEqual(t, exec.callCount("probe.sh"), 3)
}

func TestScriptPathMappedIntoContainer(t *testing.T) {
	exec := newFakeExecutor()
	captured := make(chan []string, 1)
	capturing := execFunc(func(ctx context.Context, id string, cmd []string, timeout time.Duration) (*container.ExecResult, error) {
		select {
		case captured <- cmd:
		default:
		}
		return exec.Exec(ctx, id, cmd, timeout)
	})

	s, _ := newScheduler(t, capturing, []rules.CheckDescriptor{
		{StepID: "s1", Script: "/host/modules/mod-1/checks/report.sh", Interval: time.Hour},
	})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case cmd := <-captured:
		// Host path is re-rooted under the container mount.
		assert.Equal(t, []string{"sh", "/opt/lab/checks/report.sh"}, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("exec never invoked")
	}
}

func TestMessageTruncatedToLimit(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["noisy.sh"] = &container.ExecResult{
		ExitCode: 0,
		Stdout:   []byte(strings.Repeat("x", 5000)),
	}

	s, logPath := newScheduler(t, exec, []rules.CheckDescriptor{
		{StepID: "s1", Script: "noisy.sh", Interval: time.Hour},
	})
	s.Start(context.Background())
	defer s.Stop()

	recs := waitForRecords(t, logPath, 1)
	assert.Len(t, recs[0].Message, messageLimit)
}

func TestStopHaltsWorkers(t *testing.T) {
	exec := newFakeExecutor()
	s, logPath := newScheduler(t, exec, []rules.CheckDescriptor{
		{StepID: "s1", Script: "probe.sh", Interval: 10 * time.Millisecond},
	})
	s.Start(context.Background())

	waitForRecords(t, logPath, 1)
	s.Stop()
	s.Stop() // idempotent

	count := len(readRecords(t, logPath))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(readRecords(t, logPath)), "no records after Stop")
}

// execFunc adapts a function to the Executor interface.
type execFunc func(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*container.ExecResult, error)

func (f execFunc) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*container.ExecResult, error) {
	return f(ctx, containerID, cmd, timeout)
}
