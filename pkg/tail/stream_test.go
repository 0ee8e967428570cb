package tail

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

func TestStreamDecodesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.log")
	appendLine(t, path, `{"stepId":"s1","status":"passed","timestamp":"2026-01-02T15:04:05Z"}`)

	tailer, err := New(path, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	stream := NewStream[models.CheckRecord](tailer)
	stream.Start(context.Background())
	defer stream.Stop()

	select {
	case rec := <-stream.Records():
		assert.Equal(t, "s1", rec.StepID)
		assert.Equal(t, models.CheckPassed, rec.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no record delivered")
	}
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checks.log")
	appendLine(t, path, `this is not json`)
	appendLine(t, path, `{"stepId":"s2","status":"failed","timestamp":"2026-01-02T15:04:05Z"}`)

	tailer, err := New(path, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	stream := NewStream[models.CheckRecord](tailer)
	stream.Start(context.Background())
	defer stream.Stop()

	// The malformed line is dropped; the next valid one still arrives.
	select {
	case rec := <-stream.Records():
		assert.Equal(t, "s2", rec.StepID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid record after malformed line not delivered")
	}
}
