package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vta.sock")
	srv := NewServer(path, opts...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Close)
	return srv
}

func dialClient(t *testing.T, srv *Server) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewScanner(conn)
}

func readFrame(t *testing.T, scanner *bufio.Scanner) Frame {
	t.Helper()
	require.True(t, scanner.Scan(), "expected a frame, got EOF: %v", scanner.Err())
	var frame Frame
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &frame))
	return frame
}

func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveClients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, srv.ActiveClients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientReceivesReadyFrame(t *testing.T) {
	srv := startServer(t)
	_, scanner := dialClient(t, srv)

	frame := readFrame(t, scanner)
	assert.Equal(t, FrameReady, frame.Type)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	srv := startServer(t)

	_, s1 := dialClient(t, srv)
	_, s2 := dialClient(t, srv)
	assert.Equal(t, FrameReady, readFrame(t, s1).Type)
	assert.Equal(t, FrameReady, readFrame(t, s2).Type)
	waitForClients(t, srv, 2)

	frame, err := NewFrame(FrameTaskCompleted, TaskCompletedPayload{
		StepID: "s1",
		TaskID: "1",
		Source: models.SourceCommand,
	})
	require.NoError(t, err)
	srv.Broadcast(frame)

	for _, scanner := range []*bufio.Scanner{s1, s2} {
		got := readFrame(t, scanner)
		require.Equal(t, FrameTaskCompleted, got.Type)

		var payload TaskCompletedPayload
		require.NoError(t, json.Unmarshal(got.Payload, &payload))
		assert.Equal(t, "s1", payload.StepID)
		assert.Equal(t, models.SourceCommand, payload.Source)
	}
}

func TestCancelledFrameClosesConnection(t *testing.T) {
	srv := startServer(t)
	conn, scanner := dialClient(t, srv)
	assert.Equal(t, FrameReady, readFrame(t, scanner).Type)
	waitForClients(t, srv, 1)

	_, err := conn.Write([]byte(`{"type":"cancelled"}` + "\n"))
	require.NoError(t, err)

	waitForClients(t, srv, 0)
	assert.False(t, scanner.Scan(), "server must close the connection")
}

func TestClientHandlerReceivesSelected(t *testing.T) {
	frames := make(chan Frame, 1)
	srv := startServer(t, WithClientHandler(func(connID string, frame Frame) {
		frames <- frame
	}))

	conn, scanner := dialClient(t, srv)
	assert.Equal(t, FrameReady, readFrame(t, scanner).Type)

	_, err := conn.Write([]byte(`{"type":"selected","payload":{"data":"option-2"}}` + "\n"))
	require.NoError(t, err)

	select {
	case frame := <-frames:
		assert.Equal(t, FrameSelected, frame.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("client frame not delivered to handler")
	}
}

func TestCloseSendsCloseFrameAndUnlinksSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vta.sock")
	srv := NewServer(path)
	require.NoError(t, srv.Start(context.Background()))

	_, scanner := dialClient(t, srv)
	assert.Equal(t, FrameReady, readFrame(t, scanner).Type)
	waitForClients(t, srv, 1)

	srv.Close()
	srv.Close() // idempotent

	assert.Equal(t, FrameClose, readFrame(t, scanner).Type)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file must be unlinked on close")
}

func TestStartRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vta.sock")

	// Simulate a previous run that never cleaned up.
	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.Close()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		require.NoError(t, os.WriteFile(path, nil, 0644))
	}

	srv := NewServer(path)
	require.NoError(t, srv.Start(context.Background()))
	srv.Close()
}
