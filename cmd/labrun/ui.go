package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/labrun/pkg/ipc"
	"github.com/codeready-toolchain/labrun/pkg/models"
	"github.com/codeready-toolchain/labrun/pkg/session"
	"github.com/codeready-toolchain/labrun/pkg/state"
)

// newUICommand builds the built-in progress pane: a minimal IPC client
// that prints the step list from state.json and then live completion
// updates from the runtime socket. It is what the UI tmux pane runs when
// no external UI is configured.
func newUICommand() *cobra.Command {
	var sessionDir string

	cmd := &cobra.Command{
		Use:    "ui",
		Short:  "Built-in progress pane (IPC client)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionDir == "" {
				sessionDir = os.Getenv("LAB_SESSION_DIR")
			}
			if sessionDir == "" {
				return fmt.Errorf("--session-dir or LAB_SESSION_DIR required")
			}
			return runUI(sessionDir)
		},
	}
	cmd.Flags().StringVar(&sessionDir, "session-dir", "", "session directory")
	return cmd
}

func printChecklist(snap *models.StateSnapshot) {
	fmt.Printf("Lab progress — module %s\n\n", snap.ModuleID)
	for _, st := range snap.Steps {
		mark := "[ ]"
		if st.Completed {
			mark = "[x]"
		}
		fmt.Printf("  %s %s\n", mark, st.ID)
	}
	fmt.Println()
}

func runUI(sessionDir string) error {
	statePath := sessionDir + "/" + session.StateFileName
	if snap, err := state.Load(statePath); err == nil {
		printChecklist(snap)
	}

	// The runtime binds the socket shortly after writing state.json;
	// retry the dial rather than racing it.
	socketPath := sessionDir + "/" + session.SocketName
	var conn net.Conn
	dial := func() error {
		c, err := net.DialTimeout("unix", socketPath, time.Second)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(dial, bo); err != nil {
		return fmt.Errorf("connect to runtime socket: %w", err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var frame ipc.Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		switch frame.Type {
		case ipc.FrameReady:
			fmt.Println("connected to lab runtime")
		case ipc.FrameTaskCompleted:
			var p ipc.TaskCompletedPayload
			if err := json.Unmarshal(frame.Payload, &p); err == nil {
				fmt.Printf("  [x] %s  (%s)\n", p.StepID, p.Source)
			}
		case ipc.FrameUpdate:
			var p ipc.UpdatePayload
			if err := json.Unmarshal(frame.Payload, &p); err == nil {
				printChecklist(&p.State)
			}
		case ipc.FrameClose:
			fmt.Println("session ended")
			return nil
		}
	}
	return scanner.Err()
}
