package process

import (
	"context"
	"testing"
	"time"
)

func TestStart_EmptyCommand(t *testing.T) {
	if _, err := Start(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestManager_ExitObserved(t *testing.T) {
	m, err := Start(context.Background(), Config{Command: "true"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if m.Running() {
		t.Error("Running() should be false after exit")
	}
	if err := m.ExitErr(); err != nil {
		t.Errorf("unexpected exit error: %v", err)
	}
}

func TestManager_StopLongRunning(t *testing.T) {
	m, err := Start(context.Background(), Config{Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Running() {
		t.Fatal("process should be running")
	}

	start := time.Now()
	if err := m.Stop(2 * time.Second); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("stop took too long; SIGTERM was not honored")
	}
	if m.Running() {
		t.Error("process still running after Stop")
	}

	// Stop on a dead process is a no-op.
	if err := m.Stop(time.Second); err != nil {
		t.Errorf("second Stop returned error: %v", err)
	}
}

func TestManager_Kill(t *testing.T) {
	m, err := Start(context.Background(), Config{Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Kill(); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	if m.Running() {
		t.Error("process still running after Kill")
	}
}
