// Package process manages the bridge subprocess lifecycle: spawn, graceful
// stop with escalation to SIGKILL, and exit observation.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Config holds what is needed to start the bridge process.
type Config struct {
	Command     string
	Args        []string
	WorkingDir  string
	Environment map[string]string
	Logger      *slog.Logger
}

// Manager owns one running process. The bridge communicates over a local
// WebSocket, so only stderr is captured (drained into the log); stdin and
// stdout are left attached to /dev/null.
type Manager struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
	logger *slog.Logger

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// Start spawns the process and begins draining stderr.
func Start(ctx context.Context, config Config) (*Manager, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}
	cmd.Env = os.Environ()
	for k, v := range config.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	m := &Manager{
		cmd:    cmd,
		stderr: stderr,
		logger: logger,
		done:   make(chan struct{}),
	}
	go m.drainStderr()
	go m.wait()
	return m, nil
}

func (m *Manager) drainStderr() {
	scanner := bufio.NewScanner(m.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m.logger.Debug("bridge stderr", "line", scanner.Text())
	}
}

func (m *Manager) wait() {
	m.waitOnce.Do(func() {
		m.waitErr = m.cmd.Wait()
		close(m.done)
	})
}

// Done is closed once the process has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// ExitErr returns the process exit error, valid after Done is closed.
func (m *Manager) ExitErr() error {
	select {
	case <-m.done:
		return m.waitErr
	default:
		return nil
	}
}

// Running reports whether the process is still alive.
func (m *Manager) Running() bool {
	if m.cmd == nil || m.cmd.Process == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stop terminates the process gracefully with SIGTERM, escalating to SIGKILL
// after the timeout. Always returns nil; a dead process is not an error.
func (m *Manager) Stop(timeout time.Duration) error {
	if m.cmd == nil || m.cmd.Process == nil {
		return nil
	}

	if err := m.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	select {
	case <-m.done:
	case <-time.After(timeout):
		_ = m.cmd.Process.Kill()
		<-m.done
	}
	return nil
}

// Kill terminates the process immediately.
func (m *Manager) Kill() error {
	if m.cmd == nil || m.cmd.Process == nil {
		return nil
	}
	err := m.cmd.Process.Kill()
	<-m.done
	return err
}
