// Package process manages the Minecraft server subprocess lifecycle.
package process

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Stop escalation bounds, matching the server's usual shutdown behavior:
// a healthy server saves and exits well inside 30 seconds.
const (
	gracefulWait = 30 * time.Second
	termWait     = 10 * time.Second
	killWait     = 2 * time.Second
	startupProbe = 2 * time.Second
)

// ErrAlreadyRunning is returned by Start when a live process exists.
var ErrAlreadyRunning = errors.New("server process already running")

// StopCommander sends the in-protocol stop command. Satisfied by the rcon
// client; abstracted so stop escalation is testable without a server.
type StopCommander interface {
	Connect() error
	Command(cmd string) (string, error)
	Disconnect()
}

// Streams carries the console pipes of a freshly started process.
type Streams struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Manager starts and stops the server script and tracks its liveness.
type Manager struct {
	script string
	rcon   StopCommander

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

// NewManager creates a manager for the given launch script. The script runs
// from its own directory, the way server start scripts expect.
func NewManager(script string, rcon StopCommander) *Manager {
	return &Manager{script: script, rcon: rcon}
}

// IsRunning reports whether a live server process exists.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

func (m *Manager) runningLocked() bool {
	if m.cmd == nil {
		return false
	}
	select {
	case <-m.exited:
		return false
	default:
		return true
	}
}

// PID returns the process id, or 0 when nothing is running.
func (m *Manager) PID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.runningLocked() {
		return 0
	}
	return m.cmd.Process.Pid
}

// Start launches the server and returns its console streams. It waits
// briefly to catch scripts that exit immediately (bad JVM flags, missing
// EULA) and reports those as a start failure rather than a silent death.
func (m *Manager) Start() (*Streams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningLocked() {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, m.cmd.Process.Pid)
	}

	script, err := filepath.Abs(m.script)
	if err != nil {
		return nil, fmt.Errorf("resolving server script: %w", err)
	}

	cmd := exec.Command(script)
	cmd.Dir = filepath.Dir(script)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting server script %s: %w", script, err)
	}
	log.Printf("[process] server started, pid %d", cmd.Process.Pid)

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			log.Printf("[process] server process (pid %d) exited: %v", cmd.Process.Pid, err)
		} else {
			log.Printf("[process] server process (pid %d) exited cleanly", cmd.Process.Pid)
		}
	}()

	m.cmd = cmd
	m.exited = exited

	// Catch immediate startup failures without holding the caller long.
	select {
	case <-exited:
		m.cmd = nil
		return nil, fmt.Errorf("server process exited during startup (script %s)", script)
	case <-time.After(startupProbe):
	}

	return &Streams{Stdout: stdout, Stderr: stderr}, nil
}

// Stop shuts the server down: in-protocol stop command first, then SIGTERM,
// then SIGKILL, each with a bounded wait. Returns nil once the process is
// confirmed gone.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cmd, exited := m.cmd, m.exited
	m.mu.Unlock()

	if cmd == nil {
		log.Printf("[process] stop requested but no server is running")
		return nil
	}
	select {
	case <-exited:
		m.clear(cmd)
		return nil
	default:
	}

	pid := cmd.Process.Pid
	log.Printf("[process] stopping server (pid %d)", pid)

	if m.stopViaRcon(pid, exited) {
		m.clear(cmd)
		return nil
	}

	log.Printf("[process] (pid %d) sending SIGTERM", pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("[process] (pid %d) SIGTERM failed: %v", pid, err)
	}
	if waitFor(exited, termWait) {
		log.Printf("[process] (pid %d) exited after SIGTERM", pid)
		m.clear(cmd)
		return nil
	}

	log.Printf("[process] (pid %d) did not exit after SIGTERM, sending SIGKILL", pid)
	if err := cmd.Process.Kill(); err != nil {
		log.Printf("[process] (pid %d) SIGKILL failed: %v", pid, err)
	}
	if waitFor(exited, killWait) {
		m.clear(cmd)
		return nil
	}

	return fmt.Errorf("server process (pid %d) survived SIGKILL", pid)
}

// stopViaRcon attempts the graceful in-protocol shutdown and reports whether
// the process exited.
func (m *Manager) stopViaRcon(pid int, exited chan struct{}) bool {
	if m.rcon == nil {
		return false
	}
	defer m.rcon.Disconnect()

	if err := m.rcon.Connect(); err != nil {
		log.Printf("[process] (pid %d) rcon unavailable for graceful stop: %v", pid, err)
		return false
	}
	if _, err := m.rcon.Command("stop"); err != nil {
		log.Printf("[process] (pid %d) rcon stop command failed: %v", pid, err)
		return false
	}
	log.Printf("[process] (pid %d) rcon stop sent, waiting up to %v", pid, gracefulWait)
	if waitFor(exited, gracefulWait) {
		log.Printf("[process] (pid %d) exited gracefully", pid)
		return true
	}
	log.Printf("[process] (pid %d) still alive after rcon stop", pid)
	return false
}

func (m *Manager) clear(cmd *exec.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == cmd {
		m.cmd = nil
	}
}

func waitFor(exited chan struct{}, d time.Duration) bool {
	select {
	case <-exited:
		return true
	case <-time.After(d):
		return false
	}
}
