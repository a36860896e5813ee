// Package world implements the destructive reset workflow: stop the server,
// archive and delete the world, zero the statistics, and restart. Every step
// is narrated to the admin endpoint as it happens.
package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/mcwarden/warden/internal/notify"
	"github.com/mcwarden/warden/internal/stats"
)

// ErrDangerousPath guards against a misconfigured world path pointing at a
// system directory.
var ErrDangerousPath = errors.New("world path resolves to a dangerous location")

// ErrResetInProgress is returned when a reset is already running.
var ErrResetInProgress = errors.New("world reset already in progress")

// ProcessControl is the slice of the process manager the workflow needs.
type ProcessControl interface {
	Stop() error
	Restart() error
}

// Narrator reports workflow progress; satisfied by notify.Router.
type Narrator interface {
	AdminLog(ctx context.Context, level, message string) error
}

// Manager runs the reset workflow. It must be driven from outside the loop
// goroutine: directory deletion and process waits block.
type Manager struct {
	worldPath string
	store     *stats.Store
	proc      ProcessControl
	narrator  Narrator
	onReset   func() // re-arms the death latch after a successful reset

	mu      sync.Mutex
	running bool
}

// NewManager wires the workflow. onReset may be nil.
func NewManager(worldPath string, store *stats.Store, proc ProcessControl, narrator Narrator, onReset func()) *Manager {
	return &Manager{
		worldPath: worldPath,
		store:     store,
		proc:      proc,
		narrator:  narrator,
		onReset:   onReset,
	}
}

func (m *Manager) narrate(ctx context.Context, level, msg string) {
	if err := m.narrator.AdminLog(ctx, level, msg); err != nil && !errors.Is(err, notify.ErrNoEndpoint) {
		log.Printf("[world] failed to narrate step: %v", err)
	}
}

// ExecuteReset performs the full sequence and reports overall success.
// Stop, delete, and stats-reset failures abort the workflow; a restart
// failure is reported but the destructive steps are not unwound.
func (m *Manager) ExecuteReset(ctx context.Context) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Printf("[world] %v", ErrResetInProgress)
		return false
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.narrate(ctx, notify.LevelInfo, "World reset starting...")

	if err := m.stopStep(ctx); err != nil {
		m.narrate(ctx, notify.LevelCritical, fmt.Sprintf("World reset aborted: %v", err))
		return false
	}
	if err := m.deleteStep(ctx); err != nil {
		m.narrate(ctx, notify.LevelCritical, fmt.Sprintf("World reset aborted: %v", err))
		return false
	}
	if err := m.resetStatsStep(ctx); err != nil {
		m.narrate(ctx, notify.LevelCritical, fmt.Sprintf("World reset aborted: %v", err))
		return false
	}

	if !m.restartStep(ctx) {
		m.narrate(ctx, notify.LevelError,
			"World reset finished, but the server failed to restart. World and stats are already cleared.")
		return false
	}

	if err := m.store.MarkChallengeStart(); err != nil {
		log.Printf("[world] failed to stamp new challenge start: %v", err)
	}
	if m.onReset != nil {
		m.onReset()
	}
	m.narrate(ctx, notify.LevelSuccess, "World reset complete. A new challenge cycle has begun.")
	return true
}

func (m *Manager) stopStep(ctx context.Context) error {
	m.narrate(ctx, notify.LevelInfo, "Stopping the server...")
	if err := m.proc.Stop(); err != nil {
		// Continuing would race file deletion against a live process.
		return fmt.Errorf("stopping server: %w", err)
	}
	m.narrate(ctx, notify.LevelSuccess, "Server stopped.")
	return nil
}

func (m *Manager) deleteStep(ctx context.Context) error {
	path, err := filepath.Abs(m.worldPath)
	if err != nil {
		return fmt.Errorf("resolving world path: %w", err)
	}
	if err := checkPath(path); err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.narrate(ctx, notify.LevelWarning,
			fmt.Sprintf("World folder `%s` does not exist, skipping deletion.", path))
		return nil
	}

	m.narrate(ctx, notify.LevelInfo, fmt.Sprintf("Archiving world folder `%s`...", path))
	if archive, err := backupWorld(path); err != nil {
		// The world is about to be destroyed anyway; a failed backup is
		// reported, not fatal.
		m.narrate(ctx, notify.LevelWarning, fmt.Sprintf("World backup failed: %v", err))
	} else {
		m.narrate(ctx, notify.LevelSuccess, fmt.Sprintf("World archived to `%s`.", archive))
	}

	m.narrate(ctx, notify.LevelInfo, fmt.Sprintf("Deleting world folder `%s`...", path))
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting world folder: %w", err)
	}
	m.narrate(ctx, notify.LevelSuccess, "World folder deleted.")
	return nil
}

func (m *Manager) resetStatsStep(ctx context.Context) error {
	m.narrate(ctx, notify.LevelInfo, "Resetting challenge statistics...")
	if err := m.store.Reset(); err != nil {
		// Stale stats after a wiped world would misreport the next run.
		return fmt.Errorf("resetting stats: %w", err)
	}
	m.narrate(ctx, notify.LevelSuccess, "Statistics reset.")
	return nil
}

func (m *Manager) restartStep(ctx context.Context) bool {
	m.narrate(ctx, notify.LevelInfo, "Restarting the server...")
	if err := m.proc.Restart(); err != nil {
		m.narrate(ctx, notify.LevelError, fmt.Sprintf("Server restart failed: %v", err))
		return false
	}
	m.narrate(ctx, notify.LevelSuccess, "Server restarted.")
	return true
}

// checkPath refuses paths that would make RemoveAll catastrophic.
func checkPath(path string) error {
	cleaned := filepath.Clean(path)
	denied := []string{"/", "/usr", "/home", "/var", "/etc", "/opt", "/root"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		denied = append(denied, filepath.Clean(home))
	}
	for _, d := range denied {
		if cleaned == d {
			return fmt.Errorf("%w: %s", ErrDangerousPath, cleaned)
		}
	}
	return nil
}
