package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types for bus publication and dispatcher fan-out
const (
	EventDeath         = "death"
	EventServerReady   = "server_ready"
	EventServerStopped = "server_stopped"
	EventResetStarted  = "reset_started"
	EventResetFinished = "reset_finished"
)

// DeathEvent is one classified death line from the server console.
// LogTime is the HH:MM:SS stamp as printed in the log, not wall clock.
// Immutable once constructed.
type DeathEvent struct {
	ID      string `json:"id"`
	Player  string `json:"player"`
	RawLine string `json:"raw_line"`
	LogTime string `json:"log_time"`
}

// NewDeathEvent builds a DeathEvent with a fresh ID.
func NewDeathEvent(player, rawLine, logTime string) DeathEvent {
	return DeathEvent{
		ID:      uuid.NewString(),
		Player:  player,
		RawLine: rawLine,
		LogTime: logTime,
	}
}

// Event is the envelope published on the bus for external subscribers.
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ResetEvent reports the outcome of a world reset.
type ResetEvent struct {
	Success bool   `json:"success"`
	Trigger string `json:"trigger"`
}

// ServerEvent reports a server process lifecycle change.
type ServerEvent struct {
	PID int `json:"pid,omitempty"`
}
