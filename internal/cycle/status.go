// Package cycle defines the shared domain types for autoclave process
// sessions: lifecycle status, programs and their steps, sensor readings,
// chart points and the error taxonomy used across the controller and its
// remote adapters.
package cycle

import (
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a process session.
type Status string

// Session status values. StatusIdle only exists locally, before a session
// has been started.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusUnknown   Status = "unknown"
)

// ParseStatus normalizes a status string reported by the remote authority.
// Unrecognised values map to StatusUnknown, which is never terminal.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "":
		return StatusIdle
	case "running", "active":
		return StatusRunning
	case "paused":
		return StatusPaused
	case "completed", "complete", "finished":
		return StatusCompleted
	case "stopped", "cancelled", "canceled":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// IsActive reports whether the session is running or paused.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

func (s Status) String() string {
	return string(s)
}

// UnmarshalJSON accepts any casing and the aliases handled by ParseStatus.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// FinishReason says why a session reached a terminal state.
type FinishReason string

const (
	ReasonCompleted FinishReason = "completed"
	ReasonStopped   FinishReason = "stopped"
)

// ReasonFor maps a terminal status to its finish reason. Non-terminal
// statuses return an empty reason.
func ReasonFor(s Status) FinishReason {
	switch s {
	case StatusCompleted:
		return ReasonCompleted
	case StatusStopped:
		return ReasonStopped
	default:
		return ""
	}
}
