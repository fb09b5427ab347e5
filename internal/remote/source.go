// Package remote talks to the authoritative control service that owns
// process sessions and sensor data. It exposes the narrow interfaces the
// monitor consumes, an HTTP implementation against the control API, and an
// in-memory MockClient for tests and offline runs.
package remote

import (
	"context"
	"errors"

	"github.com/thruflo/clave/internal/cycle"
)

var (
	// ErrNotFound is returned when a session id is not in the remote list.
	ErrNotFound = errors.New("session not found")
	// ErrNoReading is returned when the remote has no sensor sample yet.
	ErrNoReading = errors.New("no sensor reading available")
)

// ReadingSource fetches the latest sensor sample.
type ReadingSource interface {
	Latest(ctx context.Context) (cycle.Reading, error)
}

// SessionSource fetches sessions and their statuses. List returns a flat
// list regardless of how the remote pages it, most recent first.
type SessionSource interface {
	List(ctx context.Context) ([]cycle.Session, error)
	ByID(ctx context.Context, id string) (cycle.Session, error)
}

// Commander issues lifecycle commands to the remote authority.
//
// Pause, Resume and Stop return a cycle Conflict error when the remote
// reports the command had no effect. Stop additionally returns the terminal
// status when the remote reports one.
type Commander interface {
	Start(ctx context.Context, cfg cycle.StartConfig) (cycle.Session, error)
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) (cycle.Status, error)
}

// ProgramCatalog lists stored programs.
type ProgramCatalog interface {
	Programs(ctx context.Context) ([]cycle.Program, error)
	// Program finds a program by id, number or case-insensitive name.
	Program(ctx context.Context, ref string) (cycle.Program, error)
}

// HistorySource returns the readings recorded for a session, oldest first.
type HistorySource interface {
	Logs(ctx context.Context, sessionID string) ([]cycle.Reading, error)
}

// Client is the full surface of the control service.
type Client interface {
	ReadingSource
	SessionSource
	Commander
	ProgramCatalog
	HistorySource
	Health(ctx context.Context) error
}

// ActiveSession returns the most recent running or paused session.
func ActiveSession(sessions []cycle.Session) (cycle.Session, bool) {
	var best cycle.Session
	found := false
	for _, s := range sessions {
		if !s.Status.IsActive() {
			continue
		}
		if !found || s.StartTime.After(best.StartTime) {
			best = s
			found = true
		}
	}
	return best, found
}

// MostRecent returns the session with the latest start time.
func MostRecent(sessions []cycle.Session) (cycle.Session, bool) {
	if len(sessions) == 0 {
		return cycle.Session{}, false
	}
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.StartTime.After(best.StartTime) {
			best = s
		}
	}
	return best, true
}

// FindSession returns the session with the given id.
func FindSession(sessions []cycle.Session, id string) (cycle.Session, bool) {
	for _, s := range sessions {
		if s.ID == id {
			return s, true
		}
	}
	return cycle.Session{}, false
}
