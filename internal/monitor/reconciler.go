package monitor

import (
	"context"
	"errors"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/remote"
)

// reconcileTarget is the slice of controller state the Reconciler reads and
// writes.
type reconcileTarget interface {
	// view returns the tracked session id, the command generation and the
	// local status at the moment a reconciliation begins.
	view() (id string, generation uint64, status cycle.Status)
	// adopt records the session when no id was established at start.
	adopt(s cycle.Session)
	// finalize applies a terminal status; false if already terminal.
	finalize(status cycle.Status) bool
	// converge applies a non-terminal remote status unless a command was
	// acknowledged since generation was read.
	converge(status cycle.Status, generation uint64) bool
}

// Reconciler compares local status with the remote authority and applies
// remote truth.
type Reconciler struct {
	sessions remote.SessionSource
	target   reconcileTarget
	log      *logging.Logger
}

func newReconciler(sessions remote.SessionSource, target reconcileTarget, log *logging.Logger) *Reconciler {
	return &Reconciler{sessions: sessions, target: target, log: log}
}

// Reconcile performs one reconciliation. A missing session is not an error;
// fetch failures are returned for the caller to log.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	id, generation, local := r.target.view()
	if local.IsTerminal() {
		return nil
	}

	remoteSession, ok, err := r.fetch(ctx, id)
	if err != nil || !ok {
		return err
	}

	switch status := remoteSession.Status; {
	case status.IsTerminal():
		if r.target.finalize(status) {
			r.log.Info("remote reports session finished", "session", remoteSession.ID, "status", status)
		}
	case status.IsActive() && status != local:
		if r.target.converge(status, generation) {
			r.log.Info("status changed remotely", "session", remoteSession.ID, "from", local, "to", status)
		}
	case !status.IsActive():
		r.log.Debug("ignoring remote status", "session", remoteSession.ID, "status", status)
	}
	return nil
}

// fetch locates the tracked session. Without an id the most recent remote
// session is adopted.
func (r *Reconciler) fetch(ctx context.Context, id string) (cycle.Session, bool, error) {
	if id == "" {
		sessions, err := r.sessions.List(ctx)
		if err != nil {
			return cycle.Session{}, false, err
		}
		s, ok := remote.MostRecent(sessions)
		if !ok {
			return cycle.Session{}, false, nil
		}
		r.target.adopt(s)
		r.log.Info("adopted most recent session", "session", s.ID)
		return s, true, nil
	}

	s, err := r.sessions.ByID(ctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		r.log.Debug("session not in remote list", "session", id)
		return cycle.Session{}, false, nil
	}
	if err != nil {
		return cycle.Session{}, false, err
	}
	return s, true, nil
}
