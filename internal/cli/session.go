package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/server"
	"github.com/thruflo/clave/internal/stream"
	"github.com/thruflo/clave/internal/tui"
	"github.com/thruflo/clave/web"
)

// errNoActiveSession is returned when a command needs a running or paused
// session and none was named.
var errNoActiveSession = errors.New("no running or paused session; use --session to pick one")

// isTerminal reports whether f is an interactive terminal.
var isTerminal = func(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// resolveSession returns the session with the given id, or the active
// session when id is empty.
func resolveSession(ctx context.Context, sessions remote.SessionSource, id string) (cycle.Session, error) {
	if id != "" {
		s, err := sessions.ByID(ctx, id)
		if err != nil {
			return cycle.Session{}, fmt.Errorf("failed to load session: %w", err)
		}
		return s, nil
	}

	list, err := sessions.List(ctx)
	if err != nil {
		return cycle.Session{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	s, ok := remote.ActiveSession(list)
	if !ok {
		return cycle.Session{}, errNoActiveSession
	}
	return s, nil
}

// sessionProgram returns the program a session runs, falling back to the
// catalog when the session does not carry its steps.
func sessionProgram(ctx context.Context, catalog remote.ProgramCatalog, s cycle.Session) cycle.Program {
	program := s.Program()
	if len(program.Steps) > 0 || s.ProgramRef == "" {
		return program
	}
	p, err := catalog.Program(ctx, s.ProgramRef)
	if err != nil {
		logging.Debug("program lookup failed", "session", s.ID, "ref", s.ProgramRef, "error", err)
		return program
	}
	return p
}

// resolveProgram loads a program from a YAML file when ref names one,
// otherwise looks it up in the catalog by id, number or name.
func resolveProgram(ctx context.Context, catalog remote.ProgramCatalog, ref string) (cycle.Program, error) {
	ext := strings.ToLower(filepath.Ext(ref))
	if ext == ".yaml" || ext == ".yml" {
		return loadProgramFile(ref)
	}
	p, err := catalog.Program(ctx, ref)
	if err != nil {
		return cycle.Program{}, fmt.Errorf("failed to find program: %w", err)
	}
	return p, nil
}

// loadProgramFile reads a program definition:
//
//	name: Wrapped instruments
//	steps:
//	  - psi_range: 0-15
//	    duration_minutes: 10
//	    action: raise
func loadProgramFile(path string) (cycle.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cycle.Program{}, fmt.Errorf("failed to read program file: %w", err)
	}
	var p cycle.Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return cycle.Program{}, fmt.Errorf("failed to parse program file: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// sessionRun is everything needed to monitor one session in the
// foreground.
type sessionRun struct {
	base   string
	cfg    *config.Config
	client remote.Client

	// begin starts or attaches the controller.
	begin func(ctx context.Context, ctrl *monitor.Controller) error

	serve     bool
	dashboard bool
	in        io.Reader
	out       io.Writer
	// notifier announces the finish in line mode. Optional.
	notifier *tui.Notifier
}

// runSession starts monitoring, optionally serves it to other devices, and
// shows it until it finishes or the operator detaches. Detaching leaves the
// remote session running.
func runSession(ctx context.Context, r sessionRun) (tui.Result, error) {
	publisher := stream.NewPublisher(logging.With("component", "stream"))
	defer publisher.Close()

	ctrl, err := monitor.New(monitor.SourcesFrom(r.client), monitor.Options{
		Monitor:  r.cfg.Monitor,
		Logger:   logging.With("component", "monitor"),
		Observer: publisher,
	})
	if err != nil {
		return tui.ResultDetached, err
	}
	defer ctrl.Close()

	if err := r.begin(ctx, ctrl); err != nil {
		return tui.ResultDetached, err
	}

	if r.serve {
		srv, err := startServer(ctx, r, ctrl, publisher)
		if err != nil {
			return tui.ResultDetached, err
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logging.Warn("failed to stop watch server", "error", err)
			}
		}()
	}

	// Taking the sequence first means an event racing the snapshot is
	// applied twice rather than lost.
	lastSeq := publisher.Log().LastSeq()
	snapshot := ctrl.Snapshot()
	events := publisher.Log().Subscribe(ctx, lastSeq+1, time.Second)

	var result tui.Result
	if r.dashboard {
		result, err = tui.Run(ctx, ctrl, snapshot, lastSeq, events, r.in, r.out, tui.Options{
			Capacity: r.cfg.Monitor.ChartCapacity,
		})
		if err != nil {
			return result, err
		}
	} else {
		printer := tui.NewLinePrinter(r.out, snapshot, lastSeq)
		printer.Header()
		result = printer.Follow(ctx, events)
		if result == tui.ResultFinished && r.notifier != nil {
			if err := r.notifier.NotifyFinished(snapshot.Session.ID, printer.Reason(), false); err != nil {
				logging.Debug("notification failed", "error", err)
			}
		}
	}

	printResult(r.out, ctrl, result)
	return result, nil
}

func startServer(ctx context.Context, r sessionRun, ctrl *monitor.Controller, publisher *stream.Publisher) (*server.Server, error) {
	srv, err := server.NewServerFromConfig(&r.cfg.Server, web.GetAssetsWithBase(r.base), ctrl, publisher)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Give the server a moment to bind and report errors.
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("watch server failed to start: %w", err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	if addr := srv.ListenAddr(); addr != "" {
		fmt.Fprintf(os.Stderr, "Watch server running at http://%s\n", addr)
	}
	return srv, nil
}

func printResult(out io.Writer, ctrl *monitor.Controller, result tui.Result) {
	s := ctrl.Session()
	if result == tui.ResultDetached {
		fmt.Fprintf(out, "\nDetached. Session %s keeps running on the autoclave.\n", s.ID)
		fmt.Fprintf(out, "Use 'clave attach --session %s' to monitor it again.\n", s.ID)
		return
	}
	if outcome, ok := ctrl.Outcome(); ok {
		fmt.Fprintf(out, "\nSession %s %s at %s.\n", s.ID, outcome.Status, outcome.EndTime.Local().Format("15:04:05"))
	}
}

// withController attaches a short-lived controller to a session, runs fn
// and detaches. One-off commands use it so they share the controller's
// conflict handling.
func withController(ctx context.Context, cfg *config.Config, client remote.Client, sessionID string, fn func(*monitor.Controller) error) (cycle.Session, error) {
	s, err := resolveSession(ctx, client, sessionID)
	if err != nil {
		return cycle.Session{}, err
	}

	ctrl, err := monitor.New(monitor.SourcesFrom(client), monitor.Options{
		Monitor: cfg.Monitor,
		Logger:  logging.With("component", "monitor"),
	})
	if err != nil {
		return s, err
	}
	defer ctrl.Close()

	if err := ctrl.Attach(ctx, s, sessionProgram(ctx, client, s)); err != nil {
		return s, err
	}
	if err := fn(ctrl); err != nil {
		return s, err
	}
	return ctrl.Session(), nil
}
