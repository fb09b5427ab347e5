// Package tui is the terminal dashboard for a running session: status,
// current step with a progress bar, the latest reading, and pressure and
// temperature sparklines, with keys to pause, resume, stop or detach.
//
// The dashboard works the same over a local controller or a remote watch
// server; both feed it stream events and accept its commands.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/stream"
)

// Result is how the dashboard ended.
type Result int

const (
	// ResultDetached means the operator left; the session keeps running.
	ResultDetached Result = iota
	// ResultFinished means the session reached a terminal status.
	ResultFinished
)

func (r Result) String() string {
	switch r {
	case ResultDetached:
		return "detached"
	case ResultFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Backend runs operator commands.
type Backend interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Backend = (*monitor.Controller)(nil)

// Options configures the dashboard.
type Options struct {
	// Title is shown in the header, e.g. the remote URL when watching.
	Title string
	// Capacity is the sparkline length. Zero uses the chart default.
	Capacity int
	// Notifier rings the bell when the session finishes. Optional.
	Notifier *Notifier
}

type eventMsg struct{ event *stream.Event }

type streamClosedMsg struct{}

type commandDoneMsg struct {
	action string
	err    error
}

// listen waits for the next event. It follows the subscription-as-command
// pattern: Update re-issues it after every event.
func listen(ctx context.Context, events <-chan *stream.Event) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return streamClosedMsg{}
		case e, ok := <-events:
			if !ok {
				return streamClosedMsg{}
			}
			return eventMsg{event: e}
		}
	}
}

// Model is the dashboard's bubbletea model.
type Model struct {
	ctx     context.Context
	backend Backend
	events  <-chan *stream.Event
	board   *Board

	keys     KeyMap
	help     help.Model
	bar      progress.Model
	title    string
	notifier *Notifier

	width  int
	busy   string
	err    error
	result Result
	done   bool
}

// NewModel creates a dashboard seeded from snapshot (reflecting events up
// to lastSeq) and fed by events.
func NewModel(ctx context.Context, backend Backend, snapshot monitor.Snapshot, lastSeq uint64, events <-chan *stream.Event, opts Options) Model {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	return Model{
		ctx:      ctx,
		backend:  backend,
		events:   events,
		board:    NewBoard(snapshot, lastSeq, opts.Capacity),
		keys:     DefaultKeyMap(),
		help:     help.New(),
		bar:      bar,
		title:    opts.Title,
		notifier: opts.Notifier,
	}
}

// Board returns the dashboard state.
func (m Model) Board() *Board {
	return m.board
}

// Result returns how the dashboard ended.
func (m Model) Result() Result {
	return m.result
}

// Err returns the last command error, if any.
func (m Model) Err() error {
	return m.err
}

// Init starts listening for events. A snapshot that is already terminal
// ends the dashboard at once.
func (m Model) Init() tea.Cmd {
	if m.board.Finalized {
		return func() tea.Msg { return streamClosedMsg{} }
	}
	return listen(m.ctx, m.events)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-20))
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.board.Apply(msg.event)
		if m.board.Finalized {
			return m.finish()
		}
		return m, listen(m.ctx, m.events)

	case streamClosedMsg:
		if m.board.Finalized {
			return m.finish()
		}
		m.result = ResultDetached
		m.done = true
		return m, tea.Quit

	case commandDoneMsg:
		m.busy = ""
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) finish() (tea.Model, tea.Cmd) {
	if !m.done && m.notifier != nil {
		m.notifier.NotifyFinished(m.board.Session.ID, m.board.Reason, true)
	}
	m.result = ResultFinished
	m.done = true
	return m, tea.Quit
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Detach):
		m.result = ResultDetached
		m.done = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.PauseResume):
		switch m.board.Status {
		case cycle.StatusRunning:
			return m.run("pause", m.backend.Pause)
		case cycle.StatusPaused:
			return m.run("resume", m.backend.Resume)
		}
		return m, nil

	case key.Matches(msg, m.keys.Stop):
		if m.board.Status.IsActive() {
			return m.run("stop", m.backend.Stop)
		}
		return m, nil
	}
	return m, nil
}

// run issues one command at a time; keys pressed while one is in flight
// are ignored.
func (m Model) run(action string, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy != "" {
		return m, nil
	}
	m.busy = action
	m.err = nil
	ctx := m.ctx
	return m, func() tea.Msg {
		return commandDoneMsg{action: action, err: fn(ctx)}
	}
}

// View renders the dashboard.
func (m Model) View() string {
	b := m.board
	var sections []string

	header := titleStyle.Render("clave") + " " + FormatStatus(b.Status)
	if b.Session.ID != "" {
		header += dimStyle.Render("  session " + b.Session.ID)
	}
	if m.title != "" {
		header += dimStyle.Render("  " + m.title)
	}
	sections = append(sections, header)

	sections = append(sections, panelStyle.Render(m.programView()))
	sections = append(sections, panelStyle.Render(m.readingView()))

	switch {
	case b.Finalized:
		sections = append(sections, titleStyle.Render(finishedLine(b)))
	case m.busy != "":
		sections = append(sections, dimStyle.Render(m.busy+"..."))
	case m.err != nil:
		sections = append(sections, errorStyle.Render("error: "+m.err.Error()))
	}

	if !m.done {
		sections = append(sections, m.help.View(m.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m Model) programView() string {
	b := m.board
	lines := []string{labelStyle.Render("Program") + b.Program.Label()}

	if len(b.Program.Steps) == 0 {
		return strings.Join(append(lines, dimStyle.Render("no step schedule")), "\n")
	}

	step, _ := b.Step()
	lines = append(lines,
		labelStyle.Render("Step")+fmt.Sprintf("%d/%d  %s  %s", b.StepIndex+1, len(b.Program.Steps), step.PSIRange, step.Action),
		labelStyle.Render("Step")+m.bar.ViewAs(min(b.Percent, 100)/100),
	)

	elapsed, total := b.Minutes()
	lines = append(lines,
		labelStyle.Render("Elapsed")+fmt.Sprintf("%s of %s (%d%%)", FormatMinutes(elapsed), FormatMinutes(total), int(b.Overall()*100)),
	)
	return strings.Join(lines, "\n")
}

func (m Model) readingView() string {
	b := m.board
	p, ok := b.Latest()
	if !ok {
		return dimStyle.Render("waiting for readings")
	}

	points := b.Points()
	pressure := make([]float64, len(points))
	temperature := make([]float64, len(points))
	for i, pt := range points {
		pressure[i], temperature[i] = pt.Pressure, pt.Temperature
	}

	width := b.points.Cap()
	if m.width > 0 {
		width = max(10, min(width, m.width-30))
	}

	return strings.Join([]string{
		labelStyle.Render("Pressure") + pressureFmt.Render(fmt.Sprintf("%6.1f psi  %s", p.Pressure, Sparkline(pressure, width))),
		labelStyle.Render("Temperature") + tempFmt.Render(fmt.Sprintf("%6.1f °C   %s", p.Temperature, Sparkline(temperature, width))),
		labelStyle.Render("Updated") + dimStyle.Render(p.Label()),
	}, "\n")
}

func finishedLine(b *Board) string {
	switch b.Reason {
	case cycle.ReasonCompleted:
		return "Session completed."
	case cycle.ReasonStopped:
		return "Session stopped."
	default:
		return "Session finished."
	}
}

// Run shows the dashboard until the session finishes or the operator
// detaches.
func Run(ctx context.Context, backend Backend, snapshot monitor.Snapshot, lastSeq uint64, events <-chan *stream.Event, in io.Reader, out io.Writer, opts Options) (Result, error) {
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier(out)
	}
	m := NewModel(ctx, backend, snapshot, lastSeq, events, opts)

	final, err := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ResultDetached, nil
		}
		return ResultDetached, fmt.Errorf("dashboard: %w", err)
	}
	return final.(Model).Result(), nil
}
