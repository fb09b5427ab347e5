package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/stream"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeBackend) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeBackend) Pause(context.Context) error  { return f.record("pause") }
func (f *fakeBackend) Resume(context.Context) error { return f.record("resume") }
func (f *fakeBackend) Stop(context.Context) error   { return f.record("stop") }

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, backend Backend) (Model, chan *stream.Event) {
	t.Helper()
	events := make(chan *stream.Event, 10)
	m := NewModel(context.Background(), backend, twoStepSnapshot(), 0, events, Options{
		Notifier: NewNotifier(&bytes.Buffer{}),
	})
	return m, events
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// runCmd runs a command and feeds its message back, as the program would.
func runCmd(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestPauseResumeKey(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	m, _ := newTestModel(t, backend)

	m, cmd := update(t, m, keyMsg("p"))
	assert.Equal(t, "pause", m.busy)
	m = runCmd(t, m, cmd)
	assert.Empty(t, m.busy)
	assert.Equal(t, []string{"pause"}, backend.Calls())

	m.board.Status = cycle.StatusPaused
	m, cmd = update(t, m, keyMsg(" "))
	m = runCmd(t, m, cmd)
	assert.Equal(t, []string{"pause", "resume"}, backend.Calls())
}

func TestKeysIgnoredWhileBusy(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	m, _ := newTestModel(t, backend)

	m, first := update(t, m, keyMsg("p"))
	m, second := update(t, m, keyMsg("s"))
	assert.Nil(t, second)

	runCmd(t, m, first)
	assert.Equal(t, []string{"pause"}, backend.Calls())
}

func TestStopKey(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	m, _ := newTestModel(t, backend)

	m, cmd := update(t, m, keyMsg("s"))
	m = runCmd(t, m, cmd)
	assert.Equal(t, []string{"stop"}, backend.Calls())

	m.board.Status = cycle.StatusStopped
	_, cmd = update(t, m, keyMsg("s"))
	assert.Nil(t, cmd, "stop does nothing once finished")
}

func TestCommandErrorShown(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{err: errors.New("remote unavailable")}
	m, _ := newTestModel(t, backend)

	m, cmd := update(t, m, keyMsg("p"))
	m = runCmd(t, m, cmd)
	require.Error(t, m.Err())
	assert.Contains(t, m.View(), "remote unavailable")
}

func TestDetachKey(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"q", "ctrl+c"} {
		backend := &fakeBackend{}
		m, _ := newTestModel(t, backend)

		m, cmd := update(t, m, keyMsg(k))
		assert.True(t, isQuit(cmd), k)
		assert.Equal(t, ResultDetached, m.Result())
		assert.Empty(t, backend.Calls(), "detaching never stops the session")
	}
}

func TestEventsUpdateBoard(t *testing.T) {
	t.Parallel()

	m, events := newTestModel(t, &fakeBackend{})

	cmd := m.Init()
	events <- event(t, 1, stream.EventTypeChartPoint, point(0, 14.7, 118.2))
	m, cmd = update(t, m, cmd())
	require.NotNil(t, cmd, "keeps listening")

	events <- event(t, 2, stream.EventTypeProgress, stream.ProgressData{StepIndex: 1, Percent: 10})
	m, _ = update(t, m, cmd())

	view := m.View()
	assert.Contains(t, view, "14.7 psi")
	assert.Contains(t, view, "118.2 °C")
	assert.Contains(t, view, "2/2")
	assert.Contains(t, view, "hold")
	assert.Contains(t, view, "RUNNING")
}

func TestFinalizedEndsDashboard(t *testing.T) {
	t.Parallel()

	var bell bytes.Buffer
	events := make(chan *stream.Event, 1)
	m := NewModel(context.Background(), &fakeBackend{}, twoStepSnapshot(), 0, events, Options{Notifier: NewNotifier(&bell)})

	events <- event(t, 1, stream.EventTypeFinalized, stream.FinalizedData{Reason: cycle.ReasonCompleted})
	m, cmd := update(t, m, m.Init()())

	assert.True(t, isQuit(cmd))
	assert.Equal(t, ResultFinished, m.Result())
	assert.Equal(t, Bell, bell.String())
	assert.Contains(t, m.View(), "Session completed.")
}

func TestStreamClosedDetaches(t *testing.T) {
	t.Parallel()

	m, events := newTestModel(t, &fakeBackend{})
	close(events)

	m, cmd := update(t, m, m.Init()())
	assert.True(t, isQuit(cmd))
	assert.Equal(t, ResultDetached, m.Result())
}

func TestTerminalSnapshotFinishesImmediately(t *testing.T) {
	t.Parallel()

	snap := twoStepSnapshot()
	snap.Status = cycle.StatusStopped
	snap.Reason = cycle.ReasonStopped
	m := NewModel(context.Background(), &fakeBackend{}, snap, 0, nil, Options{Notifier: NewNotifier(&bytes.Buffer{})})

	m, cmd := update(t, m, m.Init()())
	assert.True(t, isQuit(cmd))
	assert.Equal(t, ResultFinished, m.Result())
}

func TestHelpToggle(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, &fakeBackend{})
	assert.Contains(t, m.View(), "pause/resume")

	m, _ = update(t, m, keyMsg("?"))
	assert.True(t, m.help.ShowAll)
}

func TestViewWithoutSteps(t *testing.T) {
	t.Parallel()

	snap := twoStepSnapshot()
	snap.Program.Steps = nil
	m := NewModel(context.Background(), &fakeBackend{}, snap, 0, nil, Options{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	view := m.View()
	assert.Contains(t, view, "no step schedule")
	assert.Contains(t, view, "waiting for readings")
}

func TestRunDetachesOnQuitKey(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	events := make(chan *stream.Event)
	res, err := Run(ctx, &fakeBackend{}, twoStepSnapshot(), 0, events, strings.NewReader("q"), &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, ResultDetached, res)
}
