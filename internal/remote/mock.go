package remote

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/thruflo/clave/internal/cycle"
)

// Op names a MockClient operation for error injection and hooks.
type Op string

const (
	OpLatest   Op = "latest"
	OpList     Op = "list"
	OpStart    Op = "start"
	OpPause    Op = "pause"
	OpResume   Op = "resume"
	OpStop     Op = "stop"
	OpPrograms Op = "programs"
	OpLogs     Op = "logs"
	OpHealth   Op = "health"
)

type injectedError struct {
	err       error
	remaining int // negative means forever
}

// MockClient implements Client as an in-memory control service. Commands
// follow the same rules as the real service: pause only affects running
// sessions, resume only paused ones, and stop only active ones; anything
// else is reported as a Conflict.
//
// This mock is exported for use by tests in other packages and by the
// --mock CLI flag.
type MockClient struct {
	mu sync.Mutex

	sessions []cycle.Session
	programs []cycle.Program
	reading  *cycle.Reading
	logs     map[string][]cycle.Reading
	nextID   int
	now      func() time.Time

	// simulate completes sessions once their program time has elapsed and
	// synthesizes readings that approach the active target pressure.
	simulate bool

	errs  map[Op]*injectedError
	hooks map[Op]func()

	// Tracking
	startCalls  []cycle.StartConfig
	pauseCalls  []string
	resumeCalls []string
	stopCalls   []string
	listCalls   int
	latestCalls int
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		logs:   make(map[string][]cycle.Reading),
		nextID: 1,
		now:    time.Now,
		errs:   make(map[Op]*injectedError),
		hooks:  make(map[Op]func()),
	}
}

// NewSimulator creates a MockClient that behaves like a live autoclave:
// sessions complete on their own and readings track the target pressure.
func NewSimulator(programs []cycle.Program) *MockClient {
	m := NewMockClient()
	m.simulate = true
	m.programs = append([]cycle.Program(nil), programs...)
	return m
}

// SetClock overrides the time source.
func (m *MockClient) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddSession seeds a session. Sessions without an id get the next one.
func (m *MockClient) AddSession(s cycle.Session) cycle.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = strconv.Itoa(m.nextID)
	}
	if n, err := strconv.Atoi(s.ID); err == nil && n >= m.nextID {
		m.nextID = n + 1
	}
	m.sessions = append(m.sessions, s)
	return s
}

// SetStatus changes a session's status as if another actor had done so.
// Terminal statuses also set the end time.
func (m *MockClient) SetStatus(id string, status cycle.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.setStatusLocked(i, status)
		}
	}
}

func (m *MockClient) setStatusLocked(i int, status cycle.Status) {
	m.sessions[i].Status = status
	if status.IsTerminal() && m.sessions[i].EndTime == nil {
		end := m.now()
		m.sessions[i].EndTime = &end
	}
}

// SetReading sets the value Latest returns. A nil reading makes Latest
// return ErrNoReading.
func (m *MockClient) SetReading(r *cycle.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = r
}

// SetPrograms replaces the program catalog.
func (m *MockClient) SetPrograms(programs []cycle.Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs = append([]cycle.Program(nil), programs...)
}

// SetLogs sets the recorded readings returned for a session.
func (m *MockClient) SetLogs(id string, readings []cycle.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[id] = append([]cycle.Reading(nil), readings...)
}

// Fail makes the next n calls of op return err. A negative n fails every
// call until Fail is called again with n == 0.
func (m *MockClient) Fail(op Op, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n == 0 || err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = &injectedError{err: err, remaining: n}
}

// Hook registers fn to run at the start of every op call, before any state
// is read. Tests use it to interleave remote changes with client calls.
func (m *MockClient) Hook(op Op, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.hooks, op)
		return
	}
	m.hooks[op] = fn
}

// enter runs the hook for op and returns any injected error.
func (m *MockClient) enter(op Op) error {
	m.mu.Lock()
	hook := m.hooks[op]
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	inj, ok := m.errs[op]
	if !ok {
		return nil
	}
	if inj.remaining > 0 {
		inj.remaining--
		if inj.remaining == 0 {
			delete(m.errs, op)
		}
	}
	return inj.err
}

// Latest returns the configured reading, or a synthesized one in simulator
// mode.
func (m *MockClient) Latest(ctx context.Context) (cycle.Reading, error) {
	if err := m.enter(OpLatest); err != nil {
		return cycle.Reading{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestCalls++

	if m.simulate {
		return m.simulatedReadingLocked(), nil
	}
	if m.reading == nil {
		return cycle.Reading{}, ErrNoReading
	}
	return *m.reading, nil
}

// simulatedReadingLocked approaches the active session's current step
// target with a first-order lag and a small oscillation.
func (m *MockClient) simulatedReadingLocked() cycle.Reading {
	now := m.now()
	r := cycle.Reading{Pressure: 0.1, Temperature: 25, Timestamp: now}

	active, ok := ActiveSession(m.sessions)
	if !ok {
		return r
	}
	p := active.Program()
	if len(p.Steps) == 0 {
		return r
	}

	elapsed := now.Sub(active.StartTime).Minutes()
	step := p.Steps[len(p.Steps)-1]
	for _, s := range p.Steps {
		if elapsed < s.DurationMinutes {
			step = s
			break
		}
		elapsed -= s.DurationMinutes
	}

	target := step.TargetPressure()
	secs := now.Sub(active.StartTime).Seconds()
	r.Pressure = target*(1-math.Exp(-secs/20)) + 0.3*math.Sin(secs/3)
	if r.Pressure < 0.1 {
		r.Pressure = 0.1
	}
	r.Temperature = 25 + r.Pressure*2.2
	return r
}

// List returns all sessions, most recent first.
func (m *MockClient) List(ctx context.Context) ([]cycle.Session, error) {
	if err := m.enter(OpList); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	if m.simulate {
		m.advanceLocked()
	}

	out := append([]cycle.Session(nil), m.sessions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

// advanceLocked completes active sessions whose program time has elapsed.
func (m *MockClient) advanceLocked() {
	now := m.now()
	for i, s := range m.sessions {
		if s.Status != cycle.StatusRunning {
			continue
		}
		total := s.Program().TotalMinutes()
		if total > 0 && now.Sub(s.StartTime) >= time.Duration(total*float64(time.Minute)) {
			m.setStatusLocked(i, cycle.StatusCompleted)
		}
	}
}

// ByID returns the session with the given id.
func (m *MockClient) ByID(ctx context.Context, id string) (cycle.Session, error) {
	sessions, err := m.List(ctx)
	if err != nil {
		return cycle.Session{}, err
	}
	s, ok := FindSession(sessions, id)
	if !ok {
		return cycle.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// Start creates a running session.
func (m *MockClient) Start(ctx context.Context, cfg cycle.StartConfig) (cycle.Session, error) {
	if err := m.enter(OpStart); err != nil {
		return cycle.Session{}, err
	}
	if err := cfg.Validate(); err != nil {
		return cycle.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls = append(m.startCalls, cfg)

	s := cycle.Session{
		ID:        strconv.Itoa(m.nextID),
		Status:    cycle.StatusRunning,
		StartTime: m.now(),
	}
	m.nextID++
	if cfg.Manual != nil {
		s.ProgramName = cycle.ManualProgramName
		s.ManualTarget = cfg.Manual.TargetPressure
		s.ManualDuration = cfg.Manual.DurationMinutes
	} else {
		s.ProgramRef = cfg.Program.ID
		s.ProgramName = cfg.Program.Name
		s.Steps = append([]cycle.Step(nil), cfg.Program.Steps...)
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

// transitionLocked applies from -> to on the matching sessions, or on all
// sessions when id is empty, and reports how many changed.
func (m *MockClient) transitionLocked(id string, from []cycle.Status, to cycle.Status) int {
	n := 0
	for i, s := range m.sessions {
		if id != "" && s.ID != id {
			continue
		}
		for _, f := range from {
			if s.Status == f {
				m.setStatusLocked(i, to)
				n++
				break
			}
		}
	}
	return n
}

// Pause pauses a running session.
func (m *MockClient) Pause(ctx context.Context, sessionID string) error {
	if err := m.enter(OpPause); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls = append(m.pauseCalls, sessionID)

	if m.transitionLocked(sessionID, []cycle.Status{cycle.StatusRunning}, cycle.StatusPaused) == 0 {
		return cycle.Conflict("pause session", "no running session")
	}
	return nil
}

// Resume resumes a paused session.
func (m *MockClient) Resume(ctx context.Context, sessionID string) error {
	if err := m.enter(OpResume); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeCalls = append(m.resumeCalls, sessionID)

	if m.transitionLocked(sessionID, []cycle.Status{cycle.StatusPaused}, cycle.StatusRunning) == 0 {
		return cycle.Conflict("resume session", "no paused session")
	}
	return nil
}

// Stop stops an active session. Stopping a terminal session is a Conflict
// that reports the session's status.
func (m *MockClient) Stop(ctx context.Context, sessionID string) (cycle.Status, error) {
	if err := m.enter(OpStop); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, sessionID)

	active := []cycle.Status{cycle.StatusRunning, cycle.StatusPaused}
	if m.transitionLocked(sessionID, active, cycle.StatusStopped) > 0 {
		return cycle.StatusStopped, nil
	}
	if s, ok := FindSession(m.sessions, sessionID); ok {
		return s.Status, cycle.Conflict("stop session", "session already "+s.Status.String())
	}
	return "", cycle.Conflict("stop session", "no active session")
}

// Programs returns the catalog.
func (m *MockClient) Programs(ctx context.Context) ([]cycle.Program, error) {
	if err := m.enter(OpPrograms); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cycle.Program(nil), m.programs...), nil
}

// Program finds a program by id, number or name.
func (m *MockClient) Program(ctx context.Context, ref string) (cycle.Program, error) {
	programs, err := m.Programs(ctx)
	if err != nil {
		return cycle.Program{}, err
	}
	return FindProgram(programs, ref)
}

// Logs returns the seeded readings for a session.
func (m *MockClient) Logs(ctx context.Context, sessionID string) ([]cycle.Reading, error) {
	if err := m.enter(OpLogs); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := FindSession(m.sessions, sessionID); !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return append([]cycle.Reading(nil), m.logs[sessionID]...), nil
}

// Health reports the mock as healthy unless an error is injected.
func (m *MockClient) Health(ctx context.Context) error {
	return m.enter(OpHealth)
}

// StartCalls returns the recorded Start configurations.
func (m *MockClient) StartCalls() []cycle.StartConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cycle.StartConfig(nil), m.startCalls...)
}

// PauseCalls returns the session ids passed to Pause.
func (m *MockClient) PauseCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pauseCalls...)
}

// ResumeCalls returns the session ids passed to Resume.
func (m *MockClient) ResumeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resumeCalls...)
}

// StopCalls returns the session ids passed to Stop.
func (m *MockClient) StopCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopCalls...)
}

// ListCalls returns how many times List (or ByID) was called.
func (m *MockClient) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// LatestCalls returns how many times Latest was called.
func (m *MockClient) LatestCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestCalls
}

// Session returns the current stored copy of a session.
func (m *MockClient) Session(id string) (cycle.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FindSession(m.sessions, id)
}

var _ Client = (*MockClient)(nil)
var _ Client = (*HTTPClient)(nil)
