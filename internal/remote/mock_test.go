package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/clave/internal/cycle"
)

func manualStart(target, minutes float64) cycle.StartConfig {
	return cycle.StartConfig{Manual: &cycle.ManualConfig{TargetPressure: target, DurationMinutes: minutes}}
}

func TestMockClient_CommandLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMockClient()

	s, err := m.Start(ctx, manualStart(20, 5))
	require.NoError(t, err)
	assert.Equal(t, "1", s.ID)
	assert.Equal(t, cycle.StatusRunning, s.Status)

	require.NoError(t, m.Pause(ctx, s.ID))
	assert.True(t, cycle.IsConflict(m.Pause(ctx, s.ID)))

	require.NoError(t, m.Resume(ctx, s.ID))
	assert.True(t, cycle.IsConflict(m.Resume(ctx, s.ID)))

	status, err := m.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, cycle.StatusStopped, status)

	stored, ok := m.Session(s.ID)
	require.True(t, ok)
	assert.NotNil(t, stored.EndTime)

	status, err = m.Stop(ctx, s.ID)
	assert.True(t, cycle.IsConflict(err))
	assert.Equal(t, cycle.StatusStopped, status)

	assert.Equal(t, []string{"1", "1"}, m.StopCalls())
	assert.Len(t, m.StartCalls(), 1)
}

func TestMockClient_StopCompletedReportsStatus(t *testing.T) {
	t.Parallel()
	m := NewMockClient()
	m.AddSession(cycle.Session{ID: "4", Status: cycle.StatusCompleted})

	status, err := m.Stop(context.Background(), "4")
	assert.True(t, cycle.IsConflict(err))
	assert.Equal(t, cycle.StatusCompleted, status)

	status, err = m.Stop(context.Background(), "")
	assert.True(t, cycle.IsConflict(err))
	assert.Empty(t, status)
}

func TestMockClient_FailAndHook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMockClient()
	boom := cycle.Transient("latest reading", errors.New("boom"))

	m.Fail(OpLatest, boom, 2)
	_, err := m.Latest(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = m.Latest(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = m.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoReading)

	m.Fail(OpList, boom, -1)
	for i := 0; i < 3; i++ {
		_, err = m.List(ctx)
		assert.Error(t, err)
	}
	m.Fail(OpList, nil, 0)
	_, err = m.List(ctx)
	assert.NoError(t, err)

	s := m.AddSession(cycle.Session{Status: cycle.StatusRunning})
	m.Hook(OpPause, func() { m.SetStatus(s.ID, cycle.StatusCompleted) })
	assert.True(t, cycle.IsConflict(m.Pause(ctx, s.ID)))
}

func TestMockClient_ListMostRecentFirst(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewMockClient()
	m.AddSession(cycle.Session{ID: "1", Status: cycle.StatusStopped, StartTime: base})
	m.AddSession(cycle.Session{ID: "3", Status: cycle.StatusRunning, StartTime: base.Add(2 * time.Hour)})
	m.AddSession(cycle.Session{ID: "2", Status: cycle.StatusCompleted, StartTime: base.Add(time.Hour)})

	sessions, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "3", sessions[0].ID)
	assert.Equal(t, "1", sessions[2].ID)

	// New sessions continue numbering after seeded ids.
	s, err := m.Start(context.Background(), manualStart(10, 1))
	require.NoError(t, err)
	assert.Equal(t, "4", s.ID)

	_, err = m.ByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockClient_Logs(t *testing.T) {
	t.Parallel()
	m := NewMockClient()
	m.AddSession(cycle.Session{ID: "5", Status: cycle.StatusRunning})
	m.SetLogs("5", []cycle.Reading{{Pressure: 1, Temperature: 26}})

	readings, err := m.Logs(context.Background(), "5")
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	_, err = m.Logs(context.Background(), "6")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSimulator_CompletesAndTracksTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	prog := cycle.Program{ID: "2", Number: 2, Name: "Test Program", Steps: []cycle.Step{
		{PSIRange: "10", DurationMinutes: 1, Action: cycle.ActionSteady},
	}}
	sim := NewSimulator([]cycle.Program{prog})
	sim.SetClock(func() time.Time { return now })

	p, err := sim.Program(ctx, "2")
	require.NoError(t, err)
	s, err := sim.Start(ctx, cycle.StartConfig{Program: &p})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	r, err := sim.Latest(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10, r.Pressure, 1)
	assert.Greater(t, r.Temperature, 25.0)

	got, err := sim.ByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, cycle.StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
}

func TestFindProgram(t *testing.T) {
	t.Parallel()
	programs := []cycle.Program{
		{ID: "10", Number: 1, Name: "Hypalon Polymers"},
		{ID: "11", Number: 2, Name: "Test Program"},
	}

	tests := []struct {
		ref    string
		wantID string
	}{
		{"10", "10"},
		{"2", "11"},
		{"p01", "10"},
		{"P2", "11"},
		{"test program", "11"},
		{" Hypalon Polymers ", "10"},
	}
	for _, tt := range tests {
		p, err := FindProgram(programs, tt.ref)
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.wantID, p.ID, tt.ref)
	}

	_, err := FindProgram(programs, "P09")
	assert.True(t, cycle.IsValidation(err))
}

func TestSessionHelpers(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sessions := []cycle.Session{
		{ID: "1", Status: cycle.StatusPaused, StartTime: base},
		{ID: "2", Status: cycle.StatusCompleted, StartTime: base.Add(time.Hour)},
		{ID: "3", Status: cycle.StatusRunning, StartTime: base.Add(-time.Hour)},
	}

	active, ok := ActiveSession(sessions)
	require.True(t, ok)
	assert.Equal(t, "1", active.ID)

	recent, ok := MostRecent(sessions)
	require.True(t, ok)
	assert.Equal(t, "2", recent.ID)

	_, ok = MostRecent(nil)
	assert.False(t, ok)

	_, ok = ActiveSession(sessions[1:2])
	assert.False(t, ok)
}
