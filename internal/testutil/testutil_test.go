package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/stream"
)

func TestSamplePrograms(t *testing.T) {
	t.Parallel()

	programs := SamplePrograms()
	require.Len(t, programs, 2)
	assert.Equal(t, "P02 Wrapped instruments", programs[1].Label())
	assert.Equal(t, 50.0, programs[1].TotalMinutes())

	// Each call returns fresh slices.
	programs[0].Steps[0].DurationMinutes = 99
	assert.Equal(t, 1.0, SamplePrograms()[0].Steps[0].DurationMinutes)
}

func TestShortProgram(t *testing.T) {
	t.Parallel()

	p := ShortProgram()
	require.Len(t, p.Steps, 1)
	assert.Equal(t, 3, p.Steps[0].Seconds())
}

func TestSampleSessions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := SampleSessions(now)
	require.Len(t, sessions, 3)

	for _, s := range sessions {
		assert.True(t, s.StartTime.Before(now))
		assert.Equal(t, s.Status.IsTerminal(), s.EndTime != nil, "session %s", s.ID)
	}
	assert.Equal(t, cycle.StatusRunning, sessions[2].Status)
	assert.Equal(t, cycle.ManualProgramName, sessions[1].Program().Name)
}

func TestSampleReadings(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	readings := SampleReadings(start, 3, 5*time.Second)
	require.Len(t, readings, 3)
	assert.Equal(t, 3.0, readings[2].Pressure)
	assert.Equal(t, start.Add(10*time.Second), readings[2].Timestamp)
}

func TestSetupTestDir(t *testing.T) {
	dir := SetupTestDir(t)

	_, err := os.Stat(config.Path(dir))
	require.NoError(t, err)

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, FastMonitor(), cfg.Monitor)
}

func TestWriteTestFile(t *testing.T) {
	dir := t.TempDir()
	path := WriteTestFile(t, dir, "programs/short.yaml", []byte("name: Short\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name: Short\n", string(data))
}

func TestMustMarshalJSON(t *testing.T) {
	t.Parallel()

	data := MustMarshalJSON(t, cycle.Step{PSIRange: "5", DurationMinutes: 1, Action: cycle.ActionSteady})
	var step cycle.Step
	MustUnmarshalJSON(t, data, &step)
	assert.Equal(t, "5", step.PSIRange)
}

func TestEventAssertions(t *testing.T) {
	t.Parallel()

	log := stream.NewEventLog(0)
	for _, e := range []*stream.Event{
		stream.MustNewEvent(stream.EventTypeStatus, stream.StatusData{Status: cycle.StatusRunning}),
		stream.MustNewEvent(stream.EventTypeProgress, stream.ProgressData{StepIndex: 0, Percent: 50}),
		stream.MustNewEvent(stream.EventTypeStatus, stream.StatusData{Status: cycle.StatusCompleted}),
		stream.MustNewEvent(stream.EventTypeFinalized, stream.FinalizedData{Reason: cycle.ReasonCompleted}),
	} {
		require.NoError(t, log.Append(e))
	}

	ch := make(chan *stream.Event, 8)
	for _, e := range log.Read(1) {
		ch <- e
	}
	events := CollectUntil(t, ch, stream.EventTypeFinalized, time.Second)

	require.Len(t, events, 4)
	AssertSeqContiguous(t, events, 1)
	AssertFinalized(t, events, cycle.ReasonCompleted)
	assert.Equal(t, []cycle.Status{cycle.StatusRunning, cycle.StatusCompleted}, StatusSequence(t, events))
}

func TestWaitForStatus(t *testing.T) {
	t.Parallel()

	start := time.Now()
	WaitForStatus(t, func() cycle.Status {
		if time.Since(start) > 30*time.Millisecond {
			return cycle.StatusCompleted
		}
		return cycle.StatusRunning
	}, cycle.StatusCompleted, time.Second)
}
