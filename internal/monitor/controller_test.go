package monitor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/remote"
)

// recorder is an Observer that keeps every event.
type recorder struct {
	mu        sync.Mutex
	statuses  []cycle.Status
	progress  []cycle.ProgressState
	points    []cycle.ChartPoint
	finalized []cycle.FinishReason
}

func (r *recorder) OnStatusChange(status cycle.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recorder) OnProgress(stepIndex int, percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, cycle.ProgressState{StepIndex: stepIndex, Percent: percent})
}

func (r *recorder) OnChartPoint(point cycle.ChartPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, point)
}

func (r *recorder) OnFinalized(reason cycle.FinishReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = append(r.finalized, reason)
}

func (r *recorder) Finalized() []cycle.FinishReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cycle.FinishReason(nil), r.finalized...)
}

func (r *recorder) Statuses() []cycle.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cycle.Status(nil), r.statuses...)
}

func (r *recorder) counts() (progress, points int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress), len(r.points)
}

// slowMonitor keeps the periodic tasks idle so tests drive ticks directly.
func slowMonitor() config.Monitor {
	return config.Monitor{
		SampleInterval:    time.Hour,
		ReconcileInterval: time.Hour,
		TickInterval:      time.Hour,
		ChartCapacity:     60,
		CommandRetries:    2,
		RetryBackoff:      time.Millisecond,
	}
}

func newTestController(t *testing.T, src Sources, m config.Monitor) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c, err := New(src, Options{Monitor: m, Logger: logging.Discard(), Observer: rec})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, rec
}

func manual(target, minutes float64) cycle.StartConfig {
	return cycle.StartConfig{Manual: &cycle.ManualConfig{TargetPressure: target, DurationMinutes: minutes}}
}

func started(t *testing.T, mock *remote.MockClient) (*Controller, *recorder, cycle.Session) {
	t.Helper()
	c, rec := newTestController(t, SourcesFrom(mock), slowMonitor())
	s, err := c.Start(context.Background(), manual(20, 1))
	require.NoError(t, err)
	return c, rec, s
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

var errNetwork = cycle.Transient("remote", errors.New("connection refused"))

func TestNew_RequiresSources(t *testing.T) {
	_, err := New(Sources{}, Options{})
	require.Error(t, err)
	assert.True(t, cycle.IsFatalConfig(err))
}

func TestStart_RejectsInvalidConfig(t *testing.T) {
	mock := remote.NewMockClient()
	c, _ := newTestController(t, SourcesFrom(mock), slowMonitor())
	ctx := context.Background()

	_, err := c.Start(ctx, cycle.StartConfig{})
	assert.True(t, cycle.IsFatalConfig(err))

	_, err = c.Start(ctx, cycle.StartConfig{Program: &cycle.Program{Name: "Empty"}})
	assert.True(t, cycle.IsFatalConfig(err))

	_, err = c.Start(ctx, manual(0, 5))
	assert.True(t, cycle.IsValidation(err))

	both := manual(10, 5)
	both.Program = &cycle.Program{Steps: []cycle.Step{{PSIRange: "10", DurationMinutes: 1}}}
	_, err = c.Start(ctx, both)
	assert.True(t, cycle.IsValidation(err))

	assert.Empty(t, mock.StartCalls())
	assert.Equal(t, cycle.StatusIdle, c.Status())
}

func TestStart_FailureStaysIdle(t *testing.T) {
	mock := remote.NewMockClient()
	mock.Fail(remote.OpStart, errNetwork, 1)
	c, rec := newTestController(t, SourcesFrom(mock), slowMonitor())

	_, err := c.Start(context.Background(), manual(20, 1))
	require.Error(t, err)
	assert.True(t, cycle.IsTransient(err))
	assert.Equal(t, cycle.StatusIdle, c.Status())
	assert.Empty(t, rec.Statuses())

	// The controller can still be used once the remote recovers.
	s, err := c.Start(context.Background(), manual(20, 1))
	require.NoError(t, err)
	assert.Equal(t, cycle.StatusRunning, c.Status())
	assert.Equal(t, s.ID, c.Session().ID)
	assert.Equal(t, []cycle.Status{cycle.StatusRunning}, rec.Statuses())
}

func TestStart_SingleUse(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)

	_, err := c.Start(context.Background(), manual(20, 1))
	require.Error(t, err)
	assert.True(t, cycle.IsValidation(err))
	assert.ErrorIs(t, err, cycle.ErrAlreadyStarted)
	assert.Len(t, mock.StartCalls(), 1)
}

func TestCommands_BeforeStart(t *testing.T) {
	c, _ := newTestController(t, SourcesFrom(remote.NewMockClient()), slowMonitor())
	ctx := context.Background()

	assert.ErrorIs(t, c.Pause(ctx), cycle.ErrNotStarted)
	assert.ErrorIs(t, c.Resume(ctx), cycle.ErrNotStarted)
	assert.ErrorIs(t, c.Stop(ctx), cycle.ErrNotStarted)
}

func TestPauseResume(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)
	ctx := context.Background()

	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, cycle.StatusPaused, c.Status())

	// Already paused: no remote call.
	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, []string{s.ID}, mock.PauseCalls())

	require.NoError(t, c.Resume(ctx))
	require.NoError(t, c.Resume(ctx))
	assert.Equal(t, cycle.StatusRunning, c.Status())
	assert.Len(t, mock.ResumeCalls(), 1)

	assert.Equal(t, []cycle.Status{cycle.StatusRunning, cycle.StatusPaused, cycle.StatusRunning}, rec.Statuses())
}

func TestPause_RetriesTransientFailures(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)
	mock.Fail(remote.OpPause, errNetwork, 2)

	require.NoError(t, c.Pause(context.Background()))
	assert.Equal(t, cycle.StatusPaused, c.Status())
}

func TestPause_RetriesExhausted(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)
	mock.Fail(remote.OpPause, errNetwork, -1)

	err := c.Pause(context.Background())
	require.Error(t, err)
	assert.True(t, cycle.IsTransient(err))
	assert.Equal(t, cycle.StatusRunning, c.Status())
}

func TestPause_ConflictReconciles(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)
	mock.SetStatus(s.ID, cycle.StatusCompleted)

	require.NoError(t, c.Pause(context.Background()))
	assert.Equal(t, cycle.StatusCompleted, c.Status())
	assert.Equal(t, []cycle.FinishReason{cycle.ReasonCompleted}, rec.Finalized())
	assert.True(t, isClosed(c.Done()))
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPause_ConflictWithoutRemoteChangeWarns(t *testing.T) {
	mock := remote.NewMockClient()
	var logs syncBuffer
	log := logging.New()
	log.SetWriter(&logs)

	c, err := New(SourcesFrom(mock), Options{Monitor: slowMonitor(), Logger: log})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	_, err = c.Start(context.Background(), manual(20, 1))
	require.NoError(t, err)

	mock.Fail(remote.OpPause, cycle.Conflict("pause session", "no effect"), 1)

	require.NoError(t, c.Pause(context.Background()))
	assert.Equal(t, cycle.StatusRunning, c.Status())
	assert.False(t, isClosed(c.Done()))
	assert.Contains(t, logs.String(), "still reports the old status")
}

func TestPause_TerminalDuringCommandWins(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, s := started(t, mock)

	// Completion is observed locally while the pause is in flight; the
	// remote still acknowledges the pause.
	mock.Hook(remote.OpPause, func() { c.finalize(cycle.StatusCompleted) })

	require.NoError(t, c.Pause(context.Background()))
	assert.Equal(t, []string{s.ID}, mock.PauseCalls())
	assert.Equal(t, cycle.StatusCompleted, c.Status())
}

func TestStop_IssuesCommandOnce(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))

	assert.Equal(t, []string{s.ID}, mock.StopCalls())
	assert.Equal(t, cycle.StatusStopped, c.Status())
	assert.Equal(t, []cycle.FinishReason{cycle.ReasonStopped}, rec.Finalized())

	out, ok := c.Outcome()
	require.True(t, ok)
	assert.Equal(t, cycle.ReasonStopped, out.Reason)
	assert.False(t, out.EndTime.IsZero())
}

func TestStop_AfterCompletedNeverCallsRemote(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)
	ctx := context.Background()

	mock.SetStatus(s.ID, cycle.StatusCompleted)
	c.reconcile(ctx)
	require.Equal(t, cycle.StatusCompleted, c.Status())

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Stop(ctx))
	}
	assert.Empty(t, mock.StopCalls())
	assert.Equal(t, cycle.StatusCompleted, c.Status())
	assert.Len(t, rec.Finalized(), 1)
}

func TestStop_FinalCheckFindsCompletion(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)

	// The remote finished but no reconciliation has run yet.
	mock.SetStatus(s.ID, cycle.StatusCompleted)

	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, mock.StopCalls())
	assert.Equal(t, cycle.StatusCompleted, c.Status())
	assert.Equal(t, []cycle.FinishReason{cycle.ReasonCompleted}, rec.Finalized())
}

func TestStop_FinalCheckFailureStillStops(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)
	mock.Fail(remote.OpList, errNetwork, 1)

	require.NoError(t, c.Stop(context.Background()))
	assert.Len(t, mock.StopCalls(), 1)
	assert.Equal(t, cycle.StatusStopped, c.Status())
}

func TestStop_ConflictUsesReportedStatus(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)

	// The remote completes between the final check and the stop command.
	mock.Hook(remote.OpStop, func() { mock.SetStatus(s.ID, cycle.StatusCompleted) })

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, cycle.StatusCompleted, c.Status())
	assert.Equal(t, []cycle.FinishReason{cycle.ReasonCompleted}, rec.Finalized())
}

func TestStop_ConflictWithUnknownTruthAssumesCompleted(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)
	mock.Fail(remote.OpList, errNetwork, -1)
	mock.Fail(remote.OpStop, cycle.Conflict("stop session", "no active session"), 1)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, cycle.StatusCompleted, c.Status())
}

func TestStop_TransientExhaustedKeepsStatus(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, _ := started(t, mock)
	mock.Fail(remote.OpStop, errNetwork, -1)

	err := c.Stop(context.Background())
	require.Error(t, err)
	assert.True(t, cycle.IsTransient(err))
	assert.Equal(t, cycle.StatusRunning, c.Status())
	assert.Empty(t, rec.Finalized())

	// Retrying once the remote is back succeeds.
	mock.Fail(remote.OpStop, nil, 0)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, cycle.StatusStopped, c.Status())
}

func TestStop_ConcurrentCallersShareOneCommand(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, _ := started(t, mock)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	mock.Hook(remote.OpStop, func() {
		entered <- struct{}{}
		<-release
	})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Stop(context.Background())
		}()
	}

	<-entered
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, mock.StopCalls(), 1)
	assert.Len(t, rec.Finalized(), 1)
}

func TestStop_RacingReconcileFinalizesOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		mock := remote.NewMockClient()
		c, rec, s := started(t, mock)
		mock.SetStatus(s.ID, cycle.StatusCompleted)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Stop(context.Background()))
		}()
		go func() {
			defer wg.Done()
			c.reconcile(context.Background())
		}()
		wg.Wait()

		assert.Equal(t, cycle.StatusCompleted, c.Status())
		assert.Equal(t, []cycle.FinishReason{cycle.ReasonCompleted}, rec.Finalized())
		assert.Empty(t, mock.StopCalls())
	}
}

func TestReconcile_ConvergesRemoteChange(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)
	ctx := context.Background()

	mock.SetStatus(s.ID, cycle.StatusPaused)
	c.reconcile(ctx)
	assert.Equal(t, cycle.StatusPaused, c.Status())

	mock.SetStatus(s.ID, cycle.StatusRunning)
	c.reconcile(ctx)
	assert.Equal(t, cycle.StatusRunning, c.Status())

	assert.Equal(t, []cycle.Status{cycle.StatusRunning, cycle.StatusPaused, cycle.StatusRunning}, rec.Statuses())
}

func TestReconcile_StaleReadDoesNotUndoCommand(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)

	_, generation, _ := c.view()
	require.True(t, c.ack(cycle.StatusPaused))

	// A read that began before the pause was acknowledged.
	assert.False(t, c.converge(cycle.StatusRunning, generation))
	assert.Equal(t, cycle.StatusPaused, c.Status())
}

func TestReconcile_MissingSessionIsNoop(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, _ := started(t, mock)

	// A failed fetch leaves the status alone.
	mock.Fail(remote.OpList, errNetwork, 1)
	c.reconcile(context.Background())
	assert.Equal(t, cycle.StatusRunning, c.Status())
	assert.Empty(t, rec.Finalized())

	// Session 9 is not in the remote list.
	c2, rec2 := newTestController(t, SourcesFrom(remote.NewMockClient()), slowMonitor())
	require.NoError(t, c2.Attach(context.Background(), cycle.Session{ID: "9", Status: cycle.StatusRunning}, cycle.Program{}))
	c2.reconcile(context.Background())
	assert.Equal(t, cycle.StatusRunning, c2.Status())
	assert.Empty(t, rec2.Finalized())
}

// idlessCommander starts sessions without reporting their id.
type idlessCommander struct {
	*remote.MockClient
}

func (c idlessCommander) Start(ctx context.Context, cfg cycle.StartConfig) (cycle.Session, error) {
	s, err := c.MockClient.Start(ctx, cfg)
	s.ID = ""
	return s, err
}

func TestReconcile_AdoptsMostRecentWithoutID(t *testing.T) {
	mock := remote.NewMockClient()
	mock.AddSession(cycle.Session{ID: "1", Status: cycle.StatusStopped, StartTime: time.Now().Add(-time.Hour)})

	src := SourcesFrom(mock)
	src.Commands = idlessCommander{mock}
	c, _ := newTestController(t, src, slowMonitor())

	_, err := c.Start(context.Background(), manual(20, 1))
	require.NoError(t, err)
	assert.Empty(t, c.Session().ID)

	c.reconcile(context.Background())
	assert.Equal(t, "2", c.Session().ID)
	assert.Equal(t, cycle.StatusRunning, c.Status())
}

func TestTick_ProgressOnlyWhileRunning(t *testing.T) {
	mock := remote.NewMockClient()
	c, _, _ := started(t, mock)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		c.tick(ctx)
	}
	assert.InDelta(t, 50, c.Snapshot().Progress.Percent, 1e-9)

	require.NoError(t, c.Pause(ctx))
	for i := 0; i < 30; i++ {
		c.tick(ctx)
	}
	assert.InDelta(t, 50, c.Snapshot().Progress.Percent, 1e-9)

	require.NoError(t, c.Resume(ctx))
	for i := 0; i < 30; i++ {
		c.tick(ctx)
	}
	snap := c.Snapshot()
	assert.True(t, snap.Progress.Complete)
	assert.Equal(t, 100.0, snap.Progress.Percent)

	// Local completion asks for an early reconcile but does not finish the
	// session.
	require.Eventually(t, func() bool { return mock.ListCalls() > 0 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, cycle.StatusRunning, c.Status())
}

func TestSample_FeedsChart(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, _ := started(t, mock)
	ctx := context.Background()

	// No reading yet.
	c.sample(ctx)
	_, points := rec.counts()
	assert.Zero(t, points)

	now := time.Now()
	mock.SetReading(&cycle.Reading{Pressure: 12.5, Temperature: 80, Timestamp: now})
	c.sample(ctx)

	// Sampling continues while paused.
	require.NoError(t, c.Pause(ctx))
	mock.SetReading(&cycle.Reading{Pressure: 12.7, Temperature: 81, Timestamp: now.Add(time.Second)})
	c.sample(ctx)

	// Empty points are rejected.
	mock.SetReading(&cycle.Reading{Timestamp: now.Add(2 * time.Second)})
	c.sample(ctx)

	snap := c.Snapshot()
	require.Len(t, snap.Points, 2)
	assert.Equal(t, 12.7, snap.Points[1].Pressure)
	require.NotNil(t, snap.Reading)
	assert.Zero(t, snap.Reading.Pressure)

	_, points = rec.counts()
	assert.Equal(t, 2, points)
}

func TestFinalize_NoEventsAfterwards(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, _ := started(t, mock)
	ctx := context.Background()
	mock.SetReading(&cycle.Reading{Pressure: 10, Temperature: 50, Timestamp: time.Now()})

	require.NoError(t, c.Stop(ctx))
	progressBefore, pointsBefore := rec.counts()

	c.tick(ctx)
	c.sample(ctx)
	assert.False(t, c.converge(cycle.StatusRunning, 0))
	assert.False(t, c.finalize(cycle.StatusCompleted))

	progressAfter, pointsAfter := rec.counts()
	assert.Equal(t, progressBefore, progressAfter)
	assert.Equal(t, pointsBefore, pointsAfter)
	assert.Equal(t, cycle.StatusStopped, c.Status())
}

func TestAttach_FastForwardsAndSeedsChart(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock := remote.NewMockClient()
	s := mock.AddSession(cycle.Session{
		ID:        "7",
		Status:    cycle.StatusRunning,
		StartTime: now.Add(-90 * time.Second),
		Steps: []cycle.Step{
			{PSIRange: "5-10", DurationMinutes: 1, Action: cycle.ActionRaise},
			{PSIRange: "10", DurationMinutes: 2, Action: cycle.ActionSteady},
		},
	})
	var logs []cycle.Reading
	for i := 0; i < 70; i++ {
		logs = append(logs, cycle.Reading{Pressure: float64(i + 1), Temperature: 30, Timestamp: now.Add(time.Duration(i-70) * time.Second)})
	}
	mock.SetLogs("7", logs)

	rec := &recorder{}
	c, err := New(SourcesFrom(mock), Options{Monitor: slowMonitor(), Logger: logging.Discard(), Observer: rec, Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Attach(context.Background(), s, cycle.Program{}))

	snap := c.Snapshot()
	assert.Equal(t, cycle.StatusRunning, snap.Status)
	assert.Equal(t, 1, snap.Progress.StepIndex)
	assert.InDelta(t, 25, snap.Progress.Percent, 1e-9)
	require.Len(t, snap.Points, 60)
	assert.Equal(t, 11.0, snap.Points[0].Pressure)
	assert.Equal(t, 70.0, snap.Points[59].Pressure)

	step, ok := snap.Step()
	require.True(t, ok)
	assert.Equal(t, "10", step.PSIRange)
}

func TestAttach_TerminalSessionFinalizes(t *testing.T) {
	mock := remote.NewMockClient()
	end := time.Now()
	s := mock.AddSession(cycle.Session{ID: "3", Status: cycle.StatusStopped, EndTime: &end, ManualTarget: 10, ManualDuration: 5})
	c, rec := newTestController(t, SourcesFrom(mock), slowMonitor())

	require.NoError(t, c.Attach(context.Background(), s, cycle.Program{}))
	assert.True(t, isClosed(c.Done()))
	assert.Equal(t, []cycle.FinishReason{cycle.ReasonStopped}, rec.Finalized())

	out, ok := c.Outcome()
	require.True(t, ok)
	assert.Equal(t, end, out.EndTime)

	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, mock.StopCalls())
}

func TestClose_DetachesWithoutStopping(t *testing.T) {
	mock := remote.NewMockClient()
	c, rec, s := started(t, mock)

	c.Close()
	assert.Equal(t, cycle.StatusRunning, c.Status())
	assert.False(t, isClosed(c.Done()))
	assert.Empty(t, rec.Finalized())
	assert.Empty(t, mock.StopCalls())

	stored, ok := mock.Session(s.ID)
	require.True(t, ok)
	assert.Equal(t, cycle.StatusRunning, stored.Status)
}

func TestController_LiveTasksReachCompletion(t *testing.T) {
	mock := remote.NewMockClient()
	mock.SetReading(&cycle.Reading{Pressure: 20, Temperature: 70, Timestamp: time.Now()})

	m := config.Monitor{
		SampleInterval:    5 * time.Millisecond,
		ReconcileInterval: 20 * time.Millisecond,
		TickInterval:      time.Millisecond,
		ChartCapacity:     10,
		RetryBackoff:      time.Millisecond,
	}
	c, rec := newTestController(t, SourcesFrom(mock), m)

	s, err := c.Start(context.Background(), manual(20, 0.05))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Snapshot().Progress.Complete
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, cycle.StatusRunning, c.Status())

	mock.SetStatus(s.ID, cycle.StatusCompleted)

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not observe remote completion")
	}
	assert.Equal(t, []cycle.FinishReason{cycle.ReasonCompleted}, rec.Finalized())
	assert.LessOrEqual(t, len(c.Snapshot().Points), 10)
}
