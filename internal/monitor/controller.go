package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/progress"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/series"
)

// Sources are the remote interfaces a Controller consumes. History is
// optional and only used to seed the chart when attaching.
type Sources struct {
	Readings remote.ReadingSource
	Sessions remote.SessionSource
	Commands remote.Commander
	History  remote.HistorySource
}

// SourcesFrom uses one client for every source.
func SourcesFrom(c remote.Client) Sources {
	return Sources{Readings: c, Sessions: c, Commands: c, History: c}
}

// Options holds configuration for creating a Controller.
type Options struct {
	// Monitor sets task intervals, chart capacity and command retries.
	// Zero fields take their defaults.
	Monitor  config.Monitor
	Logger   *logging.Logger
	Observer Observer
	// Now is the clock used for end times and attach fast-forward.
	Now func() time.Time
}

// Outcome describes how a session finished.
type Outcome struct {
	Status  cycle.Status       `json:"status"`
	Reason  cycle.FinishReason `json:"reason"`
	EndTime time.Time          `json:"end_time"`
}

// Snapshot is a consistent copy of the controller state for display.
type Snapshot struct {
	Status         cycle.Status        `json:"status"`
	Session        cycle.Session       `json:"session"`
	Program        cycle.Program       `json:"program"`
	Progress       cycle.ProgressState `json:"progress"`
	ElapsedMinutes float64             `json:"elapsed_minutes"`
	TotalMinutes   float64             `json:"total_minutes"`
	Reading        *cycle.Reading      `json:"reading,omitempty"`
	Points         []cycle.ChartPoint  `json:"points"`
	Reason         cycle.FinishReason  `json:"reason,omitempty"`
}

// Step returns the current step, if the program has any.
func (s Snapshot) Step() (cycle.Step, bool) {
	if s.Progress.StepIndex < 0 || s.Progress.StepIndex >= len(s.Program.Steps) {
		return cycle.Step{}, false
	}
	return s.Program.Steps[s.Progress.StepIndex], true
}

type stopCall struct {
	done chan struct{}
	err  error
}

// Controller is the session state machine:
//
//	Idle -> Running <-> Paused -> {Completed, Stopped}
//
// A Controller drives at most one session.
type Controller struct {
	src        Sources
	cfg        config.Monitor
	log        *logging.Logger
	observer   Observer
	now        func() time.Time
	reconciler *Reconciler
	buffer     *series.Buffer

	mu         sync.Mutex
	started    bool
	closed     bool
	status     cycle.Status
	session    cycle.Session
	program    cycle.Program
	engine     *progress.Engine
	reading    *cycle.Reading
	generation uint64
	reason     cycle.FinishReason
	stopping   *stopCall
	cancel     context.CancelFunc

	// notifyMu orders observer callbacks so nothing is emitted after the
	// finalization events.
	notifyMu sync.Mutex
	wg       sync.WaitGroup
	done     chan struct{}
	nudge    chan struct{}
}

// New creates an idle Controller.
func New(src Sources, opts Options) (*Controller, error) {
	if src.Readings == nil || src.Sessions == nil || src.Commands == nil {
		return nil, cycle.FatalConfig("monitor", "readings, sessions and commands sources are required")
	}

	cfg := withDefaults(opts.Monitor)
	log := opts.Logger
	if log == nil {
		log = logging.With("component", "monitor")
	}
	observer := opts.Observer
	if observer == nil {
		observer = ObserverFuncs{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		src:      src,
		cfg:      cfg,
		log:      log,
		observer: observer,
		now:      now,
		buffer:   series.New(cfg.ChartCapacity),
		status:   cycle.StatusIdle,
		done:     make(chan struct{}),
		nudge:    make(chan struct{}, 1),
	}
	c.reconciler = newReconciler(src.Sessions, c, log)
	return c, nil
}

func withDefaults(m config.Monitor) config.Monitor {
	def := config.DefaultMonitor()
	if m.SampleInterval <= 0 {
		m.SampleInterval = def.SampleInterval
	}
	if m.ReconcileInterval <= 0 {
		m.ReconcileInterval = def.ReconcileInterval
	}
	if m.TickInterval <= 0 {
		m.TickInterval = def.TickInterval
	}
	if m.ChartCapacity <= 0 {
		m.ChartCapacity = def.ChartCapacity
	}
	if m.CommandRetries < 0 {
		m.CommandRetries = 0
	}
	if m.RetryBackoff <= 0 {
		m.RetryBackoff = def.RetryBackoff
	}
	return m
}

// Start requests a new remote session and begins monitoring it. Invalid
// configurations are rejected before anything is sent. On failure the
// controller stays idle and may be started again.
func (c *Controller) Start(ctx context.Context, cfg cycle.StartConfig) (cycle.Session, error) {
	if err := cfg.Validate(); err != nil {
		return cycle.Session{}, err
	}
	program := cfg.Resolved()
	engine, err := progress.New(program.Steps)
	if err != nil {
		return cycle.Session{}, err
	}
	if err := c.reserve("start session"); err != nil {
		return cycle.Session{}, err
	}

	// Not retried: a lost acknowledgement must not create a second session.
	session, err := c.src.Commands.Start(ctx, cfg)
	if err != nil {
		c.release()
		c.log.Warn("start failed", "program", program.Name, "error", err)
		return cycle.Session{}, err
	}
	session.Status = cycle.StatusRunning
	if session.StartTime.IsZero() {
		session.StartTime = c.now()
	}

	c.log.Info("session started", "session", session.ID, "program", program.Name, "steps", len(program.Steps))
	c.begin(session, program, engine)
	return session, nil
}

// Attach adopts a session that already exists remotely. The progress
// estimate is fast-forwarded by the time elapsed since the session started
// and the chart is seeded from the recorded readings when a history source
// is available. If program has no steps the session's stored program is
// used. Attaching to a finished session finalizes immediately.
func (c *Controller) Attach(ctx context.Context, s cycle.Session, program cycle.Program) error {
	if s.ID == "" {
		return cycle.Validation("attach session", "session id is required")
	}
	if len(program.Steps) == 0 {
		program = s.Program()
	}
	var engine *progress.Engine
	if len(program.Steps) > 0 {
		e, err := progress.New(program.Steps)
		if err != nil {
			return err
		}
		engine = e
	}
	if err := c.reserve("attach session"); err != nil {
		return err
	}

	c.seedHistory(ctx, s.ID)

	if s.Status.IsTerminal() {
		c.mu.Lock()
		c.session = s
		c.program = program
		c.engine = engine
		c.mu.Unlock()
		c.finalize(s.Status)
		return nil
	}

	if engine != nil && !s.StartTime.IsZero() {
		if elapsed := int(c.now().Sub(s.StartTime).Seconds()); elapsed > 0 {
			engine.Skip(elapsed)
		}
	}
	if !s.Status.IsActive() {
		c.log.Warn("attaching to session with unexpected status", "session", s.ID, "status", s.Status)
		s.Status = cycle.StatusRunning
	}

	c.log.Info("attached to session", "session", s.ID, "status", s.Status, "program", program.Name)
	c.begin(s, program, engine)
	return nil
}

func (c *Controller) reserve(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return &cycle.Error{Kind: cycle.KindValidation, Op: op, Message: "controller already drives a session", Err: cycle.ErrAlreadyStarted}
	}
	c.started = true
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// seedHistory fills the chart with the last readings recorded for id.
func (c *Controller) seedHistory(ctx context.Context, id string) {
	if c.src.History == nil {
		return
	}
	readings, err := c.src.History.Logs(ctx, id)
	if err != nil {
		c.log.Debug("could not load session history", "session", id, "error", err)
		return
	}
	if len(readings) == 0 {
		return
	}
	if n := len(readings) - c.buffer.Cap(); n > 0 {
		readings = readings[n:]
	}
	for _, r := range readings {
		c.buffer.Push(r.Point())
	}
	last := readings[len(readings)-1]
	c.mu.Lock()
	c.reading = &last
	c.mu.Unlock()
}

// begin records the session and launches the periodic tasks.
func (c *Controller) begin(s cycle.Session, program cycle.Program, engine *progress.Engine) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.session = s
	c.program = program
	c.engine = engine
	c.status = s.Status
	c.cancel = cancel
	closed := c.closed
	c.mu.Unlock()
	if closed {
		cancel()
	}

	c.notifyLive(func(o Observer) {
		o.OnStatusChange(s.Status)
		if engine != nil {
			st := engine.State()
			o.OnProgress(st.StepIndex, st.Percent)
		}
	})

	c.wg.Add(3)
	go c.loop(ctx, c.cfg.SampleInterval, nil, c.sample)
	go c.loop(ctx, c.cfg.TickInterval, nil, c.tick)
	go c.loop(ctx, c.cfg.ReconcileInterval, c.nudge, c.reconcile)
}

// loop runs fn on every tick until ctx is cancelled. A tick runs to
// completion before the next is read.
func (c *Controller) loop(ctx context.Context, interval time.Duration, wake <-chan struct{}, fn func(context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}
}

// sample reads the latest sensor value into the chart.
func (c *Controller) sample(ctx context.Context) {
	r, err := c.src.Readings.Latest(ctx)
	if errors.Is(err, remote.ErrNoReading) {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			c.log.Debug("sample failed", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.reading = &r
	c.mu.Unlock()

	point := r.Point()
	if point.Time.IsZero() {
		point.Time = c.now()
	}
	if !c.buffer.Push(point) {
		return
	}
	c.notifyLive(func(o Observer) { o.OnChartPoint(point) })
}

// tick advances the progress estimate by one second of running time.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	if c.status != cycle.StatusRunning || c.engine == nil {
		c.mu.Unlock()
		return
	}
	u := c.engine.Tick()
	c.mu.Unlock()

	if !u.Changed {
		return
	}
	c.notifyLive(func(o Observer) { o.OnProgress(u.State.StepIndex, u.State.Percent) })

	switch {
	case u.Completed:
		// Only the remote decides the session is done.
		c.log.Info("program time elapsed, confirming with remote")
		c.requestReconcile()
	case u.Advanced:
		c.log.Info("step advanced", "step", u.State.StepIndex+1)
	}
}

func (c *Controller) reconcile(ctx context.Context) {
	if err := c.reconciler.Reconcile(ctx); err != nil && ctx.Err() == nil {
		c.log.Debug("reconcile failed", "error", err)
	}
}

func (c *Controller) requestReconcile() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Pause asks the remote to pause the session. Pausing a paused or finished
// session does nothing.
func (c *Controller) Pause(ctx context.Context) error {
	return c.toggle(ctx, "pause session", cycle.StatusPaused, c.src.Commands.Pause)
}

// Resume asks the remote to resume a paused session. Resuming a running or
// finished session does nothing.
func (c *Controller) Resume(ctx context.Context) error {
	return c.toggle(ctx, "resume session", cycle.StatusRunning, c.src.Commands.Resume)
}

func (c *Controller) toggle(ctx context.Context, op string, to cycle.Status, send func(context.Context, string) error) error {
	c.mu.Lock()
	status, id := c.status, c.session.ID
	c.mu.Unlock()

	switch {
	case status == cycle.StatusIdle:
		return cycle.ErrNotStarted
	case status == to || status.IsTerminal():
		return nil
	}

	err := c.retry(ctx, op, func() error { return send(ctx, id) })
	switch {
	case err == nil:
		c.ack(to)
		return nil
	case cycle.IsConflict(err):
		c.log.Info("command had no effect, reconciling", "op", op, "error", err)
		c.reconcile(ctx)
		if now := c.Status(); now != to && !now.IsTerminal() {
			c.log.Warn("remote rejected command and still reports the old status",
				"op", op, "status", now, "error", err)
		}
		return nil
	default:
		return err
	}
}

// Stop ends the session. It re-checks the remote first so a session that
// already finished is never stopped, and it is safe to call repeatedly or
// concurrently: callers share one in-flight stop.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	if c.status == cycle.StatusIdle {
		c.mu.Unlock()
		return cycle.ErrNotStarted
	}
	if call := c.stopping; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &stopCall{done: make(chan struct{})}
	c.stopping = call
	c.mu.Unlock()

	call.err = c.stop(ctx)

	c.mu.Lock()
	c.stopping = nil
	c.mu.Unlock()
	close(call.done)
	return call.err
}

func (c *Controller) stop(ctx context.Context) error {
	id := c.sessionID()

	s, ok, err := c.reconciler.fetch(ctx, id)
	switch {
	case err != nil:
		c.log.Debug("final status check failed, stopping anyway", "error", err)
	case ok && s.Status.IsTerminal():
		c.finalize(s.Status)
		return nil
	}
	if c.isTerminal() {
		return nil
	}
	id = c.sessionID()

	var reported cycle.Status
	err = c.retry(ctx, "stop session", func() error {
		var err error
		reported, err = c.src.Commands.Stop(ctx, id)
		return err
	})
	switch {
	case err == nil:
		if !reported.IsTerminal() {
			reported = cycle.StatusStopped
		}
		c.finalize(reported)
	case cycle.IsConflict(err):
		c.finalize(c.resolveConflict(ctx, id, reported))
	default:
		return err
	}
	return nil
}

// resolveConflict determines the terminal status after a stop had no
// effect. When the truth cannot be read the session is taken as completed.
func (c *Controller) resolveConflict(ctx context.Context, id string, reported cycle.Status) cycle.Status {
	if reported.IsTerminal() {
		return reported
	}
	if s, ok, err := c.reconciler.fetch(ctx, id); err == nil && ok && s.Status.IsTerminal() {
		return s.Status
	}
	c.log.Warn("stop had no effect and remote status is unavailable, assuming completed", "session", id)
	return cycle.StatusCompleted
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// the configured retries are used up.
func (c *Controller) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.cfg.CommandRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
			}
		}
		err = fn()
		if err == nil || !cycle.IsTransient(err) {
			return err
		}
		c.log.Debug("command failed", "op", op, "attempt", attempt+1, "error", err)
	}
	c.log.Warn("command failed after retries", "op", op, "attempts", c.cfg.CommandRetries+1, "error", err)
	return err
}

// ack applies an acknowledged pause or resume. A terminal status that
// landed while the command was in flight is kept.
func (c *Controller) ack(status cycle.Status) bool {
	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return false
	}
	c.generation++
	changed := c.status != status
	c.status = status
	c.session.Status = status
	c.mu.Unlock()

	if changed {
		c.log.Info("status changed", "status", status)
		c.notifyLive(func(o Observer) { o.OnStatusChange(status) })
	}
	return true
}

func (c *Controller) view() (string, uint64, cycle.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID, c.generation, c.status
}

func (c *Controller) adopt(s cycle.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID != "" {
		return
	}
	c.session.ID = s.ID
	if !s.StartTime.IsZero() {
		c.session.StartTime = s.StartTime
	}
}

func (c *Controller) converge(status cycle.Status, generation uint64) bool {
	c.mu.Lock()
	if c.status.IsTerminal() || c.generation != generation || c.status == status {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.session.Status = status
	c.mu.Unlock()

	c.notifyLive(func(o Observer) { o.OnStatusChange(status) })
	return true
}

// finalize is the single path into a terminal status. It returns false if
// the session already finished. Tasks are cancelled before observers hear
// about the transition.
func (c *Controller) finalize(status cycle.Status) bool {
	if !status.IsTerminal() {
		return false
	}

	c.mu.Lock()
	if c.status.IsTerminal() {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.session.Status = status
	if c.session.EndTime == nil {
		end := c.now()
		c.session.EndTime = &end
	}
	c.reason = cycle.ReasonFor(status)
	c.generation++
	reason, id, cancel := c.reason, c.session.ID, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.notify(func(o Observer) {
		o.OnStatusChange(status)
		o.OnFinalized(reason)
	})
	close(c.done)

	c.log.Info("session finished", "session", id, "status", status)
	return true
}

func (c *Controller) notify(fn func(Observer)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	fn(c.observer)
}

// notifyLive emits only while the session has not finished.
func (c *Controller) notifyLive(fn func(Observer)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.isTerminal() {
		return
	}
	fn(c.observer)
}

func (c *Controller) isTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.IsTerminal()
}

func (c *Controller) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

// Status returns the operator-visible status.
func (c *Controller) Status() cycle.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns the cached copy of the session.
func (c *Controller) Session() cycle.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Done is closed when the session reaches a terminal status.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Outcome reports how the session finished. The second value is false
// while the session is still active.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.IsTerminal() {
		return Outcome{}, false
	}
	o := Outcome{Status: c.status, Reason: c.reason}
	if c.session.EndTime != nil {
		o.EndTime = *c.session.EndTime
	}
	return o, true
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Status:  c.status,
		Session: c.session,
		Program: c.program,
		Points:  c.buffer.Points(),
		Reason:  c.reason,
	}
	if c.engine != nil {
		s.Progress = c.engine.State()
		s.ElapsedMinutes, s.TotalMinutes = c.engine.Minutes()
	}
	if c.reading != nil {
		r := *c.reading
		s.Reading = &r
	}
	return s
}

// Close stops the periodic tasks without finishing the session, leaving
// the remote process running.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
