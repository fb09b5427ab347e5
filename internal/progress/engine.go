// Package progress estimates how far a session has advanced through its
// program. The estimate is purely time-driven: each tick represents one
// second of running time and sensor readings play no part in it.
package progress

import (
	"fmt"
	"sync"

	"github.com/thruflo/clave/internal/cycle"
)

// Update describes the effect of a tick.
type Update struct {
	State cycle.ProgressState
	// Changed is false once the program is complete and further ticks are
	// ignored.
	Changed bool
	// Advanced is true when the tick rolled over into the next step.
	Advanced bool
	// Completed is true on the tick that finished the last step.
	Completed bool
}

// Engine converts elapsed ticks into step and program completion.
//
// Each step lasts Step.Seconds() ticks and its percentage grows by
// 100/(duration_minutes*60) per tick. Counting whole ticks rather than
// accumulating the float increment keeps a one-minute step at exactly 100
// after sixty ticks. Overshoot is discarded on rollover.
type Engine struct {
	mu        sync.Mutex
	steps     []cycle.Step
	stepTicks []int
	index     int
	ticks     int
	complete  bool
}

// New creates an Engine for the given steps. Every step must have a
// positive duration.
func New(steps []cycle.Step) (*Engine, error) {
	if len(steps) == 0 {
		return nil, cycle.FatalConfig("progress", "program has no steps")
	}
	stepTicks := make([]int, len(steps))
	for i, s := range steps {
		if s.DurationMinutes <= 0 {
			return nil, cycle.Validation("progress", fmt.Sprintf("step %d duration must be positive", i+1))
		}
		stepTicks[i] = s.Seconds()
	}
	return &Engine{
		steps:     append([]cycle.Step(nil), steps...),
		stepTicks: stepTicks,
	}, nil
}

// Tick advances the estimate by one second.
func (e *Engine) Tick() Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick()
}

func (e *Engine) tick() Update {
	if e.complete {
		return Update{State: e.state()}
	}

	u := Update{Changed: true}
	e.ticks++
	if e.ticks >= e.stepTicks[e.index] {
		if e.index < len(e.steps)-1 {
			e.index++
			e.ticks = 0
			u.Advanced = true
		} else {
			e.ticks = e.stepTicks[e.index]
			e.complete = true
			u.Completed = true
		}
	}
	u.State = e.state()
	return u
}

// Skip applies n ticks at once, used to fast-forward when attaching to a
// session that is already under way. The returned update reports whether
// any step was advanced or the program completed along the way.
func (e *Engine) Skip(n int) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out Update
	for i := 0; i < n && !e.complete; i++ {
		u := e.tick()
		out.Changed = out.Changed || u.Changed
		out.Advanced = out.Advanced || u.Advanced
		out.Completed = out.Completed || u.Completed
	}
	out.State = e.state()
	return out
}

// State returns the current estimate.
func (e *Engine) State() cycle.ProgressState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state()
}

func (e *Engine) state() cycle.ProgressState {
	pct := float64(e.ticks) * 100 / float64(e.stepTicks[e.index])
	if pct > 100 {
		pct = 100
	}
	return cycle.ProgressState{StepIndex: e.index, Percent: pct, Complete: e.complete}
}

// Reset returns the estimate to the start of the first step.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = 0
	e.ticks = 0
	e.complete = false
}

// Steps returns a copy of the program steps.
func (e *Engine) Steps() []cycle.Step {
	return append([]cycle.Step(nil), e.steps...)
}

// Current returns the step the estimate is in.
func (e *Engine) Current() cycle.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps[e.index]
}

// Minutes returns the elapsed and total minutes of the current step.
func (e *Engine) Minutes() (elapsed, total float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.ticks) / 60, e.steps[e.index].DurationMinutes
}
