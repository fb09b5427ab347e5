package tui

import (
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/series"
	"github.com/thruflo/clave/internal/stream"
)

// Board is the dashboard's copy of a session: seeded from a snapshot and
// kept current by events.
type Board struct {
	Status    cycle.Status
	Session   cycle.Session
	Program   cycle.Program
	StepIndex int
	Percent   float64
	Complete  bool
	Reason    cycle.FinishReason
	Finalized bool

	// LastSeq is the newest event applied. Older events are ignored.
	LastSeq uint64

	points *series.Buffer
}

// NewBoard seeds a board from a snapshot. lastSeq is the event sequence the
// snapshot reflects (0 if unknown).
func NewBoard(s monitor.Snapshot, lastSeq uint64, capacity int) *Board {
	b := &Board{
		Status:    s.Status,
		Session:   s.Session,
		Program:   s.Program,
		StepIndex: s.Progress.StepIndex,
		Percent:   s.Progress.Percent,
		Complete:  s.Progress.Complete,
		Reason:    s.Reason,
		Finalized: s.Status.IsTerminal(),
		LastSeq:   lastSeq,
		points:    series.New(capacity),
	}
	for _, p := range s.Points {
		b.points.Push(p)
	}
	return b
}

// Apply folds an event into the board and reports whether it was used.
func (b *Board) Apply(e *stream.Event) bool {
	if e.Seq != 0 && e.Seq <= b.LastSeq {
		return false
	}

	switch e.Type {
	case stream.EventTypeStatus:
		d, err := e.StatusData()
		if err != nil {
			return false
		}
		b.Status = d.Status
	case stream.EventTypeProgress:
		d, err := e.ProgressData()
		if err != nil {
			return false
		}
		b.StepIndex, b.Percent = d.StepIndex, d.Percent
		b.Complete = d.StepIndex == len(b.Program.Steps)-1 && d.Percent >= 100
	case stream.EventTypeChartPoint:
		p, err := e.ChartPointData()
		if err != nil {
			return false
		}
		b.points.Push(*p)
	case stream.EventTypeFinalized:
		d, err := e.FinalizedData()
		if err != nil {
			return false
		}
		b.Reason = d.Reason
		b.Finalized = true
	default:
		return false
	}

	if e.Seq != 0 {
		b.LastSeq = e.Seq
	}
	return true
}

// Step returns the current program step.
func (b *Board) Step() (cycle.Step, bool) {
	if b.StepIndex < 0 || b.StepIndex >= len(b.Program.Steps) {
		return cycle.Step{}, false
	}
	return b.Program.Steps[b.StepIndex], true
}

// Minutes returns the elapsed and total program minutes implied by the
// current step and its percentage.
func (b *Board) Minutes() (elapsed, total float64) {
	for i, s := range b.Program.Steps {
		total += s.DurationMinutes
		switch {
		case i < b.StepIndex:
			elapsed += s.DurationMinutes
		case i == b.StepIndex:
			elapsed += s.DurationMinutes * min(b.Percent, 100) / 100
		}
	}
	return elapsed, total
}

// Overall returns whole-program progress in [0, 1].
func (b *Board) Overall() float64 {
	elapsed, total := b.Minutes()
	if total <= 0 {
		return 0
	}
	return min(elapsed/total, 1)
}

// Points returns the chart contents, oldest first.
func (b *Board) Points() []cycle.ChartPoint {
	return b.points.Points()
}

// Latest returns the newest chart point.
func (b *Board) Latest() (cycle.ChartPoint, bool) {
	return b.points.Last()
}
