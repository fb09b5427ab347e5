package tui

import (
	"context"
	"fmt"
	"io"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/stream"
)

// LinePrinter writes one line per notable event, for terminals that
// cannot host the dashboard and for logs. Chart points print every
// PointEvery samples.
type LinePrinter struct {
	out        io.Writer
	board      *Board
	PointEvery int
	points     int
}

// NewLinePrinter creates a printer seeded from a snapshot.
func NewLinePrinter(out io.Writer, snapshot monitor.Snapshot, lastSeq uint64) *LinePrinter {
	return &LinePrinter{
		out:        out,
		board:      NewBoard(snapshot, lastSeq, 0),
		PointEvery: 10,
	}
}

// Board returns the printer's state.
func (p *LinePrinter) Board() *Board {
	return p.board
}

// Header prints the session summary.
func (p *LinePrinter) Header() {
	b := p.board
	_, total := b.Minutes()
	fmt.Fprintf(p.out, "session %s  %s  %s", b.Session.ID, b.Program.Label(), b.Status)
	if total > 0 {
		fmt.Fprintf(p.out, "  (%s)", FormatMinutes(total))
	}
	fmt.Fprintln(p.out)
}

// Print applies an event and writes its line, if it has one.
func (p *LinePrinter) Print(e *stream.Event) {
	b := p.board
	prevStep := b.StepIndex
	if !b.Apply(e) {
		return
	}

	ts := e.Timestamp.Local().Format("15:04:05")
	switch e.Type {
	case stream.EventTypeStatus:
		fmt.Fprintf(p.out, "%s status %s\n", ts, b.Status)
	case stream.EventTypeProgress:
		if b.StepIndex != prevStep {
			step, _ := b.Step()
			fmt.Fprintf(p.out, "%s step %d/%d %s %s\n", ts, b.StepIndex+1, len(b.Program.Steps), step.PSIRange, step.Action)
		}
	case stream.EventTypeChartPoint:
		p.points++
		if p.PointEvery > 0 && p.points%p.PointEvery == 1%p.PointEvery {
			pt, _ := b.Latest()
			elapsed, total := b.Minutes()
			fmt.Fprintf(p.out, "%s %.1f psi %.1f °C  %s/%s\n", ts, pt.Pressure, pt.Temperature, FormatMinutes(elapsed), FormatMinutes(total))
		}
	case stream.EventTypeFinalized:
		fmt.Fprintf(p.out, "%s %s\n", ts, finishedLine(b))
	}
}

// Follow prints events until the session finishes (ResultFinished) or the
// channel closes or ctx ends (ResultDetached).
func (p *LinePrinter) Follow(ctx context.Context, events <-chan *stream.Event) Result {
	if p.board.Finalized {
		fmt.Fprintln(p.out, finishedLine(p.board))
		return ResultFinished
	}
	for {
		select {
		case <-ctx.Done():
			return ResultDetached
		case e, ok := <-events:
			if !ok {
				return ResultDetached
			}
			p.Print(e)
			if p.board.Finalized {
				return ResultFinished
			}
		}
	}
}

// Reason returns the finish reason once finalized.
func (p *LinePrinter) Reason() cycle.FinishReason {
	return p.board.Reason
}
