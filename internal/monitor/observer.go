package monitor

import (
	"github.com/thruflo/clave/internal/cycle"
)

// Observer receives controller events. Callbacks run on the controller's
// task goroutines, one at a time, and must not block or call back into the
// controller's commands.
type Observer interface {
	OnStatusChange(status cycle.Status)
	OnProgress(stepIndex int, percent float64)
	OnChartPoint(point cycle.ChartPoint)
	OnFinalized(reason cycle.FinishReason)
}

// ObserverFuncs adapts optional functions to an Observer. Nil fields are
// ignored.
type ObserverFuncs struct {
	StatusChange func(cycle.Status)
	Progress     func(stepIndex int, percent float64)
	ChartPoint   func(cycle.ChartPoint)
	Finalized    func(cycle.FinishReason)
}

func (f ObserverFuncs) OnStatusChange(status cycle.Status) {
	if f.StatusChange != nil {
		f.StatusChange(status)
	}
}

func (f ObserverFuncs) OnProgress(stepIndex int, percent float64) {
	if f.Progress != nil {
		f.Progress(stepIndex, percent)
	}
}

func (f ObserverFuncs) OnChartPoint(point cycle.ChartPoint) {
	if f.ChartPoint != nil {
		f.ChartPoint(point)
	}
}

func (f ObserverFuncs) OnFinalized(reason cycle.FinishReason) {
	if f.Finalized != nil {
		f.Finalized(reason)
	}
}

// MultiObserver fans each event out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnStatusChange(status cycle.Status) {
	for _, o := range m {
		o.OnStatusChange(status)
	}
}

func (m MultiObserver) OnProgress(stepIndex int, percent float64) {
	for _, o := range m {
		o.OnProgress(stepIndex, percent)
	}
}

func (m MultiObserver) OnChartPoint(point cycle.ChartPoint) {
	for _, o := range m {
		o.OnChartPoint(point)
	}
}

func (m MultiObserver) OnFinalized(reason cycle.FinishReason) {
	for _, o := range m {
		o.OnFinalized(reason)
	}
}
