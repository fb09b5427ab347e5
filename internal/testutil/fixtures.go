package testutil

import (
	"time"

	"github.com/thruflo/clave/internal/cycle"
)

// SamplePrograms returns a small program catalog. Each call returns fresh
// slices.
func SamplePrograms() []cycle.Program {
	return []cycle.Program{
		{
			ID:     "1",
			Number: 1,
			Name:   "Quick test",
			Steps: []cycle.Step{
				{PSIRange: "0-5", DurationMinutes: 1, Action: cycle.ActionRaise},
				{PSIRange: "5", DurationMinutes: 2, Action: cycle.ActionSteady},
			},
		},
		{
			ID:     "2",
			Number: 2,
			Name:   "Wrapped instruments",
			Steps: []cycle.Step{
				{PSIRange: "0-15", DurationMinutes: 10, Action: cycle.ActionRaise},
				{PSIRange: "15", DurationMinutes: 30, Action: cycle.ActionSteady},
				{PSIRange: "15-0", DurationMinutes: 10, Action: cycle.ActionRaise},
			},
		},
	}
}

// ShortProgram is a single-step program that finishes after a few
// one-second ticks.
func ShortProgram() cycle.Program {
	return cycle.Program{
		ID:   "short",
		Name: "Short",
		Steps: []cycle.Step{
			{PSIRange: "10", DurationMinutes: 0.05, Action: cycle.ActionSteady},
		},
	}
}

// SampleManual is a manual run holding 15 psi for 30 minutes.
func SampleManual() cycle.StartConfig {
	return cycle.StartConfig{
		Manual: &cycle.ManualConfig{TargetPressure: 15, DurationMinutes: 30},
	}
}

// SampleSessions returns one session of each status, started one hour
// apart before now.
func SampleSessions(now time.Time) []cycle.Session {
	ended := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}
	return []cycle.Session{
		{ID: "1", Status: cycle.StatusCompleted, StartTime: now.Add(-4 * time.Hour), EndTime: ended(3 * time.Hour), ProgramRef: "2", ProgramName: "Wrapped instruments"},
		{ID: "2", Status: cycle.StatusStopped, StartTime: now.Add(-3 * time.Hour), EndTime: ended(150 * time.Minute), ProgramName: cycle.ManualProgramName, ManualTarget: 12, ManualDuration: 20},
		{ID: "3", Status: cycle.StatusRunning, StartTime: now.Add(-10 * time.Minute), ProgramRef: "1", ProgramName: "Quick test"},
	}
}

// SampleReadings returns n readings spaced interval apart from start, with
// pressure rising by one psi per reading.
func SampleReadings(start time.Time, n int, interval time.Duration) []cycle.Reading {
	readings := make([]cycle.Reading, n)
	for i := range readings {
		readings[i] = cycle.Reading{
			Pressure:    float64(i + 1),
			Temperature: 100 + float64(i)/2,
			Timestamp:   start.Add(time.Duration(i) * interval),
		}
	}
	return readings
}
