package cli

import "github.com/thruflo/clave/internal/cycle"

// samplePrograms is the catalog of the simulated autoclave used by
// 'clave start --mock'.
func samplePrograms() []cycle.Program {
	return []cycle.Program{
		{
			ID:          "1",
			Number:      1,
			Name:        "Quick test",
			Description: "Short ramp and hold for checking the setup",
			Steps: []cycle.Step{
				{PSIRange: "0-5", DurationMinutes: 1, Action: cycle.ActionRaise},
				{PSIRange: "5", DurationMinutes: 2, Action: cycle.ActionSteady},
			},
		},
		{
			ID:          "2",
			Number:      2,
			Name:        "Wrapped instruments",
			Description: "Standard cycle for wrapped loads",
			Steps: []cycle.Step{
				{PSIRange: "0-15", DurationMinutes: 10, Action: cycle.ActionRaise},
				{PSIRange: "15", DurationMinutes: 30, Action: cycle.ActionSteady},
				{PSIRange: "15-0", DurationMinutes: 10, Action: cycle.ActionRaise},
			},
		},
		{
			ID:          "3",
			Number:      3,
			Name:        "Liquids",
			Description: "Slow exhaust for liquid loads",
			Steps: []cycle.Step{
				{PSIRange: "0-15", DurationMinutes: 15, Action: cycle.ActionRaise},
				{PSIRange: "15", DurationMinutes: 20, Action: cycle.ActionSteady},
				{PSIRange: "15-0", DurationMinutes: 25, Action: cycle.ActionRaise},
			},
		},
	}
}
