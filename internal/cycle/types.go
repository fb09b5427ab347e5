package cycle

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ManualProgramName is the program name reported for manual sessions.
const ManualProgramName = "Manual Control"

// Step actions used by stored programs.
const (
	ActionRaise  = "raise"
	ActionSteady = "steady"
)

// Step is one stage of a program: hold or ramp to a pressure range for a
// number of minutes.
type Step struct {
	PSIRange        string  `json:"psi_range" yaml:"psi_range"`
	DurationMinutes float64 `json:"duration_minutes" yaml:"duration_minutes"`
	Action          string  `json:"action" yaml:"action"`
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// TargetPressure returns the pressure a step aims for. A range such as
// "5-10" yields its midpoint; otherwise the first number in the string is
// used ("Steady at 40" is 40). Unparsable ranges yield 0.
func (s Step) TargetPressure() float64 {
	if parts := strings.Split(s.PSIRange, "-"); len(parts) == 2 {
		low, errLow := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		high, errHigh := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLow == nil && errHigh == nil {
			return (low + high) / 2
		}
	}
	if m := numberPattern.FindString(s.PSIRange); m != "" {
		v, err := strconv.ParseFloat(m, 64)
		if err == nil {
			return v
		}
	}
	return 0
}

// Seconds is the step duration in whole progress ticks of one second,
// rounded up so a fractional minute never finishes early.
func (s Step) Seconds() int {
	n := int(math.Ceil(s.DurationMinutes*60 - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

// Program is a stored multi-step process recipe.
type Program struct {
	ID          string `json:"id" yaml:"id"`
	Number      int    `json:"program_number,omitempty" yaml:"number,omitempty"`
	Name        string `json:"program_name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// TotalMinutes sums the durations of all steps.
func (p Program) TotalMinutes() float64 {
	var total float64
	for _, s := range p.Steps {
		total += s.DurationMinutes
	}
	return total
}

// Label returns "P01 Name" when the program has a number, else the name.
func (p Program) Label() string {
	if p.Number > 0 {
		return fmt.Sprintf("P%02d %s", p.Number, p.Name)
	}
	return p.Name
}

// ManualConfig is a single-target run configured by the operator.
type ManualConfig struct {
	TargetPressure  float64 `json:"target_pressure"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Program synthesizes the single steady step a manual run executes.
func (m ManualConfig) Program() Program {
	return Program{
		Name: ManualProgramName,
		Steps: []Step{{
			PSIRange:        strconv.FormatFloat(m.TargetPressure, 'f', -1, 64),
			DurationMinutes: m.DurationMinutes,
			Action:          ActionSteady,
		}},
	}
}

// StartConfig selects what a new session runs. Exactly one of Program or
// Manual must be set.
type StartConfig struct {
	Program *Program
	Manual  *ManualConfig
}

// Validate checks the configuration before any remote call is made.
func (c StartConfig) Validate() error {
	const op = "validate start config"
	switch {
	case c.Program == nil && c.Manual == nil:
		return FatalConfig(op, "no program or manual configuration given")
	case c.Program != nil && c.Manual != nil:
		return Validation(op, "program and manual configuration are mutually exclusive")
	case c.Manual != nil:
		if c.Manual.TargetPressure <= 0 {
			return Validation(op, "target pressure must be positive")
		}
		if c.Manual.DurationMinutes <= 0 {
			return Validation(op, "duration must be positive")
		}
		return nil
	}

	if len(c.Program.Steps) == 0 {
		return FatalConfig(op, fmt.Sprintf("program %q has no steps", c.Program.Name))
	}
	for i, s := range c.Program.Steps {
		if s.DurationMinutes <= 0 {
			return Validation(op, fmt.Sprintf("step %d duration must be positive", i+1))
		}
	}
	return nil
}

// Resolved returns the program the session executes, synthesizing one for
// manual runs.
func (c StartConfig) Resolved() Program {
	if c.Manual != nil {
		return c.Manual.Program()
	}
	if c.Program != nil {
		return *c.Program
	}
	return Program{}
}

// Session is the client's cached copy of a remote process session.
type Session struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	ProgramRef     string     `json:"program_ref,omitempty"`
	ProgramName    string     `json:"program_name,omitempty"`
	ManualTarget   float64    `json:"manual_target,omitempty"`
	ManualDuration float64    `json:"manual_duration,omitempty"`
	Steps          []Step     `json:"steps,omitempty"`
}

// Program reconstructs the program a session runs from the data the remote
// stores with it. Sessions without steps but with a manual target become a
// single steady step.
func (s Session) Program() Program {
	if len(s.Steps) > 0 {
		return Program{ID: s.ProgramRef, Name: s.ProgramName, Steps: s.Steps}
	}
	if s.ManualTarget > 0 && s.ManualDuration > 0 {
		p := ManualConfig{TargetPressure: s.ManualTarget, DurationMinutes: s.ManualDuration}.Program()
		if s.ProgramName != "" {
			p.Name = s.ProgramName
		}
		return p
	}
	return Program{ID: s.ProgramRef, Name: s.ProgramName}
}

// Reading is the latest instantaneous sensor sample.
type Reading struct {
	Pressure    float64   `json:"pressure"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// Point converts a reading into a chart point.
func (r Reading) Point() ChartPoint {
	return ChartPoint{Time: r.Timestamp, Pressure: r.Pressure, Temperature: r.Temperature}
}

// ChartPoint is one sample in the live chart window.
type ChartPoint struct {
	Time        time.Time `json:"time"`
	Pressure    float64   `json:"pressure"`
	Temperature float64   `json:"temperature"`
}

// Label formats the point's time for a chart axis.
func (p ChartPoint) Label() string {
	return p.Time.Local().Format("15:04:05")
}

// Empty reports whether the point carries no signal, which is how the
// remote reports "no reading yet".
func (p ChartPoint) Empty() bool {
	return p.Pressure <= 0 && p.Temperature <= 0
}

// ProgressState is the estimated position within a program.
type ProgressState struct {
	StepIndex int     `json:"step_index"`
	Percent   float64 `json:"percent"`
	Complete  bool    `json:"complete"`
}
