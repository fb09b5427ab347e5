package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thruflo/clave/internal/cycle"
)

// flexID accepts an id encoded as a JSON number or string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// timeLayouts are tried in order. Timestamps without a zone come from naive
// server clocks and are read as local time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123,
	time.RFC1123Z,
}

// parseTime parses the timestamp formats the control service emits.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if strings.ContainsAny(layout, "ZM") || strings.Contains(layout, "-0700") {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// flexTime accepts a timestamp string, unix seconds, or null.
type flexTime struct {
	time.Time
	Valid bool
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = flexTime{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		// Unparsable timestamps are treated as absent.
		if t, err := parseTime(s); err == nil {
			*f = flexTime{Time: t, Valid: true}
		}
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp must be a string or number: %w", err)
	}
	whole := int64(secs)
	*f = flexTime{Time: time.Unix(whole, int64((secs-float64(whole))*1e9)), Valid: true}
	return nil
}

// wireStep tolerates numeric psi ranges.
type wireStep struct {
	PSIRange        json.RawMessage `json:"psi_range"`
	DurationMinutes float64         `json:"duration_minutes"`
	Action          string          `json:"action"`
}

func (w wireStep) step() cycle.Step {
	psi := strings.TrimSpace(string(w.PSIRange))
	if strings.HasPrefix(psi, `"`) {
		var s string
		if err := json.Unmarshal(w.PSIRange, &s); err == nil {
			psi = s
		}
	} else if psi == "null" {
		psi = ""
	}
	return cycle.Step{PSIRange: psi, DurationMinutes: w.DurationMinutes, Action: w.Action}
}

// flexSteps accepts steps as a JSON array or as a string containing one.
// Malformed step data decodes to no steps rather than failing the whole
// session list.
type flexSteps []cycle.Step

func (f *flexSteps) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = nil
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		data = []byte(inner)
	}
	var raw []wireStep
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	steps := make([]cycle.Step, len(raw))
	for i, w := range raw {
		steps[i] = w.step()
	}
	*f = steps
	return nil
}

type wireSession struct {
	ID              flexID    `json:"id"`
	ProgramID       flexID    `json:"program_id"`
	ProgramName     string    `json:"program_name"`
	Status          string    `json:"status"`
	StartTime       flexTime  `json:"start_time"`
	EndTime         flexTime  `json:"end_time"`
	TargetPressure  *float64  `json:"target_pressure"`
	DurationMinutes *float64  `json:"duration_minutes"`
	StepsData       flexSteps `json:"steps_data"`
	Steps           flexSteps `json:"steps"`
}

func (w wireSession) session() cycle.Session {
	s := cycle.Session{
		ID:          string(w.ID),
		Status:      cycle.ParseStatus(w.Status),
		StartTime:   w.StartTime.Time,
		ProgramRef:  string(w.ProgramID),
		ProgramName: w.ProgramName,
		Steps:       []cycle.Step(w.Steps),
	}
	if len(s.Steps) == 0 {
		s.Steps = []cycle.Step(w.StepsData)
	}
	if w.EndTime.Valid {
		end := w.EndTime.Time
		s.EndTime = &end
	}
	if len(s.Steps) == 0 {
		if w.TargetPressure != nil {
			s.ManualTarget = *w.TargetPressure
		}
		if w.DurationMinutes != nil {
			s.ManualDuration = *w.DurationMinutes
		}
	}
	return s
}

// listKeys are the envelope fields that may carry a page of sessions.
var listKeys = []string{"results", "sessions", "data", "items"}

// decodeSessionPage normalizes a flat array or a paginated envelope into a
// page of sessions and the next page reference, if any.
func decodeSessionPage(body []byte) ([]cycle.Session, string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, "", fmt.Errorf("empty session list response")
	}

	var items []wireSession
	var next string

	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, "", fmt.Errorf("failed to decode session list: %w", err)
		}
	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, "", fmt.Errorf("failed to decode session envelope: %w", err)
		}
		found := false
		for _, key := range listKeys {
			raw, ok := env[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, "", fmt.Errorf("failed to decode session envelope %q: %w", key, err)
			}
			found = true
			break
		}
		if !found {
			return nil, "", fmt.Errorf("session envelope has none of %v", listKeys)
		}
		if raw, ok := env["next"]; ok {
			// A null or non-string next means there are no more pages.
			_ = json.Unmarshal(raw, &next)
		}
	default:
		return nil, "", fmt.Errorf("unexpected session list response")
	}

	sessions := make([]cycle.Session, 0, len(items))
	for _, w := range items {
		if w.ID == "" {
			continue
		}
		sessions = append(sessions, w.session())
	}
	return sessions, next, nil
}

type wireReading struct {
	Timestamp   flexTime `json:"timestamp"`
	Pressure    float64  `json:"pressure"`
	Temperature float64  `json:"temperature"`
}

func (w wireReading) reading() cycle.Reading {
	return cycle.Reading{Pressure: w.Pressure, Temperature: w.Temperature, Timestamp: w.Timestamp.Time}
}

type wireProgram struct {
	ID          flexID    `json:"id"`
	Number      int       `json:"program_number"`
	Name        string    `json:"program_name"`
	Description string    `json:"description"`
	Steps       flexSteps `json:"steps"`
}

func (w wireProgram) program() cycle.Program {
	return cycle.Program{
		ID:          string(w.ID),
		Number:      w.Number,
		Name:        w.Name,
		Description: w.Description,
		Steps:       []cycle.Step(w.Steps),
	}
}

// commandResponse covers the acknowledgement bodies of the control endpoints.
type commandResponse struct {
	Success      *bool    `json:"success"`
	SessionID    flexID   `json:"session_id"`
	RowsAffected *int     `json:"rows_affected"`
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	Error        string   `json:"error"`
	StartTime    flexTime `json:"start_time"`
}

func (c commandResponse) text() string {
	if c.Error != "" {
		return c.Error
	}
	return c.Message
}
