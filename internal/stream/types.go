// Package stream carries controller events to local and remote watchers:
// a sequenced in-memory event log with catch-up reads, a fan-out broker,
// the Publisher that turns controller callbacks into events, and an SSE
// client for following a remote watch server.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/thruflo/clave/internal/cycle"
)

// EventType identifies the type of event in the stream.
type EventType string

const (
	// EventTypeStatus is an operator-visible status change.
	EventTypeStatus EventType = "status"
	// EventTypeProgress is a progress estimate update.
	EventTypeProgress EventType = "progress"
	// EventTypeChartPoint is a new sample in the pressure/temperature chart.
	EventTypeChartPoint EventType = "chart_point"
	// EventTypeFinalized is emitted once when the session finishes.
	EventTypeFinalized EventType = "finalized"
	// EventTypeSnapshot carries a full state snapshot. It is sent to new
	// websocket clients and never stored in the log.
	EventTypeSnapshot EventType = "snapshot"
)

// Event represents a message in the stream.
type Event struct {
	// Seq is assigned by the EventLog. Zero for events not yet appended.
	Seq uint64 `json:"seq,omitempty"`

	Type EventType `json:"type"`

	Timestamp time.Time `json:"timestamp"`

	// Data contains the type-specific payload. Use the typed accessors.
	Data json.RawMessage `json:"data"`
}

// NewEvent creates a new Event with the given type and data.
func NewEvent(eventType EventType, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}, nil
}

// MustNewEvent creates a new Event, panicking on error.
// Use only when the data is known to be serializable.
func MustNewEvent(eventType EventType, data any) *Event {
	e, err := NewEvent(eventType, data)
	if err != nil {
		panic(err)
	}
	return e
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an Event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}

// StatusData is the payload of a status event.
type StatusData struct {
	Status cycle.Status `json:"status"`
}

// ProgressData is the payload of a progress event.
type ProgressData struct {
	StepIndex int     `json:"step_index"`
	Percent   float64 `json:"percent"`
}

// FinalizedData is the payload of a finalized event.
type FinalizedData struct {
	Reason cycle.FinishReason `json:"reason"`
}

func (e *Event) decode(want EventType, out any) error {
	if e.Type != want {
		return fmt.Errorf("event is not a %s event: %s", want, e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", want, err)
	}
	return nil
}

// StatusData returns the payload of a status event.
func (e *Event) StatusData() (*StatusData, error) {
	var data StatusData
	if err := e.decode(EventTypeStatus, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ProgressData returns the payload of a progress event.
func (e *Event) ProgressData() (*ProgressData, error) {
	var data ProgressData
	if err := e.decode(EventTypeProgress, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ChartPointData returns the payload of a chart_point event.
func (e *Event) ChartPointData() (*cycle.ChartPoint, error) {
	var data cycle.ChartPoint
	if err := e.decode(EventTypeChartPoint, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FinalizedData returns the payload of a finalized event.
func (e *Event) FinalizedData() (*FinalizedData, error) {
	var data FinalizedData
	if err := e.decode(EventTypeFinalized, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
