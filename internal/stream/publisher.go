package stream

import (
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
)

// Publisher turns controller callbacks into sequenced events. Each event is
// appended to the log and then fanned out through the broker, so broker
// subscribers always see events with their sequence numbers assigned.
type Publisher struct {
	log    *EventLog
	broker *Broker[*Event]
	logger *logging.Logger
}

var _ monitor.Observer = (*Publisher)(nil)

// NewPublisher creates a Publisher with a fresh log and broker.
func NewPublisher(logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.With("component", "stream")
	}
	return &Publisher{
		log:    NewEventLog(DefaultRetention),
		broker: NewBroker[*Event](),
		logger: logger,
	}
}

// Log returns the event log.
func (p *Publisher) Log() *EventLog {
	return p.log
}

// Broker returns the live event broker.
func (p *Publisher) Broker() *Broker[*Event] {
	return p.broker
}

func (p *Publisher) OnStatusChange(status cycle.Status) {
	p.publish(EventTypeStatus, StatusData{Status: status})
}

func (p *Publisher) OnProgress(stepIndex int, percent float64) {
	p.publish(EventTypeProgress, ProgressData{StepIndex: stepIndex, Percent: percent})
}

func (p *Publisher) OnChartPoint(point cycle.ChartPoint) {
	p.publish(EventTypeChartPoint, point)
}

func (p *Publisher) OnFinalized(reason cycle.FinishReason) {
	p.publish(EventTypeFinalized, FinalizedData{Reason: reason})
}

func (p *Publisher) publish(eventType EventType, data any) {
	event, err := NewEvent(eventType, data)
	if err != nil {
		p.logger.Error("failed to encode event", "type", eventType, "error", err)
		return
	}
	if err := p.log.Append(event); err != nil {
		p.logger.Debug("event dropped", "type", eventType, "error", err)
		return
	}
	p.broker.Publish(event)
}

// Close closes the log and the broker, ending all subscriptions.
func (p *Publisher) Close() {
	p.log.Close()
	p.broker.Close()
}
