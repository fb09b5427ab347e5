package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultRetention is how many events an EventLog keeps by default. At one
// chart point per second this covers well over ten minutes of catch-up.
const DefaultRetention = 1024

// ErrClosed is returned when appending to a closed log.
var ErrClosed = errors.New("event log closed")

// EventLog is an in-memory, sequenced event log. Sequence numbers start at
// 1 and are assigned on append. Only the most recent events are retained;
// readers asking for older sequences get the oldest retained event onward.
type EventLog struct {
	mu        sync.Mutex
	events    []*Event
	retention int
	nextSeq   uint64
	closed    bool

	// longPoll notifies subscribers of new events
	longPoll *longPollManager
}

// longPollManager manages channels waiting for new events.
type longPollManager struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

func (lp *longPollManager) notify() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	for _, ch := range lp.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (lp *longPollManager) register(ch chan struct{}) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.waiters = append(lp.waiters, ch)
}

func (lp *longPollManager) unregister(ch chan struct{}) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	for i, w := range lp.waiters {
		if w == ch {
			lp.waiters = append(lp.waiters[:i], lp.waiters[i+1:]...)
			break
		}
	}
}

// NewEventLog creates a log keeping the last retention events. A
// non-positive retention uses DefaultRetention.
func NewEventLog(retention int) *EventLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &EventLog{
		retention: retention,
		nextSeq:   1,
		longPoll:  &longPollManager{},
	}
}

// Append assigns the next sequence number to event and stores it.
func (l *EventLog) Append(event *Event) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	event.Seq = l.nextSeq
	l.nextSeq++
	l.events = append(l.events, event)
	if over := len(l.events) - l.retention; over > 0 {
		l.events = append([]*Event(nil), l.events[over:]...)
	}
	l.mu.Unlock()

	l.longPoll.notify()
	return nil
}

// Read returns retained events with Seq >= fromSeq. If fromSeq is 0, all
// retained events are returned.
func (l *EventLog) Read(fromSeq uint64) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Event
	for _, e := range l.events {
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	return out
}

// Wait blocks until an event with Seq > afterSeq exists, ctx is done, or
// the log is closed. It reports whether new events are available.
func (l *EventLog) Wait(ctx context.Context, afterSeq uint64) bool {
	notifyCh := make(chan struct{}, 1)
	l.longPoll.register(notifyCh)
	defer l.longPoll.unregister(notifyCh)

	for {
		l.mu.Lock()
		last, closed := l.nextSeq-1, l.closed
		l.mu.Unlock()
		if last > afterSeq {
			return true
		}
		if closed {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-notifyCh:
		}
	}
}

// Subscribe returns a channel that receives events from fromSeq onward as
// they are appended. A poll interval backs up the notifications. The
// channel is closed when ctx is cancelled or the log is closed.
func (l *EventLog) Subscribe(ctx context.Context, fromSeq uint64, pollInterval time.Duration) <-chan *Event {
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)

		nextSeq := fromSeq
		if nextSeq == 0 {
			nextSeq = 1
		}

		notifyCh := make(chan struct{}, 1)
		l.longPoll.register(notifyCh)
		defer l.longPoll.unregister(notifyCh)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		deliver := func() bool {
			for _, event := range l.Read(nextSeq) {
				select {
				case <-ctx.Done():
					return false
				case ch <- event:
					nextSeq = event.Seq + 1
				}
			}
			return true
		}

		// A Close that landed before register sent no notification.
		if !deliver() || l.isClosed() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-notifyCh:
			case <-ticker.C:
			}
			if !deliver() || l.isClosed() {
				return
			}
		}
	}()

	return ch
}

func (l *EventLog) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// LastSeq returns the sequence number of the last event appended, or 0 if
// none has been.
func (l *EventLog) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}

// Close stops further appends and wakes waiters. It is safe to call Close
// multiple times.
func (l *EventLog) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.longPoll.notify()
}
