package memory

import (
	"context"
	"sync"

	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

var _ outbound.EventSink = (*EventSink)(nil)

// EventSink keeps published events in order so tests and the in-process
// engine can inspect them. Publishing after Close is a silent no-op.
type EventSink struct {
	mu        sync.RWMutex
	events    []outbound.Event
	closed    bool
	failWith  error
	onPublish func(outbound.Event)
}

func NewEventSink() *EventSink {
	return &EventSink{}
}

func (s *EventSink) Publish(ctx context.Context, event outbound.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil
	case s.failWith != nil:
		return s.failWith
	}
	s.events = append(s.events, event)
	if s.onPublish != nil {
		s.onPublish(event)
	}
	return nil
}

func (s *EventSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// FailWith makes every later Publish return err. nil restores normal behaviour.
func (s *EventSink) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// OnPublish registers fn to run, under the sink's lock, for each stored event.
func (s *EventSink) OnPublish(fn func(outbound.Event)) {
	s.mu.Lock()
	s.onPublish = fn
	s.mu.Unlock()
}

func (s *EventSink) Clear() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func (s *EventSink) filter(keep func(outbound.Event) bool) []outbound.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbound.Event, 0, len(s.events))
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *EventSink) GetEvents() []outbound.Event {
	return s.filter(func(outbound.Event) bool { return true })
}

func (s *EventSink) GetEventsByType(t outbound.EventType) []outbound.Event {
	return s.filter(func(e outbound.Event) bool { return e.EventType() == t })
}

// GetEventsForSubject returns the events about one account, usually an order
// or config address.
func (s *EventSink) GetEventsForSubject(subject string) []outbound.Event {
	return s.filter(func(e outbound.Event) bool { return e.GetSubject() == subject })
}

func eventsOf[T outbound.Event](s *EventSink) []T {
	var out []T
	for _, e := range s.GetEvents() {
		if te, ok := e.(T); ok {
			out = append(out, te)
		}
	}
	return out
}

func (s *EventSink) GetOrderSubmittedEvents() []outbound.OrderSubmittedEvent {
	return eventsOf[outbound.OrderSubmittedEvent](s)
}

func (s *EventSink) GetTrancheDueEvents() []outbound.TrancheDueEvent {
	return eventsOf[outbound.TrancheDueEvent](s)
}

func (s *EventSink) GetTrancheExecutedEvents() []outbound.TrancheExecutedEvent {
	return eventsOf[outbound.TrancheExecutedEvent](s)
}

func (s *EventSink) GetRebaseSignalEvents() []outbound.RebaseSignalEvent {
	return eventsOf[outbound.RebaseSignalEvent](s)
}
