package client

import (
	"sync"

	"github.com/nartechsolution/wagateway/internal/domain"
)

// eventStream is a bounded, close-once event channel. Emit never blocks:
// when the consumer falls behind, the event is dropped rather than stalling
// the bridge read loop.
type eventStream struct {
	events    chan domain.Event
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newEventStream(bufferSize int) *eventStream {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &eventStream{events: make(chan domain.Event, bufferSize)}
}

func (s *eventStream) Events() <-chan domain.Event {
	return s.events
}

func (s *eventStream) Emit(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

// Close makes the stream refuse further events and lets consumers see EOF.
func (s *eventStream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.events)
	})
}
