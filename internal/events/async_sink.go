package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultSinkBuffer is the queue depth used when none is configured.
const DefaultSinkBuffer = 1024

// ErrEventDropped is returned by AsyncSink.Handle when the queue is full or
// the sink has stopped.
var ErrEventDropped = errors.New("events: sink queue full, event dropped")

// AsyncSink decouples publishers from a slow downstream handler. Handle never
// blocks; a single goroutine started with Run forwards queued events.
type AsyncSink struct {
	next   EventHandler
	logger *zap.Logger
	queue  chan Event

	mu      sync.RWMutex
	stopped bool
}

// NewAsyncSink wraps next with a queue of the given depth.
func NewAsyncSink(next EventHandler, buffer int, logger *zap.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncSink{next: next, logger: logger, queue: make(chan Event, buffer)}
}

// Handle enqueues event; it satisfies EventHandler.
func (s *AsyncSink) Handle(_ context.Context, event Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrEventDropped
	}
	select {
	case s.queue <- event:
		return nil
	default:
		s.logger.Warn("event sink full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		return ErrEventDropped
	}
}

// Run forwards queued events until ctx is cancelled, then drains what is
// already queued and stops accepting new events.
func (s *AsyncSink) Run(ctx context.Context) {
	for {
		select {
		case event := <-s.queue:
			s.forward(ctx, event)
		case <-ctx.Done():
			s.stop()
			for {
				select {
				case event := <-s.queue:
					s.forward(context.WithoutCancel(ctx), event)
				default:
					return
				}
			}
		}
	}
}

// Pending reports how many events are waiting to be forwarded.
func (s *AsyncSink) Pending() int {
	return len(s.queue)
}

func (s *AsyncSink) forward(ctx context.Context, event Event) {
	if err := s.next(ctx, event); err != nil {
		s.logger.Warn("forward event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func (s *AsyncSink) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
