package mqtt

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/status"
)

// DefaultQueueSize is the number of messages an AsyncPublisher holds before
// Publish starts rejecting them.
const DefaultQueueSize = 64

// ErrQueueFull is returned by AsyncPublisher when its queue is full.
var ErrQueueFull = errors.New("mqtt: publish queue full")

// ErrClosed is returned by AsyncPublisher after Close.
var ErrClosed = errors.New("mqtt: publisher closed")

type outbound struct {
	event  status.Event
	system *SystemEvent
}

// AsyncPublisher hands messages to a background goroutine, so Publish and
// PublishSystem return without waiting for the broker. Messages are delivered
// in order; delivery errors are logged.
type AsyncPublisher struct {
	pub    Publisher
	logger *zap.Logger
	queue  chan outbound
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher starts delivering queued messages to pub. A non-positive
// size selects DefaultQueueSize.
func NewAsyncPublisher(pub Publisher, size int, logger *zap.Logger) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &AsyncPublisher{
		pub:    pub,
		logger: logger,
		queue:  make(chan outbound, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for m := range a.queue {
		if m.system != nil {
			if err := a.pub.PublishSystem(*m.system); err != nil {
				a.logger.Warn("system publish error", zap.String("event", m.system.Event), zap.Error(err))
			}
			continue
		}
		if err := a.pub.Publish(m.event); err != nil {
			a.logger.Warn("publish error", zap.String("event", string(m.event.Type)), zap.Error(err))
		}
	}
}

func (a *AsyncPublisher) enqueue(m outbound) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish queues a controller event.
func (a *AsyncPublisher) Publish(event status.Event) error {
	return a.enqueue(outbound{event: event})
}

// PublishSystem queues a system event.
func (a *AsyncPublisher) PublishSystem(event SystemEvent) error {
	return a.enqueue(outbound{system: &event})
}

// Close stops accepting messages, waits until the queued ones have been
// handed to the underlying publisher and closes it.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.pub.Close()
}
