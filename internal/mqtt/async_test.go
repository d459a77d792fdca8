package mqtt

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/status"
)

// gatedPublisher blocks every publish until gate is closed, like a broker
// connection that stopped acknowledging.
type gatedPublisher struct {
	*FakePublisher
	gate    chan struct{}
	entered chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		FakePublisher: NewFakePublisher(),
		gate:          make(chan struct{}),
		entered:       make(chan struct{}, 16),
	}
}

func (g *gatedPublisher) Publish(e status.Event) error {
	g.entered <- struct{}{}
	<-g.gate
	return g.FakePublisher.Publish(e)
}

func (g *gatedPublisher) PublishSystem(e SystemEvent) error {
	g.entered <- struct{}{}
	<-g.gate
	return g.FakePublisher.PublishSystem(e)
}

func TestAsyncPublisherDoesNotWait(t *testing.T) {
	g := newGatedPublisher()
	a := NewAsyncPublisher(g, 4, zap.NewNop())

	returned := make(chan error, 1)
	go func() {
		returned <- a.Publish(status.Event{Type: status.EventReady, Port: -1})
	}()

	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish waited for the broker")
	}

	close(g.gate)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(g.Events) != 1 || g.Events[0].Type != status.EventReady {
		t.Errorf("delivered: got %+v", g.Events)
	}
}

func TestAsyncPublisherQueueFull(t *testing.T) {
	g := newGatedPublisher()
	a := NewAsyncPublisher(g, 1, zap.NewNop())

	if err := a.Publish(status.Event{Type: status.EventReady, Port: -1}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	// The worker holds the first event; the queue takes one more.
	<-g.entered
	if err := a.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if err := a.Publish(status.Event{Type: status.EventOverCurrent, Port: -1}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third publish: got %v, want ErrQueueFull", err)
	}

	close(g.gate)
	a.Close()

	if len(g.Events) != 1 || len(g.SystemEvents) != 1 || g.SystemEvents[0].Event != "HEARTBEAT" {
		t.Errorf("delivered: events %+v system %+v", g.Events, g.SystemEvents)
	}
}

func TestAsyncPublisherCloseDrainsInOrder(t *testing.T) {
	f := NewFakePublisher()
	a := NewAsyncPublisher(f, 0, zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := a.Publish(status.Event{Type: status.EventCoilConnected, Port: i, Resistance: 8}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := a.PublishSystem(SystemEvent{Event: "SHUTDOWN", Retained: true}); err != nil {
		t.Fatalf("publish system: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.Closed {
		t.Error("underlying publisher not closed")
	}
	for i, e := range f.Events {
		if e.Port != i {
			t.Errorf("event %d: got port %d", i, e.Port)
		}
	}
	if len(f.Events) != 3 || len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("delivered: events %d system %+v", len(f.Events), f.SystemEvents)
	}

	if err := a.Publish(status.Event{Type: status.EventReady}); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after close: got %v, want ErrClosed", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestAsyncPublisherLogsErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker gone")
	a := NewAsyncPublisher(f, 0, zap.NewNop())

	if err := a.Publish(status.Event{Type: status.EventReady}); err != nil {
		t.Errorf("Publish: got %v, want nil", err)
	}
	a.Close()
	if len(f.Events) != 0 {
		t.Errorf("got %d events", len(f.Events))
	}
}
