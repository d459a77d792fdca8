// Package status provides a thread-safe status tracker for the solenoid
// controller daemon. It is read by HTTP handlers and the MQTT heartbeat, and
// doubles as the indicator sink of the controller.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// EventType is a notable controller transition to be published.
type EventType string

const (
	EventReady            EventType = "READY"
	EventCalibrating      EventType = "CALIBRATING"
	EventOverCurrent      EventType = "OVER_CURRENT"
	EventShortCircuit     EventType = "SHORT_CIRCUIT"
	EventCoilConnected    EventType = "COIL_CONNECTED"
	EventCoilDisconnected EventType = "COIL_DISCONNECTED"
)

// Event is a controller transition. Port is -1 for controller-wide events.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	Port       int
	Resistance float64
	Current    float64
}

// EventCounts tracks activity since startup.
type EventCounts struct {
	Triggers     int
	Releases     int
	OverCurrent  int
	ShortCircuit int
}

// Config contains daemon configuration for display.
type Config struct {
	Device      string
	Ports       int
	CurrentMax  float64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Simulated   bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Controller    solenoid.Snapshot
	Indicators    []solenoid.IndicatorMode
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	now    func() time.Time
	events []Event
	seen   bool

	// tripped suppresses repeated over-current events until the filtered
	// current is back under the limit.
	tripped bool
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Config:     cfg,
			Indicators: make([]solenoid.IndicatorMode, cfg.Ports),
		},
		now: time.Now,
	}
}

// Update stores a new controller snapshot and queues events for coil and
// readiness changes since the previous one.
func (t *Tracker) Update(cs solenoid.Snapshot, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.snap.Controller
	t.snap.Controller = cs

	if t.tripped && cs.Current <= t.snap.Config.CurrentMax {
		t.tripped = false
	}

	// The first snapshot is the baseline.
	if !t.seen {
		t.seen = true
		return
	}

	if cs.Ready != prev.Ready {
		typ := EventReady
		if !cs.Ready {
			typ = EventCalibrating
		}
		t.events = append(t.events, Event{Timestamp: now, Type: typ, Port: -1, Current: cs.Current})
	}

	for i, p := range cs.Ports {
		if i >= len(prev.Ports) || prev.Ports[i].Coil == p.Coil {
			continue
		}

		var typ EventType
		switch p.Coil {
		case solenoid.CoilConnected:
			typ = EventCoilConnected
		case solenoid.CoilNotConnected:
			typ = EventCoilDisconnected
		case solenoid.CoilShortCircuit:
			typ = EventShortCircuit
			t.snap.Counts.ShortCircuit++
		}
		t.events = append(t.events, Event{Timestamp: now, Type: typ, Port: i, Resistance: p.Resistance})
	}
}

// SetIndicator records the indicator mode of a port. Over-current trips are
// queued as events with the filtered current taken from value; they are too
// short-lived to show up in a snapshot. The controller signals a trip on every
// loop while the limit is exceeded, only the first one is queued.
func (t *Tracker) SetIndicator(mode solenoid.IndicatorMode, port int, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case solenoid.IndicatorOverCurrent:
		if t.tripped {
			return
		}
		t.tripped = true
		t.snap.Counts.OverCurrent++
		t.events = append(t.events, Event{
			Timestamp: t.now(),
			Type:      EventOverCurrent,
			Port:      -1,
			Current:   value,
		})
		return
	case solenoid.IndicatorInitializing, solenoid.IndicatorReady:
		return
	}

	if port >= 0 && port < len(t.snap.Indicators) {
		t.snap.Indicators[port] = mode
	}
}

// CountTrigger records an incoming trigger command.
func (t *Tracker) CountTrigger(release bool) {
	t.mu.Lock()
	if release {
		t.snap.Counts.Releases++
	} else {
		t.snap.Counts.Triggers++
	}
	t.mu.Unlock()
}

// DrainEvents returns and clears the queued events.
func (t *Tracker) DrainEvents() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.events
	t.events = nil
	return events
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Controller.Ports = append([]solenoid.PortStatus(nil), t.snap.Controller.Ports...)
	s.Indicators = append([]solenoid.IndicatorMode(nil), t.snap.Indicators...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
