// Package mqtt carries trigger commands in and controller events out over
// MQTT, with fakes for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/solenoid-controller/internal/status"
)

// Topics holds the MQTT topics for one device.
type Topics struct {
	Trigger string
	Events  string
	System  string
}

// TopicsFor returns the topics under solenoids/<device>.
func TopicsFor(device string) Topics {
	base := "solenoids/" + device
	return Topics{
		Trigger: base + "/trigger",
		Events:  base + "/events",
		System:  base + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event status.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Commands delivers parsed trigger commands.
type Commands interface {
	Commands() <-chan Trigger
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ErrInvalidTrigger is returned by ParseTrigger for malformed commands.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Trigger is a pulse request for one port. Zero watts or seconds releases it.
type Trigger struct {
	Port    int     `json:"port"`
	Watts   float64 `json:"watts"`
	Seconds float64 `json:"seconds"`
	FadeIn  bool    `json:"fade_in"`
	FadeOut bool    `json:"fade_out"`
}

// Release reports whether the trigger turns the port off.
func (t Trigger) Release() bool {
	return t.Watts <= 0 || t.Seconds <= 0
}

// ParseTrigger decodes a trigger payload and checks it against the number of
// ports.
func ParseTrigger(payload []byte, ports int) (Trigger, error) {
	var t Trigger
	if err := json.Unmarshal(payload, &t); err != nil {
		return Trigger{}, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	if t.Port < 0 || t.Port >= ports {
		return Trigger{}, fmt.Errorf("%w: port %d out of range [0, %d)", ErrInvalidTrigger, t.Port, ports)
	}
	if !finite(t.Watts) || !finite(t.Seconds) || t.Watts < 0 || t.Seconds < 0 {
		return Trigger{}, fmt.Errorf("%w: watts %v seconds %v", ErrInvalidTrigger, t.Watts, t.Seconds)
	}
	return t, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// EventPayload represents the MQTT message payload for controller events.
type EventPayload struct {
	Solenoid EventPayloadInner `json:"solenoid"`
}

// EventPayloadInner contains the controller event details.
type EventPayloadInner struct {
	Timestamp  string   `json:"timestamp"`
	Event      string   `json:"event"`
	Port       *int     `json:"port,omitempty"`
	Resistance *float64 `json:"resistance,omitempty"`
	Current    float64  `json:"current"`
}

// FormatEvent creates the JSON payload for a controller event. Port and
// resistance are omitted for controller-wide events.
func FormatEvent(event status.Event) ([]byte, error) {
	inner := EventPayloadInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Current:   event.Current,
	}
	if event.Port >= 0 {
		port := event.Port
		inner.Port = &port
		if event.Resistance >= 0 && !math.IsInf(event.Resistance, 0) {
			r := event.Resistance
			inner.Resistance = &r
		}
	}
	return json.Marshal(EventPayload{Solenoid: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
