package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	Current       float64    `json:"current"`
	Probe         ProbeJSON  `json:"probe"`
	Ports         []PortJSON `json:"ports"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// ProbeJSON reports the resistance probe scheduler.
type ProbeJSON struct {
	State string `json:"state"`
	Port  int    `json:"port"`
	Cycle int    `json:"cycle"`
}

// PortJSON is the JSON representation of one port.
type PortJSON struct {
	Port       int     `json:"port"`
	State      string  `json:"state"`
	Duty       float64 `json:"duty"`
	Coil       string  `json:"coil"`
	Resistance float64 `json:"resistance"`
	Indicator  string  `json:"indicator"`
	Pending    bool    `json:"pending,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Triggers     int `json:"triggers"`
	Releases     int `json:"releases"`
	OverCurrent  int `json:"over_current"`
	ShortCircuit int `json:"short_circuit"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Device      string  `json:"device"`
	Ports       int     `json:"ports"`
	CurrentMax  float64 `json:"current_max"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
	Simulated   bool    `json:"simulated,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	cs := snap.Controller

	ports := make([]PortJSON, len(cs.Ports))
	for i, p := range cs.Ports {
		ind := "OFF"
		if i < len(snap.Indicators) {
			ind = snap.Indicators[i].String()
		}
		ports[i] = PortJSON{
			Port:       i,
			State:      p.State.String(),
			Duty:       p.Duty,
			Coil:       p.Coil.String(),
			Resistance: p.Resistance,
			Indicator:  ind,
			Pending:    p.Pending,
		}
	}

	return StatusInner{
		Ready:         cs.Ready,
		Current:       cs.Current,
		Probe:         ProbeJSON{State: cs.Probe.String(), Port: cs.ProbePort, Cycle: cs.ProbeCycle},
		Ports:         ports,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Triggers:     snap.Counts.Triggers,
			Releases:     snap.Counts.Releases,
			OverCurrent:  snap.Counts.OverCurrent,
			ShortCircuit: snap.Counts.ShortCircuit,
		},
		Config: ConfigJSON{
			Device:      snap.Config.Device,
			Ports:       snap.Config.Ports,
			CurrentMax:  snap.Config.CurrentMax,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Simulated:   snap.Config.Simulated,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
