// Package solenoid contains the multi-port solenoid power controller.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Hardware is injected through the Hardware interface and time through a clock
// function, so every state machine can be driven deterministically in tests.
package solenoid

import (
	"errors"
	"fmt"
	"time"
)

// Config is the immutable controller configuration.
type Config struct {
	Current struct {
		// Max is the ceiling for the filtered total current in amperes.
		Max float64
		// Alpha is the low-pass coefficient; 0 uses the raw reading.
		Alpha float64
	}

	Resistance struct {
		Min float64
		Max float64
	}

	// Fade durations; the duty cycle is adjusted one step per millisecond.
	Fade struct {
		In  time.Duration
		Out time.Duration
	}

	// Reduced holding power after the peak period.
	Hold struct {
		Peak     time.Duration
		Fraction float64
	}
}

// DefaultConfig returns a configuration suitable for 12V push/pull solenoids.
func DefaultConfig() Config {
	var c Config
	c.Current.Max = 3
	c.Current.Alpha = 0.001
	c.Resistance.Min = 6
	c.Resistance.Max = 60
	c.Fade.In = 350 * time.Millisecond
	c.Fade.Out = 350 * time.Millisecond
	c.Hold.Peak = 100 * time.Millisecond
	c.Hold.Fraction = 0.5
	return c
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid solenoid config")

// Validate checks the configuration for values the controller cannot work with.
func (c Config) Validate() error {
	switch {
	case c.Current.Max <= 0:
		return fmt.Errorf("%w: current max must be positive, got %v", ErrInvalidConfig, c.Current.Max)
	case c.Current.Alpha < 0 || c.Current.Alpha > 1:
		return fmt.Errorf("%w: current alpha must be in [0,1], got %v", ErrInvalidConfig, c.Current.Alpha)
	case c.Resistance.Min < 0 || c.Resistance.Min >= c.Resistance.Max:
		return fmt.Errorf("%w: resistance range [%v,%v] is empty", ErrInvalidConfig, c.Resistance.Min, c.Resistance.Max)
	case c.Fade.In < 0 || c.Fade.Out < 0:
		return fmt.Errorf("%w: fade durations must not be negative", ErrInvalidConfig)
	case c.Hold.Peak < 0:
		return fmt.Errorf("%w: hold peak must not be negative", ErrInvalidConfig)
	case c.Hold.Fraction < 0 || c.Hold.Fraction > 1:
		return fmt.Errorf("%w: hold fraction must be in [0,1], got %v", ErrInvalidConfig, c.Hold.Fraction)
	}
	return nil
}

// IndicatorMode selects what a status indicator shows.
type IndicatorMode int

const (
	IndicatorOff IndicatorMode = iota
	IndicatorInitializing
	IndicatorReady
	IndicatorResistance
	IndicatorPower
	IndicatorShortCircuit
	IndicatorOverCurrent
)

func (m IndicatorMode) String() string {
	switch m {
	case IndicatorOff:
		return "OFF"
	case IndicatorInitializing:
		return "INITIALIZING"
	case IndicatorReady:
		return "READY"
	case IndicatorResistance:
		return "RESISTANCE"
	case IndicatorPower:
		return "POWER"
	case IndicatorShortCircuit:
		return "SHORT_CIRCUIT"
	case IndicatorOverCurrent:
		return "OVER_CURRENT"
	}
	return "UNKNOWN"
}

// Hardware is the board the controller drives. Implementations are called
// from the loop goroutine only.
type Hardware interface {
	// SetPower switches the shared power rail. It returns false if the rail
	// could not be switched yet; the controller retries on the next tick.
	SetPower(on bool) bool

	// ReadSupplyVoltage returns the rail voltage in volts.
	ReadSupplyVoltage() float64

	// ReadTotalCurrent returns the current drawn by all ports in amperes.
	ReadTotalCurrent() float64

	// ReadProbeVoltage returns the voltage across the resistance probe divider.
	ReadProbeVoltage() float64

	// SetPortDuty sets the PWM duty cycle of one port, 0..1.
	SetPortDuty(port int, duty float64)

	// SetIndicator is a best-effort status signal. The value is mode specific
	// (brightness for Resistance, watts for Power, amperes for OverCurrent),
	// -1 when unused.
	SetIndicator(mode IndicatorMode, port int, value float64)
}

// DriverState is the actuation state of a port.
type DriverState int

const (
	DriverIdle DriverState = iota
	DriverFadeIn
	DriverPeak
	DriverHold
	DriverFadeOut
)

func (s DriverState) String() string {
	switch s {
	case DriverIdle:
		return "IDLE"
	case DriverFadeIn:
		return "FADE_IN"
	case DriverPeak:
		return "PEAK"
	case DriverHold:
		return "HOLD"
	case DriverFadeOut:
		return "FADE_OUT"
	}
	return "UNKNOWN"
}

// CoilState is the classification of the load connected to a port.
type CoilState int

const (
	CoilNotConnected CoilState = iota
	CoilConnected
	CoilShortCircuit
)

func (s CoilState) String() string {
	switch s {
	case CoilNotConnected:
		return "NOT_CONNECTED"
	case CoilConnected:
		return "CONNECTED"
	case CoilShortCircuit:
		return "SHORT_CIRCUIT"
	}
	return "UNKNOWN"
}

// ProbeState is the state of the background resistance measurement.
type ProbeState int

const (
	ProbeInit ProbeState = iota
	ProbeSettle
	ProbeMeasure
	ProbeSleep
)

func (s ProbeState) String() string {
	switch s {
	case ProbeInit:
		return "INIT"
	case ProbeSettle:
		return "SETTLE"
	case ProbeMeasure:
		return "MEASURE"
	case ProbeSleep:
		return "SLEEP"
	}
	return "UNKNOWN"
}

// PortStatus is a point-in-time view of one port.
type PortStatus struct {
	State      DriverState
	Duty       float64
	Coil       CoilState
	Resistance float64
	Pending    bool
}

// Snapshot is a point-in-time view of the controller. It is a value type and
// shares no memory with the controller.
type Snapshot struct {
	Ports      []PortStatus
	Current    float64
	Ready      bool
	Probe      ProbeState
	ProbePort  int
	ProbeCycle int
}
