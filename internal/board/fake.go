package board

import (
	"math"

	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// NoCoil is the resistance of a port with nothing attached.
var NoCoil = math.Inf(1)

// Minimum resistance used for current simulation of a shorted port.
const shortOhms = 0.1

// Indicator is a recorded SetIndicator call.
type Indicator struct {
	Mode  solenoid.IndicatorMode
	Port  int
	Value float64
}

// FakeBoard is a test double that simulates coils attached to the ports.
// Not safe for concurrent use; only the controller goroutine may call it.
type FakeBoard struct {
	// Coils holds the resistance per port in ohms; NoCoil when unconnected.
	Coils []float64

	// Supply is the rail voltage reported by ReadSupplyVoltage.
	Supply float64

	// ExtraCurrent is added to the simulated load current.
	ExtraCurrent float64

	// PowerFailures makes the next n SetPower(true) calls fail.
	PowerFailures int

	// PowerSettling makes the next n SetPower(true) calls switch the rail on
	// but report it as not ready, like a rail that is still settling.
	PowerSettling int

	// PowerOffFailures makes the next n SetPower(false) calls fail.
	PowerOffFailures int

	// Powered reports the state of the power rail.
	Powered bool

	// Duty holds the last duty cycle written per port.
	Duty []float64

	// PowerCalls records every successful power switch.
	PowerCalls []bool

	// Indicators records all indicator calls.
	Indicators []Indicator

	// MaxRecorded, if positive, keeps only the latest calls in PowerCalls
	// and Indicators. Used when the fake runs as a long-lived simulator.
	MaxRecorded int

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeBoard creates a FakeBoard with the given coils and supply voltage.
func NewFakeBoard(supply float64, coils ...float64) *FakeBoard {
	return &FakeBoard{
		Coils:  coils,
		Supply: supply,
		Duty:   make([]float64, len(coils)),
	}
}

// SetPower switches the simulated rail.
func (f *FakeBoard) SetPower(on bool) bool {
	if on && f.PowerFailures > 0 {
		f.PowerFailures--
		return false
	}
	if !on && f.PowerOffFailures > 0 {
		f.PowerOffFailures--
		return false
	}
	if f.Powered != on {
		f.PowerCalls = append(f.PowerCalls, on)
		if f.MaxRecorded > 0 && len(f.PowerCalls) > f.MaxRecorded {
			f.PowerCalls = append(f.PowerCalls[:0], f.PowerCalls[len(f.PowerCalls)-f.MaxRecorded:]...)
		}
	}
	f.Powered = on
	if on && f.PowerSettling > 0 {
		f.PowerSettling--
		return false
	}
	return true
}

// ReadSupplyVoltage returns Supply.
func (f *FakeBoard) ReadSupplyVoltage() float64 {
	return f.Supply
}

// ReadTotalCurrent returns the average current through all energized coils
// plus ExtraCurrent. Without rail power only ExtraCurrent flows.
func (f *FakeBoard) ReadTotalCurrent() float64 {
	total := f.ExtraCurrent
	if !f.Powered {
		return total
	}
	for i, duty := range f.Duty {
		r := f.Coils[i]
		if math.IsInf(r, 1) || duty <= 0 {
			continue
		}
		total += duty * f.Supply / math.Max(r, shortOhms)
	}
	return total
}

// ReadProbeVoltage returns the divider voltage of the first fully energized
// port, or the open-circuit voltage if no port is energized.
func (f *FakeBoard) ReadProbeVoltage() float64 {
	for i, duty := range f.Duty {
		if duty >= 1 {
			return solenoid.ProbeVoltage(f.Coils[i])
		}
	}
	return solenoid.ProbeVoltage(NoCoil)
}

// SetPortDuty records the duty cycle.
func (f *FakeBoard) SetPortDuty(port int, duty float64) {
	f.Duty[port] = duty
}

// SetIndicator records the call.
func (f *FakeBoard) SetIndicator(mode solenoid.IndicatorMode, port int, value float64) {
	f.Indicators = append(f.Indicators, Indicator{Mode: mode, Port: port, Value: value})
	if f.MaxRecorded > 0 && len(f.Indicators) > f.MaxRecorded {
		f.Indicators = append(f.Indicators[:0], f.Indicators[len(f.Indicators)-f.MaxRecorded:]...)
	}
}

// Close marks the board as closed.
func (f *FakeBoard) Close() error {
	f.Closed = true
	return nil
}

// Count returns how often the indicator mode was set.
func (f *FakeBoard) Count(mode solenoid.IndicatorMode) int {
	n := 0
	for _, ind := range f.Indicators {
		if ind.Mode == mode {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls.
func (f *FakeBoard) Reset() {
	f.PowerCalls = nil
	f.Indicators = nil
	f.Closed = false
}
