package solenoid

import "math"

// Resistance probe circuit. With the power rail off, a single energized port
// connects its coil to a 3.3V supply through a 100Ω series resistor. The coil
// side has a protection diode with a drop of ~0.3V:
//
//	open circuit = 3.3V
//	short        = 0.3V
const (
	probeSeriesOhms = 100
	probeSupplyVolt = 3.3
	probeDiodeVolt  = 0.3
	probeAlpha      = 0.3
)

// coil tracks the measured resistance of the load on one port.
type coil struct {
	state      CoilState
	resistance float64

	// Low-pass filtered probe voltage; meaningless until seeded.
	voltage float64
	seeded  bool
}

// forget returns the coil to the unmeasured state.
func (c *coil) forget() {
	*c = coil{resistance: -1}
}

// update feeds a raw probe reading into the filter, recalculates the
// resistance and reports whether the classification changed.
func (c *coil) update(raw float64, cfg *Config) bool {
	// Start the filter at the first reading; starting at zero would look like a
	// short circuit until the filter has converged.
	if !c.seeded {
		c.voltage = raw
		c.seeded = true
	}

	c.voltage = c.voltage*(1-probeAlpha) + raw*probeAlpha
	c.resistance = dividerResistance(c.voltage)

	state := classify(c.resistance, cfg)
	if state == c.state {
		return false
	}

	c.state = state
	return true
}

// dividerResistance solves the probe voltage divider for the coil resistance.
func dividerResistance(vOut float64) float64 {
	if vOut >= probeSupplyVolt {
		return math.Inf(1)
	}
	return ((vOut - probeDiodeVolt) * probeSeriesOhms) / (probeSupplyVolt - vOut)
}

// ProbeVoltage is the inverse of the divider equation: the voltage the probe
// reads for a coil of the given resistance. Infinite resistance reads the
// probe supply.
func ProbeVoltage(ohms float64) float64 {
	if math.IsInf(ohms, 1) {
		return probeSupplyVolt
	}
	return (ohms*probeSupplyVolt + probeDiodeVolt*probeSeriesOhms) / (ohms + probeSeriesOhms)
}

func classify(ohms float64, cfg *Config) CoilState {
	switch {
	case math.IsNaN(ohms) || ohms > cfg.Resistance.Max:
		return CoilNotConnected
	case ohms < cfg.Resistance.Min:
		return CoilShortCircuit
	default:
		return CoilConnected
	}
}
