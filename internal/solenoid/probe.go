package solenoid

import "time"

const (
	// Time after power-off for mechanical parts to settle.
	probeSettle = 200 * time.Millisecond

	// Time a port is energized before its resistance is sampled.
	probeCharge = 10 * time.Millisecond

	// Interval between measurements when idle.
	probeSleep = time.Second

	// Full rounds over all ports before the controller accepts triggers.
	probeReadyRounds = 10
)

type probe struct {
	state ProbeState

	settleAt  time.Time
	measureAt time.Time
	sleepAt   time.Time

	// The next port to probe.
	port int

	// Completed rounds before ready.
	cycle int

	// All ports have been measured.
	ready bool
}

// stepProbe advances the resistance measurement by one tick. It must only be
// called while no port is actuating and the power rail is off.
func (c *Controller) stepProbe(now time.Time) {
	pr := &c.probe

	switch pr.state {
	case ProbeInit:
		pr.settleAt = now
		pr.state = ProbeSettle

		if !pr.ready {
			pr.cycle = 0
			c.hw.SetIndicator(IndicatorInitializing, 0, -1)
		}

	case ProbeSettle:
		// A moving plunger changes the magnetic field and induces a voltage
		// which disturbs the measurement.
		if now.Sub(pr.settleAt) < probeSettle {
			return
		}
		c.energizeProbe(now)
		pr.state = ProbeMeasure

	case ProbeMeasure:
		// The magnetic field of the coil needs to be stable; a too short span
		// measures the current that builds up the field, not the resistance.
		if now.Sub(pr.measureAt) < probeCharge {
			return
		}

		c.measureResistance(now)
		c.hw.SetPortDuty(pr.port, 0)

		pr.port++
		if pr.port == len(c.ports) {
			pr.port = 0

			if !pr.ready {
				pr.cycle++
				if pr.cycle > probeReadyRounds {
					pr.ready = true
					c.hw.SetIndicator(IndicatorReady, 0, -1)
				}
			}
		}

		// Slow down the measurement when idle.
		if !c.awake {
			pr.sleepAt = now
			pr.state = ProbeSleep
			return
		}
		c.energizeProbe(now)

	case ProbeSleep:
		if now.Sub(pr.sleepAt) < probeSleep {
			return
		}
		c.energizeProbe(now)
		pr.state = ProbeMeasure
	}
}

func (c *Controller) energizeProbe(now time.Time) {
	c.hw.SetPortDuty(c.probe.port, 1)
	c.probe.measureAt = now
}

// cancelProbe stops an in-flight measurement and de-energizes its port.
func (c *Controller) cancelProbe() {
	if c.probe.state == ProbeInit {
		return
	}
	c.probe.state = ProbeInit
	c.releasePort(c.probe.port)
}

func (c *Controller) measureResistance(now time.Time) {
	i := c.probe.port
	if c.ports[i].coil.update(c.hw.ReadProbeVoltage(), &c.cfg) {
		c.wake(now)
	}
	c.updateIndicator(i, false)
}
