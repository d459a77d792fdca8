package solenoid

import (
	"fmt"
	"time"
)

const (
	// Minimum interval between two loop iterations; fade steps are per tick.
	loopInterval = time.Millisecond

	// The power is switched on immediately on incoming triggers; delay the
	// switch-off to avoid high frequency switching.
	powerOffDelay = 200 * time.Millisecond

	// Inactivity after which the port indicators are switched off.
	indicatorTimeout = 60 * time.Second
)

// Controller is an intelligent solenoid power controller. It adjusts to
// changes in the supply voltage and to different solenoid parameters. A
// trigger pulse is specified by its length in seconds and its electrical power
// in watts; the PWM duty cycle is calculated from the measured coil resistance
// and the live supply voltage.
//
// Longer pulses hold the solenoid with a fraction of the power used to move
// it, and the power can be ramped up and down to move the solenoids with less
// noise.
//
// A Controller is not safe for concurrent use. Loop and TriggerPort must be
// called from the same goroutine; TriggerPort may be called at any point
// between two Loop calls.
type Controller struct {
	cfg Config
	hw  Hardware
	now func() time.Time

	ports   []port
	probe   probe
	limiter currentLimiter

	// Limit the adjustment frequency.
	lastLoop time.Time
	looped   bool

	// The last time the power was switched on, while the rail is held.
	powerAt   time.Time
	powerHeld bool

	// Slow down the measurement and switch off the indicators when idle.
	wakeAt time.Time
	awake  bool
}

// New creates a controller for nPorts ports. A nil clock uses time.Now.
// Reset must be called before the first Loop.
func New(cfg Config, hw Hardware, nPorts int, now func() time.Time) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if nPorts < 1 {
		return nil, fmt.Errorf("%w: need at least one port, got %d", ErrInvalidConfig, nPorts)
	}
	if hw == nil {
		return nil, fmt.Errorf("%w: no hardware", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		cfg:     cfg,
		hw:      hw,
		now:     now,
		ports:   make([]port, nPorts),
		limiter: currentLimiter{max: cfg.Current.Max, alpha: cfg.Current.Alpha},
	}
	for i := range c.ports {
		c.ports[i].coil.forget()
	}
	return c, nil
}

// Ports returns the number of ports.
func (c *Controller) Ports() int {
	return len(c.ports)
}

// Reset switches the power off, de-energizes every port and forgets all
// measurements. The controller has to re-probe all ports before it accepts
// triggers again.
func (c *Controller) Reset() {
	now := c.now()
	c.looped = false
	c.powerHeld = false
	if !c.hw.SetPower(false) {
		// Let Loop retry the switch-off on its next run.
		c.holdPower(now.Add(-powerOffDelay))
	}
	c.wake(now)
	c.probe = probe{}
	c.limiter.reset()

	for i := range c.ports {
		c.ports[i] = port{}
		c.ports[i].coil.forget()
		c.hw.SetPortDuty(i, 0)
		c.updateIndicator(i, false)
	}
}

// Loop advances the controller. It must be called at least once per
// millisecond and never blocks.
func (c *Controller) Loop() {
	now := c.now()
	if c.looped && now.Sub(c.lastLoop) < loopInterval {
		return
	}
	c.looped = true
	c.lastLoop = now

	// Switch off the indicators.
	if c.awake && now.Sub(c.wakeAt) > indicatorTimeout {
		c.awake = false
		for i := range c.ports {
			c.updateIndicator(i, false)
		}
	}

	busy := false
	for i := range c.ports {
		if c.stepPort(i, now) {
			busy = true
		}
	}

	// Too much load: release all ports and force a new resistance
	// measurement, short-circuited ports will be isolated.
	if c.limiter.sample(c.hw.ReadTotalCurrent()) {
		for i := range c.ports {
			c.releasePort(i)
		}
		c.probe = probe{}
		c.hw.SetIndicator(IndicatorOverCurrent, 0, c.limiter.filtered)
		return
	}

	// The main power is still active, the resistance cannot be measured.
	if busy {
		return
	}

	if c.powerHeld {
		if now.Sub(c.powerAt) < powerOffDelay {
			return
		}
		if !c.hw.SetPower(false) {
			return
		}
		c.powerHeld = false
	}

	c.stepProbe(now)
}

// TriggerPort requests a power pulse of the given watts for the given number
// of seconds. A request with zero watts or seconds releases the port, fading
// out if fadeOut is set.
//
// The request is ignored until all ports have been probed, if the port has no
// connected coil, or while the current limit is exceeded. Once calibrated, every
// request, including a release, interrupts a resistance measurement in
// progress.
func (c *Controller) TriggerPort(i int, watts, seconds float64, fadeIn, fadeOut bool) {
	if i < 0 || i >= len(c.ports) {
		return
	}
	if !c.probe.ready {
		return
	}

	// A measurement in progress would sample a de-energized coil.
	c.cancelProbe()

	p := &c.ports[i]
	if watts <= 0 || seconds <= 0 {
		p.pulse.fadeOut = fadeOut
		if !fadeOut || !c.fadeOutPort(i) {
			c.releasePort(i)
		}
		return
	}

	if p.coil.state != CoilConnected {
		return
	}
	if c.limiter.tripped() {
		return
	}

	now := c.now()
	p.pulse = pulse{
		start:    now,
		duration: time.Duration(seconds * float64(time.Second)),
		watts:    watts,
		fadeIn:   fadeIn,
		fadeOut:  fadeOut,
		target:   c.wattsToDuty(i, watts),
	}

	// If the indicators switched off after a timeout, refresh them.
	if !c.awake {
		for j := range c.ports {
			c.updateIndicator(j, true)
		}
	}
	c.wake(now)

	// The rail may be up but not usable yet; the switch-off is scheduled
	// either way.
	c.holdPower(now)
	if !c.hw.SetPower(true) {
		p.pending = true
		return
	}
	c.startPulse(i, now)
}

// Current returns the filtered total current in amperes.
func (c *Controller) Current() float64 {
	return c.limiter.filtered
}

// Resistance returns the measured coil resistance of a port in ohms, -1 if
// nothing is connected or the port is unknown, 0 for a short circuit.
func (c *Controller) Resistance(i int) float64 {
	if i < 0 || i >= len(c.ports) {
		return -1
	}

	switch c.ports[i].coil.state {
	case CoilConnected:
		return c.ports[i].coil.resistance
	case CoilShortCircuit:
		return 0
	}
	return -1
}

// Ready reports whether all ports have been probed.
func (c *Controller) Ready() bool {
	return c.probe.ready
}

// Snapshot returns a point-in-time copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		Ports:      make([]PortStatus, len(c.ports)),
		Current:    c.limiter.filtered,
		Ready:      c.probe.ready,
		Probe:      c.probe.state,
		ProbePort:  c.probe.port,
		ProbeCycle: c.probe.cycle,
	}
	for i, p := range c.ports {
		s.Ports[i] = PortStatus{
			State:      p.state,
			Duty:       p.duty,
			Coil:       p.coil.state,
			Resistance: c.Resistance(i),
			Pending:    p.pending,
		}
	}
	return s
}

// holdPower delays the next power-off and resistance measurement.
func (c *Controller) holdPower(now time.Time) {
	c.powerAt = now
	c.powerHeld = true
}

func (c *Controller) wake(now time.Time) {
	c.wakeAt = now
	c.awake = true
}

// updateIndicator shows the coil state of a port; force shows it even after
// the inactivity timeout.
func (c *Controller) updateIndicator(i int, force bool) {
	if !force && !c.awake {
		c.hw.SetIndicator(IndicatorOff, i, -1)
		return
	}

	cl := &c.ports[i].coil
	switch cl.state {
	case CoilNotConnected:
		c.hw.SetIndicator(IndicatorOff, i, -1)
	case CoilConnected:
		// Brightness according to the measured resistance.
		c.hw.SetIndicator(IndicatorResistance, i, 1-cl.resistance/c.cfg.Resistance.Max)
	case CoilShortCircuit:
		c.hw.SetIndicator(IndicatorShortCircuit, i, -1)
	}
}
