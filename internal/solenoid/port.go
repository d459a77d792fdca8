package solenoid

import (
	"math"
	"time"
)

// Duty cycles below this are treated as off for fade purposes.
const minFadeDuty = 0.01

type pulse struct {
	start    time.Time
	peak     time.Time
	duration time.Duration
	watts    float64
	fadeIn   bool
	fadeOut  bool
	target   float64
	delta    float64
}

type port struct {
	state DriverState

	// Current duty cycle. May fade-in/out to/from the target duty cycle.
	duty float64

	coil  coil
	pulse pulse

	// The pulse is waiting for the power rail to come up.
	pending bool
}

// stepPort advances the actuation state machine of one port by one tick and
// reports whether the port is still busy.
func (c *Controller) stepPort(i int, now time.Time) bool {
	p := &c.ports[i]

	if p.pending {
		c.holdPower(now)
		if c.hw.SetPower(true) {
			c.startPulse(i, now)
		}
		return true
	}

	switch p.state {
	case DriverIdle:
		return false

	case DriverFadeIn:
		p.duty = math.Min(p.duty+p.pulse.delta, p.pulse.target)
		c.hw.SetPortDuty(i, p.duty)

		if p.duty >= p.pulse.target {
			p.pulse.peak = now
			p.state = DriverPeak
		}

	case DriverPeak:
		// Limit the peak/actuation period, reduce to the power to hold.
		if now.Sub(p.pulse.peak) > c.cfg.Hold.Peak {
			p.duty *= c.cfg.Hold.Fraction
			c.hw.SetPortDuty(i, p.duty)
			p.state = DriverHold
			break
		}
		c.endPulse(i, now)

	case DriverHold:
		c.endPulse(i, now)

	case DriverFadeOut:
		p.duty -= p.pulse.delta
		if p.duty <= 0 {
			c.releasePort(i)
			break
		}
		c.hw.SetPortDuty(i, p.duty)
	}

	return true
}

// endPulse fades out or releases the port once the pulse duration has elapsed.
func (c *Controller) endPulse(i int, now time.Time) {
	p := &c.ports[i]
	if now.Sub(p.pulse.start) < p.pulse.duration {
		return
	}
	if !c.fadeOutPort(i) {
		c.releasePort(i)
	}
}

// startPulse applies a prepared pulse once the power rail is up.
func (c *Controller) startPulse(i int, now time.Time) {
	p := &c.ports[i]
	p.pending = false
	p.pulse.start = now

	if p.pulse.fadeIn && p.pulse.target > minFadeDuty && p.duty < p.pulse.target {
		// One step per millisecond; a pulse shorter than the fade time fades
		// in over the whole pulse.
		msec := float64(c.cfg.Fade.In) / float64(time.Millisecond)
		if pulseMsec := float64(p.pulse.duration) / float64(time.Millisecond); msec > pulseMsec {
			msec = pulseMsec
		}
		if msec < 1 {
			msec = 1
		}

		p.pulse.delta = p.pulse.target / msec
		p.state = DriverFadeIn
	} else {
		// Immediate switch-on, or take-over from the current duty cycle.
		p.duty = p.pulse.target
		c.hw.SetPortDuty(i, p.duty)
		p.pulse.peak = now
		p.state = DriverPeak
	}

	c.hw.SetIndicator(IndicatorPower, i, p.pulse.watts)
}

// fadeOutPort starts the fade-out of an active port. It returns false if the
// port should be released immediately instead.
func (c *Controller) fadeOutPort(i int) bool {
	p := &c.ports[i]
	if !p.pulse.fadeOut || p.pending {
		return false
	}
	if p.duty < minFadeDuty {
		return false
	}

	msec := float64(c.cfg.Fade.Out) / float64(time.Millisecond)
	if msec < 1 {
		return false
	}

	p.pulse.delta = p.duty / msec
	p.state = DriverFadeOut
	return true
}

func (c *Controller) releasePort(i int) {
	c.hw.SetPortDuty(i, 0)
	p := &c.ports[i]
	p.state = DriverIdle
	p.duty = 0
	p.pulse = pulse{}
	p.pending = false
	c.updateIndicator(i, false)
}

// wattsToDuty converts the requested power to a PWM duty cycle from the
// measured coil resistance and the live supply voltage. Power beyond what the
// supply can deliver at full duty is clamped.
func (c *Controller) wattsToDuty(i int, watts float64) float64 {
	supply := c.hw.ReadSupplyVoltage()
	if !(supply > 0) {
		return 0
	}

	voltage := math.Sqrt(watts * c.ports[i].coil.resistance)
	if voltage > supply {
		voltage = supply
	}

	duty := voltage / supply
	if !(duty > 0) {
		return 0
	}
	return math.Min(duty, 1)
}
