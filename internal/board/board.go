// Package board provides the solenoid driver hardware with abstraction for
// testing. The real implementation uses the Linux GPIO character device for the
// power rail, sysfs PWM for the ports and IIO for the analog channels.
// The fake implementation simulates coils without hardware.
package board

import (
	"io"
	"time"

	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// Board is the hardware driven by the solenoid controller.
type Board interface {
	solenoid.Hardware
	io.Closer
}

// RealConfig describes how the driver board is wired to the host.
type RealConfig struct {
	// GPIO chip and line offsets. FaultLine < 0 disables the fault LED.
	Chip      string
	PowerLine int
	FaultLine int

	// Time after switching the rail on before SetPower reports success.
	PowerSettle time.Duration

	// sysfs PWM chip directory, one channel per port.
	PWMChip     string
	PWMChannels []int
	PWMPeriod   time.Duration

	// IIO device directory and channel numbers.
	IIODevice      string
	SupplyChannel  int
	CurrentChannel int
	ProbeChannel   int

	// Multipliers from the ADC input voltage to volts/amps at the board.
	SupplyGain  float64
	CurrentGain float64
	ProbeGain   float64
}

// Defaults (BCM numbering)
const (
	DefaultPowerLine = 17
	DefaultFaultLine = 27
)
