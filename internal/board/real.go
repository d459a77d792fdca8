//go:build linux

package board

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// RealBoard drives actual hardware on a Linux host.
type RealBoard struct {
	cfg    RealConfig
	logger *zap.Logger

	chip  *gpiocdev.Chip
	power *gpiocdev.Line
	fault *gpiocdev.Line

	powered   bool
	poweredAt time.Time

	// Open duty_cycle attribute per port.
	duty     []*os.File
	periodNs int64

	supply  analogChannel
	current analogChannel
	probe   analogChannel
}

// NewRealBoard opens the GPIO lines, exports and enables the PWM channels and
// locates the analog channels. The rail starts switched off.
func NewRealBoard(cfg RealConfig, logger *zap.Logger) (*RealBoard, error) {
	if len(cfg.PWMChannels) == 0 {
		return nil, errors.New("board: no pwm channels configured")
	}
	if cfg.PWMPeriod <= 0 {
		return nil, fmt.Errorf("board: invalid pwm period %v", cfg.PWMPeriod)
	}

	b := &RealBoard{
		cfg:      cfg,
		logger:   logger,
		periodNs: cfg.PWMPeriod.Nanoseconds(),
	}

	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	b.chip = chip

	b.power, err = chip.RequestLine(cfg.PowerLine, gpiocdev.AsOutput(0))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request power line %d: %w", cfg.PowerLine, err)
	}

	if cfg.FaultLine >= 0 {
		b.fault, err = chip.RequestLine(cfg.FaultLine, gpiocdev.AsOutput(0))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request fault line %d: %w", cfg.FaultLine, err)
		}
	}

	for _, ch := range cfg.PWMChannels {
		f, err := openPWM(cfg.PWMChip, ch, b.periodNs)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("pwm channel %d: %w", ch, err)
		}
		b.duty = append(b.duty, f)
	}

	if b.supply, err = openAnalog(cfg.IIODevice, cfg.SupplyChannel, cfg.SupplyGain); err != nil {
		b.Close()
		return nil, fmt.Errorf("supply channel: %w", err)
	}
	if b.current, err = openAnalog(cfg.IIODevice, cfg.CurrentChannel, cfg.CurrentGain); err != nil {
		b.Close()
		return nil, fmt.Errorf("current channel: %w", err)
	}
	if b.probe, err = openAnalog(cfg.IIODevice, cfg.ProbeChannel, cfg.ProbeGain); err != nil {
		b.Close()
		return nil, fmt.Errorf("probe channel: %w", err)
	}

	return b, nil
}

// SetPower switches the power rail. Switching on reports false until the
// rail had PowerSettle time to come up.
func (b *RealBoard) SetPower(on bool) bool {
	if !on {
		if err := b.power.SetValue(0); err != nil {
			b.logger.Warn("power off failed", zap.Error(err))
			return false
		}
		b.powered = false
		return true
	}

	if !b.powered {
		if err := b.power.SetValue(1); err != nil {
			b.logger.Warn("power on failed", zap.Error(err))
			return false
		}
		b.powered = true
		b.poweredAt = time.Now()
	}
	return time.Since(b.poweredAt) >= b.cfg.PowerSettle
}

// ReadSupplyVoltage reads the rail voltage.
func (b *RealBoard) ReadSupplyVoltage() float64 {
	return b.read(&b.supply, "supply")
}

// ReadTotalCurrent reads the total load current.
func (b *RealBoard) ReadTotalCurrent() float64 {
	return b.read(&b.current, "current")
}

// ReadProbeVoltage reads the resistance probe divider.
func (b *RealBoard) ReadProbeVoltage() float64 {
	return b.read(&b.probe, "probe")
}

// SetPortDuty writes the duty cycle of one port in nanoseconds of the period.
func (b *RealBoard) SetPortDuty(port int, duty float64) {
	if port < 0 || port >= len(b.duty) {
		return
	}
	ns := int64(math.Round(math.Max(0, math.Min(duty, 1)) * float64(b.periodNs)))
	if err := writeAttr(b.duty[port], strconv.FormatInt(ns, 10)); err != nil {
		b.logger.Warn("set duty failed", zap.Int("port", port), zap.Error(err))
	}
}

// SetIndicator lights the fault LED on short circuits and over-current, and
// clears it once the ports are ready again.
func (b *RealBoard) SetIndicator(mode solenoid.IndicatorMode, port int, value float64) {
	if b.fault == nil {
		return
	}

	var v int
	switch mode {
	case solenoid.IndicatorShortCircuit, solenoid.IndicatorOverCurrent:
		v = 1
	case solenoid.IndicatorReady:
		v = 0
	default:
		return
	}
	if err := b.fault.SetValue(v); err != nil {
		b.logger.Warn("set fault led failed", zap.Error(err))
	}
}

// Close switches everything off and releases the hardware.
func (b *RealBoard) Close() error {
	var errs []error

	for i, f := range b.duty {
		if err := writeAttr(f, "0"); err != nil {
			errs = append(errs, fmt.Errorf("zero pwm %d: %w", i, err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pwm %d: %w", i, err))
		}
	}
	b.duty = nil

	for _, ch := range []*analogChannel{&b.supply, &b.current, &b.probe} {
		if ch.raw == nil {
			continue
		}
		if err := ch.raw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close analog channel: %w", err))
		}
		ch.raw = nil
	}

	if b.power != nil {
		if err := b.power.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("power off: %w", err))
		}
		if err := b.power.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close power line: %w", err))
		}
	}
	if b.fault != nil {
		if err := b.fault.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fault line: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return errors.Join(errs...)
}

// read returns the last good value of a channel if the read fails.
func (b *RealBoard) read(ch *analogChannel, name string) float64 {
	v, err := ch.read()
	if err != nil {
		b.logger.Warn("analog read failed", zap.String("channel", name), zap.Error(err))
		return ch.last
	}
	return v
}

// analogChannel is an IIO voltage input.
type analogChannel struct {
	raw   *os.File
	scale float64 // millivolts per LSB
	gain  float64
	last  float64
}

func openAnalog(device string, channel int, gain float64) (analogChannel, error) {
	rawPath := filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel))
	f, err := os.Open(rawPath)
	if err != nil {
		return analogChannel{}, err
	}

	scale, err := readFloat(filepath.Join(device, fmt.Sprintf("in_voltage%d_scale", channel)))
	if err != nil {
		scale, err = readFloat(filepath.Join(device, "in_voltage_scale"))
	}
	if err != nil {
		f.Close()
		return analogChannel{}, fmt.Errorf("read scale: %w", err)
	}

	return analogChannel{raw: f, scale: scale, gain: gain}, nil
}

func (c *analogChannel) read() (float64, error) {
	buf := make([]byte, 32)
	n, err := c.raw.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0, err
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(buf[:n])), 64)
	if err != nil {
		return 0, err
	}
	c.last = raw * c.scale / 1000 * c.gain
	return c.last, nil
}

// openPWM exports and enables a sysfs PWM channel and returns its open
// duty_cycle attribute.
func openPWM(chip string, channel int, periodNs int64) (*os.File, error) {
	dir := filepath.Join(chip, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(chip, "export"), []byte(strconv.Itoa(channel)), 0o200); err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
	}

	// duty_cycle must not exceed the period while the period is changed.
	_ = os.WriteFile(filepath.Join(dir, "duty_cycle"), []byte("0"), 0o200)
	if err := os.WriteFile(filepath.Join(dir, "period"), []byte(strconv.FormatInt(periodNs, 10)), 0o200); err != nil {
		return nil, fmt.Errorf("set period: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "enable"), []byte("1"), 0o200); err != nil {
		return nil, fmt.Errorf("enable: %w", err)
	}

	return os.OpenFile(filepath.Join(dir, "duty_cycle"), os.O_WRONLY, 0)
}

func writeAttr(f *os.File, value string) error {
	_, err := f.WriteAt([]byte(value), 0)
	return err
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}
