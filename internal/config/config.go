// Package config loads the daemon configuration from a YAML file with
// SOLENOID_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/solenoid-controller/internal/board"
	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// EnvPrefix prefixes environment overrides, e.g. SOLENOID_MQTT_BROKER.
const EnvPrefix = "SOLENOID"

// MaxPorts is the largest supported port count.
const MaxPorts = 32

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	Solenoid SolenoidConfig `mapstructure:"solenoid" yaml:"solenoid"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" yaml:"mqtt"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Board    BoardConfig    `mapstructure:"board" yaml:"board"`
}

type DeviceConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Ports    int    `mapstructure:"ports" yaml:"ports"`
	Simulate bool   `mapstructure:"simulate" yaml:"simulate"`
}

type SolenoidConfig struct {
	CurrentMax    float64       `mapstructure:"current_max" yaml:"current_max"`
	CurrentAlpha  float64       `mapstructure:"current_alpha" yaml:"current_alpha"`
	ResistanceMin float64       `mapstructure:"resistance_min" yaml:"resistance_min"`
	ResistanceMax float64       `mapstructure:"resistance_max" yaml:"resistance_max"`
	FadeIn        time.Duration `mapstructure:"fade_in" yaml:"fade_in"`
	FadeOut       time.Duration `mapstructure:"fade_out" yaml:"fade_out"`
	HoldPeak      time.Duration `mapstructure:"hold_peak" yaml:"hold_peak"`
	HoldFraction  float64       `mapstructure:"hold_fraction" yaml:"hold_fraction"`
}

// MQTTConfig configures the broker connection. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker     string        `mapstructure:"broker" yaml:"broker"`
	Username   string        `mapstructure:"username" yaml:"username,omitempty"`
	Password   string        `mapstructure:"password" yaml:"password,omitempty"`
	Heartbeat  time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	BufferSize int           `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr       string        `mapstructure:"addr" yaml:"addr"`
	WSInterval time.Duration `mapstructure:"ws_interval" yaml:"ws_interval"`
}

type BoardConfig struct {
	Chip           string        `mapstructure:"chip" yaml:"chip"`
	PowerLine      int           `mapstructure:"power_line" yaml:"power_line"`
	FaultLine      int           `mapstructure:"fault_line" yaml:"fault_line"`
	PowerSettle    time.Duration `mapstructure:"power_settle" yaml:"power_settle"`
	PWMChip        string        `mapstructure:"pwm_chip" yaml:"pwm_chip"`
	PWMChannels    []int         `mapstructure:"pwm_channels" yaml:"pwm_channels"`
	PWMPeriod      time.Duration `mapstructure:"pwm_period" yaml:"pwm_period"`
	IIODevice      string        `mapstructure:"iio_device" yaml:"iio_device"`
	SupplyChannel  int           `mapstructure:"supply_channel" yaml:"supply_channel"`
	CurrentChannel int           `mapstructure:"current_channel" yaml:"current_channel"`
	ProbeChannel   int           `mapstructure:"probe_channel" yaml:"probe_channel"`
	SupplyGain     float64       `mapstructure:"supply_gain" yaml:"supply_gain"`
	CurrentGain    float64       `mapstructure:"current_gain" yaml:"current_gain"`
	ProbeGain      float64       `mapstructure:"probe_gain" yaml:"probe_gain"`
}

func setDefaults(v *viper.Viper) {
	core := solenoid.DefaultConfig()

	v.SetDefault("device.name", "solenoids")
	v.SetDefault("device.ports", 4)
	v.SetDefault("device.simulate", false)

	v.SetDefault("solenoid.current_max", core.Current.Max)
	v.SetDefault("solenoid.current_alpha", core.Current.Alpha)
	v.SetDefault("solenoid.resistance_min", core.Resistance.Min)
	v.SetDefault("solenoid.resistance_max", core.Resistance.Max)
	v.SetDefault("solenoid.fade_in", core.Fade.In)
	v.SetDefault("solenoid.fade_out", core.Fade.Out)
	v.SetDefault("solenoid.hold_peak", core.Hold.Peak)
	v.SetDefault("solenoid.hold_fraction", core.Hold.Fraction)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.heartbeat", "15m")
	v.SetDefault("mqtt.buffer_size", 256)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.ws_interval", "250ms")

	v.SetDefault("board.chip", "gpiochip0")
	v.SetDefault("board.power_line", board.DefaultPowerLine)
	v.SetDefault("board.fault_line", board.DefaultFaultLine)
	v.SetDefault("board.power_settle", "20ms")
	v.SetDefault("board.pwm_chip", "/sys/class/pwm/pwmchip0")
	v.SetDefault("board.pwm_channels", []int{0, 1, 2, 3})
	v.SetDefault("board.pwm_period", "50us")
	v.SetDefault("board.iio_device", "/sys/bus/iio/devices/iio:device0")
	v.SetDefault("board.supply_channel", 0)
	v.SetDefault("board.current_channel", 1)
	v.SetDefault("board.probe_channel", 2)
	v.SetDefault("board.supply_gain", 11.0)
	v.SetDefault("board.current_gain", 1.0)
	v.SetDefault("board.probe_gain", 1.0)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads the YAML file at path (optional when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Device.Name == "" || strings.ContainsAny(c.Device.Name, "/+#"):
		return fmt.Errorf("%w: device name %q must be non-empty and free of MQTT wildcards", ErrInvalid, c.Device.Name)
	case c.Device.Ports < 1 || c.Device.Ports > MaxPorts:
		return fmt.Errorf("%w: ports must be in [1, %d], got %d", ErrInvalid, MaxPorts, c.Device.Ports)
	case c.MQTT.Heartbeat < 0:
		return fmt.Errorf("%w: heartbeat must not be negative", ErrInvalid)
	case c.HTTP.WSInterval < 0:
		return fmt.Errorf("%w: ws_interval must not be negative", ErrInvalid)
	case !c.Device.Simulate && len(c.Board.PWMChannels) < c.Device.Ports:
		return fmt.Errorf("%w: %d ports need %d pwm channels, got %d",
			ErrInvalid, c.Device.Ports, c.Device.Ports, len(c.Board.PWMChannels))
	case !c.Device.Simulate && c.Board.PWMPeriod <= 0:
		return fmt.Errorf("%w: pwm_period must be positive", ErrInvalid)
	}

	if err := c.ToSolenoid().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ToSolenoid converts to the controller configuration.
func (c *Config) ToSolenoid() solenoid.Config {
	var s solenoid.Config
	s.Current.Max = c.Solenoid.CurrentMax
	s.Current.Alpha = c.Solenoid.CurrentAlpha
	s.Resistance.Min = c.Solenoid.ResistanceMin
	s.Resistance.Max = c.Solenoid.ResistanceMax
	s.Fade.In = c.Solenoid.FadeIn
	s.Fade.Out = c.Solenoid.FadeOut
	s.Hold.Peak = c.Solenoid.HoldPeak
	s.Hold.Fraction = c.Solenoid.HoldFraction
	return s
}

// ToBoard converts to the hardware wiring, using the first Ports PWM channels.
func (c *Config) ToBoard() board.RealConfig {
	channels := c.Board.PWMChannels
	if len(channels) > c.Device.Ports {
		channels = channels[:c.Device.Ports]
	}
	return board.RealConfig{
		Chip:           c.Board.Chip,
		PowerLine:      c.Board.PowerLine,
		FaultLine:      c.Board.FaultLine,
		PowerSettle:    c.Board.PowerSettle,
		PWMChip:        c.Board.PWMChip,
		PWMChannels:    append([]int(nil), channels...),
		PWMPeriod:      c.Board.PWMPeriod,
		IIODevice:      c.Board.IIODevice,
		SupplyChannel:  c.Board.SupplyChannel,
		CurrentChannel: c.Board.CurrentChannel,
		ProbeChannel:   c.Board.ProbeChannel,
		SupplyGain:     c.Board.SupplyGain,
		CurrentGain:    c.Board.CurrentGain,
		ProbeGain:      c.Board.ProbeGain,
	}
}

// Dump writes the effective configuration as YAML with secrets redacted.
func (c *Config) Dump(w io.Writer) error {
	out := *c
	if out.MQTT.Password != "" {
		out.MQTT.Password = "********"
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
