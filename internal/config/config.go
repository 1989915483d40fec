// Package config loads daemon configuration. Values come from, in order of
// increasing precedence: built-in defaults, an optional YAML file, an
// optional dotenv file, the process environment (DRAIN_* variables) and
// finally command-line flags applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/drain-monitor/internal/control"
	"github.com/sweeney/drain-monitor/internal/gpio"
	"github.com/sweeney/drain-monitor/internal/level"
	"github.com/sweeney/drain-monitor/internal/mqtt"
	"github.com/sweeney/drain-monitor/internal/pump"
)

// Config is the complete daemon configuration.
type Config struct {
	GPIO     GPIO   `yaml:"gpio"`
	Timing   Timing `yaml:"timing"`
	Pump     Pump   `yaml:"pump"`
	MQTT     MQTT   `yaml:"mqtt"`
	HTTP     HTTP   `yaml:"http"`
	LogLevel string `yaml:"log_level"`
}

// GPIO selects the driver and pin assignments (BCM numbering).
type GPIO struct {
	Driver       string `yaml:"driver"`
	Chip         string `yaml:"chip"`
	SensorPins   []int  `yaml:"sensor_pins"`
	PumpPin      int    `yaml:"pump_pin"`
	BuzzerPin    int    `yaml:"buzzer_pin"`
	IndicatorPin int    `yaml:"indicator_pin"`
	ResetPin     int    `yaml:"reset_pin"`
	// Float switches close to ground instead of to VCC.
	SensorsActiveLow bool `yaml:"sensors_active_low"`
	// Relay boards that energize on a low input.
	RelayActiveLow bool `yaml:"relay_active_low"`
}

// Timing holds the control loop timings.
type Timing struct {
	Poll       time.Duration `yaml:"poll"`
	Debounce   time.Duration `yaml:"debounce"`
	EmptyGuard time.Duration `yaml:"empty_guard"`
	ResetHold  time.Duration `yaml:"reset_hold"`
}

// Pump holds the emergency run calculation.
type Pump struct {
	MinEmergency time.Duration `yaml:"min_emergency"`
	SafetyFactor float64       `yaml:"safety_factor"`
}

// MQTT configures telemetry. An empty broker disables it.
type MQTT struct {
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	BufferSize      int           `yaml:"buffer_size"`
}

// HTTP configures the status server. An empty address disables it.
type HTTP struct {
	Addr           string   `yaml:"addr"`
	AccessLog      bool     `yaml:"access_log"`
	OriginPatterns []string `yaml:"origin_patterns"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GPIO: GPIO{
			Driver:       gpio.DriverCdev,
			Chip:         gpio.DefaultChip,
			SensorPins:   append([]int(nil), gpio.DefaultSensorPins...),
			PumpPin:      gpio.DefaultPumpPin,
			BuzzerPin:    gpio.DefaultBuzzerPin,
			IndicatorPin: gpio.DefaultIndicatorPin,
			ResetPin:     gpio.DefaultResetPin,
		},
		Timing: Timing{
			Poll:       control.DefaultPollInterval,
			Debounce:   level.DefaultDebounce,
			EmptyGuard: control.DefaultEmptyGuard,
			ResetHold:  control.DefaultResetHold,
		},
		Pump: Pump{
			MinEmergency: pump.DefaultMinEmergency,
			SafetyFactor: pump.DefaultSafetyFactor,
		},
		MQTT: MQTT{
			Broker:          "tcp://localhost:1883",
			ClientID:        mqtt.DefaultClientID,
			PublishInterval: 5 * time.Second,
			BufferSize:      mqtt.DefaultBufferSize,
		},
		HTTP: HTTP{
			Addr: ":80",
		},
		LogLevel: "info",
	}
}

// Load builds a configuration from the defaults, the YAML file at path and
// the environment. Either path may be empty. A missing env file is not an
// error; a missing YAML file is.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Environment variable names.
const (
	EnvDriver          = "DRAIN_GPIO_DRIVER"
	EnvChip            = "DRAIN_GPIO_CHIP"
	EnvSensorPins      = "DRAIN_SENSOR_PINS"
	EnvPumpPin         = "DRAIN_PUMP_PIN"
	EnvBuzzerPin       = "DRAIN_BUZZER_PIN"
	EnvIndicatorPin    = "DRAIN_INDICATOR_PIN"
	EnvResetPin        = "DRAIN_RESET_PIN"
	EnvPoll            = "DRAIN_POLL"
	EnvDebounce        = "DRAIN_DEBOUNCE"
	EnvEmptyGuard      = "DRAIN_EMPTY_GUARD"
	EnvResetHold       = "DRAIN_RESET_HOLD"
	EnvMinEmergency    = "DRAIN_MIN_EMERGENCY"
	EnvSafetyFactor    = "DRAIN_SAFETY_FACTOR"
	EnvBroker          = "DRAIN_MQTT_BROKER"
	EnvMQTTClientID    = "DRAIN_MQTT_CLIENT_ID"
	EnvMQTTUsername    = "DRAIN_MQTT_USERNAME"
	EnvMQTTPassword    = "DRAIN_MQTT_PASSWORD"
	EnvPublishInterval = "DRAIN_PUBLISH_INTERVAL"
	EnvHTTPAddr        = "DRAIN_HTTP_ADDR"
	EnvLogLevel        = "DRAIN_LOG_LEVEL"
)

// ApplyEnv overlays every variable lookup finds.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(p *string) func(string) error {
		return func(v string) error { *p = v; return nil }
	}
	num := func(p *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*p = n
			return nil
		}
	}
	dur := func(p *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*p = d
			return nil
		}
	}

	setters := []struct {
		key string
		set func(string) error
	}{
		{EnvDriver, str(&c.GPIO.Driver)},
		{EnvChip, str(&c.GPIO.Chip)},
		{EnvSensorPins, func(v string) error {
			pins, err := ParsePins(v)
			if err != nil {
				return err
			}
			c.GPIO.SensorPins = pins
			return nil
		}},
		{EnvPumpPin, num(&c.GPIO.PumpPin)},
		{EnvBuzzerPin, num(&c.GPIO.BuzzerPin)},
		{EnvIndicatorPin, num(&c.GPIO.IndicatorPin)},
		{EnvResetPin, num(&c.GPIO.ResetPin)},
		{EnvPoll, dur(&c.Timing.Poll)},
		{EnvDebounce, dur(&c.Timing.Debounce)},
		{EnvEmptyGuard, dur(&c.Timing.EmptyGuard)},
		{EnvResetHold, dur(&c.Timing.ResetHold)},
		{EnvMinEmergency, dur(&c.Pump.MinEmergency)},
		{EnvSafetyFactor, func(v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return err
			}
			c.Pump.SafetyFactor = f
			return nil
		}},
		{EnvBroker, str(&c.MQTT.Broker)},
		{EnvMQTTClientID, str(&c.MQTT.ClientID)},
		{EnvMQTTUsername, str(&c.MQTT.Username)},
		{EnvMQTTPassword, str(&c.MQTT.Password)},
		{EnvPublishInterval, dur(&c.MQTT.PublishInterval)},
		{EnvHTTPAddr, str(&c.HTTP.Addr)},
		{EnvLogLevel, str(&c.LogLevel)},
	}

	var errs []error
	for _, s := range setters {
		v, ok := lookup(s.key)
		if !ok {
			continue
		}
		if err := s.set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", s.key, v, err))
		}
	}
	return errors.Join(errs...)
}

// ParsePins parses a comma-separated pin list such as "5,6,13".
func ParsePins(s string) ([]int, error) {
	var pins []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", f, err)
		}
		pins = append(pins, n)
	}
	return pins, nil
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error

	switch c.GPIO.Driver {
	case gpio.DriverCdev, gpio.DriverRPIO:
	default:
		errs = append(errs, fmt.Errorf("gpio driver %q: want %s or %s", c.GPIO.Driver, gpio.DriverCdev, gpio.DriverRPIO))
	}
	if len(c.GPIO.SensorPins) != level.NumSensors {
		errs = append(errs, fmt.Errorf("sensor pins: got %d, want %d", len(c.GPIO.SensorPins), level.NumSensors))
	}
	seen := map[int]string{}
	for _, p := range c.pins() {
		if p.pin < 0 {
			errs = append(errs, fmt.Errorf("%s: negative pin %d", p.name, p.pin))
			continue
		}
		if other, dup := seen[p.pin]; dup {
			errs = append(errs, fmt.Errorf("pin %d used by both %s and %s", p.pin, other, p.name))
			continue
		}
		seen[p.pin] = p.name
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"poll", c.Timing.Poll},
		{"debounce", c.Timing.Debounce},
		{"empty_guard", c.Timing.EmptyGuard},
		{"reset_hold", c.Timing.ResetHold},
		{"min_emergency", c.Pump.MinEmergency},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", p.name, p.d))
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.PublishInterval <= 0 {
		errs = append(errs, fmt.Errorf("publish_interval must be positive, got %v", c.MQTT.PublishInterval))
	}
	if c.Pump.SafetyFactor < 1 {
		errs = append(errs, fmt.Errorf("safety_factor must be at least 1, got %v", c.Pump.SafetyFactor))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type namedPin struct {
	name string
	pin  int
}

func (c Config) pins() []namedPin {
	var out []namedPin
	for i, p := range c.GPIO.SensorPins {
		out = append(out, namedPin{fmt.Sprintf("sensor %d", i+1), p})
	}
	return append(out,
		namedPin{"pump", c.GPIO.PumpPin},
		namedPin{"buzzer", c.GPIO.BuzzerPin},
		namedPin{"indicator", c.GPIO.IndicatorPin},
		namedPin{"reset", c.GPIO.ResetPin},
	)
}

// SensorPins returns the sensor pins as the fixed-size array the level
// reader takes. Call after Validate.
func (c Config) SensorPins() [level.NumSensors]int {
	var out [level.NumSensors]int
	copy(out[:], c.GPIO.SensorPins)
	return out
}

// Lines returns the GPIO line requests. The reset button is active low with
// a pull-up; the float switches and relay follow the configured polarity.
func (c Config) Lines() []gpio.Line {
	var lines []gpio.Line
	for _, p := range c.GPIO.SensorPins {
		lines = append(lines, gpio.Line{Pin: p, ActiveLow: c.GPIO.SensorsActiveLow, PullUp: c.GPIO.SensorsActiveLow})
	}
	return append(lines,
		gpio.Line{Pin: c.GPIO.PumpPin, Output: true, ActiveLow: c.GPIO.RelayActiveLow},
		gpio.Line{Pin: c.GPIO.BuzzerPin, Output: true},
		gpio.Line{Pin: c.GPIO.IndicatorPin, Output: true},
		gpio.Line{Pin: c.GPIO.ResetPin, ActiveLow: true, PullUp: true},
	)
}

// ParseLogLevel maps debug, info, warn or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}
