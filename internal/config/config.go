// Package config loads the dial-tester YAML configuration.
//
// Defaults come from DefaultConfig, a file may override them, and command
// line flags override the file. Validate is called once all three are merged.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/dial-tester/internal/line"
)

// Line drivers.
const (
	DriverSerial = "serial"
	DriverGPIO   = "gpio"
)

// Sampler hosts.
const (
	HostDirect = "direct"
	HostWorker = "worker"
)

// Config is the top-level YAML configuration.
type Config struct {
	Lines   LinesConfig   `yaml:"lines"`
	Sampler SamplerConfig `yaml:"sampler"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

type LinesConfig struct {
	Driver string       `yaml:"driver"` // "serial" or "gpio"
	Serial SerialConfig `yaml:"serial"`
	GPIO   GPIOConfig   `yaml:"gpio"`
}

// SerialConfig maps each contact to a modem status input.
type SerialConfig struct {
	Device    string `yaml:"device"`
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
	Suppress  string `yaml:"suppress"`
}

// GPIOConfig maps each contact to a line offset; -1 means not wired.
type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	Primary   int    `yaml:"primary"`
	Secondary int    `yaml:"secondary"`
	Suppress  int    `yaml:"suppress"`
}

type SamplerConfig struct {
	PollMs           int    `yaml:"poll_ms"`
	DebounceMs       int    `yaml:"debounce_ms"`
	SignalThrottleMs int    `yaml:"signal_throttle_ms"`
	Host             string `yaml:"host"` // "direct" or "worker"
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables publishing
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	m := line.DefaultSerialMapping
	return Config{
		Lines: LinesConfig{
			Driver: DriverSerial,
			Serial: SerialConfig{
				Device:    "/dev/ttyUSB0",
				Primary:   string(m.Primary),
				Secondary: string(m.Secondary),
				Suppress:  string(m.Suppress),
			},
			GPIO: GPIOConfig{
				Chip:      "gpiochip0",
				Primary:   line.DefaultPinPrimary,
				Secondary: line.DefaultPinSecondary,
				Suppress:  line.DefaultPinSuppress,
			},
		},
		Sampler: SamplerConfig{
			PollMs:           1,
			DebounceMs:       0,
			SignalThrottleMs: 33,
			Host:             HostDirect,
			RequestTimeoutMs: 5000,
		},
		MQTT: MQTTConfig{
			ClientID:    "dial-tester",
			TopicPrefix: "dial/tester",
			BufferSize:  100,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file on top of DefaultConfig. Unknown fields are
// rejected so typos surface at startup.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds values from command line flags. Nil fields are not
// applied; non-nil fields are applied even when zero.
type FlagOverrides struct {
	Driver     *string
	Device     *string
	DebounceMs *int
	Host       *string
	Broker     *string
	HTTPAddr   *string
	LogLevel   *string
}

// Apply merges the overrides into cfg. The device override applies to the
// active driver: a tty path for serial, a chip name for gpio.
func (o FlagOverrides) Apply(cfg *Config) {
	if o.Driver != nil {
		cfg.Lines.Driver = *o.Driver
	}
	if o.Device != nil {
		if cfg.Lines.Driver == DriverGPIO {
			cfg.Lines.GPIO.Chip = *o.Device
		} else {
			cfg.Lines.Serial.Device = *o.Device
		}
	}
	if o.DebounceMs != nil {
		cfg.Sampler.DebounceMs = *o.DebounceMs
	}
	if o.Host != nil {
		cfg.Sampler.Host = *o.Host
	}
	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and reports every violation found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Lines.Driver {
	case DriverSerial:
		if c.Lines.Serial.Device == "" {
			errs = append(errs, errors.New("lines.serial.device must not be empty"))
		}
		for name, sig := range map[string]string{
			"primary":   c.Lines.Serial.Primary,
			"secondary": c.Lines.Serial.Secondary,
			"suppress":  c.Lines.Serial.Suppress,
		} {
			if !line.Signal(sig).Valid() {
				errs = append(errs, fmt.Errorf("lines.serial.%s: unknown signal %q", name, sig))
			}
		}
		if line.Signal(c.Lines.Serial.Primary) == line.SignalNone {
			errs = append(errs, errors.New("lines.serial.primary must be wired"))
		}
	case DriverGPIO:
		if c.Lines.GPIO.Chip == "" {
			errs = append(errs, errors.New("lines.gpio.chip must not be empty"))
		}
		if c.Lines.GPIO.Primary < 0 {
			errs = append(errs, errors.New("lines.gpio.primary must be >= 0"))
		}
		if c.Lines.GPIO.Secondary < line.NoPin || c.Lines.GPIO.Suppress < line.NoPin {
			errs = append(errs, errors.New("lines.gpio offsets must be >= 0, or -1 when not wired"))
		}
	default:
		errs = append(errs, fmt.Errorf("lines.driver must be %q or %q", DriverSerial, DriverGPIO))
	}

	if c.Sampler.PollMs <= 0 {
		errs = append(errs, errors.New("sampler.poll_ms must be > 0"))
	}
	if c.Sampler.DebounceMs < 0 {
		errs = append(errs, errors.New("sampler.debounce_ms must be >= 0"))
	}
	if c.Sampler.SignalThrottleMs < 0 {
		errs = append(errs, errors.New("sampler.signal_throttle_ms must be >= 0"))
	}
	if c.Sampler.Host != HostDirect && c.Sampler.Host != HostWorker {
		errs = append(errs, fmt.Errorf("sampler.host must be %q or %q", HostDirect, HostWorker))
	}
	if c.Sampler.RequestTimeoutMs <= 0 {
		errs = append(errs, errors.New("sampler.request_timeout_ms must be > 0"))
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, errors.New("mqtt.topic_prefix must not be empty"))
		}
		if c.MQTT.BufferSize <= 0 {
			errs = append(errs, errors.New("mqtt.buffer_size must be > 0"))
		}
	}

	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// Poll returns the sampling period.
func (c *Config) Poll() time.Duration {
	return time.Duration(c.Sampler.PollMs) * time.Millisecond
}

// SignalThrottle returns the minimum interval between signal notifications.
func (c *Config) SignalThrottle() time.Duration {
	return time.Duration(c.Sampler.SignalThrottleMs) * time.Millisecond
}

// RequestTimeout returns the worker request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sampler.RequestTimeoutMs) * time.Millisecond
}

// SerialMapping returns the configured modem signal for each contact.
func (c *Config) SerialMapping() line.SerialMapping {
	return line.SerialMapping{
		Primary:   line.Signal(c.Lines.Serial.Primary),
		Secondary: line.Signal(c.Lines.Serial.Secondary),
		Suppress:  line.Signal(c.Lines.Serial.Suppress),
	}
}
