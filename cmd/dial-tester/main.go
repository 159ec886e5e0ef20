// Command dial-tester samples a rotary dial's contacts, decodes each dialed
// digit and reports its speed and pulse/pause ratio over MQTT and HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/dial-tester/internal/config"
	"github.com/sweeney/dial-tester/internal/line"
	"github.com/sweeney/dial-tester/internal/mqtt"
	"github.com/sweeney/dial-tester/internal/sampler"
	"github.com/sweeney/dial-tester/internal/status"
	"github.com/sweeney/dial-tester/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (built-in defaults when empty)")
	driver := flag.String("driver", "", `Line driver: "serial" or "gpio"`)
	device := flag.String("device", "", "Serial tty, or GPIO chip with -driver gpio")
	debounce := flag.Int("debounce", 0, "Debounce delay in ms (0-10)")
	host := flag.String("host", "", `Sampler host: "direct" or "worker"`)
	broker := flag.String("broker", "", "MQTT broker address (empty disables)")
	httpAddr := flag.String("http", "", "HTTP status address (empty disables)")
	logLevel := flag.String("log-level", "", "Log level: error, warn, info or debug")
	printState := flag.Bool("print-state", false, "Print current line state and exit")

	flag.Parse()

	// Only flags given on the command line override the file.
	var o config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			o.Driver = driver
		case "device":
			o.Device = device
		case "debounce":
			o.DebounceMs = debounce
		case "host":
			o.Host = host
		case "broker":
			o.Broker = broker
		case "http":
			o.HTTPAddr = httpAddr
		case "log-level":
			o.LogLevel = logLevel
		}
	})

	if err := run(*configPath, o, *printState, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string, o config.FlagOverrides) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openReader(cfg config.Config) (line.Reader, error) {
	if cfg.Lines.Driver == config.DriverGPIO {
		g := cfg.Lines.GPIO
		return line.NewGPIOReader(g.Chip, g.Primary, g.Secondary, g.Suppress)
	}
	return line.NewSerialReader(cfg.Lines.Serial.Device, cfg.SerialMapping())
}

func run(configPath string, o config.FlagOverrides, printState bool, stdout io.Writer) error {
	cfg, err := loadConfig(configPath, o)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, cfg.Logging.Level)
	slog.SetDefault(logger)

	reader, err := openReader(cfg)
	if err != nil {
		return fmt.Errorf("open lines: %w", err)
	}
	defer reader.Close()

	if printState {
		return printLines(stdout, reader)
	}

	var pub mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			BufferSize:  cfg.MQTT.BufferSize,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		pub = rp
	}

	d := newDaemon(cfg, reader, sampler.RealClock{}, pub, logger)
	if d.srv != nil {
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"driver", cfg.Lines.Driver,
		"device", deviceName(cfg),
		"host", cfg.Sampler.Host,
		"poll", cfg.Poll(),
		"debounce_ms", cfg.Sampler.DebounceMs,
		"broker", cfg.MQTT.Broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return d.run(context.Background(), sigCh)
}

// newDaemon wires the tracker, publisher, web server and live feed to a
// sampling controller. pub may be nil to disable MQTT.
func newDaemon(cfg config.Config, reader line.Reader, clock sampler.Clock, pub mqtt.Publisher, logger *slog.Logger) *daemon {
	tracker := status.NewTracker(time.Now(), status.Config{
		Driver:      cfg.Lines.Driver,
		Device:      deviceName(cfg),
		Host:        cfg.Sampler.Host,
		PollMs:      int64(cfg.Sampler.PollMs),
		DebounceMs:  int64(cfg.Sampler.DebounceMs),
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
	})

	faults := make(faultSink, 1)
	d := &daemon{
		logger:     logger,
		tracker:    tracker,
		faults:     faults,
		now:        time.Now,
		debounceMs: cfg.Sampler.DebounceMs,
	}

	observers := []sampler.Observer{tracker}
	if pub != nil {
		d.fwd = mqtt.NewForwarder(pub, mqtt.ForwarderOptions{Logger: logger})
		if cs, ok := pub.(mqtt.ConnectionStatus); ok {
			d.mqttUp = cs
		}
		observers = append(observers, d.fwd)
	}
	if cfg.HTTP.Addr != "" {
		d.hub = web.NewHub(logger, web.HubConfig{})
		d.srv = web.New(cfg.HTTP.Addr, tracker, d.hub, logger)
		observers = append(observers, d.hub)
	}
	// Last, so a fault is queued before shutdown begins.
	observers = append(observers, faults)

	d.ctl = newController(cfg, reader, clock, sampler.Multi(observers...), logger)
	return d
}

func deviceName(cfg config.Config) string {
	if cfg.Lines.Driver == config.DriverGPIO {
		return cfg.Lines.GPIO.Chip
	}
	return cfg.Lines.Serial.Device
}

// printLines reads one snapshot and prints each contact's level.
func printLines(w io.Writer, r line.Reader) error {
	s, err := r.Read()
	if err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	p, sec, sup := s.Levels()
	_, err = fmt.Fprintf(w, "primary: %s, secondary: %s, suppress: %s\n", p, sec, sup)
	return err
}
