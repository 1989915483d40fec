// Command drain-monitor watches a float-switch column in a condensate drain
// tank, runs the pump and alarm, and publishes state to MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/drain-monitor/internal/alarm"
	"github.com/sweeney/drain-monitor/internal/config"
	"github.com/sweeney/drain-monitor/internal/control"
	"github.com/sweeney/drain-monitor/internal/gpio"
	"github.com/sweeney/drain-monitor/internal/level"
	"github.com/sweeney/drain-monitor/internal/metrics"
	"github.com/sweeney/drain-monitor/internal/mqtt"
	"github.com/sweeney/drain-monitor/internal/pump"
	"github.com/sweeney/drain-monitor/internal/status"
	"github.com/sweeney/drain-monitor/internal/web"
)

// loopInterval is how often the control loop ticks. Sensor reads are rate
// limited separately to the poll interval; the alarm patterns need the
// finer cadence.
const loopInterval = 10 * time.Millisecond

// exitRestart is the exit status after the reset button requested a restart.
const exitRestart = 3

var errRestartRequested = errors.New("restart requested by reset button")

type options struct {
	printState bool
	cfg        config.Config
}

// parseFlags loads the configuration and overlays the flags that were set
// explicitly on the command line.
func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("drain-monitor", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", ".env", "dotenv file with DRAIN_* overrides (ignored if missing)")
	driver := fs.String("driver", "", "GPIO driver: cdev or rpio")
	chip := fs.String("chip", "", "GPIO chip for the cdev driver")
	sensorPins := fs.String("sensor-pins", "", "comma-separated BCM pins for sensors 1..7, bottom to top")
	pumpPin := fs.Int("pin-pump", 0, "BCM pin for the pump relay")
	buzzerPin := fs.Int("pin-buzzer", 0, "BCM pin for the buzzer")
	indicatorPin := fs.Int("pin-indicator", 0, "BCM pin for the indicator")
	resetPin := fs.Int("pin-reset", 0, "BCM pin for the reset button")
	poll := fs.Duration("poll", 0, "sensor polling interval")
	debounce := fs.Duration("debounce", 0, "sensor debounce duration")
	minEmergency := fs.Duration("min-emergency", 0, "minimum emergency pump run")
	safety := fs.Float64("safety-factor", 0, "emergency run multiplier over the average cycle")
	broker := fs.String("broker", "", `MQTT broker address ("off" disables)`)
	publish := fs.Duration("publish", 0, "MQTT status publish interval")
	httpAddr := fs.String("http", "", `HTTP status address ("off" disables)`)
	logLevel := fs.String("log-level", "", "log level: debug, info, warn or error")
	printState := fs.Bool("print-state", false, "Print raw sensor state and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return options{}, err
	}

	var errs []error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			cfg.GPIO.Driver = *driver
		case "chip":
			cfg.GPIO.Chip = *chip
		case "sensor-pins":
			pins, err := config.ParsePins(*sensorPins)
			if err != nil {
				errs = append(errs, fmt.Errorf("--sensor-pins: %w", err))
				return
			}
			cfg.GPIO.SensorPins = pins
		case "pin-pump":
			cfg.GPIO.PumpPin = *pumpPin
		case "pin-buzzer":
			cfg.GPIO.BuzzerPin = *buzzerPin
		case "pin-indicator":
			cfg.GPIO.IndicatorPin = *indicatorPin
		case "pin-reset":
			cfg.GPIO.ResetPin = *resetPin
		case "poll":
			cfg.Timing.Poll = *poll
		case "debounce":
			cfg.Timing.Debounce = *debounce
		case "min-emergency":
			cfg.Pump.MinEmergency = *minEmergency
		case "safety-factor":
			cfg.Pump.SafetyFactor = *safety
		case "broker":
			cfg.MQTT.Broker = offToEmpty(*broker)
		case "publish":
			cfg.MQTT.PublishInterval = *publish
		case "http":
			cfg.HTTP.Addr = offToEmpty(*httpAddr)
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := errors.Join(errs...); err != nil {
		return options{}, err
	}
	if err := cfg.Validate(); err != nil {
		return options{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return options{
		printState: *printState,
		cfg:        cfg,
	}, nil
}

func offToEmpty(s string) string {
	if s == "off" {
		return ""
	}
	return s
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "drain-monitor: %v\n", err)
		os.Exit(2)
	}

	lvl, _ := config.ParseLogLevel(opts.cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	err = run(opts.cfg, opts.printState)
	if errors.Is(err, errRestartRequested) {
		slog.Warn("exiting for restart")
		os.Exit(exitRestart)
	}
	if err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, printState bool) error {
	hw, err := gpio.Open(cfg.GPIO.Driver, cfg.GPIO.Chip, cfg.Lines())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := hw.Close(); err != nil {
			slog.Warn("gpio close failed", "err", err)
		}
	}()

	if printState {
		line, err := formatRawState(hw, cfg)
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Println(line)
		return nil
	}

	sys := newSystem(cfg, hw)
	sessionID := uuid.NewString()

	tracker := status.NewTracker(time.Now(), status.Config{
		SessionID:      sessionID,
		Driver:         cfg.GPIO.Driver,
		PollMs:         cfg.Timing.Poll.Milliseconds(),
		DebounceMs:     cfg.Timing.Debounce.Milliseconds(),
		EmptyGuardMs:   cfg.Timing.EmptyGuard.Milliseconds(),
		MinEmergencyMs: cfg.Pump.MinEmergency.Milliseconds(),
		SafetyFactor:   cfg.Pump.SafetyFactor,
		PublishMs:      cfg.MQTT.PublishInterval.Milliseconds(),
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	m := metrics.New()

	// Telemetry
	var (
		fwd  *mqtt.Forwarder
		conn mqtt.ConnectionStatus
	)
	fwdCtx, stopFwd := context.WithCancel(context.Background())
	fwdDone := make(chan struct{})
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			BufferSize: cfg.MQTT.BufferSize,
		})
		if err != nil {
			stopFwd()
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer pub.Close()

		wctx, cancel := context.WithTimeout(context.Background(), mqtt.DefaultConnectTimeout)
		if err := pub.WaitConnected(wctx); err != nil {
			slog.Warn("mqtt not connected yet, buffering until it is", "broker", cfg.MQTT.Broker, "err", err)
		}
		cancel()

		conn = pub
		fwd = mqtt.NewForwarder(pub, func() []byte {
			return status.FormatStatus(tracker.Snapshot())
		}, cfg.MQTT.PublishInterval, 0)
		fwd.OnError(func(error) { m.ObserveIOError("mqtt") })
		go func() {
			defer close(fwdDone)
			fwd.Run(fwdCtx)
		}()
	} else {
		close(fwdDone)
		slog.Info("mqtt disabled")
	}
	defer func() {
		stopFwd()
		<-fwdDone
	}()

	// HTTP
	commands := make(chan web.ClearRequest)
	if cfg.HTTP.Addr != "" {
		var access io.Writer
		if cfg.HTTP.AccessLog {
			access = os.Stdout
		}
		srv := web.New(cfg.HTTP.Addr, tracker, web.Options{
			Metrics:        m.Handler(),
			Commands:       commands,
			AccessLog:      access,
			OriginPatterns: cfg.HTTP.OriginPatterns,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		slog.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	slog.Info("started",
		"session", sessionID,
		"driver", cfg.GPIO.Driver,
		"poll", cfg.Timing.Poll,
		"debounce", cfg.Timing.Debounce,
		"broker", cfg.MQTT.Broker,
	)

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		sys:      sys,
		tracker:  tracker,
		metrics:  m,
		fwd:      fwd,
		conn:     conn,
		now:      time.Now,
		tick:     ticker.C,
		sig:      sigCh,
		commands: commands,
	}
	return l.run()
}

// newSystem wires the controller to the digital I/O.
func newSystem(cfg config.Config, hw gpio.IO) *control.System {
	reader := level.NewReader(hw, cfg.SensorPins(), cfg.Timing.Debounce)
	act := pump.New(hw, pump.Config{
		Pin:          cfg.GPIO.PumpPin,
		MinEmergency: cfg.Pump.MinEmergency,
		SafetyFactor: cfg.Pump.SafetyFactor,
	})
	sig := alarm.New(hw, cfg.GPIO.BuzzerPin, cfg.GPIO.IndicatorPin)
	btn := control.NewResetButton(hw, cfg.GPIO.ResetPin, cfg.Timing.ResetHold)
	return control.NewSystem(reader, act, sig, btn, control.Config{
		PollInterval: cfg.Timing.Poll,
		EmptyGuard:   cfg.Timing.EmptyGuard,
	})
}

// loop is the single control loop. Every component is mutated from run's
// goroutine only; the web server reaches it through commands.
type loop struct {
	sys      *control.System
	tracker  *status.Tracker
	metrics  *metrics.Metrics
	fwd      *mqtt.Forwarder // nil when MQTT is disabled
	conn     mqtt.ConnectionStatus
	now      func() time.Time
	tick     <-chan time.Time
	sig      <-chan os.Signal
	commands <-chan web.ClearRequest

	started bool // STARTUP sent
}

func (l *loop) run() error {
	for {
		select {
		case s := <-l.sig:
			l.shutdown(s)
			return nil
		case req := <-l.commands:
			req.Reply <- l.clear()
		case <-l.tick:
			if err := l.step(); err != nil {
				return err
			}
		}
	}
}

// step runs one controller tick. It returns errRestartRequested when the
// reset button asked for a restart.
func (l *loop) step() error {
	res, err := l.sys.Tick(l.now())
	if err != nil {
		slog.Warn("tick", "err", err)
		l.metrics.ObserveIOError("tick")
	}
	if res.DailyReset {
		slog.Info("daily statistics reset")
	}
	for _, tr := range res.Transitions {
		l.transition(tr)
	}
	l.refresh()

	if !l.started {
		l.started = true
		l.system(mqtt.EventStartup, "")
	}

	if res.Restart {
		slog.Warn("reset button held outside of an error, restarting")
		l.system(mqtt.EventRestart, "reset_button")
		return errRestartRequested
	}
	return nil
}

// clear serves an operator clear-error request.
func (l *loop) clear() web.ClearResult {
	tr, cleared, err := l.sys.ClearError(l.now())
	if err != nil {
		slog.Warn("clear error: output fault", "err", err)
		l.metrics.ObserveIOError("clear")
	}
	if cleared {
		slog.Info("error cleared by operator")
		if tr.From != tr.To {
			l.transition(tr)
		}
		l.refresh()
	}
	return web.ClearResult{Transition: tr, Cleared: cleared, Err: err}
}

func (l *loop) shutdown(s os.Signal) {
	name := signalName(s)
	slog.Info("shutting down", "signal", name)
	l.refresh()
	l.system(mqtt.EventShutdown, name)
}

func (l *loop) transition(tr control.Transition) {
	slog.Info("transition",
		"from", tr.From,
		"to", tr.To,
		"reason", tr.Reason,
		"level", tr.Level,
		"cycle", tr.CycleID,
	)
	if v := tr.Violation; v != nil {
		slog.Warn("sensor out of sequence", "sensor", v.Sensor, "want_active", v.ShouldActive, "level", tr.Level)
	}
	l.metrics.ObserveTransition(tr)
	if l.fwd != nil {
		l.fwd.EnqueueTransition(tr)
	}
}

// refresh pushes the controller status to the tracker and metrics.
func (l *loop) refresh() {
	st := l.sys.Status()
	l.tracker.Update(st)
	l.metrics.ObserveStatus(st)
	if l.conn != nil {
		c := l.conn.IsConnected()
		l.tracker.SetMQTTConnected(c)
		l.metrics.SetMQTTConnected(c)
	}
}

// system queues a retained lifecycle event carrying the full status.
func (l *loop) system(event, reason string) {
	if l.fwd == nil {
		return
	}
	snap := l.tracker.Snapshot()
	l.fwd.EnqueueSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// formatRawState reads every input once, undebounced, for --print-state.
func formatRawState(in level.Input, cfg config.Config) (string, error) {
	var b strings.Builder
	var lvl int
	for i, pin := range cfg.GPIO.SensorPins {
		on, err := in.Read(pin)
		if err != nil {
			return "", fmt.Errorf("sensor %d pin %d: %w", i+1, pin, err)
		}
		mark := "-"
		if on {
			mark = "#"
			lvl = i + 1
		}
		fmt.Fprintf(&b, "S%d:%s ", i+1, mark)
	}
	pressed, err := in.Read(cfg.GPIO.ResetPin)
	if err != nil {
		return "", fmt.Errorf("reset pin %d: %w", cfg.GPIO.ResetPin, err)
	}
	reset := "released"
	if pressed {
		reset = "pressed"
	}
	fmt.Fprintf(&b, "level: %d/%d reset: %s", lvl, len(cfg.GPIO.SensorPins), reset)
	return b.String(), nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
