// Command garage-door drives relay-operated garage doors over GPIO and
// publishes their state changes to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/garage-door/internal/config"
	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
	"github.com/sweeney/garage-door/internal/mqtt"
	"github.com/sweeney/garage-door/internal/status"
	"github.com/sweeney/garage-door/internal/web"
)

type options struct {
	configPath string
	broker     *string
	httpAddr   *string
	heartbeat  *time.Duration
	printState bool
	command    string
	doorID     string
}

func main() {
	configPath := flag.String("config", "/etc/garage-door.yaml", "Path to YAML config")
	broker := flag.String("broker", "", "MQTT broker address (overrides config, empty disables)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides config, empty disables)")
	heartbeat := flag.Duration("heartbeat", 0, "Heartbeat interval (overrides config, 0 disables)")
	printState := flag.Bool("print-state", false, "Print current door states and exit")
	command := flag.String("do", "", "Run one command (open, close, stop) and exit")
	doorID := flag.String("door", "", "Door for -do (default: first configured door)")

	flag.Parse()

	opts := options{
		configPath: *configPath,
		printState: *printState,
		command:    *command,
		doorID:     *doorID,
	}
	// Only flags given on the command line override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			opts.broker = broker
		case "http":
			opts.httpAddr = httpAddr
		case "heartbeat":
			opts.heartbeat = heartbeat
		}
	})

	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	// Each door gets its own chip handle so its lines are released with it.
	doors := make([]*door.Controller, 0, len(cfg.Doors))
	for _, d := range cfg.Doors {
		dc, err := d.DoorConfig()
		if err != nil {
			return err
		}
		chip, err := gpio.OpenChip(cfg.Chip)
		if err != nil {
			return fmt.Errorf("init gpio for door %s: %w", d.ID, err)
		}
		ctrl, err := door.New(dc, chip)
		if err != nil {
			return fmt.Errorf("init door %s: %w", d.ID, err)
		}
		defer ctrl.Shutdown()
		doors = append(doors, ctrl)
	}

	if opts.printState {
		return printStates(os.Stdout, doors)
	}

	if opts.command != "" {
		ctrl, err := findDoor(doors, opts.doorID)
		if err != nil {
			return err
		}
		return runCommand(os.Stdout, ctrl, door.Command(opts.command))
	}

	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = mqtt.NoopPublisher{}
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = p
	} else {
		log.Printf("mqtt disabled (no broker configured)")
	}
	defer publisher.Close()

	heartbeat := cfg.HeartbeatInterval()
	tracker := status.NewTracker(time.Now(), status.Config{
		HeartbeatMs: heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP,
		Chip:        cfg.Chip,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	log.Printf("started: doors=%d chip=%s broker=%s heartbeat=%v", len(doors), cfg.Chip, cfg.MQTT.Broker, heartbeat)

	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(doors, publisher, publisher, tracker, time.Now, tick, sigCh)
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.broker != nil {
		cfg.MQTT.Broker = *opts.broker
	}
	if opts.httpAddr != nil {
		cfg.HTTP = *opts.httpAddr
	}
	if opts.heartbeat != nil {
		hb := *opts.heartbeat
		cfg.Heartbeat = &hb
	}
}

// runLoop publishes the initial state of every door, then forwards state
// changes until a signal arrives or a door reports a sensor failure.
func runLoop(doors []*door.Controller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	changes := make(chan door.Change, 16)
	failures := make(chan error, len(doors))
	stop := make(chan struct{})
	defer close(stop)

	for _, d := range doors {
		cfg := d.Config()
		tracker.AddDoor(cfg.ID, cfg.SensorMode, cfg.TravelDuration)

		sub := d.OnStateChange.Subscribe(func(c door.Change) {
			select {
			case changes <- c:
			case <-stop:
			}
		})
		defer d.OnStateChange.Unsubscribe(sub)

		go func(d *door.Controller) {
			select {
			case err := <-d.Errors():
				failures <- err
			case <-stop:
			}
		}(d)
	}

	for _, d := range doors {
		state, err := d.State()
		if err != nil {
			return err
		}
		publishChange(publisher, tracker, d, door.Change{DoorID: d.ID(), State: state, Time: now()})
	}
	refreshStatus(tracker, mqttStatus)

	startup := mqtt.SystemEvent{
		Timestamp:  now(),
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	byID := make(map[string]*door.Controller, len(doors))
	for _, d := range doors {
		byID[d.ID()] = d
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason := signalName(s)
			refreshStatus(tracker, mqttStatus)
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     reason,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", reason),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case err := <-failures:
			return fmt.Errorf("sensor failure: %w", err)

		case c := <-changes:
			log.Printf("door %s: %s", c.DoorID, c.State)
			publishChange(publisher, tracker, byID[c.DoorID], c)

		case t := <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			refreshStatus(tracker, mqttStatus)
			for _, d := range doors {
				tracker.SetCounts(d.ID(), d.Counts())
			}
			hb := mqtt.SystemEvent{
				Timestamp:  t,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(hb); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func publishChange(publisher mqtt.Publisher, tracker *status.Tracker, d *door.Controller, c door.Change) {
	tracker.SetState(c.DoorID, c.State, c.Time)
	if d != nil {
		tracker.SetCounts(c.DoorID, d.Counts())
	}
	if err := publisher.PublishState(c); err != nil {
		log.Printf("publish error: %v", err)
		// Don't crash on publish failure
	}
}

func refreshStatus(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func findDoor(doors []*door.Controller, id string) (*door.Controller, error) {
	if id == "" && len(doors) > 0 {
		return doors[0], nil
	}
	for _, d := range doors {
		if d.ID() == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown door %q", id)
}

func printStates(w io.Writer, doors []*door.Controller) error {
	for _, d := range doors {
		state, err := d.State()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", d.ID(), state)
	}
	return nil
}

func runCommand(w io.Writer, d *door.Controller, cmd door.Command) error {
	if err := d.Do(cmd); err != nil {
		return err
	}
	state, err := d.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s -> %s\n", d.ID(), cmd, state)
	return nil
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
