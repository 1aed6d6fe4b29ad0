package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/garage-door/internal/config"
	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
	"github.com/sweeney/garage-door/internal/mqtt"
	"github.com/sweeney/garage-door/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}

	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Status != "connected" || info.IP != "192.168.1.100" || info.SSID != "MyNetwork" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Type != "" || info.Gateway != "" {
		t.Errorf("unset vars should be empty: %+v", info)
	}
}

func TestApplyOverrides(t *testing.T) {
	hb := 15 * time.Minute
	cfg := &config.Config{
		MQTT:      config.MQTTConfig{Broker: "tcp://a:1883"},
		HTTP:      ":80",
		Heartbeat: &hb,
	}

	applyOverrides(cfg, options{})
	if cfg.MQTT.Broker != "tcp://a:1883" || cfg.HTTP != ":80" || cfg.HeartbeatInterval() != hb {
		t.Errorf("unset flags must not override: %+v", cfg)
	}

	empty := ""
	zero := time.Duration(0)
	applyOverrides(cfg, options{broker: &empty, httpAddr: &empty, heartbeat: &zero})
	if cfg.MQTT.Broker != "" || cfg.HTTP != "" || cfg.HeartbeatInterval() != 0 {
		t.Errorf("explicit flags should override: %+v", cfg)
	}
}

func TestSignalName(t *testing.T) {
	if signalName(syscall.SIGINT) != "SIGINT" {
		t.Error("SIGINT")
	}
	if signalName(syscall.SIGTERM) != "SIGTERM" {
		t.Error("SIGTERM")
	}
	if signalName(syscall.SIGHUP) != "UNKNOWN" {
		t.Error("SIGHUP should be UNKNOWN")
	}
}

// --- controller helpers ---

type testDoor struct {
	ctrl *door.Controller
	pins *gpio.FakePins
	cfg  door.Config
}

func newTestDoor(t *testing.T, id string, relay, sensor int) testDoor {
	t.Helper()
	cfg := door.Config{
		ID:             id,
		RelayPin:       relay,
		SensorPin:      sensor,
		SensorMode:     door.NormallyClosed,
		TravelDuration: 10 * time.Second,
	}
	pins := gpio.NewFakePins()
	ctrl, err := door.New(cfg, pins)
	if err != nil {
		t.Fatalf("door.New: %v", err)
	}
	t.Cleanup(func() { ctrl.Shutdown() })
	return testDoor{ctrl: ctrl, pins: pins, cfg: cfg}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasSystemEvent(pub *mqtt.FakePublisher, name string) bool {
	for _, n := range pub.SystemEventNames() {
		if n == name {
			return true
		}
	}
	return false
}

type loopHarness struct {
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	tick    chan time.Time
	sig     chan os.Signal
	errCh   chan error
}

func startLoop(t *testing.T, doors ...testDoor) *loopHarness {
	t.Helper()
	h := &loopHarness{
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{Broker: "tcp://test:1883"}),
		tick:    make(chan time.Time),
		sig:     make(chan os.Signal, 1),
		errCh:   make(chan error, 1),
	}
	h.pub.Connected = true

	ctrls := make([]*door.Controller, len(doors))
	for i, d := range doors {
		ctrls[i] = d.ctrl
	}
	go func() {
		h.errCh <- runLoop(ctrls, h.pub, h.pub, h.tracker, time.Now, h.tick, h.sig)
	}()
	waitFor(t, "STARTUP", func() bool { return hasSystemEvent(h.pub, "STARTUP") })
	return h
}

func (h *loopHarness) stop(t *testing.T, s os.Signal) error {
	t.Helper()
	h.sig <- s
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("runLoop did not return")
		return nil
	}
}

// --- runLoop tests ---

func TestRunLoopPublishesInitialStateAndStartup(t *testing.T) {
	front := newTestDoor(t, "main", 17, 27)
	side := newTestDoor(t, "side", 22, 23)
	front.pins.SetInput(27, 1) // closed
	side.pins.SetInput(23, 0)  // open

	h := startLoop(t, front, side)
	if err := h.stop(t, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Changes) != 2 {
		t.Fatalf("expected 2 initial state messages, got %d", len(h.pub.Changes))
	}
	if h.pub.Changes[0].DoorID != "main" || h.pub.Changes[0].State != door.StateClosed {
		t.Errorf("main initial: %+v", h.pub.Changes[0])
	}
	if h.pub.Changes[1].DoorID != "side" || h.pub.Changes[1].State != door.StateOpen {
		t.Errorf("side initial: %+v", h.pub.Changes[1])
	}

	names := h.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "STARTUP" || names[1] != "SHUTDOWN" {
		t.Fatalf("unexpected system events: %v", names)
	}
	if !h.pub.SystemEvents[0].Retained || !h.pub.SystemEvents[1].Retained {
		t.Error("lifecycle events should be retained")
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("invalid startup JSON: %v", err)
	}
	if sj.Status.Event != "STARTUP" || len(sj.Status.Doors) != 2 {
		t.Errorf("unexpected startup payload: %+v", sj.Status)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("startup payload should report MQTT connected")
	}
}

func TestRunLoopShutdownReason(t *testing.T) {
	for _, tc := range []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
	} {
		h := startLoop(t, newTestDoor(t, "main", 17, 27))
		h.stop(t, tc.sig)

		last := h.pub.SystemEvents[len(h.pub.SystemEvents)-1]
		if last.Event != "SHUTDOWN" || last.Reason != tc.want {
			t.Errorf("got %s/%s, want SHUTDOWN/%s", last.Event, last.Reason, tc.want)
		}
	}
}

func TestRunLoopForwardsSensorChanges(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)
	h := startLoop(t, d)

	d.pins.Trigger(27, 1)
	waitFor(t, "state change", func() bool { return h.pub.ChangeCount() == 2 })

	h.stop(t, syscall.SIGTERM)

	got := h.pub.Changes[1]
	if got.DoorID != "main" || got.State != door.StateClosed {
		t.Errorf("unexpected change: %+v", got)
	}
	ds, ok := h.tracker.Snapshot().Door("main")
	if !ok || ds.State != door.StateClosed {
		t.Errorf("tracker not updated: %+v", ds)
	}
	if ds.Counts.Changes != 1 {
		t.Errorf("tracker counts: got %+v", ds.Counts)
	}
	if !strings.Contains(string(h.pub.Payloads[1]), `"state":"closed"`) {
		t.Errorf("unexpected payload: %s", h.pub.Payloads[1])
	}
}

func TestRunLoopReportsMotion(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)
	h := startLoop(t, d)

	if err := d.ctrl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	d.pins.Trigger(27, 0)
	waitFor(t, "state change", func() bool { return h.pub.ChangeCount() == 2 })
	h.stop(t, syscall.SIGTERM)

	if got := h.pub.Changes[1].State; got != door.StateClosing {
		t.Errorf("state during travel: got %s, want closing", got)
	}
}

func TestRunLoopPublishFailureDoesNotCrash(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)
	h := startLoop(t, d)
	h.pub.Reset()
	h.pub.PublishError = errors.New("broker down")

	d.pins.Trigger(27, 1)
	waitFor(t, "tracker update", func() bool {
		ds, _ := h.tracker.Snapshot().Door("main")
		return ds.State == door.StateClosed
	})

	if err := h.stop(t, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !hasSystemEvent(h.pub, "SHUTDOWN") {
		t.Error("shutdown should still be published")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)
	h := startLoop(t, d)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.tick <- at
	waitFor(t, "HEARTBEAT", func() bool { return hasSystemEvent(h.pub, "HEARTBEAT") })
	h.stop(t, syscall.SIGTERM)

	hb := h.pub.SystemEvents[1]
	if hb.Event != "HEARTBEAT" || !hb.Timestamp.Equal(at) {
		t.Errorf("unexpected heartbeat: %+v", hb)
	}
	if hb.Retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestRunLoopSensorFailureIsFatal(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)
	h := startLoop(t, d)

	d.pins.ReadError = errors.New("bus fault")
	d.pins.Trigger(27, 1)

	select {
	case err := <-h.errCh:
		if err == nil || !strings.Contains(err.Error(), "bus fault") {
			t.Errorf("expected sensor failure, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runLoop did not stop on sensor failure")
	}
}

func TestRunLoopInitialReadFailure(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)
	d.pins.ReadError = errors.New("bus fault")

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{})
	err := runLoop([]*door.Controller{d.ctrl}, pub, pub, tracker, time.Now, nil, make(chan os.Signal))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(pub.SystemEvents) != 0 {
		t.Error("no startup event should be published after a failed read")
	}
}

// --- one-shot helpers ---

func TestFindDoor(t *testing.T) {
	a := newTestDoor(t, "a", 1, 2)
	b := newTestDoor(t, "b", 3, 4)
	doors := []*door.Controller{a.ctrl, b.ctrl}

	if d, _ := findDoor(doors, ""); d != a.ctrl {
		t.Error("empty id should select the first door")
	}
	if d, _ := findDoor(doors, "b"); d != b.ctrl {
		t.Error("expected door b")
	}
	if _, err := findDoor(doors, "c"); err == nil {
		t.Error("expected error for unknown door")
	}
}

func TestPrintStates(t *testing.T) {
	a := newTestDoor(t, "a", 1, 2)
	b := newTestDoor(t, "b", 3, 4)
	a.pins.SetInput(2, 1)

	var buf bytes.Buffer
	if err := printStates(&buf, []*door.Controller{a.ctrl, b.ctrl}); err != nil {
		t.Fatalf("printStates: %v", err)
	}
	if buf.String() != "a: closed\nb: open\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestRunCommand(t *testing.T) {
	d := newTestDoor(t, "main", 17, 27)

	var buf bytes.Buffer
	if err := runCommand(&buf, d.ctrl, door.CommandOpen); err != nil {
		t.Fatalf("runCommand: %v", err)
	}
	if buf.String() != "main: open -> opening\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
	if n := d.pins.Count(17, gpio.Low); n != 1 {
		t.Errorf("expected 1 pulse, got %d", n)
	}

	if err := runCommand(&buf, d.ctrl, "jump"); err == nil {
		t.Error("expected error for unknown command")
	}
}
