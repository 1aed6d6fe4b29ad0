package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
		Chip:        "gpiochip0",
	})
	tr.AddDoor("main", door.NormallyClosed, 12*time.Second)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetState("main", door.StateClosed, time.Now())
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(sj.Status.Doors) != 1 || sj.Status.Doors[0].State != "closed" {
		t.Errorf("unexpected doors: %+v", sj.Status.Doors)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Config.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("Config.Broker: got %q", sj.Status.Config.Broker)
	}
}

func TestJSONUnknownStateBeforeFirstReading(t *testing.T) {
	ts, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Doors[0].State != "unknown" {
		t.Errorf("state before first reading: got %q, want unknown", sj.Status.Doors[0].State)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	tr.SetState("main", door.StateOpening, time.Now())
	if got := getJSON(t, ts.URL+"/index.json").Status.Doors[0].State; got != "opening" {
		t.Errorf("got %q, want opening", got)
	}

	tr.SetState("main", door.StateOpen, time.Now())
	if got := getJSON(t, ts.URL+"/index.json").Status.Doors[0].State; got != "open" {
		t.Errorf("got %q, want open", got)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetState("main", door.StateClosing, time.Now())

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		if !strings.Contains(string(body), `<td class="closing">closing</td>`) {
			t.Errorf("%s: door state missing from page", path)
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestDoorEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetState("main", door.StateOpen, time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC))
	tr.SetCounts("main", door.Counts{Pulses: 3, Changes: 2})

	resp, err := http.Get(ts.URL + "/doors/main.json")
	if err != nil {
		t.Fatalf("GET /doors/main.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var env status.DoorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	d := env.Door
	if d.ID != "main" || d.State != "open" || d.Mode != "normally_closed" {
		t.Errorf("unexpected door: %+v", d)
	}
	if d.TravelSecs != 12 || d.Pulses != 3 || d.Changes != 2 {
		t.Errorf("unexpected counters: %+v", d)
	}
	if d.LastChange != "2026-01-01T00:05:00Z" {
		t.Errorf("last_change: got %q", d.LastChange)
	}
}

func TestDoorEndpointNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/doors/side.json", "/doors/main", "/doors/", "/doors/a/b.json"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 404 {
			t.Errorf("%s status: got %d, want 404", path, resp.StatusCode)
		}
		if path == "/doors/side.json" && !strings.Contains(string(body), "unknown door") {
			t.Errorf("%s body: got %q", path, body)
		}
	}
}
