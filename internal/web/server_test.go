package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/status"
)

func newTestServer(t *testing.T, withHub bool) (*httptest.Server, *status.Tracker, *Hub) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Driver:   "serial",
		Device:   "/dev/ttyUSB0",
		Host:     "direct",
		PollMs:   1,
		Broker:   "tcp://192.168.1.200:1883",
		HTTPAddr: ":8080",
	}
	tr := status.NewTracker(start, cfg)

	var hub *Hub
	if withHub {
		hub = NewHub(nil, HubConfig{})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() { hub.Run(ctx); close(done) }()
		t.Cleanup(func() { cancel(); <-done })
	}
	srv := New(":0", tr, hub, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, hub
}

func int64p(v int64) *int64 { return &v }

func sampleCycle(digit int) *dial.Cycle {
	return &dial.Cycle{
		CreatedAt:         time.Date(2026, 1, 1, 0, 5, digit, 0, time.UTC),
		PrimaryEdgesMs:    []int64{0, 50, 100},
		PulseCount:        digit,
		Digit:             digit,
		FrequencyHz:       10,
		ClosedDutyPercent: 50,
		SecondaryOpenMs:   int64p(180),
		Warnings:          []dial.Warning{dial.WarningDialSpeed},
	}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t, false)
	tr.OnSignal(dial.Snapshot{Primary: true})
	tr.SetRunning(true)
	tr.OnCycle(sampleCycle(4))
	tr.SetMQTTConnected(true)

	var sj status.StatusJSON
	resp := getJSON(t, ts.URL+"/index.json", &sj)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if sj.Status.Lines.Primary != "CLOSED" || sj.Status.Lines.Secondary != "OPEN" {
		t.Errorf("Lines: got %+v", sj.Status.Lines)
	}
	if !sj.Status.Running {
		t.Error("expected Running=true")
	}
	if sj.Status.LastCycle == nil || sj.Status.LastCycle.Digit != 4 {
		t.Errorf("LastCycle: got %+v", sj.Status.LastCycle)
	}
	if !sj.Status.MQTT.Connected || sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT: got %+v", sj.Status.MQTT)
	}
	if sj.Status.Config.Device != "/dev/ttyUSB0" {
		t.Errorf("Config.Device: got %q", sj.Status.Config.Device)
	}
}

func TestJSONUnknownLinesBeforeFirstSample(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	var sj status.StatusJSON
	getJSON(t, ts.URL+"/index.json", &sj)

	if sj.Status.Lines.Primary != "UNKNOWN" {
		t.Errorf("Primary before first sample: got %q, want UNKNOWN", sj.Status.Lines.Primary)
	}
	if sj.Status.LastCycle != nil {
		t.Error("expected null last_cycle")
	}
}

func TestCyclesEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t, false)
	tr.OnCycle(sampleCycle(2))
	tr.OnCycle(sampleCycle(9))

	var doc CyclesJSON
	resp := getJSON(t, ts.URL+"/cycles.json", &doc)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	if doc.Count != 2 || len(doc.Cycles) != 2 {
		t.Fatalf("count: got %d/%d, want 2", doc.Count, len(doc.Cycles))
	}
	if doc.Cycles[0].Digit != 9 || doc.Cycles[1].Digit != 2 {
		t.Errorf("order: got %d, %d; want newest first", doc.Cycles[0].Digit, doc.Cycles[1].Digit)
	}
	if doc.Cycles[0].SecondaryOpenMs == nil || *doc.Cycles[0].SecondaryOpenMs != 180 {
		t.Errorf("secondary_open_ms: got %v", doc.Cycles[0].SecondaryOpenMs)
	}
}

func TestCyclesEndpointEmpty(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/cycles.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"cycles": []`) {
		t.Errorf("empty history should encode as [], got %s", body)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr, _ := newTestServer(t, false)
	tr.OnCycle(sampleCycle(7))
	tr.SetAdvisory(dial.AdvisoryAwaitingClosure)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	for _, want := range []string{`id="cycle-digit">7<`, "10.0 Hz", "out of tolerance", "AWAITING_FIRST_CLOSURE", "180ms"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(page, "new WebSocket") {
		t.Error("live script rendered without a hub")
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _, _ := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "No digit decoded yet") {
		t.Error("expected placeholder before first cycle")
	}
	if !strings.Contains(string(body), "new WebSocket") {
		t.Error("expected live script when hub is enabled")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	for _, path := range []string{"/nonexistent", "/live"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != 404 {
			t.Errorf("%s: got %d, want 404", path, resp.StatusCode)
		}
	}
}

func dialLive(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", hub.Clients(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLiveFeed(t *testing.T) {
	ts, tr, hub := newTestServer(t, true)
	tr.OnCycle(sampleCycle(3))

	conn := dialLive(t, ts)

	init := readFrame(t, conn)
	if init.Type != FrameInit {
		t.Fatalf("first frame: got %q, want %q", init.Type, FrameInit)
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(init.Data, &sj); err != nil {
		t.Fatal(err)
	}
	if sj.Status.LastCycle == nil || sj.Status.LastCycle.Digit != 3 {
		t.Errorf("init last_cycle: got %+v", sj.Status.LastCycle)
	}

	waitClients(t, hub, 1)

	hub.OnSignal(dial.Snapshot{Primary: true, Secondary: true})
	f := readFrame(t, conn)
	if f.Type != FrameSignal {
		t.Fatalf("got %q, want signal", f.Type)
	}
	var lines status.LinesJSON
	json.Unmarshal(f.Data, &lines)
	if lines.Primary != "CLOSED" || lines.Secondary != "CLOSED" || lines.Suppress != "OPEN" {
		t.Errorf("signal data: got %+v", lines)
	}

	hub.OnCycle(sampleCycle(8))
	f = readFrame(t, conn)
	var c status.CycleJSON
	json.Unmarshal(f.Data, &c)
	if f.Type != FrameCycle || c.Digit != 8 || c.Warnings[0] != "DIAL_SPEED" {
		t.Errorf("cycle frame: type %q data %+v", f.Type, c)
	}

	hub.OnError(errors.New("line fault"))
	f = readFrame(t, conn)
	var fd FaultData
	json.Unmarshal(f.Data, &fd)
	if f.Type != FrameFault || fd.Message != "line fault" {
		t.Errorf("fault frame: type %q data %+v", f.Type, fd)
	}
}

func TestLiveClientDisconnectUnregisters(t *testing.T) {
	ts, _, hub := newTestServer(t, true)

	conn := dialLive(t, ts)
	readFrame(t, conn)
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub(nil, HubConfig{BroadcastBuf: 1})
	// Not running: the second frame is dropped instead of blocking.
	hub.OnSignal(dial.Snapshot{})
	hub.OnSignal(dial.Snapshot{})
	if len(hub.broadcast) != 1 {
		t.Errorf("queued frames: got %d, want 1", len(hub.broadcast))
	}
}
