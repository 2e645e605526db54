package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sysworxx-io/src/server/backend"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/tcp"
)

type memOutput struct {
	hal.Base
	mu    sync.Mutex
	state bool
}

func (o *memOutput) Set(state bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
	return nil
}

func (o *memOutput) get() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

type memInput struct {
	hal.Base
	state bool
}

func (i *memInput) Label() string      { return "DI0" }
func (i *memInput) Get() (bool, error) { return i.state, nil }

type memAnalog struct {
	hal.Base
	mode hal.AnalogMode
}

func (a *memAnalog) Get() (int64, error) { return 4711, nil }

func (a *memAnalog) SetAnalogMode(mode hal.AnalogMode) error {
	a.mode = mode
	return nil
}

type memTemp struct {
	hal.Base
	value float64
}

func (t *memTemp) Get() (float64, error) { return t.value, nil }

func newTestApp(t *testing.T, tcpServer *tcp.TCPServer) (*App, *memOutput, *memAnalog) {
	t.Helper()
	out := &memOutput{}
	ai := &memAnalog{}
	dev := device.New(device.Definition{
		Name:         "test",
		Outputs:      []hal.DigitalOutput{out, backend.NullOutput{}},
		Inputs:       []hal.DigitalInput{&memInput{state: true}},
		AnalogInputs: []hal.AnalogInput{ai},
		TempSensors:  []hal.TempSensor{&memTemp{value: 21.5}, &memTemp{value: -1.7976931348623157e308}},
	})
	return NewApp(dev, tcpServer), out, ai
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlers(t *testing.T) {
	app, out, ai := newTestApp(t, nil)
	h := app.router()

	t.Run("Root", func(t *testing.T) {
		rr := do(t, h, "GET", "/", "")
		if rr.Code != http.StatusOK {
			t.Errorf("Root handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
		var body map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body["service"] != "sysworxx-io-api" {
			t.Errorf("Expected service sysworxx-io-api, got %s", body["service"])
		}
	})

	t.Run("IO overview", func(t *testing.T) {
		rr := do(t, h, "GET", "/api/io", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("IO handler returned wrong status code: got %v", rr.Code)
		}
		var body struct {
			Counts device.Counts    `json:"counts"`
			Labels device.Labels    `json:"labels"`
			Image  tcp.ProcessImage `json:"image"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body.Counts.Outputs != 2 || body.Counts.TempSensors != 2 {
			t.Errorf("unexpected counts %+v", body.Counts)
		}
		if body.Labels["inputs"]["0"] != "DI0" {
			t.Errorf("unexpected labels %v", body.Labels)
		}
		if len(body.Image.Inputs) != 1 || !body.Image.Inputs[0] {
			t.Errorf("unexpected inputs %v", body.Image.Inputs)
		}
	})

	t.Run("Output", func(t *testing.T) {
		rr := do(t, h, "POST", "/api/io/outputs/0", `{"state":true}`)
		if rr.Code != http.StatusOK {
			t.Errorf("got %v: %s", rr.Code, rr.Body)
		}
		if !out.get() {
			t.Error("output 0 was not switched on")
		}
	})

	t.Run("Status codes", func(t *testing.T) {
		tests := []struct {
			method, path, body string
			want               int
		}{
			{"POST", "/api/io/outputs/1", `{"state":true}`, http.StatusNotImplemented},
			{"POST", "/api/io/outputs/9", `{"state":true}`, http.StatusNotFound},
			{"POST", "/api/io/outputs/0", `{"state":`, http.StatusBadRequest},
			{"POST", "/api/io/analog-inputs/0/mode", `{"mode":"ohm"}`, http.StatusBadRequest},
			{"GET", "/api/io/inputs/0", "", http.StatusOK},
			{"GET", "/api/io/inputs/3", "", http.StatusNotFound},
			{"GET", "/api/io/counters/0", "", http.StatusNotFound},
			{"POST", "/api/io/leds", `{"run":true}`, http.StatusNotImplemented},
			{"GET", "/api/io/inputs/x", "", http.StatusNotFound},
		}
		for _, tt := range tests {
			rr := do(t, h, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("%s %s: got %v want %v", tt.method, tt.path, rr.Code, tt.want)
			}
		}
	})

	t.Run("Analog", func(t *testing.T) {
		rr := do(t, h, "POST", "/api/io/analog-inputs/0/mode", `{"mode":"current"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("got %v: %s", rr.Code, rr.Body)
		}
		if ai.mode != hal.AnalogCurrent {
			t.Errorf("mode not applied: %v", ai.mode)
		}
		var body struct {
			Value int64 `json:"value"`
		}
		rr = do(t, h, "GET", "/api/io/analog-inputs/0", "")
		json.NewDecoder(rr.Body).Decode(&body)
		if body.Value != 4711 {
			t.Errorf("got %d", body.Value)
		}
	})

	t.Run("Temperatures", func(t *testing.T) {
		var body map[string]any
		rr := do(t, h, "GET", "/api/io/temperatures/0", "")
		json.NewDecoder(rr.Body).Decode(&body)
		if body["celsius"] != 21.5 {
			t.Errorf("got %v", body["celsius"])
		}
		rr = do(t, h, "GET", "/api/io/temperatures/1", "")
		body = nil
		json.NewDecoder(rr.Body).Decode(&body)
		if v, ok := body["celsius"]; !ok || v != nil {
			t.Errorf("unsampled sensor should be null, got %v", v)
		}
	})
}

func TestWritesRejectedWhileConnected(t *testing.T) {
	app, _, _ := newTestApp(t, nil)
	srv := tcp.NewTCPServer("0", app.dev, version, tcp.ProtocolJSON, false)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()
	app.tcpServer = srv

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	h := app.router()
	if rr := do(t, h, "POST", "/api/io/outputs/0", `{"state":true}`); rr.Code != http.StatusConflict {
		t.Errorf("write while connected: got %v want %v", rr.Code, http.StatusConflict)
	}
	if rr := do(t, h, "GET", "/api/io/inputs/0", ""); rr.Code != http.StatusOK {
		t.Errorf("read while connected: got %v", rr.Code)
	}
}
