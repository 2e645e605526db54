package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sysworxx-io/src/server"
	"sysworxx-io/src/server/config"
	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/discovery"
	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/tcp"

	"github.com/gorilla/mux"
)

const version = "1.0.0"

type App struct {
	dev       *device.Device
	tcpServer *tcp.TCPServer
	started   time.Time
}

func NewApp(dev *device.Device, tcpServer *tcp.TCPServer) *App {
	return &App{
		dev:       dev,
		tcpServer: tcpServer,
		started:   time.Now(),
	}
}

func (app *App) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", app.rootHandler).Methods("GET")
	r.HandleFunc("/api/io", app.getIOHandler).Methods("GET")
	r.HandleFunc("/api/io/status", app.statusHandler).Methods("GET")
	r.HandleFunc("/api/io/switches", app.switchesHandler).Methods("GET")
	r.HandleFunc("/api/io/leds", app.ledsHandler).Methods("POST")
	r.HandleFunc("/api/io/safe-state", app.safeStateHandler).Methods("POST")
	r.HandleFunc("/api/io/inputs/{ch:[0-9]+}", app.inputHandler).Methods("GET")
	r.HandleFunc("/api/io/outputs/{ch:[0-9]+}", app.outputHandler).Methods("POST")
	r.HandleFunc("/api/io/analog-inputs/{ch:[0-9]+}", app.analogInputHandler).Methods("GET")
	r.HandleFunc("/api/io/analog-inputs/{ch:[0-9]+}/mode", app.analogModeHandler).Methods("POST")
	r.HandleFunc("/api/io/analog-outputs/{ch:[0-9]+}", app.analogOutputHandler).Methods("POST")
	r.HandleFunc("/api/io/temperatures/{ch:[0-9]+}", app.temperatureHandler).Methods("GET")
	r.HandleFunc("/api/io/temperatures/{ch:[0-9]+}/mode", app.temperatureModeHandler).Methods("POST")
	r.HandleFunc("/api/io/counters/{ch:[0-9]+}", app.counterHandler).Methods("GET")
	r.HandleFunc("/api/io/counters/{ch:[0-9]+}/enable", app.counterEnableHandler).Methods("POST")
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps a facade error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, hal.ErrInvalidChannel):
		return http.StatusNotFound
	case errors.Is(err, hal.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, hal.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, hal.ErrAccessFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func writeOK(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func channel(r *http.Request) int {
	ch, _ := strconv.Atoi(mux.Vars(r)["ch"])
	return ch
}

// writable rejects writes while a PLC owns the outputs.
func (app *App) writable(w http.ResponseWriter) bool {
	if app.tcpServer != nil && app.tcpServer.IsConnected() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "TCP client is connected, frontend controls are disabled",
		})
		return false
	}
	return true
}

// decode reads the request body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return false
	}
	return true
}

func (app *App) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "sysworxx-io-api", "device": app.dev.Name()})
}

func (app *App) getIOHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device":       app.dev.Name(),
		"counts":       app.dev.Counts(),
		"hardware":     app.dev.HardwareInfo(),
		"labels":       app.dev.Labels(),
		"image":        tcp.ReadImage(app.dev),
		"tcpConnected": app.tcpServer != nil && app.tcpServer.IsConnected(),
	})
}

func (app *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device":    app.dev.Name(),
		"deviceId":  config.GetDeviceID(),
		"revision":  app.dev.HardwareInfo().PcbRevision,
		"os":        server.GetOsRelease(),
		"uptime":    server.FormatUptime(time.Since(app.started)),
		"version":   version,
		"ticks":     app.dev.Ticks(),
		"connected": app.tcpServer != nil && app.tcpServer.IsConnected(),
	})
}

func (app *App) switchesHandler(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if run, err := app.dev.RunSwitch(); err == nil {
		out["run"] = run
	}
	if cfg, err := app.dev.ConfigSwitch(); err == nil {
		out["config"] = cfg
	}
	writeJSON(w, http.StatusOK, out)
}

func (app *App) ledsHandler(w http.ResponseWriter, r *http.Request) {
	if !app.writable(w) {
		return
	}
	var req struct {
		Run *bool `json:"run"`
		Err *bool `json:"err"`
	}
	if !decode(w, r, &req) {
		return
	}
	var errs []error
	if req.Run != nil {
		errs = append(errs, app.dev.SetRunLed(*req.Run))
	}
	if req.Err != nil {
		errs = append(errs, app.dev.SetErrLed(*req.Err))
	}
	writeOK(w, errors.Join(errs...))
}

func (app *App) safeStateHandler(w http.ResponseWriter, r *http.Request) {
	writeOK(w, app.dev.SafeState())
}

func (app *App) inputHandler(w http.ResponseWriter, r *http.Request) {
	ch := channel(r)
	state, err := app.dev.Input(ch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "state": state})
}

func (app *App) outputHandler(w http.ResponseWriter, r *http.Request) {
	if !app.writable(w) {
		return
	}
	var req struct {
		State bool `json:"state"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeOK(w, app.dev.SetOutput(channel(r), req.State))
}

func (app *App) analogInputHandler(w http.ResponseWriter, r *http.Request) {
	ch := channel(r)
	value, err := app.dev.AnalogInput(ch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "value": value})
}

func (app *App) analogModeHandler(w http.ResponseWriter, r *http.Request) {
	if !app.writable(w) {
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	mode, err := hal.ParseAnalogMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, app.dev.SetAnalogMode(channel(r), mode))
}

func (app *App) analogOutputHandler(w http.ResponseWriter, r *http.Request) {
	if !app.writable(w) {
		return
	}
	var req struct {
		Value int64 `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeOK(w, app.dev.SetAnalogOutput(channel(r), req.Value))
}

func (app *App) temperatureHandler(w http.ResponseWriter, r *http.Request) {
	ch := channel(r)
	value, err := app.dev.TempInput(ch)
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]any{"channel": ch, "celsius": value}
	// JSON cannot carry NaN; an unsampled sensor has no value
	if math.IsNaN(value) || value == -math.MaxFloat64 {
		out["celsius"] = nil
	}
	writeJSON(w, http.StatusOK, out)
}

func (app *App) temperatureModeHandler(w http.ResponseWriter, r *http.Request) {
	if !app.writable(w) {
		return
	}
	var req struct {
		Mode   string `json:"mode"`
		Sensor string `json:"sensor"`
	}
	if !decode(w, r, &req) {
		return
	}
	mode, err := hal.ParseTmpMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	sensor, err := hal.ParseTmpSensorType(req.Sensor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, app.dev.SetTempMode(channel(r), mode, sensor))
}

func (app *App) counterHandler(w http.ResponseWriter, r *http.Request) {
	ch := channel(r)
	value, err := app.dev.Counter(ch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "value": value})
}

func (app *App) counterEnableHandler(w http.ResponseWriter, r *http.Request) {
	if !app.writable(w) {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeOK(w, app.dev.CounterEnable(channel(r), req.Enabled))
}

// advertise announces the HTTP API over mDNS until ctx ends.
func advertise(ctx context.Context, c config.Config, dev *device.Device) {
	instance := dev.Name()
	if len(c.DeviceID) >= 8 {
		instance += "-" + c.DeviceID[:8]
	}
	a := discovery.NewAdvertiser(instance, c.HTTPPort, dev.Name(), c.DeviceID, int(dev.HardwareInfo().PcbRevision))
	if err := a.Start(ctx); err != nil {
		log.Printf("Warning: mDNS advertisement failed: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		a.Stop()
	}()
}

func main() {
	os.Args[0] = "sysworxx-io"

	c := config.GetConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := discovery.LoadDevice()
	if err := dev.Init(ctx); err != nil {
		log.Printf("Warning: device %s initialised partially: %v", dev.Name(), err)
	}
	defer func() {
		if err := dev.SafeState(); err != nil {
			log.Printf("Warning: safe state: %v", err)
		}
		if err := dev.Shutdown(); err != nil {
			log.Printf("Warning: shutdown: %v", err)
		}
	}()

	tcpServer := tcp.NewTCPServer(strconv.Itoa(c.TCPPort), dev, version, c.ConnectorProtocol, c.ServeExternally)
	if err := tcpServer.Start(); err != nil {
		log.Printf("Warning: Failed to start TCP server: %v", err)
	}
	defer tcpServer.Stop()

	if c.Advertise {
		advertise(ctx, c, dev)
	}

	app := NewApp(dev, tcpServer)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.HTTPPort),
		Handler:           app.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("sysworxx-io %s (%s) API starting on %s\n", version, dev.Name(), srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTP server: %v", err)
	}
}
