package tcp

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"reflect"
	"sync"
	"time"

	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/hal"
)

const (
	updateInterval    = 100 * time.Millisecond
	heartbeatInterval = 500 * time.Millisecond
	writeTimeout      = 2 * time.Second
	// a client is dropped after this long without a request
	idleTimeout = 30 * time.Second
)

// Facade is the part of the device the connector drives.
type Facade interface {
	Name() string
	Counts() device.Counts
	Input(ch int) (bool, error)
	RunSwitch() (bool, error)
	ConfigSwitch() (bool, error)
	AnalogInput(ch int) (int64, error)
	TempInput(ch int) (float64, error)
	Counter(ch int) (int32, error)
	SetOutput(ch int, state bool) error
	SetRunLed(state bool) error
	SetErrLed(state bool) error
	SetAnalogMode(ch int, mode hal.AnalogMode) error
	SetTempMode(ch int, mode hal.TmpMode, sensorType hal.TmpSensorType) error
	SetAnalogOutput(ch int, value int64) error
	SafeState() error
}

// TCPServer serves the process image to a single PLC runtime
type TCPServer struct {
	listener   net.Listener
	clientConn *ClientConnection
	mu         sync.RWMutex
	io         Facade
	stopChan   chan struct{}
	stopOnce   sync.Once
	port       string
	version    string
	protocol   string
	localOnly  bool // If true, only accept connections from localhost
}

// ClientConnection represents a connected TCP client
type ClientConnection struct {
	conn     net.Conn
	codec    codec
	lastSent *ProcessImage
	lastAt   time.Time
	mu       sync.Mutex
}

// ProcessImage is the input side of the device as seen by the PLC.
type ProcessImage struct {
	Inputs       []bool    `json:"inputs"`
	RunSwitch    bool      `json:"runSwitch"`
	ConfigSwitch bool      `json:"configSwitch"`
	AnalogInputs []int64   `json:"analogInputs"`
	Temperatures []float64 `json:"temperatures"`
	Counters     []int32   `json:"counters"`
}

// IoUpdateMessage is sent to TCP clients
type IoUpdateMessage struct {
	Type  string       `json:"type"`
	Image ProcessImage `json:"image"`
}

// WelcomeMessage is sent to clients when they connect
type WelcomeMessage struct {
	Type        string        `json:"type"`
	Server      string        `json:"server"`
	Version     string        `json:"version,omitempty"`
	Protocol    string        `json:"protocol"`
	Device      string        `json:"device"`
	Counts      device.Counts `json:"counts"`
	Description string        `json:"description"`
}

// WriteCommandItem is one masked write of a batch.
//
//	outputs   set every output whose bit is set in Mask to its bit in Values
//	leds      bit 0 is the run LED, bit 1 the error LED
//	ai-mode   Index, Mode ("voltage" or "current")
//	tmp-mode  Index, Mode ("2-wire".."4-wire"), Sensor ("PT100", "PT1000")
//	ao        Index, Value
type WriteCommandItem struct {
	Type   string `json:"type"`
	Index  int    `json:"index,omitempty"`
	Mask   uint64 `json:"mask,omitempty"`
	Values uint64 `json:"values,omitempty"`
	Value  int64  `json:"value,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Sensor string `json:"sensor,omitempty"`
}

// WriteCommand is received from TCP clients - always contains an array of commands
type WriteCommand struct {
	Type     string             `json:"type"` // Always "batch-write"
	Commands []WriteCommandItem `json:"commands"`
}

type CommandResult struct {
	Index   int    `json:"index"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteResponse is sent back to TCP clients
type WriteResponse struct {
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Results     []CommandResult `json:"results,omitempty"`
	Message     string          `json:"message,omitempty"`
	FailedIndex int             `json:"failedIndex,omitempty"`
}

// NewTCPServer creates a new TCP server instance
func NewTCPServer(port string, dev Facade, version, protocol string, serveExternally bool) *TCPServer {
	return &TCPServer{
		io:        dev,
		stopChan:  make(chan struct{}),
		port:      port,
		version:   version,
		protocol:  protocol,
		localOnly: !serveExternally,
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	if _, err := newCodec(s.protocol, nil); err != nil {
		return err
	}
	var addr string
	if s.localOnly {
		addr = "127.0.0.1:" + s.port
	} else {
		addr = "0.0.0.0:" + s.port
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server on %s: %v", addr, err)
	}

	s.listener = listener
	if s.localOnly {
		log.Printf("TCP server listening on %s (localhost only, %s)", listener.Addr(), s.protocol)
	} else {
		log.Printf("TCP server listening on %s (all interfaces, %s)", listener.Addr(), s.protocol)
	}

	go s.acceptLoop()
	go s.updateLoop()

	return nil
}

// Addr is the bound listener address, useful when started on port 0.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the TCP server
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	if s.clientConn != nil {
		s.clientConn.conn.Close()
	}
	s.mu.Unlock()
}

// IsConnected returns whether a TCP client is currently connected
func (s *TCPServer) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientConn != nil
}

// acceptLoop accepts incoming connections
func (s *TCPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				log.Printf("TCP accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}

		// Verify client is from localhost if localOnly is enabled
		remoteAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
		if s.localOnly && (remoteAddr == nil || !remoteAddr.IP.IsLoopback()) {
			log.Printf("TCP connection rejected: non-localhost address %v", conn.RemoteAddr())
			conn.Close()
			continue
		}

		// Check if already have a client
		s.mu.Lock()
		if s.clientConn != nil {
			log.Printf("TCP connection rejected: client already connected")
			conn.Close()
			s.mu.Unlock()
			continue
		}

		c, _ := newCodec(s.protocol, conn)
		clientConn := &ClientConnection{conn: conn, codec: c}
		s.clientConn = clientConn
		s.mu.Unlock()

		log.Printf("TCP client connected from %v", conn.RemoteAddr())

		s.sendWelcomeMessage(clientConn)
		go s.handleClient(clientConn)
	}
}

// handleClient handles communication with a connected client
func (s *TCPServer) handleClient(clientConn *ClientConnection) {
	defer func() {
		s.mu.Lock()
		wasConnected := s.clientConn == clientConn
		if wasConnected {
			s.clientConn = nil
		}
		s.mu.Unlock()
		clientConn.conn.Close()
		log.Printf("TCP client disconnected")

		// the PLC lost control, so nothing may stay switched on
		if wasConnected {
			log.Printf("PLC disconnected - writing all outputs to safe state")
			if err := s.io.SafeState(); err != nil {
				log.Printf("Error writing outputs to safe state: %v", err)
			}
		}
	}()

	for {
		clientConn.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		var cmd WriteCommand
		err := clientConn.codec.Decode(&cmd)
		if errors.Is(err, errMalformed) {
			log.Printf("TCP: failed to parse command: %v", err)
			s.send(clientConn, WriteResponse{Type: "write-response", Status: "error", Message: err.Error()})
			continue
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Printf("TCP: client idle for %v", idleTimeout)
			default:
				log.Printf("TCP: client read error: %v", err)
			}
			return
		}

		if cmd.Type != "batch-write" {
			log.Printf("TCP: unknown message type: %s", cmd.Type)
			continue
		}
		s.send(clientConn, s.processWriteCommand(&cmd))
	}
}

// processWriteCommand applies every command of the batch in order. A
// failing command does not stop the ones after it.
func (s *TCPServer) processWriteCommand(cmd *WriteCommand) WriteResponse {
	if len(cmd.Commands) == 0 {
		return WriteResponse{
			Type:    "write-response",
			Status:  "error",
			Message: "no commands in batch",
		}
	}

	response := WriteResponse{
		Type:    "write-response",
		Status:  "ok",
		Results: make([]CommandResult, len(cmd.Commands)),
	}
	for i, item := range cmd.Commands {
		result := CommandResult{Index: i, Status: "ok"}
		if err := s.apply(item); err != nil {
			result.Status = "error"
			result.Message = err.Error()
			if response.Status == "ok" {
				response.Status = "error"
				response.FailedIndex = i
				response.Message = result.Message
			}
		}
		response.Results[i] = result
	}
	return response
}

func (s *TCPServer) apply(item WriteCommandItem) error {
	switch item.Type {
	case "outputs":
		n := s.io.Counts().Outputs
		var errs []error
		for bit := range 64 {
			if item.Mask&(1<<bit) == 0 {
				continue
			}
			if bit >= n {
				errs = append(errs, fmt.Errorf("%w: output %d", hal.ErrInvalidChannel, bit))
				continue
			}
			if err := s.io.SetOutput(bit, item.Values&(1<<bit) != 0); err != nil {
				errs = append(errs, fmt.Errorf("output %d: %w", bit, err))
			}
		}
		return errors.Join(errs...)
	case "leds":
		var errs []error
		if item.Mask&1 != 0 {
			errs = append(errs, s.io.SetRunLed(item.Values&1 != 0))
		}
		if item.Mask&2 != 0 {
			errs = append(errs, s.io.SetErrLed(item.Values&2 != 0))
		}
		return errors.Join(errs...)
	case "ai-mode":
		mode, err := hal.ParseAnalogMode(item.Mode)
		if err != nil {
			return err
		}
		return s.io.SetAnalogMode(item.Index, mode)
	case "tmp-mode":
		mode, err := hal.ParseTmpMode(item.Mode)
		if err != nil {
			return err
		}
		sensor, err := hal.ParseTmpSensorType(item.Sensor)
		if err != nil {
			return err
		}
		return s.io.SetTempMode(item.Index, mode, sensor)
	case "ao":
		return s.io.SetAnalogOutput(item.Index, item.Value)
	default:
		return fmt.Errorf("%w: command type %q", hal.ErrInvalidParameter, item.Type)
	}
}

// updateLoop sends the process image when it changes, and at least every
// heartbeatInterval.
func (s *TCPServer) updateLoop() {
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.RLock()
			clientConn := s.clientConn
			s.mu.RUnlock()

			if clientConn == nil {
				continue
			}
			s.sendUpdate(clientConn, ReadImage(s.io))
		}
	}
}

// ReadImage reads every input channel of f. Channels that fail read as
// zero, non-finite temperatures as the unsampled marker.
func ReadImage(f Facade) ProcessImage {
	c := f.Counts()
	img := ProcessImage{
		Inputs:       make([]bool, c.Inputs),
		AnalogInputs: make([]int64, c.AnalogInputs),
		Temperatures: make([]float64, c.TempSensors),
		Counters:     make([]int32, c.Counters),
	}
	for i := range img.Inputs {
		img.Inputs[i], _ = f.Input(i)
	}
	img.RunSwitch, _ = f.RunSwitch()
	img.ConfigSwitch, _ = f.ConfigSwitch()
	for i := range img.AnalogInputs {
		img.AnalogInputs[i], _ = f.AnalogInput(i)
	}
	for i := range img.Temperatures {
		v, err := f.TempInput(i)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			v = -math.MaxFloat64
		}
		img.Temperatures[i] = v
	}
	for i := range img.Counters {
		img.Counters[i], _ = f.Counter(i)
	}
	return img
}

// sendWelcomeMessage sends a welcome/identification message to newly connected client
func (s *TCPServer) sendWelcomeMessage(clientConn *ClientConnection) {
	msg := WelcomeMessage{
		Type:        "welcome",
		Server:      "sysworxx-io connector",
		Version:     s.version,
		Protocol:    s.protocol,
		Device:      s.io.Name(),
		Counts:      s.io.Counts(),
		Description: "sends io-update messages with the input process image and accepts batch-write commands",
	}
	s.send(clientConn, msg)
}

func (s *TCPServer) sendUpdate(clientConn *ClientConnection, img ProcessImage) {
	clientConn.mu.Lock()
	changed := clientConn.lastSent == nil || !reflect.DeepEqual(*clientConn.lastSent, img)
	due := time.Since(clientConn.lastAt) >= heartbeatInterval
	if !changed && !due {
		clientConn.mu.Unlock()
		return
	}
	clientConn.lastSent = &img
	clientConn.lastAt = time.Now()
	clientConn.mu.Unlock()

	s.send(clientConn, IoUpdateMessage{Type: "io-update", Image: img})
}

func (s *TCPServer) send(clientConn *ClientConnection, msg any) {
	clientConn.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := clientConn.codec.Encode(msg); err != nil {
		// the read side notices the broken connection
		log.Printf("TCP: failed to send %T: %v", msg, err)
	}
}

