package localio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Register map of the remote I/O cards.
const (
	regAO         = 0x0000
	regAI         = 0x0000
	regReboot     = 0x0010
	regBaudRate   = 0x0020
	regSerial     = 0x0070
	regAOType     = 0x0190
	rebootCommand = 0xFF00
	serialLength  = 20
)

type serialCfg struct {
	Baud int
	Par  string
	Stop int
	Data int
}

// Handler is a modbus transport whose slave address can be switched between
// requests.
type Handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
	SetSlave(slave byte)
}

type rtuHandler struct {
	*modbus.RTUClientHandler
}

func (r *rtuHandler) SetSlave(slave byte) { r.SlaveId = slave }

func newRTUHandler(path string, cfg serialCfg, timeout time.Duration) (Handler, error) {
	h := modbus.NewRTUClientHandler(path)
	h.BaudRate = cfg.Baud
	h.DataBits = cfg.Data
	h.Parity = cfg.Par
	h.StopBits = cfg.Stop
	h.Timeout = timeout
	return &rtuHandler{h}, nil
}

// rtuLine serializes requests on one RS485 line. Every request addresses
// one slave and is followed by a short pause the cards need before they
// answer the next frame.
type rtuLine struct {
	handler Handler
	client  modbus.Client
	pause   time.Duration

	mu sync.Mutex
}

func (l *rtuLine) do(slave byte, fn func(c modbus.Client) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler.SetSlave(slave)
	err := fn(l.client)
	if err == nil {
		time.Sleep(l.pause)
	}
	return err
}

func (l *rtuLine) close() error { return l.handler.Close() }

func (l *rtuLine) probe(slave byte) (di, do, ai, ao int) {
	l.do(slave, func(c modbus.Client) error {
		di = firstAccepted(func(n uint16) error { _, err := c.ReadDiscreteInputs(0, n); return err }, 8, 4)
		do = firstAccepted(func(n uint16) error { _, err := c.ReadCoils(0, n); return err }, 8, 4)
		ai = firstAccepted(func(n uint16) error { _, err := c.ReadInputRegisters(regAI, 2*n); return err }, 4)
		ao = firstAccepted(func(n uint16) error { _, err := c.ReadHoldingRegisters(regAOType, n); return err }, 4)
		return nil
	})
	return
}

// firstAccepted returns the first channel count the card answers for.
func firstAccepted(read func(n uint16) error, counts ...uint16) int {
	for _, n := range counts {
		if read(n) == nil {
			return int(n)
		}
	}
	return 0
}

func unpackBits(raw []byte, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		if i/8 < len(raw) {
			out[i] = raw[i/8]&(1<<(i%8)) != 0
		}
	}
	return out
}

func packBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func decodeFloats(raw []byte, count int) ([]float32, error) {
	if len(raw) < count*4 {
		return nil, fmt.Errorf("short register read: %d bytes for %d values", len(raw), count)
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func encodeFloats(values []float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// readCard polls the process data of a card. With full set it also reads
// the AO ranges, serial number and baud rate, which only change on reboot.
func (l *rtuLine) readCard(slave byte, spec ModelSpec, full bool) (CardState, error) {
	state := CardState{Timestamp: time.Now()}

	steps := []struct {
		name string
		n    int
		read func(c modbus.Client) error
	}{
		{"DI", spec.DI, func(c modbus.Client) error {
			raw, err := c.ReadDiscreteInputs(0, uint16(spec.DI))
			state.DI = unpackBits(raw, spec.DI)
			return err
		}},
		{"DO", spec.DO, func(c modbus.Client) error {
			raw, err := c.ReadCoils(0, uint16(spec.DO))
			state.DO = unpackBits(raw, spec.DO)
			return err
		}},
		{"AI", spec.AI, func(c modbus.Client) error {
			raw, err := c.ReadInputRegisters(regAI, uint16(2*spec.AI))
			if err == nil {
				state.AI, err = decodeFloats(raw, spec.AI)
			}
			return err
		}},
		{"AO", spec.AO, func(c modbus.Client) error {
			raw, err := c.ReadHoldingRegisters(regAO, uint16(2*spec.AO))
			if err == nil {
				state.AO, err = decodeFloats(raw, spec.AO)
			}
			return err
		}},
	}
	for _, step := range steps {
		if step.n == 0 {
			continue
		}
		if err := l.do(slave, step.read); err != nil {
			state.Error = fmt.Sprintf("%s read error: %v", step.name, err)
			return state, fmt.Errorf("slave %d: %s read: %w", slave, step.name, err)
		}
	}

	if full {
		if spec.AO > 0 {
			state.AOType, _ = l.readAOTypes(slave, spec.AO)
		}
		state.SerialNumber, _ = l.readSerialNumber(slave)
		state.BaudRate, _ = l.readBaudRate(slave)
	}
	return state, nil
}

func (l *rtuLine) readAOTypes(slave byte, count int) ([]string, error) {
	var types []string
	err := l.do(slave, func(c modbus.Client) error {
		raw, err := c.ReadHoldingRegisters(regAOType, uint16(count))
		if err != nil {
			return err
		}
		if len(raw) < 2*count {
			return fmt.Errorf("short AO type read")
		}
		types = make([]string, count)
		for i := range types {
			switch v := binary.BigEndian.Uint16(raw[2*i:]); v {
			case 0x0001:
				types[i] = AOVoltage
			case 0x0004:
				types[i] = AOCurrent
			default:
				types[i] = fmt.Sprintf("0x%04X", v)
			}
		}
		return nil
	})
	return types, err
}

// readSerialNumber reads the NUL padded ASCII serial number.
func (l *rtuLine) readSerialNumber(slave byte) (string, error) {
	var sn string
	err := l.do(slave, func(c modbus.Client) error {
		raw, err := c.ReadHoldingRegisters(regSerial, serialLength/2)
		if err != nil {
			return err
		}
		if len(raw) < serialLength {
			return fmt.Errorf("short serial number read")
		}
		n := 0
		for n < serialLength && raw[n] != 0 {
			n++
		}
		sn = string(raw[:n])
		return nil
	})
	return sn, err
}

// readBaudRate reads the 32-bit big-endian baud rate register pair.
func (l *rtuLine) readBaudRate(slave byte) (int, error) {
	var baud int
	err := l.do(slave, func(c modbus.Client) error {
		raw, err := c.ReadHoldingRegisters(regBaudRate, 2)
		if err != nil {
			return err
		}
		if len(raw) < 4 {
			return fmt.Errorf("short baud rate read")
		}
		baud = int(binary.BigEndian.Uint32(raw))
		return nil
	})
	return baud, err
}

// writeBaudRate takes effect after the card reboots.
func (l *rtuLine) writeBaudRate(slave byte, baud int) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(baud))
	return l.do(slave, func(c modbus.Client) error {
		_, err := c.WriteMultipleRegisters(regBaudRate, 2, buf)
		return err
	})
}

func (l *rtuLine) reboot(slave byte) error {
	return l.do(slave, func(c modbus.Client) error {
		_, err := c.WriteSingleRegister(regReboot, rebootCommand)
		return err
	})
}

func (l *rtuLine) writeCoils(slave byte, start int, values []bool) error {
	return l.do(slave, func(c modbus.Client) error {
		_, err := c.WriteMultipleCoils(uint16(start), uint16(len(values)), packBits(values))
		return err
	})
}

func (l *rtuLine) writeFloats(slave byte, start int, values []float32) error {
	return l.do(slave, func(c modbus.Client) error {
		_, err := c.WriteMultipleRegisters(uint16(regAO+2*start), uint16(2*len(values)), encodeFloats(values))
		return err
	})
}

func (l *rtuLine) writeAOType(slave byte, index int, mode string) error {
	v := uint16(0x0004)
	if mode == AOVoltage {
		v = 0x0001
	}
	return l.do(slave, func(c modbus.Client) error {
		_, err := c.WriteSingleRegister(uint16(regAOType+index), v)
		return err
	})
}
