package localio

import (
	"time"

	"github.com/goburrow/modbus"
)

// MockClientHandler implements Handler and records the addressed slave.
type MockClientHandler struct {
	SlaveID byte
	Closed  bool
}

func (m *MockClientHandler) Connect() error { return nil }
func (m *MockClientHandler) Close() error {
	m.Closed = true
	return nil
}
func (m *MockClientHandler) Send(aduRequest []byte) ([]byte, error) { return []byte{}, nil }
func (m *MockClientHandler) Verify(aduRequest, aduResponse []byte) error {
	return nil
}
func (m *MockClientHandler) Decode(aduResponse []byte) (*modbus.ProtocolDataUnit, error) {
	return &modbus.ProtocolDataUnit{}, nil
}
func (m *MockClientHandler) Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClientHandler) SetSlave(slave byte) { m.SlaveID = slave }

// MockClient implements modbus.Client; unset functions succeed with an
// empty response.
type MockClient struct {
	ReadCoilsFunc              func(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputsFunc     func(address, quantity uint16) ([]byte, error)
	ReadHoldingRegistersFunc   func(address, quantity uint16) ([]byte, error)
	ReadInputRegistersFunc     func(address, quantity uint16) ([]byte, error)
	WriteSingleCoilFunc        func(address, value uint16) ([]byte, error)
	WriteMultipleCoilsFunc     func(address, quantity uint16, value []byte) ([]byte, error)
	WriteSingleRegisterFunc    func(address, value uint16) ([]byte, error)
	WriteMultipleRegistersFunc func(address, quantity uint16, value []byte) ([]byte, error)
}

func call2(fn func(a, b uint16) ([]byte, error), a, b uint16) ([]byte, error) {
	if fn != nil {
		return fn(a, b)
	}
	return []byte{}, nil
}

func (m *MockClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	return call2(m.ReadCoilsFunc, address, quantity)
}
func (m *MockClient) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	return call2(m.ReadDiscreteInputsFunc, address, quantity)
}
func (m *MockClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return call2(m.ReadHoldingRegistersFunc, address, quantity)
}
func (m *MockClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return call2(m.ReadInputRegistersFunc, address, quantity)
}
func (m *MockClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	return call2(m.WriteSingleCoilFunc, address, value)
}
func (m *MockClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	return call2(m.WriteSingleRegisterFunc, address, value)
}
func (m *MockClient) WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error) {
	if m.WriteMultipleCoilsFunc != nil {
		return m.WriteMultipleCoilsFunc(address, quantity, value)
	}
	return []byte{}, nil
}
func (m *MockClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	if m.WriteMultipleRegistersFunc != nil {
		return m.WriteMultipleRegistersFunc(address, quantity, value)
	}
	return []byte{}, nil
}
func (m *MockClient) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress, writeQuantity uint16, value []byte) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) MaskWriteRegister(address, andMask, orMask uint16) ([]byte, error) {
	return []byte{}, nil
}
func (m *MockClient) ReadFIFOQueue(address uint16) ([]byte, error) {
	return []byte{}, nil
}

// newMockBus returns a bus whose line talks to client.
func newMockBus(client *MockClient) (*Bus, *MockClientHandler) {
	handler := &MockClientHandler{}
	bus := NewBus("/dev/ttyUSB0", 0)
	bus.pause = 0
	bus.cycleWait = time.Millisecond
	bus.handlerFactory = func(string, serialCfg, time.Duration) (Handler, error) { return handler, nil }
	bus.clientFactory = func(modbus.ClientHandler) modbus.Client { return client }
	return bus, handler
}
