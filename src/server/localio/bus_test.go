package localio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"sysworxx-io/src/server/hal"
)

func io4040Client() *MockClient {
	return &MockClient{
		ReadDiscreteInputsFunc: func(address, quantity uint16) ([]byte, error) {
			return []byte{0x0F}, nil
		},
		ReadCoilsFunc: func(address, quantity uint16) ([]byte, error) {
			return []byte{0x00}, nil
		},
		ReadHoldingRegistersFunc: func(address, quantity uint16) ([]byte, error) {
			return make([]byte, 2*int(quantity)), nil
		},
	}
}

func TestBus_AddCard(t *testing.T) {
	bus, _ := newMockBus(io4040Client())

	card, err := bus.AddCard(1, "IO4040")
	if err != nil {
		t.Fatalf("AddCard failed: %v", err)
	}
	if card.Module != "IO4040" {
		t.Errorf("Expected module IO4040, got %s", card.Module)
	}
	if len(card.Last.DI) != 4 || !card.Last.DI[0] {
		t.Errorf("Expected 4 active DIs, got %v", card.Last.DI)
	}

	if _, err := bus.AddCard(1, "IO4040"); !errors.Is(err, hal.ErrInvalidParameter) {
		t.Errorf("duplicate slave: got %v", err)
	}
	if _, err := bus.AddCard(2, "IO9999"); !errors.Is(err, hal.ErrInvalidParameter) {
		t.Errorf("unknown module: got %v", err)
	}
}

func TestBus_StopClosesLine(t *testing.T) {
	bus, handler := newMockBus(io4040Client())
	if _, err := bus.AddCard(1, "IO4040"); err != nil {
		t.Fatalf("AddCard failed: %v", err)
	}
	bus.Stop()
	if !handler.Closed {
		t.Fatal("Expected the line to be closed after Stop")
	}

	handler.Closed = false
	if _, err := bus.AddCard(2, "IO4040"); err != nil {
		t.Fatalf("AddCard after Stop failed: %v", err)
	}
	if handler.Closed {
		t.Error("Expected the line to be reopened")
	}
}

func TestBus_AutoDetect(t *testing.T) {
	failUnless4 := func(address, quantity uint16) ([]byte, error) {
		if quantity == 4 {
			return []byte{0}, nil
		}
		return nil, fmt.Errorf("illegal data address")
	}
	fail := func(address, quantity uint16) ([]byte, error) { return nil, fmt.Errorf("err") }

	bus, _ := newMockBus(&MockClient{
		ReadDiscreteInputsFunc:   failUnless4,
		ReadCoilsFunc:            failUnless4,
		ReadInputRegistersFunc:   fail,
		ReadHoldingRegistersFunc: fail,
	})

	card, err := bus.AddCard(1, "")
	if err != nil {
		t.Fatalf("AddCard auto-detect failed: %v", err)
	}
	if card.Module != "IO4040" {
		t.Errorf("Expected detected module IO4040, got %s", card.Module)
	}
}

func TestBus_DiscoverSkipsSilentSlaves(t *testing.T) {
	var handler *MockClientHandler
	client := io4040Client()
	probe := func(address, quantity uint16) ([]byte, error) {
		if handler.SlaveID != 2 || quantity != 4 {
			return nil, fmt.Errorf("timeout")
		}
		return []byte{0}, nil
	}
	client.ReadDiscreteInputsFunc = probe
	client.ReadCoilsFunc = probe
	client.ReadInputRegistersFunc = func(uint16, uint16) ([]byte, error) { return nil, fmt.Errorf("timeout") }
	client.ReadHoldingRegistersFunc = func(address, quantity uint16) ([]byte, error) {
		if address == regAOType {
			return nil, fmt.Errorf("timeout")
		}
		return make([]byte, 2*int(quantity)), nil
	}

	bus, h := newMockBus(client)
	handler = h
	if n := bus.Discover(3); n != 1 {
		t.Fatalf("Discover found %d cards, want 1", n)
	}
	if cards := bus.Cards(); len(cards) != 1 || cards[0].SlaveID != 2 {
		t.Errorf("unexpected cards %+v", cards)
	}
}

func TestBus_QueueDOBatches(t *testing.T) {
	client := io4040Client()
	var calls int
	client.WriteMultipleCoilsFunc = func(address, quantity uint16, value []byte) ([]byte, error) {
		calls++
		if address != 1 || quantity != 3 {
			t.Errorf("Expected coils 1..3, got address %d quantity %d", address, quantity)
		}
		if len(value) != 1 || value[0] != 0x05 {
			t.Errorf("Expected packed coils 0x05, got %v", value)
		}
		return []byte{}, nil
	}
	bus, _ := newMockBus(client)
	if _, err := bus.AddCard(1, "IO4040"); err != nil {
		t.Fatal(err)
	}

	if err := bus.QueueDO(1, 1, true); err != nil {
		t.Fatalf("QueueDO failed: %v", err)
	}
	if err := bus.QueueDO(1, 3, true); err != nil {
		t.Fatalf("QueueDO failed: %v", err)
	}
	bus.Flush()

	if calls != 1 {
		t.Errorf("WriteMultipleCoils called %d times, want 1", calls)
	}
	card, _ := bus.Card(1)
	if !card.Last.DO[1] || card.Last.DO[2] || !card.Last.DO[3] {
		t.Errorf("cache not updated: %v", card.Last.DO)
	}
}

func TestBus_ApplyResults(t *testing.T) {
	client := io4040Client()
	writes := 0
	client.WriteMultipleCoilsFunc = func(address, quantity uint16, value []byte) ([]byte, error) {
		writes++
		return nil, fmt.Errorf("crc error")
	}
	bus, _ := newMockBus(client)
	if _, err := bus.AddCard(1, "IO4040"); err != nil {
		t.Fatal(err)
	}

	results := bus.Apply([]WriteOp{
		{Slave: 1, Kind: WriteDO, Index: 0, Value: 0},
		{Slave: 1, Kind: WriteDO, Index: 9, Value: 1},
		{Slave: 7, Kind: WriteDO, Index: 0, Value: 1},
		{Slave: 1, Kind: WriteDO, Index: 2, Value: 1},
	})

	want := []string{"ok", "error", "error", "error"}
	for i, r := range results {
		if r.Index != i || r.Status != want[i] {
			t.Errorf("result %d = %+v, want status %s", i, r, want[i])
		}
	}
	if results[0].Message != "value unchanged, skipped" {
		t.Errorf("unchanged write not skipped: %+v", results[0])
	}
	if writes != 1 {
		t.Errorf("expected one bus write, got %d", writes)
	}
	if err := bus.QueueDO(1, 4, true); !errors.Is(err, hal.ErrInvalidChannel) {
		t.Errorf("QueueDO out of range: got %v", err)
	}
}

func io0404Client(ai []float32) *MockClient {
	return &MockClient{
		ReadInputRegistersFunc: func(address, quantity uint16) ([]byte, error) {
			return encodeFloats(ai), nil
		},
		ReadHoldingRegistersFunc: func(address, quantity uint16) ([]byte, error) {
			switch address {
			case regAOType:
				return []byte{0, 4, 0, 1, 0, 1, 0, 4}, nil
			case regBaudRate:
				return []byte{0, 1, 0xC2, 0}, nil
			}
			return make([]byte, 2*int(quantity)), nil
		},
	}
}

func TestBus_SafeState(t *testing.T) {
	client := io0404Client(make([]float32, 4))
	var got []float32
	client.WriteMultipleRegistersFunc = func(address, quantity uint16, value []byte) ([]byte, error) {
		if address != regAO || quantity != 8 {
			t.Errorf("unexpected register write %#x/%d", address, quantity)
		}
		for i := 0; i+4 <= len(value); i += 4 {
			got = append(got, math.Float32frombits(binary.BigEndian.Uint32(value[i:])))
		}
		return []byte{}, nil
	}
	bus, _ := newMockBus(client)
	card, err := bus.AddCard(3, "IO0404")
	if err != nil {
		t.Fatal(err)
	}
	if card.Last.BaudRate != 115200 {
		t.Errorf("baud rate = %d", card.Last.BaudRate)
	}

	if err := bus.WriteSafeState(); err != nil {
		t.Fatalf("WriteSafeState: %v", err)
	}
	want := []float32{4000, 0, 0, 4000}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("safe AO values = %v, want %v", got, want)
	}
}

func TestCardChannels(t *testing.T) {
	ai := []float32{2.5, 0.0126, 0, 10}
	client := io0404Client(ai)
	var aoWrite []byte
	client.WriteMultipleRegistersFunc = func(address, quantity uint16, value []byte) ([]byte, error) {
		aoWrite = value
		return []byte{}, nil
	}
	var aoType [2]uint16
	client.WriteSingleRegisterFunc = func(address, value uint16) ([]byte, error) {
		aoType = [2]uint16{address, value}
		return []byte{}, nil
	}
	bus, _ := newMockBus(client)
	if _, err := bus.AddCard(1, "IO0404"); err != nil {
		t.Fatal(err)
	}

	in := bus.AI(1, 1)
	if err := in.Init(0); err != nil {
		t.Fatal(err)
	}
	if v, err := in.Get(); err != nil || v != 13 {
		t.Errorf("AI = %d, %v; want 13", v, err)
	}
	if err := bus.AI(1, 4).Init(4); !errors.Is(err, hal.ErrInvalidChannel) {
		t.Errorf("AI 4: got %v", err)
	}
	if err := bus.DO(1, 0).Init(0); !errors.Is(err, hal.ErrInvalidChannel) {
		t.Errorf("IO0404 has no DO: got %v", err)
	}

	out := bus.AO(1, 1, AOCurrent)
	if err := out.Init(1); err != nil {
		t.Fatal(err)
	}
	if err := out.Set(12000); err != nil {
		t.Fatal(err)
	}
	bus.Flush()
	if aoType != [2]uint16{regAOType + 1, 0x0004} {
		t.Errorf("AO type write = %#x", aoType)
	}
	if len(aoWrite) != 4 || math.Float32frombits(binary.BigEndian.Uint32(aoWrite)) != 12000 {
		t.Errorf("AO write = %v", aoWrite)
	}

	if _, err := bus.AI(9, 0).Get(); !errors.Is(err, hal.ErrAccessFailed) {
		t.Errorf("missing card: got %v", err)
	}
}

func TestCardDI_Callback(t *testing.T) {
	var mu sync.Mutex
	raw := byte(0x00)
	client := io4040Client()
	client.ReadDiscreteInputsFunc = func(address, quantity uint16) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		return []byte{raw}, nil
	}
	bus, _ := newMockBus(client)
	if _, err := bus.AddCard(1, "IO4040"); err != nil {
		t.Fatal(err)
	}

	di := bus.DI(1, 2)
	if err := di.Init(18); err != nil {
		t.Fatal(err)
	}
	type event struct {
		index int
		state bool
	}
	var events []event
	if err := di.RegisterCallback(func(index int, state bool) {
		events = append(events, event{index, state})
	}, hal.TriggerBothEdge); err != nil {
		t.Fatal(err)
	}

	bus.Cycle()
	mu.Lock()
	raw = 0x04
	mu.Unlock()
	bus.Cycle()
	bus.Cycle()
	mu.Lock()
	raw = 0x00
	mu.Unlock()
	bus.Cycle()

	want := []event{{18, true}, {18, false}}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
	if v, _ := di.Get(); v {
		t.Error("DI should read inactive")
	}

	di.Shutdown()
	mu.Lock()
	raw = 0x04
	mu.Unlock()
	bus.Cycle()
	if len(events) != 2 {
		t.Errorf("callback fired after shutdown: %v", events)
	}
}
