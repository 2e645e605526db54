// Package localio drives Modbus RTU remote I/O cards on one RS485 line and
// presents their channels as hal channels.
package localio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"sysworxx-io/src/server/hal"
	"sysworxx-io/src/server/util"
)

const (
	DefaultPort     = "/dev/ttyS7"
	DefaultBaudRate = 9600
)

type ClientFactory func(handler modbus.ClientHandler) modbus.Client
type HandlerFactory func(path string, cfg serialCfg, timeout time.Duration) (Handler, error)

// SafeState holds the values written to every output when the controlling
// client goes away. Analog values are engineering units; the cards take
// them multiplied by 1000.
type SafeState struct {
	DOState        bool
	AOVoltageValue float32
	AOCurrentValue float32
}

// DefaultSafeState opens all relays, drives 0 V on voltage outputs and the
// 4 mA live zero on current outputs.
func DefaultSafeState() SafeState {
	return SafeState{DOState: false, AOVoltageValue: 0, AOCurrentValue: 4}
}

type CardState struct {
	Timestamp    time.Time `json:"timestamp"`
	DI           []bool    `json:"di,omitempty"`
	DO           []bool    `json:"do,omitempty"`
	AI           []float32 `json:"ai,omitempty"`
	AO           []float32 `json:"ao,omitempty"`
	AOType       []string  `json:"aoType,omitempty"`
	SerialNumber string    `json:"serialNumber,omitempty"`
	BaudRate     int       `json:"baudRate,omitempty"`
	Error        string    `json:"error,omitempty"`
}

func (s CardState) clone() CardState {
	s.DI = slices.Clone(s.DI)
	s.DO = slices.Clone(s.DO)
	s.AI = slices.Clone(s.AI)
	s.AO = slices.Clone(s.AO)
	s.AOType = slices.Clone(s.AOType)
	return s
}

type Card struct {
	SlaveID  byte      `json:"slaveId"`
	Module   string    `json:"module"`
	Last     CardState `json:"last"`
	fullRead bool
}

func (c *Card) spec() ModelSpec { return ModelTable[c.Module] }

type WriteKind int

const (
	WriteDO WriteKind = iota
	WriteAO
	WriteAOType
)

func (k WriteKind) String() string {
	switch k {
	case WriteDO:
		return "DO"
	case WriteAO:
		return "AO"
	case WriteAOType:
		return "AO type"
	}
	return fmt.Sprintf("WriteKind(%d)", int(k))
}

// WriteOp is one pending output change. Value is 0 or 1 for DO writes.
type WriteOp struct {
	Slave byte
	Kind  WriteKind
	Index int
	Value float32
	Mode  string
}

type WriteResult struct {
	Index   int    `json:"index"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r WriteResult) Failed() bool { return r.Status == "error" }

// Bus owns the RS485 line and the cards on it. A background cycle reads all
// cards and applies queued writes after each card so outputs never wait for
// a full sweep.
type Bus struct {
	port      string
	serial    serialCfg
	timeout   time.Duration
	pause     time.Duration
	cycleWait time.Duration

	handlerFactory HandlerFactory
	clientFactory  ClientFactory

	mu     sync.Mutex
	line   *rtuLine
	cards  []*Card
	queue  []WriteOp
	inputs map[inputKey][]*CardDI
	safe   SafeState

	cancel context.CancelFunc
	done   chan struct{}
}

type inputKey struct {
	slave byte
	index int
}

func NewBus(port string, baudRate int) *Bus {
	if port == "" {
		port = DefaultPort
	}
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Bus{
		port:           port,
		serial:         serialCfg{Baud: baudRate, Par: "N", Stop: 1, Data: 8},
		timeout:        200 * time.Millisecond,
		pause:          2 * time.Millisecond,
		cycleWait:      10 * time.Millisecond,
		handlerFactory: newRTUHandler,
		clientFactory:  modbus.NewClient,
		inputs:         make(map[inputKey][]*CardDI),
		safe:           DefaultSafeState(),
	}
}

func (b *Bus) Port() string { return b.port }

func (b *Bus) SetSafeState(s SafeState) {
	b.mu.Lock()
	b.safe = s
	b.mu.Unlock()
}

func (b *Bus) ensureLine() (*rtuLine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.line != nil {
		return b.line, nil
	}
	h, err := b.handlerFactory(b.port, b.serial, b.timeout)
	if err != nil {
		return nil, hal.AccessFailed("modbus "+b.port, err)
	}
	if err := h.Connect(); err != nil {
		return nil, hal.AccessFailed("modbus "+b.port, err)
	}
	b.line = &rtuLine{handler: h, client: b.clientFactory(h), pause: b.pause}
	return b.line, nil
}

// AddCard registers the card at slave. An empty module is detected by
// probing which register ranges the card answers.
func (b *Bus) AddCard(slave byte, module string) (Card, error) {
	line, err := b.ensureLine()
	if err != nil {
		return Card{}, err
	}
	if module == "" {
		module = guessModel(line.probe(slave))
	}
	spec, ok := ModelTable[module]
	if !ok {
		return Card{}, fmt.Errorf("%w: slave %d: unknown module %q", hal.ErrInvalidParameter, slave, module)
	}

	b.mu.Lock()
	if b.cardLocked(slave) != nil {
		b.mu.Unlock()
		return Card{}, fmt.Errorf("%w: slave %d already added", hal.ErrInvalidParameter, slave)
	}
	card := &Card{SlaveID: slave, Module: spec.Name}
	b.cards = append(b.cards, card)
	b.mu.Unlock()

	state, err := line.readCard(slave, spec, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		card.Last = state
	} else {
		card.Last.Error = err.Error()
		card.fullRead = true
	}
	snap := *card
	snap.Last = card.Last.clone()
	return snap, nil
}

// Discover probes slaves 1..maxSlave and adds every card that answers with
// a known layout. It returns the number of cards found.
func (b *Bus) Discover(maxSlave int) int {
	found := 0
	for sid := 1; sid <= maxSlave; sid++ {
		line, err := b.ensureLine()
		if err != nil {
			log.Printf("modbus %s: %v", b.port, err)
			return found
		}
		module := guessModel(line.probe(byte(sid)))
		if module == unknownModel {
			continue
		}
		card, err := b.AddCard(byte(sid), module)
		if err != nil {
			util.Debugf("modbus %s: slave %d: %v", b.port, sid, err)
			continue
		}
		log.Printf("discovered slave %d on %s module=%s baudrate=%d", sid, b.port, card.Module, card.Last.BaudRate)
		found++
	}
	return found
}

func (b *Bus) cardLocked(slave byte) *Card {
	for _, c := range b.cards {
		if c.SlaveID == slave {
			return c
		}
	}
	return nil
}

// Card returns a snapshot of the card at slave.
func (b *Bus) Card(slave byte) (Card, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cardLocked(slave)
	if c == nil {
		return Card{}, false
	}
	snap := *c
	snap.Last = c.Last.clone()
	return snap, true
}

// Cards returns snapshots of all cards in the order they were added.
func (b *Bus) Cards() []Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Card, len(b.cards))
	for i, c := range b.cards {
		out[i] = *c
		out[i].Last = c.Last.clone()
	}
	return out
}

// Start runs the read/write cycle until Stop. Without cards there is
// nothing to poll and no goroutine is started.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return nil
	}
	if len(b.cards) == 0 {
		log.Printf("no remote I/O cards on %s; skipping read-write cycle", b.port)
		return nil
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
	log.Printf("started remote I/O cycle on %s (%d card(s))", b.port, len(b.cards))
	return nil
}

// Stop ends the cycle and closes the line.
func (b *Bus) Stop() {
	b.mu.Lock()
	done := b.done
	if done != nil {
		b.cancel()
		b.done = nil
	}
	b.mu.Unlock()
	if done != nil {
		<-done
	}

	b.mu.Lock()
	line := b.line
	b.line = nil
	b.mu.Unlock()
	if line != nil {
		line.close()
	}
}

func (b *Bus) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-t.C:
		}
		b.Cycle()
		t.Reset(b.cycleWait)
	}
}

// Cycle reads every card once, flushing queued writes after each read, and
// then fires input callbacks for digital inputs that changed.
func (b *Bus) Cycle() {
	b.mu.Lock()
	cards := slices.Clone(b.cards)
	line := b.line
	b.mu.Unlock()
	if line == nil {
		return
	}

	var changes []inputChange
	for _, c := range cards {
		b.mu.Lock()
		full := c.fullRead
		c.fullRead = false
		b.mu.Unlock()

		state, err := line.readCard(c.SlaveID, c.spec(), full)

		b.mu.Lock()
		if err != nil {
			c.Last.Error = err.Error()
			if full {
				c.fullRead = true
			}
		} else {
			if !full {
				state.SerialNumber = c.Last.SerialNumber
				state.AOType = c.Last.AOType
				state.BaudRate = c.Last.BaudRate
			}
			changes = append(changes, b.diffInputsLocked(c.SlaveID, c.Last.DI, state.DI)...)
			c.Last = state
		}
		b.mu.Unlock()

		b.Flush()
	}

	for _, ch := range changes {
		ch.input.fire(ch.state)
	}
}

type inputChange struct {
	input *CardDI
	state bool
}

func (b *Bus) diffInputsLocked(slave byte, old, cur []bool) []inputChange {
	var out []inputChange
	for i, v := range cur {
		if i < len(old) && old[i] == v {
			continue
		}
		for _, di := range b.inputs[inputKey{slave, i}] {
			out = append(out, inputChange{di, v})
		}
	}
	return out
}

func (b *Bus) validate(op WriteOp) error {
	c := b.cardLocked(op.Slave)
	if c == nil {
		return fmt.Errorf("%w: no card at slave %d", hal.ErrInvalidChannel, op.Slave)
	}
	limit := c.spec().AO
	if op.Kind == WriteDO {
		limit = c.spec().DO
	}
	if op.Index < 0 || op.Index >= limit {
		return fmt.Errorf("%w: slave %d has no %s %d", hal.ErrInvalidChannel, op.Slave, op.Kind, op.Index)
	}
	if op.Kind == WriteAOType && op.Mode != AOVoltage && op.Mode != AOCurrent {
		return fmt.Errorf("%w: AO type %q", hal.ErrInvalidParameter, op.Mode)
	}
	return nil
}

// Queue validates op and schedules it for the next flush.
func (b *Bus) Queue(op WriteOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.validate(op); err != nil {
		return err
	}
	b.queue = append(b.queue, op)
	return nil
}

func (b *Bus) QueueDO(slave byte, index int, state bool) error {
	var v float32
	if state {
		v = 1
	}
	return b.Queue(WriteOp{Slave: slave, Kind: WriteDO, Index: index, Value: v})
}

func (b *Bus) QueueAO(slave byte, index int, value float32) error {
	return b.Queue(WriteOp{Slave: slave, Kind: WriteAO, Index: index, Value: value})
}

func (b *Bus) QueueAOType(slave byte, index int, mode string) error {
	return b.Queue(WriteOp{Slave: slave, Kind: WriteAOType, Index: index, Mode: mode})
}

// Flush writes everything queued so far.
func (b *Bus) Flush() {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	b.mu.Unlock()
	if len(queue) == 0 {
		return
	}
	for i, r := range b.Apply(queue) {
		if r.Failed() {
			log.Printf("modbus %s: write %d (%s slave %d) failed: %s", b.port, i, queue[i].Kind, queue[i].Slave, r.Message)
		}
	}
}

type groupKey struct {
	slave byte
	kind  WriteKind
}

// Apply writes ops immediately. Writes that would not change the cached
// card state are skipped; the rest are merged into one request per card
// and register type. Results are in the order of ops.
func (b *Bus) Apply(ops []WriteOp) []WriteResult {
	results := make([]WriteResult, len(ops))
	groups := make(map[groupKey][]int)
	var order []groupKey

	b.mu.Lock()
	for i, op := range ops {
		results[i].Index = i
		if err := b.validate(op); err != nil {
			results[i].Status, results[i].Message = "error", err.Error()
			continue
		}
		if !b.changesLocked(op) {
			results[i].Status, results[i].Message = "ok", "value unchanged, skipped"
			continue
		}
		key := groupKey{op.Slave, op.Kind}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}
	b.mu.Unlock()

	if len(order) == 0 {
		return results
	}
	line, lineErr := b.ensureLine()
	for _, key := range order {
		err := lineErr
		if err == nil {
			err = b.writeGroup(line, key, ops, groups[key])
		}
		setResults(results, groups[key], err)
	}
	return results
}

func setResults(results []WriteResult, idx []int, err error) {
	for _, i := range idx {
		if err != nil {
			results[i].Status, results[i].Message = "error", err.Error()
		} else {
			results[i].Status = "ok"
		}
	}
}

func (b *Bus) changesLocked(op WriteOp) bool {
	c := b.cardLocked(op.Slave)
	switch op.Kind {
	case WriteDO:
		if op.Index < len(c.Last.DO) {
			return c.Last.DO[op.Index] != (op.Value != 0)
		}
	case WriteAO:
		if op.Index < len(c.Last.AO) {
			return c.Last.AO[op.Index] != op.Value
		}
	case WriteAOType:
		if op.Index < len(c.Last.AOType) {
			return c.Last.AOType[op.Index] != op.Mode
		}
	}
	return true
}

// writeGroup covers the index range of the group with one request, filling
// gaps from the cached state. AO types live in single registers and are
// written one by one.
func (b *Bus) writeGroup(line *rtuLine, key groupKey, ops []WriteOp, idx []int) error {
	lo, hi := ops[idx[0]].Index, ops[idx[0]].Index
	for _, i := range idx {
		lo, hi = min(lo, ops[i].Index), max(hi, ops[i].Index)
	}

	b.mu.Lock()
	c := b.cardLocked(key.slave)
	cached := c.Last.clone()
	b.mu.Unlock()

	switch key.kind {
	case WriteDO:
		values := make([]bool, hi-lo+1)
		for j := range values {
			if lo+j < len(cached.DO) {
				values[j] = cached.DO[lo+j]
			}
		}
		for _, i := range idx {
			values[ops[i].Index-lo] = ops[i].Value != 0
		}
		if err := line.writeCoils(key.slave, lo, values); err != nil {
			return err
		}
		b.updateCache(key.slave, func(s *CardState) {
			if len(s.DO) > hi {
				copy(s.DO[lo:], values)
			}
		})
	case WriteAO:
		values := make([]float32, hi-lo+1)
		for j := range values {
			if lo+j < len(cached.AO) {
				values[j] = cached.AO[lo+j]
			}
		}
		for _, i := range idx {
			values[ops[i].Index-lo] = ops[i].Value
		}
		if err := line.writeFloats(key.slave, lo, values); err != nil {
			return err
		}
		b.updateCache(key.slave, func(s *CardState) {
			if len(s.AO) > hi {
				copy(s.AO[lo:], values)
			}
		})
	case WriteAOType:
		var errs []error
		for _, i := range idx {
			op := ops[i]
			if err := line.writeAOType(key.slave, op.Index, op.Mode); err != nil {
				errs = append(errs, err)
				continue
			}
			b.updateCache(key.slave, func(s *CardState) {
				if op.Index < len(s.AOType) {
					s.AOType[op.Index] = op.Mode
				}
			})
		}
		return errors.Join(errs...)
	}
	return nil
}

func (b *Bus) updateCache(slave byte, fn func(*CardState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.cardLocked(slave); c != nil {
		fn(&c.Last)
	}
}

// Reboot restarts a card; its static information is re-read afterwards.
func (b *Bus) Reboot(slave byte) error {
	b.mu.Lock()
	c := b.cardLocked(slave)
	if c == nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: no card at slave %d", hal.ErrInvalidChannel, slave)
	}
	c.fullRead = true
	b.mu.Unlock()

	line, err := b.ensureLine()
	if err != nil {
		return err
	}
	return hal.AccessFailed(fmt.Sprintf("reboot slave %d", slave), line.reboot(slave))
}

// ReadBaudRate works for any slave, registered or not.
func (b *Bus) ReadBaudRate(slave byte) (int, error) {
	line, err := b.ensureLine()
	if err != nil {
		return 0, err
	}
	baud, err := line.readBaudRate(slave)
	return baud, hal.AccessFailed(fmt.Sprintf("baud rate slave %d", slave), err)
}

// SetBaudRate stores a new line speed in the card. It is used after the
// next reboot.
func (b *Bus) SetBaudRate(slave byte, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("%w: baud rate %d", hal.ErrInvalidParameter, baud)
	}
	line, err := b.ensureLine()
	if err != nil {
		return err
	}
	return hal.AccessFailed(fmt.Sprintf("baud rate slave %d", slave), line.writeBaudRate(slave, baud))
}

// RebootSlave restarts any slave on the line, registered or not.
func (b *Bus) RebootSlave(slave byte) error {
	line, err := b.ensureLine()
	if err != nil {
		return err
	}
	return hal.AccessFailed(fmt.Sprintf("reboot slave %d", slave), line.reboot(slave))
}

// WriteSafeState drives every output of every card to the safe state. All
// cards are attempted; the errors are joined.
func (b *Bus) WriteSafeState() error {
	b.mu.Lock()
	cards := slices.Clone(b.cards)
	safe := b.safe
	b.queue = nil
	b.mu.Unlock()
	if len(cards) == 0 {
		return nil
	}

	line, err := b.ensureLine()
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range cards {
		spec := c.spec()
		if spec.DO > 0 {
			values := make([]bool, spec.DO)
			for i := range values {
				values[i] = safe.DOState
			}
			if err := line.writeCoils(c.SlaveID, 0, values); err != nil {
				errs = append(errs, fmt.Errorf("slave %d DO: %w", c.SlaveID, err))
			}
		}
		if spec.AO > 0 {
			b.mu.Lock()
			types := slices.Clone(c.Last.AOType)
			b.mu.Unlock()
			values := make([]float32, spec.AO)
			for i := range values {
				values[i] = safe.AOVoltageValue * 1000
				if i < len(types) && types[i] == AOCurrent {
					values[i] = safe.AOCurrentValue * 1000
				}
			}
			if err := line.writeFloats(c.SlaveID, 0, values); err != nil {
				errs = append(errs, fmt.Errorf("slave %d AO: %w", c.SlaveID, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return hal.AccessFailed("safe state", err)
	}
	util.Debugf("modbus %s: all outputs in safe state", b.port)
	return nil
}
