//go:build unix

package shm

import (
	"context"
	"fmt"
	"sync"

	"sysworxx-io/src/server/hal"
)

// Connector lazily opens one shared Client for every channel backed by the
// image at path. A failed open is retried on the next access so channels
// recover once the daemon is up.
type Connector struct {
	path string

	mu     sync.Mutex
	client *Client
}

func NewConnector(path string) *Connector {
	return &Connector{path: path}
}

func (c *Connector) get() (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		client, err := Open(c.path)
		if err != nil {
			return nil, err
		}
		c.client = client
	}
	return c.client, nil
}

func (c *Connector) Start(context.Context) error { return nil }

func (c *Connector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func checkIndex(index int) error {
	if index < 0 || index >= Channels {
		return fmt.Errorf("%w: shared memory supports %d channels, got %d", hal.ErrInvalidChannel, Channels, index)
	}
	return nil
}

// Ai reads an analog input published by the daemon.
type Ai struct {
	hal.Base
	conn  *Connector
	index int
}

func NewAi(conn *Connector, index int) *Ai {
	return &Ai{conn: conn, index: index}
}

func (a *Ai) Init(int) error { return checkIndex(a.index) }

func (a *Ai) Get() (int64, error) {
	client, err := a.conn.get()
	if err != nil {
		return 0, err
	}
	return client.AnalogValue(a.index)
}

// SetAnalogMode queues the mode for the daemon; it is applied on the
// daemon's next config tick.
func (a *Ai) SetAnalogMode(mode hal.AnalogMode) error {
	client, err := a.conn.get()
	if err != nil {
		return err
	}
	if err := client.SetAnalogConfig(a.index, mode); err != nil {
		return err
	}
	return client.EmitClientEvent()
}

// Temp reads a temperature published by the daemon.
type Temp struct {
	hal.Base
	conn  *Connector
	index int
}

func NewTemp(conn *Connector, index int) *Temp {
	return &Temp{conn: conn, index: index}
}

func (t *Temp) Init(int) error { return checkIndex(t.index) }

func (t *Temp) Get() (float64, error) {
	client, err := t.conn.get()
	if err != nil {
		return 0, err
	}
	return client.TempValue(t.index)
}

func (t *Temp) SetTempMode(mode hal.TmpMode, sensorType hal.TmpSensorType) error {
	client, err := t.conn.get()
	if err != nil {
		return err
	}
	if err := client.SetTempConfig(t.index, mode, sensorType); err != nil {
		return err
	}
	return client.EmitClientEvent()
}
