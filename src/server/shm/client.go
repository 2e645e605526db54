//go:build unix

package shm

import (
	"time"

	"sysworxx-io/src/server/hal"
)

// Client reads published values and submits configuration requests. By
// convention clients never write value tables.
type Client struct {
	img *image
}

func Open(path string) (*Client, error) {
	img, err := openImage(path)
	if err != nil {
		return nil, err
	}
	return &Client{img: img}, nil
}

func (c *Client) Close() error { return c.img.close() }

func (c *Client) AnalogValue(index int) (int64, error) {
	return c.img.analogValue(index)
}

func (c *Client) TempValue(index int) (float64, error) {
	return c.img.tempValue(index)
}

func (c *Client) SetAnalogConfig(index int, mode hal.AnalogMode) error {
	if !mode.Valid() {
		return hal.ErrInvalidParameter
	}
	tag, value := encodeAnalog(Change(mode))
	return c.img.setConfig(c.img.layout.analogConfigs, index, tag, value)
}

func (c *Client) SetTempConfig(index int, mode hal.TmpMode, sensorType hal.TmpSensorType) error {
	if !mode.Valid() || !sensorType.Valid() {
		return hal.ErrInvalidParameter
	}
	tag, value := encodeTemp(Change(TempConfig{Mode: mode, SensorType: sensorType}))
	return c.img.setConfig(c.img.layout.tempConfigs, index, tag, value)
}

// EmitClientEvent tells the daemon to look at the config tables.
func (c *Client) EmitClientEvent() error {
	return hal.AccessFailed("client event", c.img.emit(c.img.client))
}

// AwaitServerEvent waits for the daemon to publish a batch of values.
func (c *Client) AwaitServerEvent(timeout time.Duration) (bool, error) {
	ok, err := c.img.await(c.img.server, timeout)
	return ok, hal.AccessFailed("server event", err)
}
