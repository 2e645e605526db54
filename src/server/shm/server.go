//go:build unix

package shm

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"sysworxx-io/src/server/hal"
)

// Server is the daemon side of the image: it publishes values and drains
// configuration requests.
type Server struct {
	img *image
}

// Create removes any previous image at path and creates a new one of size
// bytes with both events cleared.
func Create(path string, size int) (*Server, error) {
	img, err := createImage(path, size)
	if err != nil {
		return nil, err
	}
	img.server.clear()
	img.client.clear()
	return &Server{img: img}, nil
}

func (s *Server) Path() string { return s.img.path }

// Close unmaps the image. The file itself is only removed when unlink is
// set so clients survive a daemon restart.
func (s *Server) Close(unlink bool) error {
	err := s.img.close()
	if unlink {
		if rmErr := os.Remove(s.img.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

func (s *Server) SetAnalogValue(index int, v int64) error {
	return s.img.setAnalogValue(index, v)
}

func (s *Server) SetTempValue(index int, v float64) error {
	return s.img.setTempValue(index, v)
}

// TakeAnalogConfig returns the pending request of index and resets it to
// Keep.
func (s *Server) TakeAnalogConfig(index int) (Config[hal.AnalogMode], error) {
	tag, value, err := s.img.config(s.img.layout.analogConfigs, index, true)
	return decodeAnalog(tag, value), err
}

// AnalogConfig peeks at the pending request without acknowledging it.
func (s *Server) AnalogConfig(index int) (Config[hal.AnalogMode], error) {
	tag, value, err := s.img.config(s.img.layout.analogConfigs, index, false)
	return decodeAnalog(tag, value), err
}

func (s *Server) TakeTempConfig(index int) (Config[TempConfig], error) {
	tag, value, err := s.img.config(s.img.layout.tempConfigs, index, true)
	return decodeTemp(tag, value), err
}

func (s *Server) TempConfig(index int) (Config[TempConfig], error) {
	tag, value, err := s.img.config(s.img.layout.tempConfigs, index, false)
	return decodeTemp(tag, value), err
}

// EmitServerEvent tells clients a batch of values was published.
func (s *Server) EmitServerEvent() error {
	return hal.AccessFailed("server event", s.img.emit(s.img.server))
}

// AwaitClientEvent reports whether a client stored configuration changes.
func (s *Server) AwaitClientEvent(timeout time.Duration) (bool, error) {
	ok, err := s.img.await(s.img.client, timeout)
	return ok, hal.AccessFailed("client event", err)
}
