//go:build unix

package shm

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysworxx-io/src/server/hal"
)

func newPair(t *testing.T) (*Server, *Client) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iomapping")
	srv, err := Create(path, DefaultSize)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(false) })

	client, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestLayoutFitsDefaultSize(t *testing.T) {
	l, err := NewLayout(DefaultSize, Channels)
	require.NoError(t, err)
	assert.LessOrEqual(t, l.Required(), DefaultSize)
	assert.Equal(t, 32+4*Channels*8, l.Required())

	_, err = NewLayout(512, Channels)
	assert.ErrorIs(t, err, hal.ErrInvalidParameter)
}

func TestValuesRoundTrip(t *testing.T) {
	srv, client := newPair(t)

	require.NoError(t, srv.SetAnalogValue(0, 12345))
	require.NoError(t, srv.SetAnalogValue(31, -7))
	require.NoError(t, srv.SetTempValue(3, 21.5))

	v, err := client.AnalogValue(0)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), v)
	v, _ = client.AnalogValue(31)
	assert.Equal(t, int64(-7), v)

	temp, err := client.TempValue(3)
	require.NoError(t, err)
	assert.Equal(t, 21.5, temp)

	_, err = client.AnalogValue(32)
	assert.ErrorIs(t, err, hal.ErrInvalidChannel)
	assert.ErrorIs(t, srv.SetTempValue(-1, 0), hal.ErrInvalidChannel)
}

func TestConfigTakenOnce(t *testing.T) {
	srv, client := newPair(t)

	cfg, err := srv.TakeAnalogConfig(0)
	require.NoError(t, err)
	assert.True(t, cfg.IsKeep())

	require.NoError(t, client.SetAnalogConfig(0, hal.AnalogCurrent))
	peek, _ := srv.AnalogConfig(0)
	assert.Equal(t, Change(hal.AnalogCurrent), peek)

	cfg, err = srv.TakeAnalogConfig(0)
	require.NoError(t, err)
	assert.Equal(t, Change(hal.AnalogCurrent), cfg)
	for range 3 {
		cfg, _ = srv.TakeAnalogConfig(0)
		assert.Equal(t, Keep[hal.AnalogMode](), cfg)
	}

	require.NoError(t, client.SetTempConfig(5, hal.RtdThreeWire, hal.PT1000))
	tcfg, err := srv.TakeTempConfig(5)
	require.NoError(t, err)
	mode, ok := tcfg.Value()
	require.True(t, ok)
	assert.Equal(t, TempConfig{Mode: hal.RtdThreeWire, SensorType: hal.PT1000}, mode)
	tcfg, _ = srv.TakeTempConfig(5)
	assert.True(t, tcfg.IsKeep())

	assert.ErrorIs(t, client.SetAnalogConfig(0, hal.AnalogMode(4)), hal.ErrInvalidParameter)
}

func TestEventTimeoutIsNotError(t *testing.T) {
	srv, client := newPair(t)

	ok, err := srv.AwaitClientEvent(0)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Now()
	ok, err = client.AwaitServerEvent(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestEventsAreDirectional(t *testing.T) {
	srv, client := newPair(t)

	require.NoError(t, srv.EmitServerEvent())
	// the server event is not visible as a client event
	ok, _ := srv.AwaitClientEvent(0)
	assert.False(t, ok)

	ok, err := client.AwaitServerEvent(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	// auto reset
	ok, _ = client.AwaitServerEvent(0)
	assert.False(t, ok)

	require.NoError(t, client.EmitClientEvent())
	ok, _ = srv.AwaitClientEvent(0)
	assert.True(t, ok)
}

func TestEventWakesBlockedWaiter(t *testing.T) {
	srv, client := newPair(t)

	done := make(chan bool)
	go func() {
		ok, _ := client.AwaitServerEvent(Infinite)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, srv.EmitServerEvent())

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestLockSerializesWriters(t *testing.T) {
	srv, client := newPair(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if i%2 == 0 {
					srv.SetAnalogValue(1, int64(i))
				} else {
					client.AnalogValue(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, unlocked, *srv.img.mu.word)
}

func TestCloseWhileInUse(t *testing.T) {
	srv, _ := newPair(t)

	waiter := make(chan error, 1)
	go func() {
		_, err := srv.AwaitClientEvent(Infinite)
		waiter <- err
	}()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				if err := srv.SetAnalogValue(i, int64(i)); err != nil {
					assert.ErrorIs(t, err, hal.ErrGeneric)
					return
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	require.NoError(t, srv.Close(false))
	wg.Wait()

	assert.ErrorIs(t, srv.SetTempValue(0, 1), hal.ErrGeneric)
	assert.ErrorIs(t, srv.EmitServerEvent(), hal.ErrGeneric)
	select {
	case err := <-waiter:
		assert.ErrorIs(t, err, hal.ErrGeneric)
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after close")
	}
	assert.NoError(t, srv.Close(false))
}

func TestOpenRejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iomapping")
	require.NoError(t, os.WriteFile(path, make([]byte, DefaultSize), 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrLayoutMismatch)

	_, err = Open(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, hal.ErrAccessFailed)
}

func TestCreateReplacesAndCloseKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iomapping")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	srv, err := Create(path, DefaultSize)
	require.NoError(t, err)
	require.NoError(t, srv.Close(false))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	srv, err = Create(path, DefaultSize)
	require.NoError(t, err)
	require.NoError(t, srv.Close(true))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClientChannels(t *testing.T) {
	srv, _ := newPair(t)
	conn := NewConnector(srv.Path())
	defer conn.Stop()

	ai := NewAi(conn, 2)
	require.NoError(t, ai.Init(2))
	require.NoError(t, srv.SetAnalogValue(2, 4711))
	v, err := ai.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(4711), v)

	require.NoError(t, ai.SetAnalogMode(hal.AnalogCurrent))
	ok, _ := srv.AwaitClientEvent(0)
	assert.True(t, ok)
	cfg, _ := srv.TakeAnalogConfig(2)
	assert.Equal(t, Change(hal.AnalogCurrent), cfg)

	tmp := NewTemp(conn, 1)
	require.NoError(t, tmp.SetTempMode(hal.RtdTwoWire, hal.PT100))
	tcfg, _ := srv.TakeTempConfig(1)
	assert.Equal(t, Change(TempConfig{hal.RtdTwoWire, hal.PT100}), tcfg)

	assert.ErrorIs(t, NewAi(conn, 32).Init(32), hal.ErrInvalidChannel)

	missing := NewAi(NewConnector(filepath.Join(t.TempDir(), "none")), 0)
	_, err = missing.Get()
	assert.ErrorIs(t, err, hal.ErrAccessFailed)
}
