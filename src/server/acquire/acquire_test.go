package acquire

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcDelay(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    time.Duration
	}{
		{"immediately", 0, 100 * time.Millisecond},
		{"on exact interval", 100 * time.Millisecond, 0},
		{"in time", 50 * time.Millisecond, 50 * time.Millisecond},
		{"missed one interval", 130 * time.Millisecond, 70 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPeriodic("test", 100*time.Millisecond)
			last := time.Now()
			if got := p.calcDelay(last.Add(tt.elapsed), last); got != tt.want {
				t.Errorf("calcDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeriodicFirstTickImmediate(t *testing.T) {
	p := NewPeriodic("test", time.Hour)
	start := time.Now()
	require.NoError(t, p.Next(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Next(ctx), context.Canceled)
}

type countingSource struct {
	mu     sync.Mutex
	reads  map[int]int
	failOn int
	opened atomic.Bool
}

func (c *countingSource) Open() error { c.opened.Store(true); return nil }

func (c *countingSource) Read(index int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index == c.failOn {
		return 0, errors.New("no such channel")
	}
	c.reads[index]++
	return int64(index*100 + c.reads[index]), nil
}

func TestSamplerLiveness(t *testing.T) {
	src := &countingSource{reads: map[int]int{}, failOn: -1}
	s := NewSampler[int64]("adc", src, 10*time.Millisecond, 0)
	s.Register(2)
	s.Register(0)
	s.Register(2)

	_, ok := s.Get(2)
	assert.False(t, ok, "value before first sweep")

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.True(t, src.opened.Load())

	select {
	case <-s.Notify():
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	v, ok := s.Get(2)
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, int64(201))

	// a later sweep replaces the value
	for range 2 {
		<-s.Notify()
	}
	v2, _ := s.Get(2)
	assert.Greater(t, v2, v)

	_, ok = s.Get(5)
	assert.False(t, ok, "unregistered index")
}

func TestSamplerFallbackOnError(t *testing.T) {
	src := &countingSource{reads: map[int]int{}, failOn: 1}
	s := NewSampler[int64]("adc", src, 5*time.Millisecond, -1)
	s.Register(1)

	require.NoError(t, s.Start(context.Background()))
	<-s.Notify()
	s.Stop()

	v, ok := s.Get(1)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), v)
}

func TestSamplerStopsGoroutine(t *testing.T) {
	src := &countingSource{reads: map[int]int{}, failOn: -1}
	s := NewSampler[int64]("adc", src, time.Millisecond, 0)
	s.Register(0)
	require.NoError(t, s.Start(context.Background()))
	<-s.Notify()
	s.Stop()

	src.mu.Lock()
	n := src.reads[0]
	src.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	src.mu.Lock()
	assert.Equal(t, n, src.reads[0], "reads after Stop")
	src.mu.Unlock()

	// a stopped sampler can be started again
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

type recordingSink struct {
	mu      sync.Mutex
	writes  [][2]int64
	flushed chan struct{}
}

func (r *recordingSink) Write(index int, v int64) error {
	r.mu.Lock()
	r.writes = append(r.writes, [2]int64{int64(index), v})
	r.mu.Unlock()
	select {
	case r.flushed <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingSink) snapshot() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.writes...)
}

func TestWriterCoalesces(t *testing.T) {
	sink := &recordingSink{flushed: make(chan struct{}, 16)}
	w := NewWriter[int64]("dac", sink)

	// pending before start: all three land in one flush, latest value wins
	require.NoError(t, w.Write(1, 10))
	require.NoError(t, w.Write(0, 5))
	require.NoError(t, w.Write(1, 11))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, [][2]int64{{0, 5}, {1, 11}}, sink.snapshot())

	require.NoError(t, w.Write(3, 7))
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, [2]int64{3, 7}, sink.snapshot()[2])
}

func TestWriterFlushesOnStop(t *testing.T) {
	sink := &recordingSink{flushed: make(chan struct{}, 16)}
	w := NewWriter[int64]("dac", sink)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	require.NoError(t, w.Write(4, 9))
	// not started: the value stays pending until the next start/stop cycle
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	assert.Contains(t, sink.snapshot(), [2]int64{4, 9})
}
