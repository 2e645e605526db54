package acquire

import (
	"context"
	"errors"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"sysworxx-io/src/server/util"
)

// Source is polled by a Sampler. Implementations that also satisfy Opener
// are opened when the sampler starts and closed (io.Closer) when it stops.
type Source[T any] interface {
	Read(index int) (T, error)
}

type Opener interface {
	Open() error
}

// Sampler reads every registered index from its source once per period
// and keeps the latest values. After each sweep it posts on Notify; the
// values of a sweep are always stored before its notification.
type Sampler[T any] struct {
	name     string
	source   Source[T]
	period   time.Duration
	fallback T

	mu      sync.Mutex
	indices []int
	values  map[int]T

	notify chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler creates a stopped sampler. fallback is stored for an index
// whose read failed.
func NewSampler[T any](name string, source Source[T], period time.Duration, fallback T) *Sampler[T] {
	return &Sampler[T]{
		name:     name,
		source:   source,
		period:   period,
		fallback: fallback,
		values:   make(map[int]T),
		notify:   make(chan struct{}, 1),
	}
}

func (s *Sampler[T]) Name() string { return s.name }

// Register adds index to the sweep. Call during channel setup only.
func (s *Sampler[T]) Register(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.indices, index) {
		s.indices = append(s.indices, index)
		slices.Sort(s.indices)
	}
}

// Get returns the latest value of index. ok is false until the first sweep
// that covered it.
func (s *Sampler[T]) Get(index int) (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok = s.values[index]
	return v, ok
}

// Notify delivers one token per sweep. Tokens coalesce when the reader is
// slower than the sampler.
func (s *Sampler[T]) Notify() <-chan struct{} { return s.notify }

func (s *Sampler[T]) Start(ctx context.Context) error {
	if s.done != nil {
		return nil
	}
	if o, ok := s.source.(Opener); ok {
		if err := o.Open(); err != nil {
			return err
		}
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *Sampler[T]) Stop() {
	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.done = nil
	if c, ok := s.source.(io.Closer); ok {
		c.Close()
	}
}

func (s *Sampler[T]) run(ctx context.Context) {
	defer close(s.done)
	interval := NewPeriodic(s.name, s.period)
	for {
		if err := interval.Next(ctx); err != nil {
			return
		}
		s.sweep()
		select {
		case s.notify <- struct{}{}:
		default:
		}
		util.Debugf("%s: sweep took %v", s.name, interval.Elapsed())
	}
}

func (s *Sampler[T]) sweep() {
	s.mu.Lock()
	indices := slices.Clone(s.indices)
	s.mu.Unlock()

	read := make(map[int]T, len(indices))
	for _, index := range indices {
		v, err := s.source.Read(index)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("%s: read channel %d failed: %v", s.name, index, err)
			}
			v = s.fallback
		}
		read[index] = v
	}

	s.mu.Lock()
	for index, v := range read {
		s.values[index] = v
	}
	s.mu.Unlock()
}
