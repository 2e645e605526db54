package acquire

import (
	"context"
	"io"
	"log"
	"slices"
	"sync"
)

type Sink[T any] interface {
	Write(index int, v T) error
}

// Writer batches values for a sink. Write only records the value and pokes
// a single-slot wake channel; a poke while one is pending is dropped since
// the next flush picks up every pending value anyway.
type Writer[T any] struct {
	name string
	sink Sink[T]

	mu      sync.Mutex
	pending map[int]T

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWriter[T any](name string, sink Sink[T]) *Writer[T] {
	return &Writer[T]{
		name:    name,
		sink:    sink,
		pending: make(map[int]T),
		wake:    make(chan struct{}, 1),
	}
}

func (w *Writer[T]) Write(index int, v T) error {
	w.mu.Lock()
	w.pending[index] = v
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *Writer[T]) Start(ctx context.Context) error {
	if w.done != nil {
		return nil
	}
	if o, ok := w.sink.(Opener); ok {
		if err := o.Open(); err != nil {
			return err
		}
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop flushes whatever is still pending before returning.
func (w *Writer[T]) Stop() {
	if w.done == nil {
		return
	}
	w.cancel()
	<-w.done
	w.done = nil
	w.flush()
	if c, ok := w.sink.(io.Closer); ok {
		c.Close()
	}
}

func (w *Writer[T]) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *Writer[T]) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[int]T, len(pending))
	w.mu.Unlock()

	indices := make([]int, 0, len(pending))
	for index := range pending {
		indices = append(indices, index)
	}
	slices.Sort(indices)

	for _, index := range indices {
		if err := w.sink.Write(index, pending[index]); err != nil {
			log.Printf("%s: write channel %d failed: %v", w.name, index, err)
		}
	}
}
