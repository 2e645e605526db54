// Package acquire decouples hardware polling from callers: samplers poll a
// source on a fixed period and cache the values, writers flush pending
// values to a sink when woken.
package acquire

import (
	"context"
	"log"
	"time"
)

// Periodic paces a polling loop to a fixed interval. The first call to Next
// returns immediately; intervals that were missed entirely are logged and
// skipped rather than caught up.
type Periodic struct {
	name     string
	interval time.Duration
	last     time.Time
	started  bool
	now      func() time.Time
}

func NewPeriodic(name string, interval time.Duration) *Periodic {
	return &Periodic{name: name, interval: interval, now: time.Now}
}

// Next blocks until the next interval starts or ctx is done.
func (p *Periodic) Next(ctx context.Context) error {
	now := p.now()
	if !p.started {
		p.started = true
		p.last = now
		return ctx.Err()
	}

	delay := p.calcDelay(now, p.last)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Periodic) calcDelay(now, last time.Time) time.Duration {
	diff := now.Sub(last)
	for diff > p.interval {
		log.Printf("%s: missed interval (%v)", p.name, diff)
		last = last.Add(p.interval)
		diff = now.Sub(last)
	}
	p.last = last.Add(p.interval)
	return p.interval - diff
}

// Elapsed is the time since the start of the current interval.
func (p *Periodic) Elapsed() time.Duration {
	if !p.started {
		return 0
	}
	return p.now().Sub(p.last)
}
