//go:build unix

// Package daemon publishes sampled values into the shared-memory image and
// applies the configuration requests clients leave there.
package daemon

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"sysworxx-io/src/server/device"
	"sysworxx-io/src/server/shm"
	"sysworxx-io/src/server/util"
)

// DefaultTick is the interval at which client requests are checked.
const DefaultTick = 100 * time.Millisecond

// result is one value read by a group worker, or the end of its batch.
type result struct {
	kind   shm.Kind
	index  int
	analog int64
	temp   float64
	flush  bool
}

type Daemon struct {
	dev      *device.Device
	srv      *shm.Server
	mappings shm.Mappings
	tick     time.Duration
}

// New expects dev to be initialised so its samplers are running.
func New(dev *device.Device, srv *shm.Server, mappings shm.Mappings, tick time.Duration) *Daemon {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Daemon{dev: dev, srv: srv, mappings: mappings, tick: tick}
}

// Run serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	results := make(chan result, 2*shm.Channels)

	for _, group := range d.mappings.Groups {
		g.Go(func() error {
			d.collect(ctx, group, results)
			return nil
		})
	}
	g.Go(func() error {
		d.loop(ctx, results)
		return nil
	})
	log.Printf("daemon: serving %d groups on %s", len(d.mappings.Groups), d.srv.Path())
	return g.Wait()
}

// collect reads the channels of group through the facade after every
// sweep of its sampler.
func (d *Daemon) collect(ctx context.Context, group shm.Group, results chan<- result) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-group.Notify:
		}
		for _, ch := range group.Channels {
			r := result{kind: group.Kind, index: ch}
			var err error
			switch group.Kind {
			case shm.AnalogInputs:
				r.analog, err = d.dev.AnalogInput(ch)
			case shm.TempInputs:
				r.temp, err = d.dev.TempInput(ch)
			}
			if err != nil {
				log.Printf("daemon: read %s channel %d: %v", group.Kind, ch, err)
				continue
			}
			if !send(ctx, results, r) {
				return
			}
		}
		if !send(ctx, results, result{flush: true}) {
			return
		}
	}
}

func send(ctx context.Context, results chan<- result, r result) bool {
	select {
	case results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Daemon) loop(ctx context.Context, results <-chan result) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-results:
			d.publish(r)
		case <-ticker.C:
			d.applyConfig()
		}
	}
}

func (d *Daemon) publish(r result) {
	var err error
	switch {
	case r.flush:
		err = d.srv.EmitServerEvent()
	case r.kind == shm.AnalogInputs:
		err = d.srv.SetAnalogValue(r.index, r.analog)
	default:
		err = d.srv.SetTempValue(r.index, r.temp)
	}
	if err != nil {
		log.Printf("daemon: publish: %v", err)
	}
}

// applyConfig forwards every pending request to the facade once the
// client event is set. Taking a request resets it to Keep.
func (d *Daemon) applyConfig() {
	ok, err := d.srv.AwaitClientEvent(0)
	if err != nil {
		log.Printf("daemon: %v", err)
		return
	}
	if !ok {
		return
	}

	counts := d.dev.Counts()
	for i := range min(counts.AnalogInputs, shm.Channels) {
		cfg, err := d.srv.TakeAnalogConfig(i)
		if err != nil {
			log.Printf("daemon: analog config %d: %v", i, err)
			continue
		}
		mode, ok := cfg.Value()
		if !ok {
			continue
		}
		util.Debugf("daemon: analog input %d -> %v", i, cfg)
		if err := d.dev.SetAnalogMode(i, mode); err != nil {
			log.Printf("daemon: set analog mode %d: %v", i, err)
		}
	}
	for i := range min(counts.TempSensors, shm.Channels) {
		cfg, err := d.srv.TakeTempConfig(i)
		if err != nil {
			log.Printf("daemon: temperature config %d: %v", i, err)
			continue
		}
		tc, ok := cfg.Value()
		if !ok {
			continue
		}
		util.Debugf("daemon: temperature %d -> %v", i, cfg)
		if err := d.dev.SetTempMode(i, tc.Mode, tc.SensorType); err != nil {
			log.Printf("daemon: set temperature mode %d: %v", i, err)
		}
	}
}
