package discovery

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

const (
	ServiceType = "_sysworxx-io._tcp"
	Domain      = "local."
)

// registerFunc matches zeroconf.Register without the interface list.
type registerFunc func(instance, service, domain string, port int, txt []string) (shutdowner, error)

type shutdowner interface {
	Shutdown()
}

func zeroconfRegister(instance, service, domain string, port int, txt []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, txt, nil)
}

// Advertiser announces the HTTP API on all interfaces while running.
type Advertiser struct {
	Instance string
	Port     int
	TXT      map[string]string

	register registerFunc

	mu     sync.Mutex
	server shutdowner
}

// NewAdvertiser announces port under instance with the model and device id
// as TXT records.
func NewAdvertiser(instance string, port int, model, deviceID string, revision int) *Advertiser {
	return &Advertiser{
		Instance: instance,
		Port:     port,
		TXT: map[string]string{
			"model":    model,
			"id":       deviceID,
			"revision": strconv.Itoa(revision),
		},
		register: zeroconfRegister,
	}
}

func (a *Advertiser) txtRecords() []string {
	// fixed order keeps announcements stable
	var records []string
	for _, key := range []string{"model", "revision", "id"} {
		if v, ok := a.TXT[key]; ok && v != "" {
			records = append(records, key+"="+v)
		}
	}
	return records
}

func (a *Advertiser) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	server, err := a.register(a.Instance, ServiceType, Domain, a.Port, a.txtRecords())
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}
	a.server = server
	return nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
