//go:build unix

// iodaemon samples the analog and temperature inputs of models whose
// converters are too slow to read on demand and publishes them in a shared
// memory image for the I/O library in other processes.
//
// Models without such inputs need no daemon; iodaemon exits 0 on them.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sysworxx-io/src/server/config"
	"sysworxx-io/src/server/daemon"
	"sysworxx-io/src/server/definition"
	"sysworxx-io/src/server/discovery"
	"sysworxx-io/src/server/shm"
)

func main() {
	model := flag.String("device", "", "Model to serve (default: detected)")
	flag.Parse()

	os.Exit(run(*model))
}

func run(model string) int {
	c := config.GetConfig()
	if model == "" {
		model = discovery.ModelName()
	}
	env := discovery.Environment()

	dev, mappings, ok := definition.LoadShm(model, env)
	if !ok {
		log.Printf("iodaemon: %s has no shared memory inputs, nothing to do", model)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dev.Init(ctx); err != nil {
		log.Printf("iodaemon: init %s: %v", model, err)
		return 1
	}
	defer func() {
		if err := dev.Shutdown(); err != nil {
			log.Printf("iodaemon: shutdown: %v", err)
		}
	}()

	srv, err := shm.Create(env.ShmPath, shm.DefaultSize)
	if err != nil {
		log.Printf("iodaemon: %v", err)
		return 1
	}
	defer func() {
		if err := srv.Close(c.UnlinkShmOnExit); err != nil {
			log.Printf("iodaemon: close %s: %v", env.ShmPath, err)
		}
	}()

	log.Printf("iodaemon: serving %s on %s", model, srv.Path())
	if err := daemon.New(dev, srv, mappings, c.ConfigTick()).Run(ctx); err != nil {
		log.Printf("iodaemon: %v", err)
		return 1
	}
	log.Printf("iodaemon: stopped")
	return 0
}
