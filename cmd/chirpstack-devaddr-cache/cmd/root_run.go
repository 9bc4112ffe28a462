package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-devaddr-cache/internal/config"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/devaddrcache"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/metrics"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/registry"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/registrysync"
	"github.com/brocaar/chirpstack-devaddr-cache/internal/storage"
)

// This binary runs the registry synchroniser (C4) as a standalone daemon,
// keeping the shared DevAddr cache (C3) warm in Redis. The concentrator
// deduplication cache (C2) and the request-time device getter (C5) are
// per-request libraries meant to be embedded directly in the network-server
// request path that consumes them; that server is out of this repository's
// scope (spec.md §1), so this daemon does not construct or drive them.
var (
	devRegistry  registry.Registry
	devAddrStore *devaddrcache.Store
	syncer       *registrysync.Syncer

	stopScheduler chan struct{}
	schedulerWG   sync.WaitGroup
)

func run(cmd *cobra.Command, args []string) error {
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return errors.Wrap(err, "could not create cpu profile file")
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			return errors.Wrap(err, "could not start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupStorage,
		setupMetrics,
		setupRegistry,
		setupDevAddrCache,
		warmUpRegistrySync,
		startRegistrySyncScheduler,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received, stopping chirpstack-devaddr-cache")

	close(stopScheduler)
	schedulerWG.Wait()

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
	}).Info("starting chirpstack-devaddr-cache")
	return nil
}

func setupStorage() error {
	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupMetrics() error {
	if err := metrics.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup metrics error")
	}
	return nil
}

func setupRegistry() error {
	reg, err := registry.NewIoTHubRegistry(config.C.IoTHub.ConnectionString, config.C.DevAddrCache.RegistryPageSize)
	if err != nil {
		return errors.Wrap(err, "setup registry error")
	}

	devRegistry = reg
	return nil
}

func setupDevAddrCache() error {
	devAddrStore = devaddrcache.NewStore()
	syncer = registrysync.NewSyncer(devAddrStore, devRegistry, config.C)
	return nil
}

func warmUpRegistrySync() error {
	ctx, cancel := context.WithTimeout(context.Background(), config.C.IoTHub.RequestTimeout)
	defer cancel()

	if err := syncer.WarmUp(ctx); err != nil {
		return errors.Wrap(err, "registry sync warm-up error")
	}
	return nil
}

// startRegistrySyncScheduler runs perform_needed_syncs on a fixed interval
// until the process receives a shutdown signal (run's signal handler closes
// stopScheduler and waits for this goroutine to return).
func startRegistrySyncScheduler() error {
	stopScheduler = make(chan struct{})
	schedulerWG.Add(1)

	go func() {
		defer schedulerWG.Done()

		ticker := time.NewTicker(config.C.DevAddrCache.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stopScheduler:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), config.C.IoTHub.RequestTimeout)
				if err := syncer.PerformNeededSyncs(ctx); err != nil {
					log.WithError(err).Error("registry sync error")
				}
				cancel()
			}
		}
	}()

	log.Info("starting registry sync scheduler")
	return nil
}
