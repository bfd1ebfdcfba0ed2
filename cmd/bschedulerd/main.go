// Command bschedulerd is the scheduling daemon: it binds a listening
// socket, optionally joins a discovery hierarchy over a CIDR, and serves
// the admin status/metrics/healthz surface until a root kernel commits or a
// termination signal arrives. Grounded on the signal-driven shutdown loop
// of controller/cmd/public-api/main.go, generalized from stdlib flag to
// cobra/pflag per SPEC_FULL.md §4.7.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bscheduler/bscheduler/internal/echokernel"
	"github.com/bscheduler/bscheduler/internal/peercache"
	"github.com/bscheduler/bscheduler/pkg/admin"
	"github.com/bscheduler/bscheduler/pkg/config"
	"github.com/bscheduler/bscheduler/pkg/factory"
)

func main() {
	var flags *config.FlagSet

	cmd := &cobra.Command{
		Use:   "bschedulerd",
		Short: "bschedulerd runs a bscheduler hierarchy node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	flags = config.NewFlagSet(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(flags *config.FlagSet) error {
	yamlCfg, err := config.LoadYAML(flags.ConfigFile())
	if err != nil {
		return err
	}
	cfg, err := config.Merge(config.Defaults(), yamlCfg, flags.Bound())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	network, err := cfg.ParsedNetwork()
	if err != nil {
		return err
	}

	fcfg := factory.Config{
		ListenNetwork: "tcp",
		ListenAddr:    cfg.Bind,
		Workers:       cfg.Workers,
		QueueDepth:    cfg.QueueDepth,
		UseLocalhost:  cfg.UseLocalhost,
		Network:       network,
		DiscoveryPort: cfg.DiscoveryPort,
		ProbeInterval: cfg.ProbeInterval,
	}

	f, err := factory.New(fcfg)
	if err != nil {
		return fmt.Errorf("bschedulerd: %w", err)
	}
	echokernel.RegisterTypes(f.Registry())

	cachePath := cfg.PeerCachePath
	if cachePath == "" {
		cachePath = peercache.DefaultPath(f.BindAddr().String())
	}
	cache := peercache.New(3*cfg.ProbeInterval, cachePath)
	if err := cache.Load(); err != nil {
		log.WithError(err).Warn("bschedulerd: peer cache load failed, starting empty")
	}

	if h := f.Hierarchy(); h != nil {
		h.SeedCandidates(cache.Entries())
	}

	admin.NewMetrics(f, prometheus.DefaultRegisterer)
	adminSrv := admin.NewServer(cfg.AdminAddr, f, prometheus.DefaultGatherer)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	f.Start()

	if f.Hierarchy() != nil {
		go recordPeerSightings(f, cache, cfg.ProbeInterval)
	}

	go func() {
		log.WithField("addr", cfg.AdminAddr).Info("serving admin endpoint")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("admin server stopped")
		}
	}()

	exitCode := make(chan int, 1)
	go func() { exitCode <- f.Wait() }()

	var code int
	select {
	case <-stop:
		log.Info("received shutdown signal")
		f.GracefulShutdown(0)
		code = <-exitCode
	case code = <-exitCode:
		log.WithField("code", code).Info("root kernel committed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adminSrv.Shutdown(shutdownCtx)

	if err := cache.Flush(); err != nil {
		log.WithError(err).Warn("peer cache flush failed")
	}

	os.Exit(code)
	return nil
}

// recordPeerSightings periodically snapshots the hierarchy's known peers
// into the peer cache, so a future restart's SeedCandidates has a recent
// set to offer ahead of the address-interval walk. Runs until the process
// exits (or returns early if the hierarchy reports discovery disabled); its
// exit is tied to process lifetime rather than plumbed through a context,
// matching the factory's own fire-and-forget background goroutines.
func recordPeerSightings(f *factory.Factory, cache *peercache.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		principal, subs, enabled := f.HierarchySnapshot()
		if !enabled {
			return
		}
		if !principal.Empty() {
			cache.Seen(principal)
		}
		for _, s := range subs {
			cache.Seen(s)
		}
	}
}
