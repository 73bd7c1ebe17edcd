// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

// Command mirrorsd is the daemon binary: with -D it starts the HTTP
// frontend, the RPC control plane, and the background mirror processor;
// without it, it behaves as the mirrorsdctl client (see cmd/mirrorsdctl)
// would, matching the teacher's single-binary dual-mode shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"
	"github.com/distromirrors/mirrorsd/cli"
	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/daemon"
	"github.com/distromirrors/mirrorsd/database"
	"github.com/distromirrors/mirrorsd/http"
	"github.com/distromirrors/mirrorsd/logs"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/network"
	"github.com/distromirrors/mirrorsd/process"
	"github.com/distromirrors/mirrorsd/processor"
	"github.com/distromirrors/mirrorsd/rpc"
	"github.com/distromirrors/mirrorsd/schema"
	"github.com/distromirrors/mirrorsd/selector"
	"github.com/distromirrors/mirrorsd/store"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("main")

const banner = ` _______ __                      __
|   |   |__|.----.----.-----.----.|  |--.--|  |
|       |  ||   _|   _|  _  |   _||  _  |  _  |
|__|_|__|__||__| |__| |_____|__|  |_____|_____|`

func main() {
	if core.Debug {
		os.Setenv("DEBUG", "1")
	}

	config.LoadConfig()
	logs.ReloadLogs()

	if core.CpuProfile != "" {
		f, err := os.Create(core.CpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if !core.Daemon {
		if err := cli.ParseCommands(rpcHost(), config.GetConfig().RPCPassword, core.Args()...); err != nil {
			log.Fatal(err)
		}
		return
	}

	runDaemon()
}

func rpcHost() string {
	addr := config.GetConfig().RPCListenAddress
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}

func runDaemon() {
	process.WritePidFile()
	defer process.RemovePidFile()

	fmt.Println(banner)
	log.Noticef("mirrorsd %s starting (%s, %d cpus)", core.VERSION, runtime.Version(), runtime.GOMAXPROCS(0))

	cfg := config.GetConfig()
	if err := logs.InitSentry(cfg.SentryDSN); err != nil {
		log.Warningf("Sentry initialization failed: %s", err)
	}

	r := database.NewRedis(true)
	if err := r.CheckVersion(); err != nil {
		log.Fatal(err)
	}
	r.ConnectPubsub()
	defer r.Close()

	if upgrade, err := r.UpgradeNeeded(); err != nil {
		log.Fatal(err)
	} else if upgrade {
		if err := r.Upgrade(); err != nil {
			log.Fatal(err)
		}
	}

	geo := network.NewGeoIP()
	if err := geo.LoadGeoIP(); err != nil {
		log.Warningf("GeoIP initialization incomplete: %s", err)
	}
	defer geo.Close()

	registry, err := schema.NewRegistry(cfg.SchemaDir)
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.Open(cfg.SqlitePath, r)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	sel := selector.New(st, r, geo)
	proc := processor.New(r, st, geo, registry, nil)

	var cluster *daemon.Cluster
	if cfg.ClusterEnabled {
		cluster = daemon.NewCluster(r)
		cluster.Start()
		defer cluster.Stop()
		proc.Cluster = cluster
	}

	svc := newServiceConfigProvider()

	h := http.NewHTTP(geo, sel, st, proc, svc().MirrorsDir, svc)

	rpcServer := &rpc.CLI{}
	rpcServer.SetDatabase(r)
	rpcServer.SetStore(st)
	rpcServer.SetProcessor(proc, svc().MirrorsDir, svc)
	sigChan := make(chan os.Signal, 1)
	rpcServer.SetSignals(sigChan)
	if err := rpcServer.Start(); err != nil {
		log.Fatal(err)
	}
	defer rpcServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})
	if core.Processor {
		go proc.RunLoop(ctx, time.Duration(cfg.UpdateInterval)*time.Second, svc().MirrorsDir, svc, stop)
	}

	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGHUP,
		syscall.SIGUSR1,
	)

	notifySystemdReady()
	go watchdogLoop(stop)

	go func() {
		for sig := range sigChan {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				log.Notice("Shutting down...")
				sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)
				close(stop)
				if err := h.Shutdown(5 * time.Second); err != nil {
					log.Errorf("HTTP shutdown: %s", err)
				}
				return
			case syscall.SIGHUP:
				if err := config.ReloadConfig(); err != nil {
					log.Warningf("SIGHUP received: %s", err)
				} else {
					log.Notice("SIGHUP received: configuration reloaded")
				}
			case syscall.SIGUSR1:
				log.Notice("SIGUSR1 received: re-opening logs...")
				logs.ReloadLogs()
			}
		}
	}()

	if err := h.RunServer(); err != nil {
		log.Fatal(err)
	}
	log.Notice("Server stopped gracefully.")
}

// notifySystemdReady tells systemd (Type=notify units) that startup is
// complete. A no-op outside a systemd unit (NOTIFY_SOCKET unset).
func notifySystemdReady() {
	sent, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady)
	if err != nil {
		log.Warningf("systemd notify failed: %s", err)
	} else if sent {
		log.Debug("systemd notified: ready")
	}
}

// watchdogLoop pings the systemd watchdog at half its configured interval
// until stop closes. A no-op unless the unit sets WatchdogSec=.
func watchdogLoop(stop <-chan struct{}) {
	interval, err := sdnotify.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sdnotify.SdNotify(false, sdnotify.SdNotifyWatchdog)
		}
	}
}

// newServiceConfigProvider returns a closure the HTTP/RPC/processor layers
// call on every request/cycle, so a SIGHUP config reload is observed without
// a restart. When ServiceConfigPath is set, the catalogue-wide declaration
// is loaded from that standalone YAML file (§4.3); otherwise it is built
// from the fields embedded directly in the operational configuration file.
func newServiceConfigProvider() func() *mirrors.ServiceConfig {
	return func() *mirrors.ServiceConfig {
		cfg := config.GetConfig()
		if cfg.ServiceConfigPath != "" {
			svc, err := mirrors.LoadServiceConfig(cfg.ServiceConfigPath)
			if err != nil {
				log.Errorf("loading service config %s: %s", cfg.ServiceConfigPath, err)
				return &mirrors.ServiceConfig{MirrorsDir: cfg.MirrorsDir}
			}
			if svc.MirrorsDir == "" {
				svc.MirrorsDir = cfg.MirrorsDir
			}
			return svc
		}

		repos := make([]mirrors.RepoDecl, 0, len(cfg.Repos))
		for _, rd := range cfg.Repos {
			repos = append(repos, mirrors.RepoDecl{
				Name:     rd.Name,
				Path:     rd.Path,
				Arches:   rd.Arches,
				Versions: rd.Versions,
				Vault:    rd.Vault,
			})
		}

		return &mirrors.ServiceConfig{
			AllowedOutdate:        cfg.AllowedOutdate,
			Versions:              cfg.Versions,
			VaultVersions:         cfg.VaultVersions,
			DuplicatedVersions:    cfg.Duplicated,
			OptionalModuleVersion: cfg.OptionalModule,
			Arches:                cfg.Arches,
			RequiredProtocols:     cfg.RequiredProtos,
			Repos:                 repos,
			VaultMirror:           cfg.VaultMirror,
			MirrorsDir:            cfg.MirrorsDir,
		}
	}
}
