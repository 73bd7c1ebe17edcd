// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

// Package processor is the mirror-validation pipeline (§4.4, "the heart"):
// per update cycle it loads every MirrorDecl, runs the per-mirror step DAG
// (DNS -> cloud-subnet tagging -> HTTP probing -> freshness -> ISO-set ->
// geolocation) bounded by a top-level semaphore, then commits the resulting
// MirrorSet to the store in one transaction. Its scheduling shape (bounded
// worker fan-out driven by channels, a ticker-scheduled outer loop) is
// adapted from daemon/monitor.go's healthCheckLoop/syncLoop, generalized
// from a single up/down HEAD check into the full step sequence. HTTP
// requests are not retried: a disconnect or timeout fails the probe on its
// first attempt. Only the DNS lookup of step 1 is tried twice.
package processor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/daemon"
	"github.com/distromirrors/mirrorsd/database"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/network"
	"github.com/distromirrors/mirrorsd/schema"
	"github.com/distromirrors/mirrorsd/store"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("main")

// Processor runs update cycles against a configured ServiceConfig, backed
// by the store, redis cache/locks, and the GeoIP singletons.
type Processor struct {
	Redis    *database.Redis
	Store    *store.Store
	GeoIP    *network.GeoIP
	Registry *schema.Registry

	// Cluster, when set, partitions per-mirror probing across a group of
	// peer instances sharing the same store (§5 "Shared-resource policy").
	// A mirror this node doesn't own keeps its last-committed MirrorState
	// instead of being reprobed, so the commit's atomic full swap (§3
	// "Lifecycle") still covers every mirror even though only a share of
	// them were actually reprobed this cycle.
	Cluster *daemon.Cluster

	httpClient *http.Client

	geocoderMu   sync.Mutex
	geocoderLast time.Time

	// whitelist names mirrors short-circuited straight to status=ok,
	// bypassing reachability/freshness probing the same way private
	// mirrors are (§4.4 step 2).
	whitelist map[string]bool
}

// Result summarizes one completed update cycle, returned to RPC's
// TriggerUpdate/GetUpdateStatus and logged via mirrors.NewLogUpdateCompleted.
type Result struct {
	Started  time.Time
	Duration time.Duration
	Total    int
	Working  int
	Expired  int
	Failed   int
}

// New constructs a Processor. whitelist names mirrors that skip reachability
// probing outright (operator-trusted mirrors, e.g. during onboarding).
func New(r *database.Redis, st *store.Store, geo *network.GeoIP, registry *schema.Registry, whitelist []string) *Processor {
	wl := make(map[string]bool, len(whitelist))
	for _, n := range whitelist {
		wl[n] = true
	}

	cfg := config.GetConfig()
	transport := &http.Transport{
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 20,
		MaxIdleConns:        10000,
		DisableKeepAlives:   true, // force-close, see spec §5 "connection pool"
		DialContext: (&net.Dialer{
			Timeout: time.Duration(cfg.HTTPConnectTimeout) * time.Second,
		}).DialContext,
	}

	return &Processor{
		Redis:    r,
		Store:    st,
		GeoIP:    geo,
		Registry: registry,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.HTTPTotalTimeout) * time.Second,
		},
		whitelist: wl,
	}
}

// RunCycle loads every mirror declaration under mirrorsDir, validates it
// against svc, processes it through the full step DAG with bounded
// concurrency, and commits the resulting MirrorSet in one transaction.
func (p *Processor) RunCycle(ctx context.Context, mirrorsDir string, svc *mirrors.ServiceConfig) (Result, error) {
	started := time.Now()

	decls, err := mirrors.LoadMirrors(mirrorsDir, p.Registry)
	if err != nil {
		return Result{}, err
	}

	if p.Cluster != nil {
		for i := range decls {
			p.Cluster.AddMirror(decls[i].Name)
		}
	}

	mirrors.PushLog(p.Redis, mirrors.NewLogUpdateStarted(len(decls)))

	states := p.processAll(ctx, decls, svc)

	res := Result{Started: started, Duration: time.Since(started), Total: len(states)}
	for i := range states {
		switch states[i].Status {
		case core.StatusOK:
			res.Working++
		case core.StatusExpired:
			res.Expired++
		default:
			res.Failed++
		}
	}

	if err := p.Store.Commit(states); err != nil {
		return res, err
	}

	mirrors.PushLog(p.Redis, mirrors.NewLogUpdateCompleted(res.Working, res.Expired, res.Failed, res.Duration))

	return res, nil
}

// RunLoop ticks RunCycle every interval until stop is closed, generalizing
// daemon/monitor.go's syncLoop ticker shape (§5 "the update pipeline is a
// single-threaded cooperative scheduler"). svc is re-read on every tick so a
// SIGHUP-triggered ServiceConfig reload takes effect on the next cycle
// without restarting the loop. A cycle already in flight when stop closes is
// allowed to finish; RunLoop does not cancel it.
func (p *Processor) RunLoop(ctx context.Context, interval time.Duration, mirrorsDir string, svc func() *mirrors.ServiceConfig, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunCycle(ctx, mirrorsDir, svc()); err != nil {
				log.Error("update cycle failed: %s", err)
			}
		}
	}
}

// processAll fans out one goroutine per mirror, bounded by
// MirrorConcurrency (default 100, §5 "Top-level mirror fan-out"). One
// mirror's failure never affects another's (§5 "Cancellation").
func (p *Processor) processAll(ctx context.Context, decls []mirrors.MirrorDecl, svc *mirrors.ServiceConfig) []mirrors.MirrorState {
	cfg := config.GetConfig()
	sem := make(chan struct{}, cfg.MirrorConcurrency)

	states := make([]mirrors.MirrorState, len(decls))
	var wg sync.WaitGroup
	for i := range decls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if p.Cluster != nil && !p.Cluster.IsHandled(decls[i].Name) {
				if prev, ok := p.Store.ByName(decls[i].Name); ok {
					states[i] = prev
					return
				}
			}

			// Guard against two cluster peers scanning the same mirror at
			// once during a membership transition (§5 "Shared-resource
			// policy"); outside cluster mode this just never contends.
			lock := network.NewClusterLock(p.Redis, fmt.Sprintf("SCANNING_%s", decls[i].Name), decls[i].Name)
			done, err := lock.Get()
			if err != nil {
				log.Errorf("cluster lock for %s: %s", decls[i].Name, err)
			} else if done == nil {
				if prev, ok := p.Store.ByName(decls[i].Name); ok {
					states[i] = prev
				}
				return
			} else {
				defer lock.Release()
			}

			states[i] = p.processOne(ctx, decls[i], svc)
		}(i)
	}
	wg.Wait()
	return states
}

// processOne runs the §4.4 step DAG for a single declaration. Steps execute
// strictly in order; a later step observes the effects of earlier ones.
func (p *Processor) processOne(ctx context.Context, decl mirrors.MirrorDecl, svc *mirrors.ServiceConfig) mirrors.MirrorState {
	m := mirrors.MirrorState{MirrorDecl: decl}
	for _, cidr := range m.Subnets {
		if r, err := mirrors.ParseSubnetRange(cidr); err == nil {
			m.SubnetRanges = append(m.SubnetRanges, r)
		}
	}

	// Step 1: resolve IP.
	p.resolveIP(ctx, &m)

	// Step 2: status (short-circuits 3-8 when IP unknown).
	p.resolveStatus(ctx, &m, svc)

	if m.IP != "Unknown" && m.IP != "" {
		// Step 3: compose iso_url.
		m.ISOURL = composeISOURL(m.BaseURL(svc.RequiredProtocols))

		// Step 4: cloud subnets.
		p.resolveCloudSubnets(&m)

		// Step 5: IPv6 capability.
		p.resolveIPv6(ctx, &m)

		// Step 6: offline geodata.
		p.resolveOfflineGeo(&m)

		// Step 7: ISO-set probe.
		if (m.Status == core.StatusOK || m.Status == core.StatusExpired) && !m.Private && m.CloudType == mirrors.CloudNone {
			m.HasFullISOSet = p.probeISOSet(ctx, &m, svc)
		}

		// Step 8: online geocoder.
		if m.Status == core.StatusOK {
			p.resolveOnlineGeo(ctx, &m)
		}

		// Step 9: optional modules.
		p.probeOptionalModules(ctx, &m, svc)
	}

	return m
}

// composeISOURL builds the version/arch ISO directory template used by
// probeISOSet: fmt.Sprintf(url, version, arch) yields the directory holding
// that version/arch's ISO set and its CHECKSUM manifest.
func composeISOURL(base string) string {
	if base == "" {
		return ""
	}
	return base + "/%s/isos/%s"
}
