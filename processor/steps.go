// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package processor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/network"
	"github.com/gomodule/redigo/redis"
)

const dnsRetries = 2

// resolveIP runs step 1: DNS A lookup with a 5s timeout and 2 tries.
// Failure short-circuits steps 3-8 via the status field set here.
func (p *Processor) resolveIP(ctx context.Context, m *mirrors.MirrorState) {
	cfg := config.GetConfig()
	timeout := time.Duration(cfg.DNSTimeout) * time.Second

	var addrs []net.IP
	var lastErr error
	for try := 0; try < dnsRetries; try++ {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		ips, err := net.DefaultResolver.LookupIP(dctx, "ip4", m.Name)
		cancel()
		if err == nil {
			addrs = ips
			lastErr = nil
			break
		}
		lastErr = err
	}

	if lastErr != nil || len(addrs) == 0 {
		m.IP = "Unknown"
		m.Status = fmt.Sprintf("%s (%s)", core.StatusUnknownIP, reasonOf(lastErr))
		return
	}

	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}
	m.IP = strings.Join(strs, ",")
}

func reasonOf(err error) string {
	if err == nil {
		return "no A record"
	}
	return err.Error()
}

// resolveIPv6 runs step 5: DNS AAAA lookup, boolean only.
func (p *Processor) resolveIPv6(ctx context.Context, m *mirrors.MirrorState) {
	cfg := config.GetConfig()
	dctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DNSTimeout)*time.Second)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIP(dctx, "ip6", m.Name)
	m.IPv6 = err == nil && len(addrs) > 0
}

func flapKey(name string) string { return "mirror_offline_" + name }

// resolveStatus runs step 2: the short-circuits (private/whitelisted,
// flap-cached), the reachability HEAD/GET, and the TIME freshness probe,
// unifying the flap-cache and status-string mechanisms per spec §9.
func (p *Processor) resolveStatus(ctx context.Context, m *mirrors.MirrorState, svc *mirrors.ServiceConfig) {
	if m.IP == "Unknown" {
		return
	}

	if m.Private || p.whitelist[m.Name] {
		m.Status = core.StatusOK
		p.clearFlap(m.Name)
		return
	}

	if reason, flapping := p.flapReason(m.Name); flapping {
		m.Status = reason
		return
	}

	base := m.BaseURL(svc.RequiredProtocols)
	m.MirrorURL = base
	if base == "" {
		p.fail(m, "No usable protocol")
		return
	}

	if !p.probeReachable(ctx, base) {
		p.fail(m, "Unreachable")
		return
	}

	if !p.probeFreshness(ctx, base, svc) {
		m.Status = core.StatusExpired
		return
	}

	if !p.probeRepoCoverage(ctx, m, svc) {
		m.Status = core.StatusExpired
		return
	}

	m.Status = core.StatusOK
	p.clearFlap(m.Name)
}

func (p *Processor) fail(m *mirrors.MirrorState, reason string) {
	m.Status = reason
	p.setFlap(m.Name, reason)
}

func (p *Processor) probeReachable(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimRight(base, "/")+"/", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent())
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func userAgent() string {
	return "mirrorsd-processor/" + core.VERSION
}

// probeFreshness fetches <base>/TIME and parses it as a float UNIX
// timestamp; a NaN/non-numeric/missing value or an outdate beyond
// AllowedOutdate marks the mirror expired (§4.4 step 2, B3).
func (p *Processor) probeFreshness(ctx context.Context, base string, svc *mirrors.ServiceConfig) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/TIME", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent())
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	value, err := strconv.ParseFloat(strings.TrimSpace(string(buf[:n])), 64)
	if err != nil {
		return false
	}

	allowed, err := time.ParseDuration(svc.AllowedOutdate)
	if err != nil {
		allowed = 24 * time.Hour
	}
	age := time.Since(time.Unix(int64(value), 0))
	return age <= allowed
}

func (p *Processor) clearFlap(name string) {
	if p.Redis == nil {
		return
	}
	conn := p.Redis.Get()
	defer conn.Close()
	conn.Do("DEL", flapKey(name))
}

func (p *Processor) setFlap(name, reason string) {
	if p.Redis == nil {
		return
	}
	conn := p.Redis.Get()
	defer conn.Close()
	conn.Do("SET", flapKey(name), reason, "EX", config.GetConfig().FlapExpire)
}

func (p *Processor) flapReason(name string) (string, bool) {
	if p.Redis == nil {
		return "", false
	}
	conn := p.Redis.Get()
	defer conn.Close()
	reason, err := redis.String(conn.Do("GET", flapKey(name)))
	if err != nil {
		return "", false
	}
	return reason, true
}

// resolveCloudSubnets runs step 4: for a cloud mirror, replace declared
// subnets with the union of the provider's ranges for its cloud_regions
// (§3 invariant I5). A feed fetch failure degrades to empty subnets rather
// than aborting the mirror (§4.4 "Failure semantics").
func (p *Processor) resolveCloudSubnets(m *mirrors.MirrorState) {
	if m.CloudType == mirrors.CloudNone {
		return
	}

	regions, err := network.FetchSubnets(p.Redis, network.CloudProvider(m.CloudType))
	if err != nil {
		log.Warningf("%s: cloud subnet feed failed: %s", m.Name, err)
		m.Subnets = nil
		m.SubnetRanges = nil
		return
	}

	m.Subnets = network.CIDRsForRegions(regions, m.CloudRegions)
	m.SubnetRanges = m.SubnetRanges[:0]
	for _, cidr := range m.Subnets {
		if r, err := mirrors.ParseSubnetRange(cidr); err == nil {
			m.SubnetRanges = append(m.SubnetRanges, r)
		}
	}
}
