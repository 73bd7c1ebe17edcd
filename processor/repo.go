// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package processor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/utils"
)

// probeTarget is one URL this mirror must serve for the cross-product probes
// (ISO-set, repo-coverage) below.
type probeTarget struct {
	version string
	arch    string
	url     string
}

// fanoutProbe issues a HEAD request against every target, bounded by a
// semaphore of the given size. The first failure cancels every sibling
// still in flight (§5 "Cancellation") and the call reports false.
func (p *Processor) fanoutProbe(ctx context.Context, targets []probeTarget, concurrency int) bool {
	if len(targets) == 0 {
		return true
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var failed int32

	for _, t := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(t probeTarget) {
			defer wg.Done()
			defer func() { <-sem }()

			if fctx.Err() != nil {
				return
			}
			if !p.probeExists(fctx, t.url) {
				atomic.StoreInt32(&failed, 1)
				cancel()
			}
		}(t)
	}
	wg.Wait()

	return atomic.LoadInt32(&failed) == 0
}

func (p *Processor) probeExists(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
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

// isoFileTemplates names the full canonical artifact set that must be
// published alongside every version/arch (§4.4 step 7; verbatim from
// the original implementation's iso_files_templates).
var isoFileTemplates = []string{
	"AlmaLinux-%s-%s-boot.iso",
	"AlmaLinux-%s-%s-dvd.iso",
	"AlmaLinux-%s-%s-minimal.iso",
	"AlmaLinux-%s-%s-boot.iso.manifest",
	"AlmaLinux-%s-%s-dvd.iso.manifest",
	"AlmaLinux-%s-%s-minimal.iso.manifest",
	"CHECKSUM",
}

func archesFor(svc *mirrors.ServiceConfig, version string) []string {
	if a, ok := svc.Arches[version]; ok && len(a) > 0 {
		return a
	}
	if a, ok := svc.Arches["*"]; ok {
		return a
	}
	return []string{"x86_64"}
}

// probeISOSet runs step 7: for every active, non-duplicated version/arch
// pair, verify that every isoFileTemplates artefact (the boot/dvd/minimal
// images, their manifests and CHECKSUM) is present at the mirror's composed
// ISO URL, bounded by IsoProbeConcurrency (default 3, §4.4 "ISO-set probe").
func (p *Processor) probeISOSet(ctx context.Context, m *mirrors.MirrorState, svc *mirrors.ServiceConfig) bool {
	if m.ISOURL == "" {
		return false
	}

	versions := svc.Versions
	if len(versions) == 0 {
		return false
	}

	var targets []probeTarget
	for _, v := range versions {
		if _, duplicated := svc.DuplicatedVersions[v]; duplicated {
			continue
		}
		isoVersion := v
		if strings.Contains(v, "beta") {
			isoVersion += "-1"
		}
		for _, arch := range archesFor(svc, v) {
			dir := fmt.Sprintf(m.ISOURL, v, arch)
			for _, tmpl := range isoFileTemplates {
				var file string
				if strings.Contains(tmpl, "%s") {
					file = fmt.Sprintf(tmpl, isoVersion, arch)
				} else {
					file = tmpl
				}
				targets = append(targets, probeTarget{version: v, arch: arch, url: dir + "/" + file})
			}
		}
	}

	cfg := config.GetConfig()
	return p.fanoutProbe(ctx, targets, cfg.IsoProbeConcurrency)
}

// probeRepoCoverage runs the repo-coverage probe embedded in step 2: every
// non-vault repo must serve repodata for every active, non-duplicated
// version/arch pair it claims to cover (its own narrower versions/arches
// restriction, if any), bounded by RepoProbeConcurrency (default 5, §4.4
// "Repo coverage probe"). Vaulted repos are never probed live (they carry
// their own separate vault version set); cloud mirrors never carry beta
// versions, so those are excluded from the cross-product outright. A repo
// path's $basearch placeholder is replaced by the arch; a path without one
// gets the arch appended as its last segment.
func (p *Processor) probeRepoCoverage(ctx context.Context, m *mirrors.MirrorState, svc *mirrors.ServiceConfig) bool {
	if len(svc.Repos) == 0 {
		return true
	}

	base := m.MirrorURL
	if base == "" {
		return false
	}

	var targets []probeTarget
	for _, v := range svc.Versions {
		if m.CloudType != mirrors.CloudNone && strings.Contains(v, "beta") {
			continue
		}
		if _, duplicated := svc.DuplicatedVersions[v]; duplicated {
			continue
		}
		for _, repo := range svc.Repos {
			if repo.Vault {
				continue
			}
			if len(repo.Versions) > 0 && !utils.IsInSlice(v, repo.Versions) {
				continue
			}
			arches := repo.Arches
			if len(arches) == 0 {
				arches = archesFor(svc, v)
			}
			for _, arch := range arches {
				path := repo.Path + "/" + arch
				if strings.Contains(repo.Path, "$basearch") {
					path = strings.ReplaceAll(repo.Path, "$basearch", arch)
				}
				target := fmt.Sprintf("%s/%s/%s/repodata/repomd.xml",
					strings.TrimRight(base, "/"), v, path)
				targets = append(targets, probeTarget{version: v, arch: arch, url: target})
			}
		}
	}

	cfg := config.GetConfig()
	return p.fanoutProbe(ctx, targets, cfg.RepoProbeConcurrency)
}

// probeOptionalModules runs step 9: for every (module, versions) entry the
// catalogue declares, check whether this mirror's module_urls override (or
// its base URL) actually serves that module's repodata, recording the
// subset it has.
func (p *Processor) probeOptionalModules(ctx context.Context, m *mirrors.MirrorState, svc *mirrors.ServiceConfig) {
	if len(svc.OptionalModuleVersion) == 0 {
		return
	}

	var present []string
	for module, versions := range svc.OptionalModuleVersion {
		base := m.ModuleBaseURL(module, svc.RequiredProtocols)
		if base == "" {
			base = m.MirrorURL
		}
		if base == "" || len(versions) == 0 {
			continue
		}

		var targets []probeTarget
		for _, v := range versions {
			for _, arch := range archesFor(svc, v) {
				target := fmt.Sprintf("%s/%s/%s/%s/repodata/repomd.xml",
					strings.TrimRight(base, "/"), v, module, arch)
				targets = append(targets, probeTarget{version: v, arch: arch, url: target})
			}
		}

		if p.fanoutProbe(ctx, targets, config.GetConfig().RepoProbeConcurrency) {
			present = append(present, module)
		}
	}

	m.HasOptionalModules = present
}
