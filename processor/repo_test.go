// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package processor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/distromirrors/mirrorsd/mirrors"
)

func newTestProcessor() *Processor {
	return &Processor{httpClient: http.DefaultClient}
}

// servingOnly builds an httptest.Server that answers 200 for any request
// whose path (relative to srvBase) is in the allow set, and 404 otherwise.
func servingOnly(allow map[string]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow[r.URL.Path] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestProbeISOSetRequiresFullArtifactSet(t *testing.T) {
	allow := map[string]bool{
		"/9/isos/x86_64/AlmaLinux-9-x86_64-boot.iso":           true,
		"/9/isos/x86_64/AlmaLinux-9-x86_64-dvd.iso":            true,
		"/9/isos/x86_64/AlmaLinux-9-x86_64-minimal.iso":        true,
		"/9/isos/x86_64/AlmaLinux-9-x86_64-boot.iso.manifest":  true,
		"/9/isos/x86_64/AlmaLinux-9-x86_64-dvd.iso.manifest":   true,
		"/9/isos/x86_64/AlmaLinux-9-x86_64-minimal.iso.manifest": true,
		// CHECKSUM intentionally missing.
	}
	srv := servingOnly(allow)
	defer srv.Close()

	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	m.ISOURL = srv.URL + "/%s/isos/%s"
	svc := &mirrors.ServiceConfig{Versions: []string{"9"}}

	if p.probeISOSet(context.Background(), m, svc) {
		t.Fatalf("Expected probeISOSet to fail when CHECKSUM is missing")
	}

	allow["/9/isos/x86_64/CHECKSUM"] = true
	if !p.probeISOSet(context.Background(), m, svc) {
		t.Fatalf("Expected probeISOSet to pass once all 7 artifacts are present")
	}
}

func TestProbeISOSetBetaSuffix(t *testing.T) {
	allow := map[string]bool{
		"/9-beta/isos/x86_64/AlmaLinux-9-beta-1-x86_64-boot.iso":             true,
		"/9-beta/isos/x86_64/AlmaLinux-9-beta-1-x86_64-dvd.iso":              true,
		"/9-beta/isos/x86_64/AlmaLinux-9-beta-1-x86_64-minimal.iso":          true,
		"/9-beta/isos/x86_64/AlmaLinux-9-beta-1-x86_64-boot.iso.manifest":    true,
		"/9-beta/isos/x86_64/AlmaLinux-9-beta-1-x86_64-dvd.iso.manifest":     true,
		"/9-beta/isos/x86_64/AlmaLinux-9-beta-1-x86_64-minimal.iso.manifest": true,
		"/9-beta/isos/x86_64/CHECKSUM": true,
	}
	srv := servingOnly(allow)
	defer srv.Close()

	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	m.ISOURL = srv.URL + "/%s/isos/%s"
	svc := &mirrors.ServiceConfig{Versions: []string{"9-beta"}}

	if !p.probeISOSet(context.Background(), m, svc) {
		t.Fatalf("Expected probeISOSet to pass with the beta -1 suffix applied")
	}
}

func TestProbeISOSetNoVersions(t *testing.T) {
	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	m.ISOURL = "http://example.invalid/%s/isos/%s"
	if p.probeISOSet(context.Background(), m, &mirrors.ServiceConfig{}) {
		t.Fatalf("Expected probeISOSet to fail with no versions")
	}
}

func TestProbeRepoCoverageExcludesDuplicatedVersions(t *testing.T) {
	allow := map[string]bool{
		"/9/BaseOS/x86_64/repodata/repomd.xml": true,
	}
	srv := servingOnly(allow)
	defer srv.Close()

	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	m.MirrorURL = srv.URL
	svc := &mirrors.ServiceConfig{
		Versions:           []string{"9", "8"},
		DuplicatedVersions: map[string]string{"8": "9"},
		Arches:             map[string][]string{"*": {"x86_64"}},
		Repos: []mirrors.RepoDecl{
			{Name: "BaseOS", Path: "BaseOS"},
		},
	}

	if !p.probeRepoCoverage(context.Background(), m, svc) {
		t.Fatalf("Expected probeRepoCoverage to pass: duplicated version 8 must never be probed")
	}
}

func TestProbeRepoCoverageSkipsVaultRepos(t *testing.T) {
	// No handler at all would serve this path; a vault repo must never be probed.
	srv := servingOnly(map[string]bool{})
	defer srv.Close()

	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	m.MirrorURL = srv.URL
	svc := &mirrors.ServiceConfig{
		Versions: []string{"8"},
		Arches:   map[string][]string{"*": {"x86_64"}},
		Repos: []mirrors.RepoDecl{
			{Name: "BaseOS", Path: "BaseOS", Vault: true},
		},
	}

	if !p.probeRepoCoverage(context.Background(), m, svc) {
		t.Fatalf("Expected probeRepoCoverage to pass: vault repos are skipped outright")
	}
}

func TestProbeRepoCoverageExcludesBetaForCloudMirrors(t *testing.T) {
	allow := map[string]bool{
		"/9/BaseOS/x86_64/repodata/repomd.xml": true,
	}
	srv := servingOnly(allow)
	defer srv.Close()

	svc := &mirrors.ServiceConfig{
		Versions: []string{"9", "10-beta"},
		Arches:   map[string][]string{"*": {"x86_64"}},
		Repos: []mirrors.RepoDecl{
			{Name: "BaseOS", Path: "BaseOS"},
		},
	}

	p := newTestProcessor()

	cloudMirror := &mirrors.MirrorState{}
	cloudMirror.MirrorURL = srv.URL
	cloudMirror.CloudType = mirrors.CloudAWS
	if !p.probeRepoCoverage(context.Background(), cloudMirror, svc) {
		t.Fatalf("Expected probeRepoCoverage to pass: cloud mirrors skip beta versions entirely")
	}

	nonCloudMirror := &mirrors.MirrorState{}
	nonCloudMirror.MirrorURL = srv.URL
	if p.probeRepoCoverage(context.Background(), nonCloudMirror, svc) {
		t.Fatalf("Expected probeRepoCoverage to fail: non-cloud mirrors must cover the unserved beta version")
	}
}

func TestProbeRepoCoverageNoRepos(t *testing.T) {
	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	if !p.probeRepoCoverage(context.Background(), m, &mirrors.ServiceConfig{}) {
		t.Fatalf("Expected probeRepoCoverage to pass trivially with no repos declared")
	}
}

func TestProbeRepoCoverageNoMirrorURL(t *testing.T) {
	p := newTestProcessor()
	m := &mirrors.MirrorState{}
	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		Repos:    []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}
	if p.probeRepoCoverage(context.Background(), m, svc) {
		t.Fatalf("Expected probeRepoCoverage to fail with no mirror URL")
	}
}

func TestIsoFileTemplatesCount(t *testing.T) {
	if len(isoFileTemplates) != 7 {
		t.Fatalf("Expected 7 canonical artifact templates, got %d", len(isoFileTemplates))
	}
	if !strings.Contains(isoFileTemplates[len(isoFileTemplates)-1], "CHECKSUM") {
		t.Fatalf("Expected the final template to be CHECKSUM")
	}
}
