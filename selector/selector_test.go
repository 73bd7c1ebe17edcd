// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package selector

import (
	"path/filepath"
	"testing"

	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirrorsd.db")
	st, err := store.Open(path, nil)
	if err != nil {
		t.Fatalf("Opening store: %s", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func baseMirror(name string) mirrors.MirrorState {
	m := mirrors.MirrorState{}
	m.Name = name
	m.Status = core.StatusOK
	m.URLs = map[mirrors.Protocol]string{mirrors.HTTP: "http://" + name + "/"}
	return m
}

func TestSelectUnknownRepoRejected(t *testing.T) {
	st := openTestStore(t)
	sel := New(st, nil, nil)

	svc := &mirrors.ServiceConfig{Versions: []string{"9"}}
	_, err := sel.Select(Request{Version: "9", Repo: "BaseOS"}, svc)
	if err != ErrUnknownRepoAttribute {
		t.Fatalf("Expected ErrUnknownRepoAttribute, got %v", err)
	}
}

func TestSelectVaultVersion(t *testing.T) {
	st := openTestStore(t)
	sel := New(st, nil, nil)

	svc := &mirrors.ServiceConfig{
		Versions:      []string{"9"},
		VaultVersions: []string{"7"},
		VaultMirror:   "https://vault.example.org",
		Repos:         []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS/$basearch/os"}},
	}

	res, err := sel.Select(Request{Version: "7", Arch: "x86_64", Repo: "BaseOS"}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !res.IsVault {
		t.Fatalf("Expected a vault result")
	}
	want := "https://vault.example.org/7/BaseOS/x86_64/os"
	if res.VaultURL != want {
		t.Fatalf("Expected vault URL %q, got %q", want, res.VaultURL)
	}
}

func TestSelectGeographicPassOnNoClientIP(t *testing.T) {
	st := openTestStore(t)

	states := []mirrors.MirrorState{baseMirror("mirror-a"), baseMirror("mirror-b")}
	if err := st.Commit(states); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	sel := New(st, nil, nil)
	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		Repos:    []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}

	res, err := sel.Select(Request{Version: "9", Repo: "BaseOS"}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(res.Mirrors) != 2 {
		t.Fatalf("Expected 2 mirrors with no client IP filtering applied, got %d", len(res.Mirrors))
	}
	if res.NetworkPass {
		t.Fatalf("Expected no network pass without a client IP")
	}
}

func TestSelectNetworkAffinityPass(t *testing.T) {
	st := openTestStore(t)

	near := baseMirror("mirror-near")
	r, err := mirrors.ParseSubnetRange("198.51.100.0/24")
	if err != nil {
		t.Fatalf("ParseSubnetRange: %s", err)
	}
	near.SubnetRanges = []mirrors.SubnetRange{r}

	far := baseMirror("mirror-far")

	if err := st.Commit([]mirrors.MirrorState{near, far}); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	sel := New(st, nil, nil)
	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		Repos:    []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}

	res, err := sel.Select(Request{Version: "9", Repo: "BaseOS", ClientIP: "198.51.100.42"}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !res.NetworkPass {
		t.Fatalf("Expected the network-affinity pass to match")
	}
	if len(res.Mirrors) != 1 || res.Mirrors[0].Name != "mirror-near" {
		t.Fatalf("Expected only mirror-near to match by subnet, got %+v", res.Mirrors)
	}
}

func TestSelectMonopolyShortCircuits(t *testing.T) {
	st := openTestStore(t)

	mono := baseMirror("mirror-mono")
	mono.Monopoly = true
	r, err := mirrors.ParseSubnetRange("198.51.100.0/24")
	if err != nil {
		t.Fatalf("ParseSubnetRange: %s", err)
	}
	mono.SubnetRanges = []mirrors.SubnetRange{r}

	other := baseMirror("mirror-other")
	other.SubnetRanges = []mirrors.SubnetRange{r}

	if err := st.Commit([]mirrors.MirrorState{mono, other}); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	sel := New(st, nil, nil)
	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		Repos:    []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}

	res, err := sel.Select(Request{Version: "9", Repo: "BaseOS", ClientIP: "198.51.100.42"}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(res.Mirrors) != 1 || res.Mirrors[0].Name != "mirror-mono" {
		t.Fatalf("Expected the monopoly mirror alone, got %+v", res.Mirrors)
	}
}

func TestSelectCountryFilter(t *testing.T) {
	st := openTestStore(t)

	fr := baseMirror("mirror-fr")
	fr.Geolocation.Country = "FR"
	de := baseMirror("mirror-de")
	de.Geolocation.Country = "DE"

	if err := st.Commit([]mirrors.MirrorState{fr, de}); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	sel := New(st, nil, nil)
	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		Repos:    []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}

	res, err := sel.Select(Request{Version: "9", Repo: "BaseOS", Country: "fr"}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(res.Mirrors) != 1 || res.Mirrors[0].Name != "mirror-fr" {
		t.Fatalf("Expected only mirror-fr, got %+v", res.Mirrors)
	}
}

func TestSelectDuplicatedVersionNormalization(t *testing.T) {
	st := openTestStore(t)
	states := []mirrors.MirrorState{baseMirror("mirror-a")}
	if err := st.Commit(states); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	sel := New(st, nil, nil)
	svc := &mirrors.ServiceConfig{
		Versions:           []string{"8-stream"},
		DuplicatedVersions: map[string]string{"8": "8-stream"},
		Repos:              []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}

	res, err := sel.Select(Request{Version: "8", Repo: "BaseOS"}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if res.Version != "8-stream" {
		t.Fatalf("Expected normalized version 8-stream, got %s", res.Version)
	}
}

func TestSelectArchValidation(t *testing.T) {
	st := openTestStore(t)
	sel := New(st, nil, nil)

	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		Arches:   map[string][]string{"9": {"x86_64"}},
		Repos:    []mirrors.RepoDecl{{Name: "BaseOS", Path: "BaseOS"}},
	}

	if _, err := sel.Select(Request{Version: "9", Arch: "s390x", Repo: "BaseOS"}, svc); err != ErrUnknownRepoAttribute {
		t.Fatalf("Expected ErrUnknownRepoAttribute for an unlisted arch, got %v", err)
	}
}

func TestSelectISOListAllowsNoRepo(t *testing.T) {
	st := openTestStore(t)
	states := []mirrors.MirrorState{baseMirror("mirror-a")}
	if err := st.Commit(states); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	sel := New(st, nil, nil)
	svc := &mirrors.ServiceConfig{Versions: []string{"9"}}

	res, err := sel.Select(Request{Version: "9", ISOList: true}, svc)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if len(res.Mirrors) != 1 {
		t.Fatalf("Expected 1 mirror, got %d", len(res.Mirrors))
	}
}
