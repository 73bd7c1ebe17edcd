// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

// Package selector implements the request-time mirror-selection algorithm
// (§4.6): version normalization, arch/repo validation, the network-affinity
// and geographic candidate passes, and URL rendering. It is synchronous and
// pure over the store's cached mirror list, save for a single per-IP cache
// read/write (§5 "The request-time selector is synchronous and pure").
package selector

import (
	"errors"
	"strings"

	"github.com/distromirrors/mirrorsd/mirrors"
)

// ErrUnknownRepoAttribute is returned for any input that fails version,
// arch, or repo validation (§7 "Input-validation" taxonomy), surfaced by
// callers as a 404.
var ErrUnknownRepoAttribute = errors.New("selector: unknown repo attribute")

// vaultResult is the terminal outcome of version normalization when the
// requested version (or repo) is vault-only.
type vaultResult struct {
	version string
}

// normalizeVersion implements §4.6 "Version normalization". It returns the
// normalized version string, or a non-nil *vaultResult if normalization
// terminates in the vault case (repo path and URL are then built straight
// from vault_mirror by the caller).
func normalizeVersion(svc *mirrors.ServiceConfig, v string, repo *mirrors.RepoDecl) (string, *vaultResult, error) {
	if contains(svc.VaultVersions, v) || (repo != nil && repo.Vault) {
		return v, &vaultResult{version: v}, nil
	}

	if target, ok := svc.DuplicatedVersions[v]; ok && contains(svc.Versions, v) {
		return target, nil, nil
	}

	if !contains(svc.Versions, v) && !contains(svc.VaultVersions, v) {
		for k, target := range svc.DuplicatedVersions {
			if strings.HasPrefix(v, k) {
				return target, nil, nil
			}
		}
	}

	for module, bases := range svc.OptionalModuleVersion {
		suffix := "-" + module
		if strings.HasSuffix(v, suffix) {
			base := strings.TrimSuffix(v, suffix)
			if contains(bases, base) {
				return v, nil, nil
			}
		}
	}

	if contains(svc.Versions, v) {
		return v, nil, nil
	}

	return "", nil, ErrUnknownRepoAttribute
}

// validateArch implements §4.6 "Arch validation": arch must appear in
// arches[version] or arches[base(version)] (the optional-module base).
func validateArch(svc *mirrors.ServiceConfig, version, arch string) bool {
	if arch == "" {
		return true
	}
	if list, ok := svc.Arches[version]; ok {
		return contains(list, arch)
	}
	for module := range svc.OptionalModuleVersion {
		base := strings.TrimSuffix(version, "-"+module)
		if base != version {
			if list, ok := svc.Arches[base]; ok {
				return contains(list, arch)
			}
		}
	}
	if list, ok := svc.Arches["*"]; ok {
		return contains(list, arch)
	}
	return false
}

// findRepo looks up a declared repo by name, implementing §4.6 "Repo
// validation": unless this is an ISO listing, repo must exist.
func findRepo(svc *mirrors.ServiceConfig, name string) (*mirrors.RepoDecl, bool) {
	for i := range svc.Repos {
		if svc.Repos[i].Name == name {
			return &svc.Repos[i], true
		}
	}
	return nil, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
