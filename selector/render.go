// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package selector

import (
	"fmt"
	"strings"

	"github.com/distromirrors/mirrorsd/mirrors"
)

// Render implements §4.6 "Rendering": for each selected mirror, joins its
// base URL (module override if set) with <version>/<repo_path>, substituting
// $basearch when arch is present. Vault results are rendered straight from
// Result.VaultURL by the caller; Render is for the non-vault list.
func Render(res Result, req Request) []string {
	if res.IsVault {
		return []string{res.VaultURL}
	}
	if req.ISOList {
		return renderISO(res, req)
	}

	path := substituteArch(res.RepoPath, req.Arch)

	urls := make([]string, 0, len(res.Mirrors))
	for _, m := range res.Mirrors {
		base := m.BaseURL(preferredProtocols(req.Protocol))
		if req.Module != "" {
			base = m.ModuleBaseURL(req.Module, preferredProtocols(req.Protocol))
		}
		if base == "" {
			continue
		}
		urls = append(urls, strings.TrimRight(base, "/")+"/"+strings.TrimLeft(path, "/"))
	}
	return urls
}

// renderISO composes the per-mirror ISO directory URL for /isolist, using
// each mirror's precomposed ISOURL template (version, arch).
func renderISO(res Result, req Request) []string {
	arch := req.Arch
	if arch == "" {
		arch = "x86_64"
	}

	urls := make([]string, 0, len(res.Mirrors))
	for _, m := range res.Mirrors {
		if m.ISOURL == "" {
			continue
		}
		urls = append(urls, fmt.Sprintf(m.ISOURL, res.Version, arch))
	}
	return urls
}

func preferredProtocols(protocol string) []string {
	if protocol != "" {
		return []string{protocol}
	}
	return []string{string(mirrors.HTTP), string(mirrors.HTTPS)}
}
