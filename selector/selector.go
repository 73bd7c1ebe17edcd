// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package selector

import (
	"fmt"
	"net"
	"strings"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/database"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/network"
	"github.com/distromirrors/mirrorsd/store"
)

// Selector answers mirrorlist/isolist requests against the store's cached
// MirrorSet, using the configured GeoIP singleton to resolve the client's
// location and network.
type Selector struct {
	Store *store.Store
	Redis *database.Redis
	GeoIP *network.GeoIP
}

// New constructs a Selector bound to a store, the shared cache, and the
// process-wide GeoIP singleton.
func New(st *store.Store, r *database.Redis, geo *network.GeoIP) *Selector {
	return &Selector{Store: st, Redis: r, GeoIP: geo}
}

// Request is the normalized input to Select, gathered by the HTTP layer
// from path/query parameters (§4.6 "Inputs").
type Request struct {
	ClientIP string
	Version  string
	Arch     string
	Repo     string
	Module   string
	Protocol string
	Country  string
	ISOList  bool
}

// Result is the rendered outcome of a selection: the matched mirrors in
// final order, plus enough context for rendering and debug endpoints.
type Result struct {
	Mirrors     []mirrors.MirrorState
	Version     string
	RepoPath    string
	VaultURL    string
	IsVault     bool
	NetworkPass bool
}

// Select runs the full §4.6 algorithm: version normalization, arch/repo
// validation, candidate selection (network-affinity then geographic pass),
// consulting and populating the per-IP cache.
func (s *Selector) Select(req Request, svc *mirrors.ServiceConfig) (Result, error) {
	var repo *mirrors.RepoDecl
	if req.Repo != "" {
		r, ok := findRepo(svc, req.Repo)
		if !ok && !req.ISOList {
			return Result{}, ErrUnknownRepoAttribute
		}
		repo = r
	} else if !req.ISOList {
		return Result{}, ErrUnknownRepoAttribute
	}

	version, vault, err := normalizeVersion(svc, req.Version, repo)
	if err != nil {
		return Result{}, err
	}

	if vault != nil {
		path := ""
		if repo != nil {
			path = substituteArch(repo.Path, req.Arch)
		}
		url := fmt.Sprintf("%s/%s/%s", strings.TrimRight(svc.VaultMirror, "/"), vault.version, path)
		return Result{Version: vault.version, RepoPath: path, VaultURL: url, IsVault: true}, nil
	}

	if !validateArch(svc, version, req.Arch) {
		return Result{}, ErrUnknownRepoAttribute
	}

	if cached, ok := s.readSelectionCache(req, version); ok {
		return Result{Mirrors: cached, Version: version, RepoPath: repoPath(repo)}, nil
	}

	filter := store.PublicMirrorlist(req.ISOList)
	all, err := s.Store.List(filter)
	if err != nil {
		return Result{}, err
	}
	if req.Country != "" {
		all = filterByCountry(all, req.Country)
	}
	if req.Protocol != "" {
		all = filterByProtocol(all, req.Protocol, req.Module)
	}

	if req.ClientIP == "" {
		shuffled := append([]mirrors.MirrorState(nil), all...)
		shuffle(shuffled)
		s.writeSelectionCache(req, version, shuffled)
		return Result{Mirrors: shuffled, Version: version, RepoPath: repoPath(repo)}, nil
	}

	ip := net.ParseIP(req.ClientIP)
	rec := s.lookupClientGeo(req.ClientIP)

	candidates, isNetwork := s.networkAffinityPass(all, ip, rec)
	if isNetwork {
		s.writeSelectionCache(req, version, candidates)
		return Result{Mirrors: candidates, Version: version, RepoPath: repoPath(repo), NetworkPass: true}, nil
	}

	geo := s.geographicPass(all, rec)
	s.writeSelectionCache(req, version, geo)
	return Result{Mirrors: geo, Version: version, RepoPath: repoPath(repo)}, nil
}

func repoPath(repo *mirrors.RepoDecl) string {
	if repo == nil {
		return ""
	}
	return repo.Path
}

func substituteArch(path, arch string) string {
	if arch == "" {
		return path
	}
	return strings.ReplaceAll(path, "$basearch", arch)
}

func filterByCountry(in []mirrors.MirrorState, country string) []mirrors.MirrorState {
	country = mirrors.NormalizeCountry(country)
	var out []mirrors.MirrorState
	for _, m := range in {
		if strings.EqualFold(m.Geolocation.Country, country) {
			out = append(out, m)
		}
	}
	return out
}

func filterByProtocol(in []mirrors.MirrorState, protocol, module string) []mirrors.MirrorState {
	var out []mirrors.MirrorState
	for _, m := range in {
		base := m.BaseURL([]string{protocol})
		if module != "" {
			base = m.ModuleBaseURL(module, []string{protocol})
		}
		if _, ok := m.URLs[mirrors.Protocol(protocol)]; ok || base != "" {
			out = append(out, m)
		}
	}
	return out
}

// lookupClientGeo resolves the client's offline geo/AS record, or a zero
// record (IsValid()==false) on a GeoIP miss.
func (s *Selector) lookupClientGeo(ip string) network.GeoIPRecord {
	if s.GeoIP == nil {
		return network.GeoIPRecord{}
	}
	return s.GeoIP.GetRecord(ip)
}

// networkAffinityPass implements §4.6 step 2. The second return reports
// whether this pass produced a (possibly padded) result the caller should
// use as-is, as opposed to falling through to the geographic pass.
func (s *Selector) networkAffinityPass(all []mirrors.MirrorState, ip net.IP, rec network.GeoIPRecord) ([]mirrors.MirrorState, bool) {
	if ip == nil {
		return nil, false
	}

	var matched []mirrors.MirrorState
	for _, m := range all {
		if m.Status != core.StatusOK {
			continue
		}
		if !m.ContainsIP(ip) && !m.HasASN(int(rec.ASNum)) {
			continue
		}
		if m.Monopoly {
			return []mirrors.MirrorState{m}, true
		}
		matched = append(matched, m)
	}

	if len(matched) == 0 {
		return nil, false
	}

	cfg := config.GetConfig()
	if len(matched) < cfg.LengthCloudMirrorsList && rec.IsValid() {
		matched = s.padWithNearby(matched, all, rec, cfg.LengthCloudMirrorsList-len(matched))
	}

	return matched, true
}

// padWithNearby fills the network-affinity result out to deficit additional
// candidates (§4.6 step 2's padding clause): drawn from the full filtered
// list, excluding anything already matched, private, or cloud-hosted,
// restricted to status=ok, sorted by country-match then distance, then
// radius-randomized.
func (s *Selector) padWithNearby(matched, all []mirrors.MirrorState, rec network.GeoIPRecord, deficit int) []mirrors.MirrorState {
	if deficit <= 0 {
		return matched
	}

	already := make(map[string]bool, len(matched))
	for _, m := range matched {
		already[m.Name] = true
	}

	var pool []distanceSortable
	for _, m := range all {
		if already[m.Name] || m.Private || m.CloudType != mirrors.CloudNone || m.Status != core.StatusOK {
			continue
		}
		pool = append(pool, distanceSortable{
			mirror:      m,
			countryMiss: !strings.EqualFold(m.Geolocation.Country, rec.CountryCode),
			distanceKm:  haversineKm(rec.Latitude, rec.Longitude, m.Location.Latitude, m.Location.Longitude),
		})
	}

	sortByCountryThenDistance(pool)
	padded := radiusRandomize(pool, config.GetConfig().RandomizeWithinKm)
	if len(padded) > deficit {
		padded = padded[:deficit]
	}

	return append(append([]mirrors.MirrorState{}, matched...), padded...)
}

// geographicPass implements §4.6 step 3: sort by country-match then
// distance, radius-randomize, and truncate to LengthGeoMirrorsList. A
// complete GeoIP miss (P5) returns the filtered list unchanged; a record
// with coordinates but no locality fields falls back to a plain shuffle.
func (s *Selector) geographicPass(all []mirrors.MirrorState, rec network.GeoIPRecord) []mirrors.MirrorState {
	cfg := config.GetConfig()

	if !rec.IsValid() {
		return all
	}

	if rec.CountryCode == "" && rec.City == "" {
		shuffled := append([]mirrors.MirrorState(nil), all...)
		shuffle(shuffled)
		return truncate(shuffled, cfg.LengthGeoMirrorsList)
	}

	var pool []distanceSortable
	for _, m := range all {
		pool = append(pool, distanceSortable{
			mirror:      m,
			countryMiss: !strings.EqualFold(m.Geolocation.Country, rec.CountryCode),
			distanceKm:  haversineKm(rec.Latitude, rec.Longitude, m.Location.Latitude, m.Location.Longitude),
		})
	}
	sortByCountryThenDistance(pool)
	ranked := radiusRandomize(pool, cfg.RandomizeWithinKm)
	return truncate(ranked, cfg.LengthGeoMirrorsList)
}

func truncate(in []mirrors.MirrorState, n int) []mirrors.MirrorState {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[:n]
}
