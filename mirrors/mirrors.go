// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

package mirrors

import (
	"encoding/binary"
	"net"
	"strings"

	"github.com/distromirrors/mirrorsd/database"
)

const disabledMirrorsKey = "DISABLED_MIRRORS"

// IsDisabled reports whether a mirror has been administratively disabled
// via SetMirrorEnabled, regardless of what its YAML declaration says.
func IsDisabled(r *database.Redis, name string) (bool, error) {
	conn := r.Get()
	defer conn.Close()

	reply, err := conn.Do("SISMEMBER", disabledMirrorsKey, name)
	if err != nil {
		return false, err
	}
	found, _ := reply.(int64)
	return found == 1, nil
}

// SetMirrorEnabled administratively enables or disables a mirror by name:
// it removes the name from, or adds it to, the DISABLED_MIRRORS set and
// publishes EVENT_MIRROR_UPDATE. Neither the processor nor the selector
// reads that set, so it does not change which mirrors are selected; the RPC
// enable/disable call goes through store.SetPrivate instead.
func SetMirrorEnabled(r *database.Redis, name string, enabled bool) error {
	conn := r.Get()
	defer conn.Close()

	var err error
	if enabled {
		_, err = conn.Do("SREM", disabledMirrorsKey, name)
	} else {
		_, err = conn.Do("SADD", disabledMirrorsKey, name)
	}
	if err != nil {
		return err
	}

	return database.Publish(conn, database.EVENT_MIRROR_UPDATE, name)
}

// Protocol identifies a transfer protocol a mirror may expose a base URL
// for. Order of preference is a ServiceConfig-level concern (RequiredProtos).
type Protocol string

const (
	HTTP  Protocol = "http"
	HTTPS Protocol = "https"
)

// CloudType identifies the hosting provider a mirror's subnets should be
// sourced from instead of its declared CIDR list.
type CloudType string

const (
	CloudNone  CloudType = ""
	CloudAWS   CloudType = "aws"
	CloudAzure CloudType = "azure"
	CloudGCP   CloudType = "gcp"
	CloudOCI   CloudType = "oci"
)

// GeoLocation is the (continent, country, state/province, city) tuple
// attached to a mirror, either declared in YAML or resolved offline.
type GeoLocation struct {
	Continent     string `yaml:"continent" json:"continent,omitempty"`
	Country       string `yaml:"country" json:"country,omitempty"`
	StateProvince string `yaml:"state_province" json:"state_province,omitempty"`
	City          string `yaml:"city" json:"city,omitempty"`
}

// IsEmpty reports whether none of the location fields carry a value.
func (g GeoLocation) IsEmpty() bool {
	return g.Continent == "" && g.Country == "" && g.StateProvince == "" && g.City == ""
}

// Location is a resolved (or declared) coordinate pair.
type Location struct {
	Latitude  float64 `yaml:"-" json:"lat"`
	Longitude float64 `yaml:"-" json:"lon"`
}

// IsZero reports whether no coordinates have ever been assigned.
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0
}

// RepoDecl describes one repository path served by the catalogue, with
// optional per-repo arch/version restrictions.
type RepoDecl struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Arches   []string `yaml:"arches,omitempty"`
	Versions []string `yaml:"versions,omitempty"`
	Vault    bool     `yaml:"vault"`
}

// ServiceConfig is the set of catalogue-wide knobs read from YAML alongside
// the mirror declarations: active/vault versions, duplication rules, the
// repo list, and the vault fallback base URL.
type ServiceConfig struct {
	AllowedOutdate        string              `yaml:"allowed_outdate"`
	Versions              []string            `yaml:"versions"`
	VaultVersions         []string            `yaml:"vault_versions"`
	DuplicatedVersions    map[string]string   `yaml:"duplicated_versions"`
	OptionalModuleVersion map[string][]string `yaml:"optional_module_versions"`
	Arches                map[string][]string `yaml:"arches"`
	RequiredProtocols     []string            `yaml:"required_protocols"`
	Repos                 []RepoDecl          `yaml:"repos"`
	VaultMirror           string              `yaml:"vault_mirror"`
	MirrorsDir            string              `yaml:"mirrors_dir"`
}

// MirrorDecl is the as-declared, YAML-sourced shape of a mirror. It is the
// unit the loader produces; the processor turns it into a MirrorState.
type MirrorDecl struct {
	Name             string              `yaml:"name" validate:"required,fqdn"`
	SponsorName      string              `yaml:"sponsor_name"`
	SponsorURL       string              `yaml:"sponsor_url"`
	Email            string              `yaml:"email" validate:"omitempty,email"`
	UpdateFrequency  string              `yaml:"update_frequency"`
	URLs             map[Protocol]string `yaml:"urls" validate:"required,min=1"`
	ModuleURLs       map[string]map[Protocol]string `yaml:"module_urls,omitempty"`
	Subnets          []string            `yaml:"subnets,omitempty"`
	SubnetsURL       string              `yaml:"subnets_url,omitempty"`
	ASN              []int               `yaml:"asn,omitempty"`
	CloudType        CloudType           `yaml:"cloud_type,omitempty"`
	CloudRegions     []string            `yaml:"cloud_regions,omitempty"`
	Geolocation      GeoLocation         `yaml:"geolocation,omitempty"`
	Private          bool                `yaml:"private"`
	Monopoly         bool                `yaml:"monopoly"`
	ConfigVersion    int                 `yaml:"config_version"`

	// Filepath records the source YAML file, kept for diagnostics/reload.
	Filepath string `yaml:"-"`
}

// SubnetRange is a CIDR precomputed as an inclusive [Start,End] integer pair
// over IPv4 addresses, for O(1) membership testing during selection.
type SubnetRange struct {
	CIDR  string
	Start uint32
	End   uint32
}

// ParseSubnetRange precomputes the (network, broadcast) integer bounds of an
// IPv4 CIDR. IPv6 ranges are accepted but never produce a usable range since
// the selector's fast-path is IPv4-only; callers should fall back to net.IP
// containment for those.
func ParseSubnetRange(cidr string) (SubnetRange, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return SubnetRange{}, err
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return SubnetRange{CIDR: cidr}, nil
	}

	start := binary.BigEndian.Uint32(ipnet.IP.To4())
	mask := binary.BigEndian.Uint32(ipnet.Mask)
	end := start | ^mask

	return SubnetRange{CIDR: cidr, Start: start, End: end}, nil
}

// Contains reports whether the IPv4 address is within the range. IPv6
// ranges (Start==End==0 with a non-empty CIDR) always report false here;
// IPv6 containment is handled separately by net.IPNet.Contains.
func (s SubnetRange) Contains(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	v := binary.BigEndian.Uint32(ip4)
	return v >= s.Start && v <= s.End
}

// MirrorState is the fully processed, cacheable record of a mirror: every
// MirrorDecl field plus everything the processor computed this cycle.
type MirrorState struct {
	MirrorDecl

	ID int64 `json:"id" db:"id"`

	IP        string `json:"ip"`
	IPv6      bool   `json:"ipv6"`
	MirrorURL string `json:"mirror_url"`
	ISOURL    string `json:"iso_url"`

	Location    Location    `json:"location"`
	Geolocation GeoLocation `json:"geolocation"`

	SubnetRanges []SubnetRange `json:"-"`

	Status string `json:"status"`

	HasFullISOSet       bool     `json:"has_full_iso_set"`
	HasOptionalModules  []string `json:"has_optional_modules,omitempty"`

	LastUpdate int64 `json:"last_update"`
}

// IsWorking reports whether the mirror passed its freshness probe this cycle.
func (m *MirrorState) IsWorking() bool {
	return m.Status == "ok"
}

// IsExpired reports whether the mirror answered but failed the freshness check.
func (m *MirrorState) IsExpired() bool {
	return m.Status == "expired"
}

// HasASN reports whether the given AS number is declared on this mirror.
func (m *MirrorState) HasASN(asn int) bool {
	for _, a := range m.ASN {
		if a == asn {
			return true
		}
	}
	return false
}

// ContainsIP reports whether ip falls within any of the mirror's subnets.
func (m *MirrorState) ContainsIP(ip net.IP) bool {
	if len(m.SubnetRanges) == 0 {
		// States read back from the JSON cache carry no SubnetRanges.
		for _, cidr := range m.Subnets {
			if _, ipnet, err := net.ParseCIDR(cidr); err == nil && ipnet.Contains(ip) {
				return true
			}
		}
	}
	for _, r := range m.SubnetRanges {
		if r.Start != 0 || r.End != 0 {
			if r.Contains(ip) {
				return true
			}
			continue
		}
		// IPv6 or unparsed range: fall back to a plain CIDR parse.
		if _, ipnet, err := net.ParseCIDR(r.CIDR); err == nil && ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// BaseURL returns the mirror's URL for the first protocol in prefer that it
// declares, falling back to http then https, or "" if neither exists.
func (m *MirrorState) BaseURL(prefer []string) string {
	for _, p := range prefer {
		if u, ok := m.URLs[Protocol(p)]; ok && u != "" {
			return u
		}
	}
	if u, ok := m.URLs[HTTP]; ok && u != "" {
		return u
	}
	if u, ok := m.URLs[HTTPS]; ok && u != "" {
		return u
	}
	return ""
}

// ModuleBaseURL is BaseURL but scoped to a module's URL override map.
func (m *MirrorState) ModuleBaseURL(module string, prefer []string) string {
	urls, ok := m.ModuleURLs[module]
	if !ok {
		return ""
	}
	for _, p := range prefer {
		if u, ok := urls[Protocol(p)]; ok && u != "" {
			return u
		}
	}
	if u, ok := urls[HTTP]; ok && u != "" {
		return u
	}
	return urls[HTTPS]
}

// NormalizeCountry upper-cases an already-alpha-2 country code, or leaves
// longer values (full names from an offline DB without an alpha-2 field)
// untouched for the caller to resolve against a country table.
func NormalizeCountry(country string) string {
	country = strings.TrimSpace(country)
	if len(country) == 2 {
		return strings.ToUpper(country)
	}
	return country
}

// MirrorStates is a slice of MirrorState, sortable by the selector.
type MirrorStates []MirrorState

func (s MirrorStates) Len() int      { return len(s) }
func (s MirrorStates) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
