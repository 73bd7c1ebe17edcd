// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

package network

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/op/go-logging"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

var (
	ErrMultipleAddresses = errors.New("the mirror has more than one IP address")
	log                  = logging.MustGetLogger("main")
)

// GeoIP wraps the City and ASN MaxMind databases used to resolve a mirror's
// geolocation and network. The two databases are opened independently since
// GeoLite2-City and GeoLite2-ASN ship as separate files.
type GeoIP struct {
	mu  sync.RWMutex
	geo *geoip2.Reader
	asn *maxminddb.Reader
}

// GeoIPRecord mirrors the subset of a geoip2.City record this service cares
// about, flattened alongside the AS fields resolved from the ASN database.
type GeoIPRecord struct {
	City          string
	CountryCode   string
	CountryName   string
	ContinentCode string
	Latitude      float64
	Longitude     float64

	ASName string
	ASNum  uint

	valid bool
}

type asnRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// NewGeoIP instantiates a new instance of GeoIP
func NewGeoIP() *GeoIP {
	return &GeoIP{}
}

// LoadGeoIP opens the City and ASN databases configured via
// GeoipDatabasePath/AsnDatabasePath. Both databases are optional: a mirror
// missing one still probes, it just won't be geolocated or network-matched.
func (g *GeoIP) LoadGeoIP() error {
	cfg := config.GetConfig()

	g.mu.Lock()
	defer g.mu.Unlock()

	if cfg.GeoipDatabasePath != "" {
		geo, err := geoip2.Open(cfg.GeoipDatabasePath)
		if err != nil {
			log.Errorf("could not open GeoIP City database: %s", err)
		} else {
			g.geo = geo
		}
	}

	if cfg.AsnDatabasePath != "" {
		asn, err := maxminddb.Open(cfg.AsnDatabasePath)
		if err != nil {
			log.Errorf("could not open GeoIP ASN database: %s", err)
			return err
		}
		g.asn = asn
	}

	return nil
}

// Close releases the underlying database file handles.
func (g *GeoIP) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.geo != nil {
		g.geo.Close()
		g.geo = nil
	}
	if g.asn != nil {
		g.asn.Close()
		g.asn = nil
	}
}

// GetRecord resolves the geolocation and AS of a given IP address (v4 or v6).
func (g *GeoIP) GetRecord(ip string) (ret GeoIPRecord) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return ret
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.geo != nil {
		if city, err := g.geo.City(addr); err == nil && city != nil {
			ret.City = city.City.Names["en"]
			ret.CountryCode = city.Country.IsoCode
			ret.CountryName = city.Country.Names["en"]
			if len(city.Continent.Code) > 0 {
				ret.ContinentCode = city.Continent.Code
			}
			ret.Latitude = city.Location.Latitude
			ret.Longitude = city.Location.Longitude
			ret.valid = true
		}
	}

	if g.asn != nil {
		var rec asnRecord
		if err := g.asn.Lookup(addr, &rec); err == nil && rec.AutonomousSystemNumber > 0 {
			ret.ASNum = rec.AutonomousSystemNumber
			ret.ASName = rec.AutonomousSystemOrganization
		}
	}

	return ret
}

// IsIPv6 returns true if the given address is of version 6
func (g *GeoIP) IsIPv6(ip string) bool {
	return strings.Contains(ip, ":")
}

// IsValid returns true if the record carries a resolved City lookup.
func (r *GeoIPRecord) IsValid() bool {
	return r.valid
}
