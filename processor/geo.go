// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/gomodule/redigo/redis"
)

const geocoderMinInterval = time.Second

// resolveOfflineGeo runs step 6: lookup the offline GeoIP/ASN databases and
// merge the result into the mirror's location, applying the write-once rule
// (take existing if already non-empty/known, else take new) so an operator's
// declared geolocation.yaml fields are never clobbered by a coarser offline
// lookup (§9 "Dynamic attribute-merge on geolocation").
func (p *Processor) resolveOfflineGeo(m *mirrors.MirrorState) {
	if p.GeoIP == nil {
		return
	}

	firstIP := strings.SplitN(m.IP, ",", 2)[0]
	rec := p.GeoIP.GetRecord(firstIP)
	if !rec.IsValid() {
		return
	}

	m.Geolocation.Continent = mergeField(m.Geolocation.Continent, rec.ContinentCode)
	m.Geolocation.Country = mergeField(m.Geolocation.Country, mirrors.NormalizeCountry(rec.CountryCode))
	m.Geolocation.City = mergeField(m.Geolocation.City, rec.City)

	if m.Location.IsZero() {
		m.Location.Latitude = rec.Latitude
		m.Location.Longitude = rec.Longitude
	}

	if len(m.ASN) == 0 && rec.ASNum > 0 {
		m.ASN = []int{int(rec.ASNum)}
	}
}

// mergeField applies the write-once rule: an existing non-empty/non-Unknown
// value always wins over a freshly resolved one.
func mergeField(existing, resolved string) string {
	if existing != "" && !strings.EqualFold(existing, "unknown") {
		return existing
	}
	if resolved == "" {
		return existing
	}
	return resolved
}

type geocodeResult struct {
	Lat float64 `json:"lat,string"`
	Lon float64 `json:"lon,string"`
}

func geocoderCacheKey(m *mirrors.MirrorState) string {
	return fmt.Sprintf("geocode_%s_%s_%s", m.Geolocation.Country, m.Geolocation.StateProvince, m.Geolocation.City)
}

// resolveOnlineGeo runs step 8: fills in Location coordinates from an online
// geocoder when the offline database didn't already produce one, bounded by
// a single global in-flight request and a 1req/s rate limit (§4.4 step 8,
// §5 "External service courtesy"), with a redis-backed result cache.
func (p *Processor) resolveOnlineGeo(ctx context.Context, m *mirrors.MirrorState) {
	if !m.Location.IsZero() {
		return
	}
	if m.Geolocation.City == "" || m.Geolocation.Country == "" || m.Geolocation.StateProvince == "" {
		return
	}

	key := geocoderCacheKey(m)
	if lat, lon, ok := p.readGeocodeCache(key); ok {
		m.Location.Latitude = lat
		m.Location.Longitude = lon
		return
	}

	p.geocoderMu.Lock()
	defer p.geocoderMu.Unlock()

	if wait := geocoderMinInterval - time.Since(p.geocoderLast); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
	p.geocoderLast = time.Now()

	lat, lon, err := p.queryGeocoder(ctx, m)
	if err != nil {
		log.Debugf("%s: geocoder lookup failed: %s", m.Name, err)
		return
	}

	m.Location.Latitude = lat
	m.Location.Longitude = lon
	p.writeGeocodeCache(key, lat, lon)
}

func (p *Processor) queryGeocoder(ctx context.Context, m *mirrors.MirrorState) (float64, float64, error) {
	q := strings.TrimSpace(strings.Join([]string{m.Geolocation.City, m.Geolocation.StateProvince, m.Geolocation.Country}, ", "))
	q = strings.Trim(q, ", ")

	endpoint := "https://nominatim.openstreetmap.org/search?format=json&limit=1&q=" + url.QueryEscape(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, 0, err
	}

	var results []geocodeResult
	if err := json.Unmarshal(body, &results); err != nil {
		return 0, 0, err
	}
	if len(results) == 0 {
		return 0, 0, fmt.Errorf("no match for %q", q)
	}
	return results[0].Lat, results[0].Lon, nil
}

func (p *Processor) readGeocodeCache(key string) (float64, float64, bool) {
	if p.Redis == nil {
		return 0, 0, false
	}
	conn := p.Redis.Get()
	defer conn.Close()
	vals, err := redis.Strings(conn.Do("HMGET", key, "lat", "lon"))
	if err != nil || len(vals) != 2 || vals[0] == "" {
		return 0, 0, false
	}
	var res geocodeResult
	fmt.Sscanf(vals[0], "%g", &res.Lat)
	fmt.Sscanf(vals[1], "%g", &res.Lon)
	return res.Lat, res.Lon, true
}

func (p *Processor) writeGeocodeCache(key string, lat, lon float64) {
	if p.Redis == nil {
		return
	}
	conn := p.Redis.Get()
	defer conn.Close()
	conn.Do("HSET", key, "lat", lat, "lon", lon)
	conn.Do("EXPIRE", key, config.GetConfig().GeocoderCacheExpire)
}
