// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

// Package store is the materialized MirrorSet: a relational table of the
// current MirrorState rows, filter-indexed and fronted by the shared cache
// (§4.5). The processor is the sole writer (one delete-then-insert
// transaction per update cycle); the request path is a many-reader that
// never blocks on it thanks to the cache-first read path.
package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/database"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/gomodule/redigo/redis"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("main")

const schemaDDL = `
CREATE TABLE IF NOT EXISTS mirror (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	sponsor_name TEXT,
	sponsor_url TEXT,
	email TEXT,
	update_frequency TEXT,
	mirror_url TEXT,
	iso_url TEXT,
	ip TEXT,
	ipv6 INTEGER NOT NULL DEFAULT 0,
	latitude REAL,
	longitude REAL,
	continent TEXT,
	country TEXT,
	state_province TEXT,
	city TEXT,
	cloud_type TEXT,
	private INTEGER NOT NULL DEFAULT 0,
	monopoly INTEGER NOT NULL DEFAULT 0,
	status TEXT,
	has_full_iso_set INTEGER NOT NULL DEFAULT 0,
	asn TEXT,
	has_optional_modules TEXT,
	last_update INTEGER
);
CREATE TABLE IF NOT EXISTS url (
	mirror_id INTEGER NOT NULL REFERENCES mirror(id) ON DELETE CASCADE,
	protocol TEXT NOT NULL,
	url TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS module_url (
	mirror_id INTEGER NOT NULL REFERENCES mirror(id) ON DELETE CASCADE,
	module TEXT NOT NULL,
	protocol TEXT NOT NULL,
	url TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS subnet (
	mirror_id INTEGER NOT NULL REFERENCES mirror(id) ON DELETE CASCADE,
	cidr TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS subnet_int (
	mirror_id INTEGER NOT NULL REFERENCES mirror(id) ON DELETE CASCADE,
	cidr TEXT NOT NULL,
	start_int INTEGER NOT NULL,
	end_int INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mirror_status ON mirror(status);
CREATE INDEX IF NOT EXISTS idx_mirror_geo ON mirror(continent, country);
`

// Store is the relational MirrorSet plus its cache front.
type Store struct {
	db    *sqlx.DB
	redis *database.Redis
}

// Open opens (creating if absent) the sqlite-backed MirrorSet at path.
func Open(path string, r *database.Redis) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, redis: r}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Filter is the boolean axis set the request path and the cache both key
// selections by (§4.5).
type Filter struct {
	Working        bool
	Expired        bool
	WithoutCloud   bool
	WithoutPrivate bool
	WithFullISOSet bool
}

// allFilterCombinations enumerates the 32 boolean combinations so the
// processor can invalidate and warm every one of them after a commit.
func allFilterCombinations() []Filter {
	var out []Filter
	for i := 0; i < 32; i++ {
		out = append(out, Filter{
			Working:        i&1 != 0,
			Expired:        i&2 != 0,
			WithoutCloud:   i&4 != 0,
			WithoutPrivate: i&8 != 0,
			WithFullISOSet: i&16 != 0,
		})
	}
	return out
}

// CacheKey returns the stable canonical cache key for a filter combination:
// "mirrors_list_" followed by the sorted, comma-joined set of active axes.
func (f Filter) CacheKey() string {
	var axes []string
	if f.Working {
		axes = append(axes, "working")
	}
	if f.Expired {
		axes = append(axes, "expired")
	}
	if f.WithoutCloud {
		axes = append(axes, "without_cloud")
	}
	if f.WithoutPrivate {
		axes = append(axes, "without_private")
	}
	if f.WithFullISOSet {
		axes = append(axes, "with_full_iso_set")
	}
	sort.Strings(axes)
	if len(axes) == 0 {
		return "mirrors_list_all"
	}
	return "mirrors_list_" + strings.Join(axes, ",")
}

// PublicMirrorlist is the effective filter for /mirrorlist-style responses.
func PublicMirrorlist(isoList bool) Filter {
	return Filter{Working: true, Expired: false, WithoutCloud: isoList, WithoutPrivate: isoList, WithFullISOSet: isoList}
}

// ISOByCountry is the effective filter for ISO-by-country style responses:
// every axis true (§4.6 "Effective filter").
func ISOByCountry() Filter {
	return Filter{Working: true, Expired: false, WithoutCloud: true, WithoutPrivate: true, WithFullISOSet: true}
}

// Commit atomically replaces the entire MirrorSet with states: delete every
// row, insert the new set (including subnets_int), all in a single
// transaction per §3 "Lifecycle" / §4.4 "Commit". After a successful commit
// every filter-combination cache key is invalidated and re-warmed.
func (s *Store) Commit(states []mirrors.MirrorState) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"subnet_int", "subnet", "module_url", "url", "mirror"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	now := time.Now().Unix()
	for i := range states {
		if err := insertMirror(tx, &states[i], now); err != nil {
			return fmt.Errorf("inserting mirror %s: %w", states[i].Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return s.invalidateAndWarm()
}

func insertMirror(tx *sqlx.Tx, m *mirrors.MirrorState, now int64) error {
	asn, err := json.Marshal(m.ASN)
	if err != nil {
		return err
	}
	modules, err := json.Marshal(m.HasOptionalModules)
	if err != nil {
		return err
	}

	res, err := tx.Exec(`INSERT INTO mirror
		(name, sponsor_name, sponsor_url, email, update_frequency, mirror_url, iso_url,
		 ip, ipv6, latitude, longitude, continent, country, state_province, city,
		 cloud_type, private, monopoly, status, has_full_iso_set, asn, has_optional_modules, last_update)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.Name, m.SponsorName, m.SponsorURL, m.Email, m.UpdateFrequency, m.MirrorURL, m.ISOURL,
		m.IP, m.IPv6, m.Location.Latitude, m.Location.Longitude,
		m.Geolocation.Continent, m.Geolocation.Country, m.Geolocation.StateProvince, m.Geolocation.City,
		string(m.CloudType), m.Private, m.Monopoly, m.Status, m.HasFullISOSet, string(asn), string(modules), now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	m.LastUpdate = now

	for proto, url := range m.URLs {
		if _, err := tx.Exec(`INSERT INTO url (mirror_id, protocol, url) VALUES (?,?,?)`, id, string(proto), url); err != nil {
			return err
		}
	}
	for module, urls := range m.ModuleURLs {
		for proto, url := range urls {
			if _, err := tx.Exec(`INSERT INTO module_url (mirror_id, module, protocol, url) VALUES (?,?,?,?)`, id, module, string(proto), url); err != nil {
				return err
			}
		}
	}
	for _, cidr := range m.Subnets {
		if _, err := tx.Exec(`INSERT INTO subnet (mirror_id, cidr) VALUES (?,?)`, id, cidr); err != nil {
			return err
		}
	}
	for _, r := range m.SubnetRanges {
		start, end := r.Start, r.End
		if start == 0 && end == 0 {
			// IPv6 or unparsed range: store the placeholder pair from
			// subnetFallbackBounds (the first 4 bytes of the network
			// address, twice); containment for these is a CIDR check.
			start, end = subnetFallbackBounds(r.CIDR)
		}
		if _, err := tx.Exec(`INSERT INTO subnet_int (mirror_id, cidr, start_int, end_int) VALUES (?,?,?,?)`,
			id, r.CIDR, start, end); err != nil {
			return err
		}
	}
	return nil
}

// subnetFallbackBounds gives IPv6 (or unparsed) ranges a best-effort integer
// pair derived from the first 4 bytes of the network address, purely so the
// row has *some* sortable bound; actual containment for these always falls
// back to net.IPNet.Contains in mirrors.MirrorState.ContainsIP.
func subnetFallbackBounds(cidr string) (uint32, uint32) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil || ipnet == nil {
		return 0, 0
	}
	ip16 := ipnet.IP.To16()
	if ip16 == nil {
		return 0, 0
	}
	v := binary.BigEndian.Uint32(ip16[:4])
	return v, v
}

// List returns the filtered MirrorSet, consulting the cache first and
// populating it on miss (§4.5).
func (s *Store) List(filter Filter) ([]mirrors.MirrorState, error) {
	key := filter.CacheKey()

	if cached, ok := s.readCache(key); ok {
		return cached, nil
	}

	states, err := s.query(filter)
	if err != nil {
		return nil, err
	}

	s.writeCache(key, states)
	return states, nil
}

func (s *Store) query(filter Filter) ([]mirrors.MirrorState, error) {
	q := `SELECT id, name, sponsor_name, sponsor_url, email, update_frequency, mirror_url, iso_url,
		ip, ipv6, latitude, longitude, continent, country, state_province, city,
		cloud_type, private, monopoly, status, has_full_iso_set, asn, has_optional_modules, last_update
		FROM mirror WHERE 1=1`
	var args []interface{}

	if filter.Working {
		q += " AND status = ?"
		args = append(args, "ok")
	}
	if filter.Expired {
		q += " AND status = ?"
		args = append(args, "expired")
	}
	if filter.WithoutCloud {
		q += " AND cloud_type = ''"
	}
	if filter.WithoutPrivate {
		q += " AND private = 0"
	}
	if filter.WithFullISOSet {
		q += " AND has_full_iso_set = 1"
	}
	q += " ORDER BY continent, country"

	rows, err := s.db.Queryx(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mirrors.MirrorState
	for rows.Next() {
		row := struct {
			ID              int64
			Name            string
			SponsorName     sql.NullString `db:"sponsor_name"`
			SponsorURL      sql.NullString `db:"sponsor_url"`
			Email           sql.NullString
			UpdateFrequency sql.NullString `db:"update_frequency"`
			MirrorURL       sql.NullString `db:"mirror_url"`
			ISOURL          sql.NullString `db:"iso_url"`
			IP              sql.NullString
			IPv6            bool
			Latitude        sql.NullFloat64
			Longitude       sql.NullFloat64
			Continent       sql.NullString
			Country         sql.NullString
			StateProvince   sql.NullString `db:"state_province"`
			City            sql.NullString
			CloudType       sql.NullString `db:"cloud_type"`
			Private         bool
			Monopoly        bool
			Status          sql.NullString
			HasFullISOSet   bool   `db:"has_full_iso_set"`
			ASN             string
			HasOptionalMods string `db:"has_optional_modules"`
			LastUpdate      int64  `db:"last_update"`
		}{}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}

		m := mirrors.MirrorState{
			ID: row.ID,
			MirrorDecl: mirrors.MirrorDecl{
				Name:            row.Name,
				SponsorName:     row.SponsorName.String,
				SponsorURL:      row.SponsorURL.String,
				Email:           row.Email.String,
				UpdateFrequency: row.UpdateFrequency.String,
				CloudType:       mirrors.CloudType(row.CloudType.String),
				Private:         row.Private,
				Monopoly:        row.Monopoly,
				Geolocation: mirrors.GeoLocation{
					Continent:     row.Continent.String,
					Country:       row.Country.String,
					StateProvince: row.StateProvince.String,
					City:          row.City.String,
				},
			},
			IP:        row.IP.String,
			IPv6:      row.IPv6,
			MirrorURL: row.MirrorURL.String,
			ISOURL:    row.ISOURL.String,
			Location: mirrors.Location{
				Latitude:  row.Latitude.Float64,
				Longitude: row.Longitude.Float64,
			},
			Status:        row.Status.String,
			HasFullISOSet: row.HasFullISOSet,
			LastUpdate:    row.LastUpdate,
		}
		m.Geolocation.Country = row.Country.String
		_ = json.Unmarshal([]byte(row.ASN), &m.ASN)
		_ = json.Unmarshal([]byte(row.HasOptionalMods), &m.HasOptionalModules)

		if err := s.hydrate(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) hydrate(m *mirrors.MirrorState) error {
	m.URLs = map[mirrors.Protocol]string{}
	urows, err := s.db.Query(`SELECT protocol, url FROM url WHERE mirror_id = ?`, m.ID)
	if err != nil {
		return err
	}
	for urows.Next() {
		var proto, url string
		if err := urows.Scan(&proto, &url); err != nil {
			urows.Close()
			return err
		}
		m.URLs[mirrors.Protocol(proto)] = url
	}
	urows.Close()

	m.ModuleURLs = map[string]map[mirrors.Protocol]string{}
	murows, err := s.db.Query(`SELECT module, protocol, url FROM module_url WHERE mirror_id = ?`, m.ID)
	if err != nil {
		return err
	}
	for murows.Next() {
		var module, proto, url string
		if err := murows.Scan(&module, &proto, &url); err != nil {
			murows.Close()
			return err
		}
		if m.ModuleURLs[module] == nil {
			m.ModuleURLs[module] = map[mirrors.Protocol]string{}
		}
		m.ModuleURLs[module][mirrors.Protocol(proto)] = url
	}
	murows.Close()

	srows, err := s.db.Query(`SELECT cidr FROM subnet WHERE mirror_id = ?`, m.ID)
	if err != nil {
		return err
	}
	for srows.Next() {
		var cidr string
		if err := srows.Scan(&cidr); err != nil {
			srows.Close()
			return err
		}
		m.Subnets = append(m.Subnets, cidr)
	}
	srows.Close()

	sirows, err := s.db.Query(`SELECT cidr, start_int, end_int FROM subnet_int WHERE mirror_id = ?`, m.ID)
	if err != nil {
		return err
	}
	for sirows.Next() {
		var cidr string
		var start, end uint32
		if err := sirows.Scan(&cidr, &start, &end); err != nil {
			sirows.Close()
			return err
		}
		sr := mirrors.SubnetRange{CIDR: cidr, Start: start, End: end}
		if ip, _, err := net.ParseCIDR(cidr); err == nil && ip.To4() == nil {
			// A zero pair marks the range as IPv6 for ContainsIP.
			sr.Start, sr.End = 0, 0
		}
		m.SubnetRanges = append(m.SubnetRanges, sr)
	}
	sirows.Close()

	return nil
}

func (s *Store) readCache(key string) ([]mirrors.MirrorState, bool) {
	if s.redis == nil {
		return nil, false
	}
	conn := s.redis.Get()
	defer conn.Close()
	blob, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		return nil, false
	}
	var states []mirrors.MirrorState
	if err := json.Unmarshal(blob, &states); err != nil {
		return nil, false
	}
	return states, true
}

func (s *Store) writeCache(key string, states []mirrors.MirrorState) {
	if s.redis == nil {
		return
	}
	blob, err := json.Marshal(states)
	if err != nil {
		log.Warningf("store: marshaling %s for cache failed: %s", key, err)
		return
	}
	conn := s.redis.Get()
	defer conn.Close()
	if _, err := conn.Do("SET", key, blob, "EX", config.GetConfig().MirrorsListCacheExpire); err != nil {
		log.Warningf("store: caching %s failed: %s", key, err)
	}
}

// invalidateAndWarm drops every filter-combination cache key and re-runs
// each underlying query once, so the first request after an update cycle
// never pays the cold-cache cost (§4.4 "Commit").
func (s *Store) invalidateAndWarm() error {
	combos := allFilterCombinations()

	if s.redis != nil {
		conn := s.redis.Get()
		for _, f := range combos {
			conn.Do("DEL", f.CacheKey())
		}
		conn.Close()
	}

	for _, f := range combos {
		states, err := s.query(f)
		if err != nil {
			log.Warningf("store: warming %s failed: %s", f.CacheKey(), err)
			continue
		}
		s.writeCache(f.CacheKey(), states)
	}

	if s.redis != nil && s.redis.Pubsub != nil {
		conn := s.redis.Get()
		database.Publish(conn, database.EVENT_MIRRORS_LIST_INVALIDATE, "commit")
		conn.Close()
	}

	return nil
}

// SetPrivate flips a mirror's private flag by name and invalidates every
// cached filter-combination list so the change is visible immediately.
// There is no separate "enabled" column: administratively disabling a
// mirror through the RPC surface is the same operation as marking it
// private, since both mean "excluded from public selection".
func (s *Store) SetPrivate(name string, private bool) error {
	res, err := s.db.Exec(`UPDATE mirror SET private = ? WHERE name = ?`, private, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mirror %q not found", name)
	}
	return s.invalidateAndWarm()
}

// ByName returns a single mirror by name, bypassing the filter cache (used
// by the processor to carry over the last committed state of a mirror it
// does not reprobe this cycle).
func (s *Store) ByName(name string) (mirrors.MirrorState, bool) {
	all, err := s.query(Filter{})
	if err != nil {
		return mirrors.MirrorState{}, false
	}
	for _, m := range all {
		if m.Name == name {
			return m, true
		}
	}
	return mirrors.MirrorState{}, false
}
