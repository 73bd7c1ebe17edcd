// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package database

import (
	"errors"
	"time"

	"github.com/distromirrors/mirrorsd/core"
	"github.com/gomodule/redigo/redis"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported schema version, please upgrade mirrorsd")
)

// UpgradeNeeded returns true if the relational schema version cached in
// redis is behind core.DBVersion. The actual table migrations live with the
// sqlite store; this marker only lets Upgrade tell every instance sharing
// the cache to drop its in-process mirror lists once a migration has landed.
func (r *Redis) UpgradeNeeded() (bool, error) {
	version, err := r.GetDBFormatVersion()
	if err != nil {
		return false, err
	}
	if version > core.DBVersion {
		return false, ErrUnsupportedVersion
	}
	return version != core.DBVersion, nil
}

// GetDBFormatVersion returns the current schema version marker, initializing
// it to core.DBVersion on a fresh cache.
func (r *Redis) GetDBFormatVersion() (int, error) {
	conn := r.UnblockedGet()
	defer conn.Close()

again:
	version, err := redis.Int(conn.Do("GET", core.DBVersionKey))
	if RedisIsLoading(err) {
		time.Sleep(time.Millisecond * 100)
		goto again
	} else if err == redis.ErrNil {
		_, err = conn.Do("SET", core.DBVersionKey, core.DBVersion)
		return core.DBVersion, err
	} else if err != nil {
		return -1, err
	}
	return version, nil
}

// Upgrade advances the schema version marker and publishes
// EVENT_MIRRORS_LIST_INVALIDATE so every instance drops its in-process list
// and selection caches. No key of the shared cache is deleted.
func (r *Redis) Upgrade() error {
	version, err := r.GetDBFormatVersion()
	if err != nil {
		return err
	}
	if version > core.DBVersion {
		return ErrUnsupportedVersion
	} else if version == core.DBVersion {
		return nil
	}

	lock, err := r.AcquireLock("upgrade")
	if err != nil {
		return err
	}
	defer lock.Release()

	log.Warningf("Advancing schema version marker from %d to %d, invalidating cached mirror lists...", version, core.DBVersion)

	conn := r.UnblockedGet()
	defer conn.Close()

	if _, err := conn.Do("SET", core.DBVersionKey, core.DBVersion); err != nil {
		return err
	}
	if err := Publish(conn, EVENT_MIRRORS_LIST_INVALIDATE, "schema-upgrade"); err != nil {
		return err
	}

	return nil
}
