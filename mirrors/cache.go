// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

package mirrors

import (
	"github.com/distromirrors/mirrorsd/database"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	selectionCacheSize = 8192
	mirrorsListCacheSize = 512
)

// Cache implements a local, automatically-invalidated front for the
// selection results and filter-combination mirror lists that otherwise live
// in redis/sqlite. It mirrors the reference's local LRU-in-front-of-redis
// idiom, invalidated by the same pub/sub bus instead of by polling.
type Cache struct {
	r *database.Redis

	// selectionCache holds per-IP (+protocol/country) rendered selections.
	selectionCache *lru.Cache[string, []byte]
	// listCache holds serialized MirrorSet filter-combination results.
	listCache *lru.Cache[string, []byte]

	mirrorUpdateEvent      chan string
	listInvalidateEvent    chan string
	pubsubReconnectedEvent chan string

	invalidationEvent chan string
}

// NewCache constructs a new instance of Cache, wiring it to the shared
// pub/sub bus for invalidation. Returns nil if redis isn't connected yet.
func NewCache(r *database.Redis) *Cache {
	if r == nil || r.Pubsub == nil {
		return nil
	}

	selectionCache, _ := lru.New[string, []byte](selectionCacheSize)
	listCache, _ := lru.New[string, []byte](mirrorsListCacheSize)

	c := &Cache{
		r:              r,
		selectionCache: selectionCache,
		listCache:      listCache,

		mirrorUpdateEvent:      make(chan string, 10),
		listInvalidateEvent:    make(chan string, 10),
		pubsubReconnectedEvent: make(chan string),
		invalidationEvent:      make(chan string, 10),
	}

	c.r.Pubsub.SubscribeEvent(database.EVENT_MIRROR_UPDATE, c.mirrorUpdateEvent)
	c.r.Pubsub.SubscribeEvent(database.EVENT_MIRRORS_LIST_INVALIDATE, c.listInvalidateEvent)
	c.r.Pubsub.SubscribeEvent(database.PUBSUB_RECONNECTED, c.pubsubReconnectedEvent)

	go func() {
		for {
			select {
			case data := <-c.mirrorUpdateEvent:
				// A single mirror changed: the per-IP selections that might
				// have picked it are now possibly stale, but re-deriving
				// which ones is more expensive than just letting TTL expire
				// them; only the filter-combination lists are pruned eagerly.
				c.listCache.Purge()
				select {
				case c.invalidationEvent <- data:
				default:
				}
			case <-c.listInvalidateEvent:
				c.listCache.Purge()
				c.selectionCache.Purge()
			case <-c.pubsubReconnectedEvent:
				c.Clear()
			}
		}
	}()

	return c
}

// Clear purges every locally-held entry.
func (c *Cache) Clear() {
	c.selectionCache.Purge()
	c.listCache.Purge()
}

// GetMirrorInvalidationEvent returns a channel carrying the ID of mirrors
// that were just updated. Meant for a single reader.
func (c *Cache) GetMirrorInvalidationEvent() <-chan string {
	return c.invalidationEvent
}

// GetSelection returns a cached rendered selection for key, if present.
func (c *Cache) GetSelection(key string) ([]byte, bool) {
	return c.selectionCache.Get(key)
}

// SetSelection stores a rendered selection for key.
func (c *Cache) SetSelection(key string, value []byte) {
	c.selectionCache.Add(key, value)
}

// GetList returns a cached serialized filter-combination list, if present.
func (c *Cache) GetList(key string) ([]byte, bool) {
	return c.listCache.Get(key)
}

// SetList stores a serialized filter-combination list for key.
func (c *Cache) SetList(key string, value []byte) {
	c.listCache.Add(key, value)
}
