// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

package database

import (
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/op/go-logging"
)

var (
	log = logging.MustGetLogger("main")
)

type PubsubEvent string

const (
	// EVENT_MIRROR_UPDATE fires whenever a mirror's status/state changes,
	// invalidating per-mirror selection cache entries.
	EVENT_MIRROR_UPDATE PubsubEvent = "_mirrorsd_mirror_update"
	// EVENT_MIRRORS_LIST_INVALIDATE fires after a processor commit,
	// invalidating the cached module_urls/filter-combination lists.
	EVENT_MIRRORS_LIST_INVALIDATE PubsubEvent = "_mirrorsd_mirrors_list_invalidate"
	// EVENT_CONFIG_RELOAD fires when a peer instance reloads its config file,
	// so hot-reloadable knobs stay in sync cluster-wide.
	EVENT_CONFIG_RELOAD PubsubEvent = "_mirrorsd_config_reload"
	// EVENT_CLUSTER carries node-announce heartbeats between peer instances
	// sharing the same redis database (§ cluster membership).
	EVENT_CLUSTER PubsubEvent = "_mirrorsd_cluster"

	PUBSUB_RECONNECTED PubsubEvent = "_mirrorsd_pubsub_reconnected"
)

type Pubsub struct {
	r                  *Redis
	extSubscribers     map[string][]chan string
	extSubscribersLock sync.RWMutex
}

func NewPubsub(r *Redis) *Pubsub {
	pubsub := new(Pubsub)
	pubsub.r = r
	pubsub.extSubscribers = make(map[string][]chan string)
	go pubsub.updateEvents()
	return pubsub
}

// SubscribeEvent allows subscription to a particular kind of event and
// receiving a notification when it is dispatched on the given channel.
func (p *Pubsub) SubscribeEvent(event PubsubEvent, channel chan string) {
	p.extSubscribersLock.Lock()
	defer p.extSubscribersLock.Unlock()

	listeners := p.extSubscribers[string(event)]
	listeners = append(listeners, channel)
	p.extSubscribers[string(event)] = listeners
}

func (p *Pubsub) Close() {
	// The connection backing updateEvents' loop is closed from within the
	// loop on the next failed PING; nothing to do synchronously here.
}

func (p *Pubsub) updateEvents() {
	var disconnected bool
connect:
	for {
		rconn := p.r.Get()
		if _, err := rconn.Do("PING"); err != nil {
			disconnected = true
			rconn.Close()
			if RedisIsLoading(err) {
				log.Warning("Redis is still loading the dataset in memory")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		log.Info("Subscribing pubsub")
		psc := redis.PubSubConn{Conn: rconn}

		psc.Subscribe(EVENT_MIRROR_UPDATE)
		psc.Subscribe(EVENT_MIRRORS_LIST_INVALIDATE)
		psc.Subscribe(EVENT_CONFIG_RELOAD)
		psc.Subscribe(EVENT_CLUSTER)

		if disconnected {
			// Keeps the cache active while disconnected from redis but
			// still clears it (possibly outdated) after reconnection.
			disconnected = false
			p.handleMessage(string(PUBSUB_RECONNECTED), nil)
		}
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				p.handleMessage(v.Channel, v.Data)
			case redis.Subscription:
				log.Debug("Redis subscription on channel %s: %s (%d)", v.Channel, v.Kind, v.Count)
			case error:
				log.Error("Pubsub disconnected: %s", v)
				psc.Close()
				rconn.Close()
				time.Sleep(50 * time.Millisecond)
				disconnected = true
				goto connect
			}
		}
	}
}

// Notify subscribers of the new message
func (p *Pubsub) handleMessage(channel string, data []byte) {
	p.extSubscribersLock.RLock()
	defer p.extSubscribersLock.RUnlock()

	listeners := p.extSubscribers[channel]
	for _, listener := range listeners {
		select {
		case listener <- string(data):
		default:
			// Don't block if the listener is not available
			// and drop the message.
		}
	}
}

func Publish(r redis.Conn, event PubsubEvent, message string) error {
	_, err := r.Do("PUBLISH", string(event), message)
	return err
}

func SendPublish(r redis.Conn, event PubsubEvent, message string) error {
	return r.Send("PUBLISH", string(event), message)
}
