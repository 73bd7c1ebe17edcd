// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package selector

import (
	"encoding/json"
	"strings"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/gomodule/redigo/redis"
)

// selectionCacheKey builds the per-IP cache key (§4.6 "Caching selection"):
// "selection", the client IP and the version, then the repo, module,
// protocol and country when set and "iso" for ISO listings, joined by "_".
func selectionCacheKey(req Request, version string) string {
	parts := []string{"selection", req.ClientIP, version}
	if req.Repo != "" {
		parts = append(parts, req.Repo)
	}
	if req.Module != "" {
		parts = append(parts, req.Module)
	}
	if req.Protocol != "" {
		parts = append(parts, req.Protocol)
	}
	if req.Country != "" {
		parts = append(parts, req.Country)
	}
	if req.ISOList {
		parts = append(parts, "iso")
	}
	return strings.Join(parts, "_")
}

func (s *Selector) readSelectionCache(req Request, version string) ([]mirrors.MirrorState, bool) {
	if s.Redis == nil || req.ClientIP == "" {
		return nil, false
	}
	conn := s.Redis.Get()
	defer conn.Close()

	blob, err := redis.Bytes(conn.Do("GET", selectionCacheKey(req, version)))
	if err != nil {
		return nil, false
	}

	var states []mirrors.MirrorState
	if err := json.Unmarshal(blob, &states); err != nil {
		return nil, false
	}
	return states, true
}

func (s *Selector) writeSelectionCache(req Request, version string, states []mirrors.MirrorState) {
	if s.Redis == nil || req.ClientIP == "" {
		return
	}
	blob, err := json.Marshal(states)
	if err != nil {
		return
	}
	conn := s.Redis.Get()
	defer conn.Close()
	conn.Do("SET", selectionCacheKey(req, version), blob, "EX", config.GetConfig().SelectionCacheExpire)
}
