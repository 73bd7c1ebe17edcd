// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

// Package schema is the JSON-Schema validation registry for mirror and
// service declarations (§4.3, §6): each YAML file declares a config_version
// and is checked against the matching vN.json schema before it is trusted.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var builtinSchemas embed.FS

// Registry holds one compiled JSON-Schema per config_version, loaded either
// from the embedded default set or from an external directory (SOURCE_PATH).
type Registry struct {
	mu      sync.RWMutex
	schemas map[int]*gojsonschema.Schema
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry backed by the embedded schema
// set, loading it the first time it's requested.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg, _ = NewRegistry("")
	})
	return defaultReg
}

// NewRegistry builds a registry. When dir is non-empty, every
// v<N>.json file found there overrides the embedded schema for that version
// (the loader selects schemas from SOURCE_PATH when it's set).
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{schemas: make(map[int]*gojsonschema.Schema)}

	entries, err := builtinSchemas.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		version, ok := versionFromFilename(e.Name())
		if !ok {
			continue
		}
		data, err := builtinSchemas.ReadFile(filepath.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		sch, err := compile(data)
		if err != nil {
			return nil, fmt.Errorf("embedded schema %s: %w", e.Name(), err)
		}
		r.schemas[version] = sch
	}

	if dir == "" {
		return r, nil
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		// SOURCE_PATH pointing nowhere just means "use the embedded defaults".
		return r, nil
	}
	for _, f := range files {
		version, ok := versionFromFilename(f.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		sch, err := compile(data)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", f.Name(), err)
		}
		r.schemas[version] = sch
	}

	return r, nil
}

func versionFromFilename(name string) (int, bool) {
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json")
	version, err := strconv.Atoi(n)
	if err != nil {
		return 0, false
	}
	return version, true
}

func compile(data []byte) (*gojsonschema.Schema, error) {
	loader := gojsonschema.NewBytesLoader(data)
	return gojsonschema.NewSchema(loader)
}

// Validate checks doc (already decoded into a generic map/struct by the
// caller, then re-marshaled here since gojsonschema validates JSON) against
// the schema registered for version. An unknown version is a hard error:
// schema-registry versioning is this package's whole job.
func (r *Registry) Validate(version int, doc interface{}) error {
	r.mu.RLock()
	sch, ok := r.schemas[version]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema registered for config_version %d", version)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	result, err := sch.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
}

// HasVersion reports whether a schema is registered for the given version.
func (r *Registry) HasVersion(version int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[version]
	return ok
}
