// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package mirrors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/distromirrors/mirrorsd/schema"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

var validate = validator.New()

// schemaVersion is the default config_version assigned to a declaration
// that doesn't name one explicitly.
const schemaVersion = 1

// LoadMirrors walks dir for *.yml/*.yaml files, decodes and validates each
// as a MirrorDecl against the registry, and resolves any subnets_url entries
// synchronously. A file that fails to parse or validate is skipped with a
// logged reason; it never aborts the whole load.
func LoadMirrors(dir string, registry *schema.Registry) ([]MirrorDecl, error) {
	var decls []MirrorDecl
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			return nil
		}

		decl, err := loadOne(path, registry)
		if err != nil {
			log.Errorf("skipping mirror declaration %s: %s", path, err)
			return nil
		}
		decls = append(decls, decl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading mirrors directory: %w", err)
	}

	return decls, nil
}

func loadOne(path string, registry *schema.Registry) (MirrorDecl, error) {
	var decl MirrorDecl

	content, err := os.ReadFile(path)
	if err != nil {
		return decl, err
	}

	if err := yaml.Unmarshal(content, &decl); err != nil {
		return decl, fmt.Errorf("%s: %w", path, err)
	}

	if decl.ConfigVersion == 0 {
		decl.ConfigVersion = schemaVersion
	}
	decl.Filepath = path

	if registry == nil {
		registry = schema.Default()
	}
	if err := registry.Validate(decl.ConfigVersion, &decl); err != nil {
		return decl, err
	}
	if err := validate.Struct(&decl); err != nil {
		return decl, err
	}

	if decl.SubnetsURL != "" {
		subnets, err := fetchSubnetList(decl.SubnetsURL)
		if err != nil {
			log.Warningf("%s: fetching subnets_url failed, proceeding without subnets: %s", decl.Name, err)
			decl.Subnets = nil
		} else {
			decl.Subnets = subnets
		}
	}

	return decl, nil
}

// LoadServiceConfig reads the catalogue-wide ServiceConfig from a single
// YAML file (versions, arches, repos, vault mirror, ...).
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service config: %w", err)
	}

	var svc ServiceConfig
	if err := yaml.Unmarshal(content, &svc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if svc.AllowedOutdate == "" {
		svc.AllowedOutdate = "24h"
	}
	return &svc, nil
}

var subnetFetchClient = &http.Client{Timeout: 10 * time.Second}

// fetchSubnetList retrieves a JSON array of CIDR strings from a URL-sourced
// subnets declaration.
func fetchSubnetList(url string) ([]string, error) {
	resp, err := subnetFetchClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var subnets []string
	if err := json.NewDecoder(resp.Body).Decode(&subnets); err != nil {
		return nil, err
	}
	return subnets, nil
}
