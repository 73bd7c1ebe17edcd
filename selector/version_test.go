// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package selector

import (
	"fmt"
	"testing"

	"github.com/distromirrors/mirrorsd/mirrors"
)

func TestContains(t *testing.T) {
	tests := []struct {
		list []string
		v    string
		want bool
	}{
		{[]string{"9", "8"}, "9", true},
		{[]string{"9", "8"}, "7", false},
		{nil, "9", false},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			if got := contains(tt.list, tt.v); got != tt.want {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFindRepo(t *testing.T) {
	svc := &mirrors.ServiceConfig{
		Repos: []mirrors.RepoDecl{
			{Name: "BaseOS", Path: "BaseOS"},
			{Name: "AppStream", Path: "AppStream", Vault: true},
		},
	}

	repo, ok := findRepo(svc, "AppStream")
	if !ok {
		t.Fatalf("Expected AppStream to be found")
	}
	if !repo.Vault {
		t.Fatalf("Expected AppStream to be vaulted")
	}

	if _, ok := findRepo(svc, "missing"); ok {
		t.Fatalf("Expected missing repo to not be found")
	}
}

func TestValidateArch(t *testing.T) {
	svc := &mirrors.ServiceConfig{
		Arches: map[string][]string{
			"9": {"x86_64", "aarch64"},
			"*": {"x86_64"},
		},
		OptionalModuleVersion: map[string][]string{
			"nodejs": {"9"},
		},
	}

	tests := []struct {
		name    string
		version string
		arch    string
		want    bool
	}{
		{"empty arch always valid", "9", "", true},
		{"declared version/arch pair", "9", "aarch64", true},
		{"declared version, wrong arch", "9", "s390x", false},
		{"optional-module base lookup", "9-nodejs", "aarch64", true},
		{"falls back to wildcard", "8", "x86_64", true},
		{"wildcard rejects unlisted arch", "8", "aarch64", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validateArch(svc, tt.version, tt.arch); got != tt.want {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalizeVersionVault(t *testing.T) {
	svc := &mirrors.ServiceConfig{
		VaultVersions: []string{"7"},
		Versions:      []string{"9"},
	}

	version, vault, err := normalizeVersion(svc, "7", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if vault == nil || vault.version != "7" {
		t.Fatalf("Expected a vault result for version 7")
	}
	if version != "7" {
		t.Fatalf("Expected version 7, got %s", version)
	}
}

func TestNormalizeVersionVaultRepo(t *testing.T) {
	svc := &mirrors.ServiceConfig{Versions: []string{"9"}}
	repo := &mirrors.RepoDecl{Name: "Vault9", Vault: true}

	_, vault, err := normalizeVersion(svc, "9", repo)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if vault == nil {
		t.Fatalf("Expected a vault result when the repo itself is vaulted")
	}
}

func TestNormalizeVersionDuplicated(t *testing.T) {
	svc := &mirrors.ServiceConfig{
		Versions:           []string{"8"},
		DuplicatedVersions: map[string]string{"8": "8-stream"},
	}

	version, vault, err := normalizeVersion(svc, "8", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if vault != nil {
		t.Fatalf("Expected no vault result for a duplicated version")
	}
	if version != "8-stream" {
		t.Fatalf("Expected duplication target 8-stream, got %s", version)
	}
}

func TestNormalizeVersionDuplicatedPrefix(t *testing.T) {
	svc := &mirrors.ServiceConfig{
		Versions:           []string{"9"},
		DuplicatedVersions: map[string]string{"8": "8-stream"},
	}

	version, _, err := normalizeVersion(svc, "8.5", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if version != "8-stream" {
		t.Fatalf("Expected prefix-matched duplication target 8-stream, got %s", version)
	}
}

func TestNormalizeVersionOptionalModule(t *testing.T) {
	svc := &mirrors.ServiceConfig{
		Versions: []string{"9"},
		OptionalModuleVersion: map[string][]string{
			"nodejs": {"9"},
		},
	}

	version, vault, err := normalizeVersion(svc, "9-nodejs", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if vault != nil {
		t.Fatalf("Expected no vault result for an optional-module version")
	}
	if version != "9-nodejs" {
		t.Fatalf("Expected version to pass through unchanged, got %s", version)
	}
}

func TestNormalizeVersionActive(t *testing.T) {
	svc := &mirrors.ServiceConfig{Versions: []string{"9"}}

	version, vault, err := normalizeVersion(svc, "9", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if vault != nil {
		t.Fatalf("Expected no vault result for an active version")
	}
	if version != "9" {
		t.Fatalf("Expected version 9, got %s", version)
	}
}

func TestNormalizeVersionUnknown(t *testing.T) {
	svc := &mirrors.ServiceConfig{Versions: []string{"9"}}

	if _, _, err := normalizeVersion(svc, "6", nil); err != ErrUnknownRepoAttribute {
		t.Fatalf("Expected ErrUnknownRepoAttribute, got %v", err)
	}
}
