// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

package mirrors

import (
	"testing"

	lru "github.com/hashicorp/golang-lru/v2"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	selectionCache, err := lru.New[string, []byte](selectionCacheSize)
	if err != nil {
		t.Fatalf("building selection cache: %s", err)
	}
	listCache, err := lru.New[string, []byte](mirrorsListCacheSize)
	if err != nil {
		t.Fatalf("building list cache: %s", err)
	}
	return &Cache{selectionCache: selectionCache, listCache: listCache}
}

func TestNewCache_NilRedis(t *testing.T) {
	if c := NewCache(nil); c != nil {
		t.Fatalf("expected nil instance when redis is not connected")
	}
}

func TestCache_SelectionRoundtrip(t *testing.T) {
	c := newTestCache(t)

	if _, ok := c.GetSelection("missing"); ok {
		t.Fatalf("expected no value for an unset key")
	}

	c.SetSelection("fr", []byte("http://mirror.example/path"))
	value, ok := c.GetSelection("fr")
	if !ok {
		t.Fatalf("expected value to be present")
	}
	if string(value) != "http://mirror.example/path" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestCache_ListRoundtrip(t *testing.T) {
	c := newTestCache(t)

	c.SetList("mirrors_list_all", []byte(`[]`))
	value, ok := c.GetList("mirrors_list_all")
	if !ok {
		t.Fatalf("expected value to be present")
	}
	if string(value) != "[]" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t)

	c.SetSelection("fr", []byte("x"))
	c.SetList("mirrors_list_all", []byte("y"))

	c.Clear()

	if _, ok := c.GetSelection("fr"); ok {
		t.Fatalf("selection cache should have been purged")
	}
	if _, ok := c.GetList("mirrors_list_all"); ok {
		t.Fatalf("list cache should have been purged")
	}
}
