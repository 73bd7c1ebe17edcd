// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

package network

import (
	"net/http"
	"testing"

	"github.com/distromirrors/mirrorsd/config"
)

func init() {
	config.LoadConfig()
}

func TestRemoteIPFromAddr(t *testing.T) {
	r := RemoteIPFromAddr("127.0.0.1:8080")
	if r != "127.0.0.1" {
		t.Fatalf("Expected '127.0.0.1', got %s", r)
	}

	r = RemoteIPFromAddr("[::1]:8080")
	if r != "[::1]" {
		t.Fatalf("Expected '[::1]', got %s", r)
	}
}

func TestExtractRemoteIP(t *testing.T) {
	r := ExtractRemoteIP("192.168.0.1, 192.168.0.2, 192.168.0.3")
	if r != "192.168.0.1" {
		t.Fatalf("Expected '192.168.0.1', got %s", r)
	}

	r = ExtractRemoteIP("192.168.0.1,192.168.0.2,192.168.0.3")
	if r != "192.168.0.1" {
		t.Fatalf("Expected '192.168.0.1', got %s", r)
	}
}

func TestClientIP(t *testing.T) {
	req := &http.Request{
		Header:     make(http.Header),
		RemoteAddr: "10.0.0.5:1234",
	}
	if ip := ClientIP(req); ip != "10.0.0.5" {
		t.Fatalf("Expected '10.0.0.5', got %s", ip)
	}

	req.Header.Set("X-Real-Ip", "203.0.113.9")
	if ip := ClientIP(req); ip != "203.0.113.9" {
		t.Fatalf("Expected '203.0.113.9', got %s", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.9")
	if ip := ClientIP(req); ip != "198.51.100.1" {
		t.Fatalf("Expected '198.51.100.1', got %s", ip)
	}
}
