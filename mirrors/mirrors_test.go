// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

package mirrors

import (
	"net"
	"testing"
)

func TestParseSubnetRange(t *testing.T) {
	r, err := ParseSubnetRange("192.168.1.0/24")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !r.Contains(net.ParseIP("192.168.1.42")) {
		t.Fatalf("expected 192.168.1.42 to be contained in %s", r.CIDR)
	}
	if r.Contains(net.ParseIP("192.168.2.1")) {
		t.Fatalf("expected 192.168.2.1 to be outside %s", r.CIDR)
	}
}

func TestParseSubnetRangeInvalid(t *testing.T) {
	if _, err := ParseSubnetRange("not-a-cidr"); err == nil {
		t.Fatalf("expected an error for a malformed CIDR")
	}
}

func TestMirrorStateContainsIP(t *testing.T) {
	r, _ := ParseSubnetRange("10.0.0.0/8")
	m := MirrorState{SubnetRanges: []SubnetRange{r}}

	if !m.ContainsIP(net.ParseIP("10.1.2.3")) {
		t.Fatalf("expected 10.1.2.3 to be contained")
	}
	if m.ContainsIP(net.ParseIP("11.0.0.1")) {
		t.Fatalf("expected 11.0.0.1 to be outside")
	}
}

func TestMirrorStateHasASN(t *testing.T) {
	m := MirrorState{MirrorDecl: MirrorDecl{ASN: []int{64500, 64501}}}
	if !m.HasASN(64501) {
		t.Fatalf("expected 64501 to be declared")
	}
	if m.HasASN(1) {
		t.Fatalf("expected 1 to not be declared")
	}
}

func TestMirrorStateBaseURL(t *testing.T) {
	m := MirrorState{MirrorDecl: MirrorDecl{
		URLs: map[Protocol]string{HTTP: "http://mirror.example/repo", HTTPS: "https://mirror.example/repo"},
	}}

	if u := m.BaseURL([]string{"https", "http"}); u != "https://mirror.example/repo" {
		t.Fatalf("expected https preference, got %s", u)
	}
	if u := m.BaseURL([]string{"ftp"}); u != "http://mirror.example/repo" {
		t.Fatalf("expected http fallback, got %s", u)
	}
}

func TestMirrorStateStatus(t *testing.T) {
	m := MirrorState{Status: "ok"}
	if !m.IsWorking() {
		t.Fatalf("expected ok to be working")
	}
	if m.IsExpired() {
		t.Fatalf("expected ok to not be expired")
	}

	m.Status = "expired"
	if m.IsWorking() {
		t.Fatalf("expected expired to not be working")
	}
	if !m.IsExpired() {
		t.Fatalf("expected expired to be expired")
	}
}

func TestNormalizeCountry(t *testing.T) {
	if NormalizeCountry("fr") != "FR" {
		t.Fatalf("expected FR")
	}
	if NormalizeCountry("France") != "France" {
		t.Fatalf("expected unchanged full name")
	}
}

func TestGeoLocationIsEmpty(t *testing.T) {
	var g GeoLocation
	if !g.IsEmpty() {
		t.Fatalf("expected zero value to be empty")
	}
	g.Country = "FR"
	if g.IsEmpty() {
		t.Fatalf("expected non-empty after setting Country")
	}
}
