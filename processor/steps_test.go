// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package processor

import (
	"errors"
	"testing"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/internal/testutil"
	"github.com/distromirrors/mirrorsd/mirrors"
)

func init() {
	config.LoadConfig()
}

func TestReasonOf(t *testing.T) {
	if got := reasonOf(nil); got != "no A record" {
		t.Fatalf("Expected %q, got %q", "no A record", got)
	}

	err := errors.New("lookup boom: no such host")
	if got := reasonOf(err); got != err.Error() {
		t.Fatalf("Expected %q, got %q", err.Error(), got)
	}
}

func TestResolveStatusSkipsUnknownIP(t *testing.T) {
	p := &Processor{}
	m := &mirrors.MirrorState{}
	m.IP = "Unknown"

	p.resolveStatus(nil, m, &mirrors.ServiceConfig{})

	if m.Status != "" {
		t.Fatalf("Expected status untouched, got %q", m.Status)
	}
}

func TestResolveStatusPrivateShortCircuit(t *testing.T) {
	mock, conn := testutil.PrepareRedisTest()
	p := &Processor{Redis: conn}

	cmdDel := mock.Command("DEL", "mirror_offline_example").Expect("1")

	m := &mirrors.MirrorState{}
	m.Name = "example"
	m.IP = "1.2.3.4"
	m.Private = true

	p.resolveStatus(nil, m, &mirrors.ServiceConfig{})

	if m.Status != core.StatusOK {
		t.Fatalf("Expected %q, got %q", core.StatusOK, m.Status)
	}
	if mock.Stats(cmdDel) == 0 {
		t.Fatalf("Expected flap cache to be cleared")
	}
}

func TestResolveStatusWhitelistShortCircuit(t *testing.T) {
	mock, conn := testutil.PrepareRedisTest()
	p := &Processor{Redis: conn, whitelist: map[string]bool{"example": true}}

	cmdDel := mock.Command("DEL", "mirror_offline_example").Expect("1")

	m := &mirrors.MirrorState{}
	m.Name = "example"
	m.IP = "1.2.3.4"

	p.resolveStatus(nil, m, &mirrors.ServiceConfig{})

	if m.Status != core.StatusOK {
		t.Fatalf("Expected %q, got %q", core.StatusOK, m.Status)
	}
	if mock.Stats(cmdDel) == 0 {
		t.Fatalf("Expected flap cache to be cleared")
	}
}

// TestResolveStatusFlapCacheReturnsStoredReason is the regression test for
// the flap-cache short-circuit: the status must become the verbatim cached
// failure reason, never a synthetic "flapping" literal.
func TestResolveStatusFlapCacheReturnsStoredReason(t *testing.T) {
	mock, conn := testutil.PrepareRedisTest()
	p := &Processor{Redis: conn}

	const reason = "503 Service Unavailable"
	mock.Command("GET", "mirror_offline_example").Expect(reason)

	m := &mirrors.MirrorState{}
	m.Name = "example"
	m.IP = "1.2.3.4"

	p.resolveStatus(nil, m, &mirrors.ServiceConfig{})

	if m.Status != reason {
		t.Fatalf("Expected status %q, got %q", reason, m.Status)
	}
	if m.Status == "flapping" {
		t.Fatalf("Status must never be the synthetic literal %q", "flapping")
	}
}

func TestFailSetsStatusAndFlap(t *testing.T) {
	mock, conn := testutil.PrepareRedisTest()
	p := &Processor{Redis: conn}

	cmdSet := mock.Command("SET", "mirror_offline_example", "boom", "EX", config.GetConfig().FlapExpire).Expect("OK")

	m := &mirrors.MirrorState{}
	m.Name = "example"

	p.fail(m, "boom")

	if m.Status != "boom" {
		t.Fatalf("Expected status %q, got %q", "boom", m.Status)
	}
	if mock.Stats(cmdSet) == 0 {
		t.Fatalf("Expected flap cache to be set")
	}
}

func TestFlapReasonNoEntry(t *testing.T) {
	_, conn := testutil.PrepareRedisTest()
	p := &Processor{Redis: conn}

	if reason, flapping := p.flapReason("example"); flapping {
		t.Fatalf("Expected no flap entry, got flapping=true reason=%q", reason)
	}
}

func TestClearFlapNilRedis(t *testing.T) {
	p := &Processor{}
	p.clearFlap("example")
}

func TestSetFlapNilRedis(t *testing.T) {
	p := &Processor{}
	p.setFlap("example", "boom")
}
