package forwarding

import (
	"net/netip"
	"testing"

	"github.com/dantte-lp/goeslr/internal/engine"
	"github.com/dantte-lp/goeslr/internal/route"
)

type fakeTable struct {
	recs []route.Record
}

func (f fakeTable) MainSnapshot() []route.Record { return f.recs }

type fakeHost struct {
	addrs map[int][]engine.HostAddress
}

func (f fakeHost) Addresses(ifIndex int) []engine.HostAddress { return f.addrs[ifIndex] }

func TestRouteOutputUnicast(t *testing.T) {
	dst := netip.MustParseAddr("10.0.1.5")
	prefix := netip.MustParsePrefix("10.0.1.0/24")
	gw := netip.MustParseAddr("10.0.0.2")

	tbl := fakeTable{recs: []route.Record{
		{Prefix: prefix, NextHop: gw, IfIndex: 1, Validity: route.Valid},
	}}
	host := fakeHost{addrs: map[int][]engine.HostAddress{
		1: {{Addr: netip.MustParseAddr("10.0.0.1"), Scope: engine.ScopeGlobal}},
	}}

	a := New(tbl, host)
	res, err := a.RouteOutput(dst)
	if err != nil {
		t.Fatalf("RouteOutput: %v", err)
	}
	if res.Gateway != gw || res.IfIndex != 1 || res.Source.String() != "10.0.0.1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRouteOutputNoMatch(t *testing.T) {
	a := New(fakeTable{}, fakeHost{})
	_, err := a.RouteOutput(netip.MustParseAddr("192.0.2.1"))
	if err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRouteOutputTieBreakInsertionOrder(t *testing.T) {
	// Both prefixes match dst; the first (most-recently-admitted, i.e.
	// first in MainSnapshot order) wins regardless of prefix length.
	dst := netip.MustParseAddr("10.0.1.5")
	newer := netip.MustParsePrefix("10.0.0.0/8")
	older := netip.MustParsePrefix("10.0.1.0/24")

	tbl := fakeTable{recs: []route.Record{
		{Prefix: newer, NextHop: netip.MustParseAddr("10.0.0.9"), IfIndex: 2, Validity: route.Valid},
		{Prefix: older, NextHop: netip.MustParseAddr("10.0.0.2"), IfIndex: 1, Validity: route.Valid},
	}}
	host := fakeHost{addrs: map[int][]engine.HostAddress{
		2: {{Addr: netip.MustParseAddr("10.0.0.9"), Scope: engine.ScopeGlobal}},
	}}

	a := New(tbl, host)
	res, err := a.RouteOutput(dst)
	if err != nil {
		t.Fatalf("RouteOutput: %v", err)
	}
	if res.IfIndex != 2 {
		t.Fatalf("expected the first matching record (if_index 2) to win, got %d", res.IfIndex)
	}
}

func TestRouteOutputMulticast(t *testing.T) {
	dst := netip.MustParseAddr("224.0.0.9")
	prefix := netip.MustParsePrefix("224.0.0.0/4")

	tbl := fakeTable{recs: []route.Record{
		{Prefix: prefix, IfIndex: 1, Validity: route.Valid},
	}}
	host := fakeHost{addrs: map[int][]engine.HostAddress{
		1: {
			{Addr: netip.MustParseAddr("169.254.10.1"), Scope: engine.ScopeLink},
			{Addr: netip.MustParseAddr("10.0.0.1"), Scope: engine.ScopeGlobal},
		},
	}}

	a := New(tbl, host)
	res, err := a.RouteOutput(dst)
	if err != nil {
		t.Fatalf("RouteOutput: %v", err)
	}
	if res.Gateway.IsValid() {
		t.Fatalf("expected zero gateway for multicast, got %s", res.Gateway)
	}
	if res.Source.String() != "169.254.10.1" {
		t.Fatalf("expected link-scope source, got %s", res.Source)
	}
}
