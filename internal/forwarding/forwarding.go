// Package forwarding implements the forwarding-plane adapter: a linear
// scan of the main route table, newest-admission-first, that resolves an
// outgoing or incoming packet to a next hop, outgoing interface, and
// source address, for handoff to the host IPv4 stack.
package forwarding

import (
	"errors"
	"net/netip"

	"github.com/dantte-lp/goeslr/internal/engine"
	"github.com/dantte-lp/goeslr/internal/route"
)

// ErrNoRoute indicates no Valid or LocalHost main-table record matches the
// destination.
var ErrNoRoute = errors.New("forwarding: no route to destination")

// Result is what the engine hands back to the host IPv4 stack for one
// lookup: destination, gateway, outgoing interface, and source address.
type Result struct {
	Destination netip.Addr
	Gateway     netip.Addr
	IfIndex     int
	Source      netip.Addr
}

// Host is the minimal source-address-selection contract the forwarding
// adapter needs from the host stack: the source address is selected from
// the chosen interface's global-scope addresses.
type Host interface {
	Addresses(ifIndex int) []engine.HostAddress
}

// Table is the minimal route lookup contract the forwarding adapter
// needs; *route.Table satisfies it.
type Table interface {
	MainSnapshot() []route.Record
}

// Adapter resolves forwarding lookups against a route table and a host
// address source.
type Adapter struct {
	routes Table
	host   Host
}

// New creates a forwarding Adapter over routes and host.
func New(routes Table, host Host) *Adapter {
	return &Adapter{routes: routes, host: host}
}

// RouteOutput resolves a locally-originated packet's destination to a
// forwarding Result. Multicast destinations get gateway = zero and a
// link-scope source address; every other
// destination gets the first Valid or LocalHost main-table record whose mask matches,
// scanning newest-admission-first (insertion-order tie-break),
// with a global-scope source address.
func (a *Adapter) RouteOutput(dst netip.Addr) (Result, error) {
	if dst.IsMulticast() {
		rec, ok := a.lookup(dst)
		if !ok {
			return Result{}, ErrNoRoute
		}
		src := a.selectSource(rec.IfIndex, engine.ScopeLink)
		return Result{Destination: dst, Gateway: netip.Addr{}, IfIndex: rec.IfIndex, Source: src}, nil
	}

	rec, ok := a.lookup(dst)
	if !ok {
		return Result{}, ErrNoRoute
	}
	src := a.selectSource(rec.IfIndex, engine.ScopeGlobal)
	return Result{Destination: dst, Gateway: rec.NextHop, IfIndex: rec.IfIndex, Source: src}, nil
}

// RouteInput resolves a transiting packet (src, dst) received on
// ingressIf to a forwarding Result. src and ingressIf are not used: the
// result is the same as RouteOutput(dst).
func (a *Adapter) RouteInput(_ netip.Addr, dst netip.Addr, _ int) (Result, error) {
	return a.RouteOutput(dst)
}

// lookup performs the linear scan: the main table is walked
// newest-admission-first (MainSnapshot's order), and the first Valid or
// LocalHost record whose mask matches dst wins -- no length comparison, ties are
// broken purely by that insertion order.
func (a *Adapter) lookup(dst netip.Addr) (route.Record, bool) {
	for _, rec := range a.routes.MainSnapshot() {
		if rec.Validity != route.Valid && rec.Validity != route.LocalHost {
			continue
		}
		if rec.Prefix.Contains(dst) {
			return rec, true
		}
	}
	return route.Record{}, false
}

func (a *Adapter) selectSource(ifIndex int, scope engine.AddressScope) netip.Addr {
	for _, addr := range a.host.Addresses(ifIndex) {
		if addr.Scope == scope {
			return addr.Addr
		}
	}
	return netip.Addr{}
}
