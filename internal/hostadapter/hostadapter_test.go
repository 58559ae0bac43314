//go:build linux

package hostadapter

import (
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/goeslr/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLinkConfigToAttrs(t *testing.T) {
	lc := LinkConfig{
		PropagationDelay:  2 * time.Millisecond,
		AveragePacketBits: 1200,
		ChannelDatarate:   1_000_000,
		ChannelLoad:       200_000,
	}
	attrs := lc.toAttrs()
	if attrs.PropagationDelay != 2000 {
		t.Fatalf("expected 2000 microseconds, got %d", attrs.PropagationDelay)
	}
	if attrs.AveragePacketBits != 1200 || attrs.ChannelDatarate != 1_000_000 || attrs.ChannelLoad != 200_000 {
		t.Fatalf("unexpected attrs: %+v", attrs)
	}
}

func TestWireMaskAndMaskBitsRoundTrip(t *testing.T) {
	for _, bits := range []int{0, 1, 8, 24, 30, 31, 32} {
		mask := wireMask(bits)
		got := maskBits(mask)
		if got != bits {
			t.Fatalf("bits=%d: wireMask=%#x round-tripped to %d", bits, mask, got)
		}
	}
}

func TestAdapterEmptyBeforeRefresh(t *testing.T) {
	a := New(testLogger(), nil, Config{})
	if a.InterfacesCount() != 0 {
		t.Fatalf("expected zero interfaces before Refresh, got %d", a.InterfacesCount())
	}
	if a.IsUp(0) {
		t.Fatal("expected IsUp(0) to be false on an empty adapter")
	}
	if got := a.Addresses(0); got != nil {
		t.Fatalf("expected nil addresses, got %v", got)
	}
	if a.MTU(0) != 0 {
		t.Fatalf("expected zero MTU, got %d", a.MTU(0))
	}
}

func TestAdapterDefaultLinkAttrsForUnknownInterface(t *testing.T) {
	defLink := LinkConfig{PropagationDelay: time.Millisecond, ChannelDatarate: 1_000_000}
	a := New(testLogger(), nil, Config{DefaultLink: defLink})
	attrs := a.LinkAttrs(42)
	if attrs.PropagationDelay != 1000 {
		t.Fatalf("expected the configured default link to back an unknown index, got %+v", attrs)
	}
}

func TestDiffAddressesAddedAndRemoved(t *testing.T) {
	old := []engine.HostAddress{
		{Addr: netip.MustParseAddr("10.0.0.1"), Scope: engine.ScopeGlobal},
	}
	cur := []engine.HostAddress{
		{Addr: netip.MustParseAddr("10.0.0.2"), Scope: engine.ScopeGlobal},
	}

	var added, removed []engine.HostAddress
	diffAddresses(old, cur, func(a engine.HostAddress) { added = append(added, a) }, func(a engine.HostAddress) { removed = append(removed, a) })

	if len(added) != 1 || added[0].Addr.String() != "10.0.0.2" {
		t.Fatalf("expected 10.0.0.2 to be reported added, got %+v", added)
	}
	if len(removed) != 1 || removed[0].Addr.String() != "10.0.0.1" {
		t.Fatalf("expected 10.0.0.1 to be reported removed, got %+v", removed)
	}
}

func TestDiffAddressesNoChange(t *testing.T) {
	same := []engine.HostAddress{{Addr: netip.MustParseAddr("10.0.0.1"), Scope: engine.ScopeGlobal}}
	var added, removed []engine.HostAddress
	diffAddresses(same, same, func(a engine.HostAddress) { added = append(added, a) }, func(a engine.HostAddress) { removed = append(removed, a) })
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("expected no diff for identical address sets, got added=%v removed=%v", added, removed)
	}
}

// TestRefreshSkipsLoopback exercises the real enumeration path. Loopback
// always exists in CI and test sandboxes, so this doubles as a smoke test
// that Refresh runs without a sender bound (addresses never reach global
// scope registration because ClearBinding/SetBinding both tolerate a nil
// *netio.Sender only in this package's own nil-checked call sites).
func TestRefreshSkipsLoopback(t *testing.T) {
	ifs, err := net.Interfaces()
	if err != nil {
		t.Skipf("cannot enumerate interfaces in this environment: %v", err)
	}
	var haveLoopback bool
	for _, iface := range ifs {
		if iface.Flags&net.FlagLoopback != 0 {
			haveLoopback = true
			break
		}
	}
	if !haveLoopback {
		t.Skip("no loopback interface present")
	}

	a := New(testLogger(), nil, Config{})
	if err := a.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, iface := range ifs {
		if iface.Flags&net.FlagLoopback == 0 {
			continue
		}
		if _, ok := a.byName[iface.Name]; ok {
			t.Fatalf("loopback interface %s should never be registered", iface.Name)
		}
	}
}
