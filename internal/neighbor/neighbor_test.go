package neighbor_test

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/goeslr/internal/neighbor"
	"github.com/dantte-lp/goeslr/internal/scheduler"
	"github.com/dantte-lp/goeslr/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTable(t *testing.T, cb neighbor.Callbacks) (*neighbor.Table, *scheduler.Scheduler, *time.Time) {
	t.Helper()
	sched := scheduler.New()
	now := time.Unix(10000, 0)
	nowFn := func() time.Time { return now }
	tbl := neighbor.New(testLogger(), sched, nowFn, neighbor.Config{
		NeighborTimeoutDelay:   30 * time.Second,
		GarbageCollectionDelay: 10 * time.Second,
	}, cb)
	return tbl, sched, &now
}

func TestOnHelloCreatesVoidAndRepliesOnce(t *testing.T) {
	t.Parallel()

	var helloReplies, discoveryReqs int
	cb := neighbor.Callbacks{
		SendHelloReply:       func(int, netip.Addr, uint16) { helloReplies++ },
		SendDiscoveryRequest: func(int, netip.Addr, uint16) { discoveryReqs++ },
	}
	tbl, _, _ := newTable(t, cb)

	addr := netip.MustParseAddr("10.0.0.2")
	kam := wire.KAM{NeighborID: 7}

	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, kam)
	rec, ok := tbl.Lookup(7, addr)
	if !ok {
		t.Fatal("expected neighbor record to exist")
	}
	if rec.State != neighbor.StateVoid {
		t.Errorf("State = %v, want Void", rec.State)
	}
	if helloReplies != 1 || discoveryReqs != 1 {
		t.Errorf("helloReplies=%d discoveryReqs=%d, want 1,1", helloReplies, discoveryReqs)
	}

	// Second Hello from the same id/address while Void/Valid must be ignored.
	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, kam)
	if helloReplies != 1 || discoveryReqs != 1 {
		t.Errorf("duplicate Hello was not ignored: helloReplies=%d discoveryReqs=%d", helloReplies, discoveryReqs)
	}
}

func TestDiscoveryReplyPromotesToValid(t *testing.T) {
	t.Parallel()

	var fullTableReplies int
	cb := neighbor.Callbacks{
		SendEntireTable: func(int, netip.Addr, uint16) { fullTableReplies++ },
	}
	tbl, _, _ := newTable(t, cb)

	addr := netip.MustParseAddr("10.0.0.2")
	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{NeighborID: 7})

	if err := tbl.OnNeighborDiscoveryReply(7, addr); err != nil {
		t.Fatalf("OnNeighborDiscoveryReply: %v", err)
	}

	rec, _ := tbl.Lookup(7, addr)
	if rec.State != neighbor.StateValid {
		t.Errorf("State = %v, want Valid", rec.State)
	}
	if fullTableReplies != 1 {
		t.Errorf("fullTableReplies = %d, want 1", fullTableReplies)
	}
}

func TestDiscoveryReplyWithoutVoidRecordErrors(t *testing.T) {
	t.Parallel()

	tbl, _, _ := newTable(t, neighbor.Callbacks{})
	if err := tbl.OnNeighborDiscoveryReply(99, netip.MustParseAddr("10.0.0.9")); err == nil {
		t.Error("expected error for unknown neighbor discovery reply")
	}
}

func TestOnHiRearmsValidNeighborOnly(t *testing.T) {
	t.Parallel()

	tbl, _, _ := newTable(t, neighbor.Callbacks{})
	addr := netip.MustParseAddr("10.0.0.2")

	// Hi with no existing record: dropped silently (no panic, no record).
	tbl.OnHi(7, addr)
	if _, ok := tbl.Lookup(7, addr); ok {
		t.Error("OnHi should not create a record")
	}

	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{NeighborID: 7})
	_ = tbl.OnNeighborDiscoveryReply(7, addr)

	tbl.OnHi(7, addr)
	rec, _ := tbl.Lookup(7, addr)
	if rec.State != neighbor.StateValid {
		t.Errorf("State after Hi = %v, want Valid", rec.State)
	}
}

func TestExpireInvalidatesRoutesAndSchedulesGC(t *testing.T) {
	t.Parallel()

	var invalidated netip.Addr
	cb := neighbor.Callbacks{
		InvalidateRoutesVia: func(addr netip.Addr) { invalidated = addr },
	}
	tbl, sched, now := newTable(t, cb)
	addr := netip.MustParseAddr("10.0.0.2")

	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{NeighborID: 7})
	_ = tbl.OnNeighborDiscoveryReply(7, addr)

	// Advance time past the neighbor timeout to fire expiry.
	*now = now.Add(31 * time.Second)
	sched.RunDue(*now)

	rec, ok := tbl.Lookup(7, addr)
	if !ok {
		t.Fatal("expected record to still exist as Invalid pending GC")
	}
	if rec.State != neighbor.StateInvalid {
		t.Errorf("State = %v, want Invalid", rec.State)
	}
	if invalidated != addr {
		t.Errorf("InvalidateRoutesVia called with %v, want %v", invalidated, addr)
	}

	// Advance past GC delay (plus max jitter) to confirm deletion.
	*now = now.Add(16 * time.Second)
	sched.RunDue(*now)
	if _, ok := tbl.Lookup(7, addr); ok {
		t.Error("expected record to be garbage collected")
	}
}

func TestOnHelloAfterExpiryReplacesInvalidRecord(t *testing.T) {
	t.Parallel()

	tbl, sched, now := newTable(t, neighbor.Callbacks{})
	addr := netip.MustParseAddr("10.0.0.2")

	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{NeighborID: 7})
	_ = tbl.OnNeighborDiscoveryReply(7, addr)

	*now = now.Add(31 * time.Second)
	sched.RunDue(*now)
	rec, _ := tbl.Lookup(7, addr)
	if rec.State != neighbor.StateInvalid {
		t.Fatalf("State = %v, want Invalid after expiry", rec.State)
	}

	// The peer comes back while the Invalid record is still pending GC. The
	// fresh Void record must survive the old record's GC deadline.
	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{NeighborID: 7})
	rec, ok := tbl.Lookup(7, addr)
	if !ok || rec.State != neighbor.StateVoid {
		t.Fatalf("State = %v ok=%v, want fresh Void record", rec.State, ok)
	}

	*now = now.Add(16 * time.Second)
	sched.RunDue(*now)
	if _, ok := tbl.Lookup(7, addr); !ok {
		t.Error("fresh record was deleted by the stale GC timer")
	}
}

func TestCheckAuthPolicy(t *testing.T) {
	t.Parallel()

	tbl, _, _ := newTable(t, neighbor.Callbacks{})
	addr := netip.MustParseAddr("10.0.0.2")

	// Void-state messages ignore auth entirely.
	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{
		NeighborID: 7, AuthType: wire.AuthTypePlaintext, AuthData: 42,
	})
	if !tbl.CheckAuth(7, addr, wire.AuthTypeMD5, 0) {
		t.Error("Void-state auth check should always pass")
	}

	_ = tbl.OnNeighborDiscoveryReply(7, addr)

	if !tbl.CheckAuth(7, addr, wire.AuthTypePlaintext, 42) {
		t.Error("matching Valid-state auth should pass")
	}
	if tbl.CheckAuth(7, addr, wire.AuthTypePlaintext, 99) {
		t.Error("mismatched Valid-state auth should fail")
	}
}

func TestValidByAddressExcludesVoidAndInvalid(t *testing.T) {
	t.Parallel()

	tbl, sched, now := newTable(t, neighbor.Callbacks{})
	addr := netip.MustParseAddr("10.0.0.2")

	tbl.OnHello(1, netip.MustParseAddr("10.0.0.1"), addr, wire.KAM{NeighborID: 7})
	if _, ok := tbl.ValidByAddress(addr); ok {
		t.Error("Void record must not be usable as next-hop")
	}

	_ = tbl.OnNeighborDiscoveryReply(7, addr)
	if _, ok := tbl.ValidByAddress(addr); !ok {
		t.Error("Valid record should be found by address")
	}

	*now = now.Add(31 * time.Second)
	sched.RunDue(*now)
	if _, ok := tbl.ValidByAddress(addr); ok {
		t.Error("Invalid record must not be usable as next-hop")
	}
}
