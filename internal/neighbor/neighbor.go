// Package neighbor implements the ESLR peer state machine: tracking
// peers in {Void, Valid, Invalid}, owning the hello-discovery and keep-alive
// timers, and enforcing the per-state authentication policy.
//
// The table is a map of owned records keyed by id and address, looked up
// rather than held by pointer from outside: the socket for a neighbor is
// a lookup (id -> endpoint), never a pointer, which keeps the route table
// from needing to reach back into this package.
package neighbor

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/dantte-lp/goeslr/internal/scheduler"
	"github.com/dantte-lp/goeslr/internal/wire"
)

// State is a neighbor's position in the {Void, Valid, Invalid} lifecycle.
type State uint8

const (
	StateVoid State = iota
	StateValid
	StateInvalid
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateVoid:
		return "Void"
	case StateValid:
		return "Valid"
	case StateInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// Auth is the small authentication record every neighbor carries:
// {type, shared data, random identifier}. Only plaintext comparison is
// mandatory; MD5/SHA type codes round-trip but are not cryptographically
// verified.
type Auth struct {
	Type       wire.AuthType
	Data       uint16
	Identifier uint8
}

// Matches reports whether hdr's auth tuple satisfies a's policy: Valid-state
// responses require the record's {authType, authData} to match the
// received header.
func (a Auth) Matches(authType wire.AuthType, authData uint16) bool {
	return a.Type == authType && a.Data == authData
}

// Record is a single neighbor entry.
type Record struct {
	ID        uint16
	Address   netip.Addr
	Mask      uint32
	IfIndex   int
	LocalAddr netip.Addr
	Auth      Auth
	State     State

	timerID scheduler.EventID
}

// key identifies a neighbor record by the invariant "at most one record per
// (neighborId, address)".
type key struct {
	id   uint16
	addr netip.Addr
}

// Callbacks lets the engine observe neighbor-table side effects without the
// neighbor package importing the route table or the wire transport,
// avoiding an import cycle between the two tables.
type Callbacks struct {
	// SendHelloReply transmits a Hello KAM back to addr on ifIndex.
	SendHelloReply func(ifIndex int, addr netip.Addr, id uint16)

	// SendDiscoveryRequest transmits a Request(NeighborDiscovery) to addr.
	SendDiscoveryRequest func(ifIndex int, addr netip.Addr, id uint16)

	// SendEntireTable replies to a neighbor-discovery handshake with the
	// full main table, subject to split horizon on ifIndex.
	SendEntireTable func(ifIndex int, addr netip.Addr, id uint16)

	// InvalidateRoutesVia is called when a neighbor expires or is marked
	// Invalid: every route whose next-hop equals the neighbor's address
	// must be invalidated with reason Broken.
	InvalidateRoutesVia func(nextHop netip.Addr)
}

// Table owns the set of neighbor records and their timers. It is not
// goroutine-safe: all methods must be invoked from the engine's single
// logical executor.
type Table struct {
	logger    *slog.Logger
	sched     *scheduler.Scheduler
	now       func() time.Time
	cb        Callbacks
	neighbors map[key]*Record

	neighborTimeoutDelay   time.Duration
	garbageCollectionDelay time.Duration
}

// Config bundles the timer durations a Table needs from engine
// configuration.
type Config struct {
	NeighborTimeoutDelay   time.Duration
	GarbageCollectionDelay time.Duration
}

// New creates an empty neighbor Table.
func New(logger *slog.Logger, sched *scheduler.Scheduler, now func() time.Time, cfg Config, cb Callbacks) *Table {
	return &Table{
		logger:                 logger.With(slog.String("component", "neighbor")),
		sched:                  sched,
		now:                    now,
		cb:                     cb,
		neighbors:              make(map[key]*Record),
		neighborTimeoutDelay:   cfg.NeighborTimeoutDelay,
		garbageCollectionDelay: cfg.GarbageCollectionDelay,
	}
}

// Lookup returns the record for (id, addr), if any.
func (t *Table) Lookup(id uint16, addr netip.Addr) (*Record, bool) {
	r, ok := t.neighbors[key{id: id, addr: addr}]
	return r, ok
}

// ValidByAddress returns the Valid-state record whose address matches addr,
// if any. Used for split-horizon and next-hop validation: a Void record
// may not be used as a next-hop.
func (t *Table) ValidByAddress(addr netip.Addr) (*Record, bool) {
	for _, r := range t.neighbors {
		if r.State == StateValid && r.Address == addr {
			return r, true
		}
	}
	return nil, false
}

// ByAddress returns any record (in any state) whose address matches addr,
// regardless of neighbor id. Used where an inbound packet carries no
// neighbor id of its own (Response packets only carry RUMs), so the sender
// must be resolved by address alone.
func (t *Table) ByAddress(addr netip.Addr) (*Record, bool) {
	for _, r := range t.neighbors {
		if r.Address == addr {
			return r, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of every neighbor record, for debug/control
// surfaces.
func (t *Table) Snapshot() []Record {
	out := make([]Record, 0, len(t.neighbors))
	for _, r := range t.neighbors {
		out = append(out, *r)
	}
	return out
}

// OnHello handles a discovery Hello: if no Void or Valid record exists for
// the sending id, insert a Void record, schedule its deletion, and reply
// with a Hello and a NeighborDiscovery request. Otherwise the message is
// ignored.
func (t *Table) OnHello(ifIndex int, localAddr netip.Addr, senderAddr netip.Addr, kam wire.KAM) {
	k := key{id: kam.NeighborID, addr: senderAddr}
	if existing, ok := t.neighbors[k]; ok {
		if existing.State != StateInvalid {
			return
		}
		// Re-discovery of a peer still pending garbage collection: the old
		// record's GC timer must not fire against the fresh record.
		t.sched.Cancel(existing.timerID)
	}

	rec := &Record{
		ID:        kam.NeighborID,
		Address:   senderAddr,
		Mask:      kam.GatewayMask,
		IfIndex:   ifIndex,
		LocalAddr: localAddr,
		Auth:      Auth{Type: kam.AuthType, Data: kam.AuthData, Identifier: kam.Identifier},
		State:     StateVoid,
	}
	t.neighbors[k] = rec
	t.armTimeout(rec)

	t.logger.Debug("neighbor discovered, Void",
		slog.Int("neighbor_id", int(kam.NeighborID)),
		slog.String("addr", senderAddr.String()))

	if t.cb.SendHelloReply != nil {
		t.cb.SendHelloReply(ifIndex, senderAddr, kam.NeighborID)
	}
	if t.cb.SendDiscoveryRequest != nil {
		t.cb.SendDiscoveryRequest(ifIndex, senderAddr, kam.NeighborID)
	}
}

// OnNeighborDiscoveryReply handles a neighbor-discovery reply: it promotes
// the matching Void record to Valid, rearms its timeout, and replies with
// the entire main table (subject to split horizon -- always honoured for
// this reply regardless of configuration).
func (t *Table) OnNeighborDiscoveryReply(senderID uint16, senderAddr netip.Addr) error {
	k := key{id: senderID, addr: senderAddr}
	rec, ok := t.neighbors[k]
	if !ok || rec.State != StateVoid {
		return fmt.Errorf("no Void neighbor %d/%s for discovery reply", senderID, senderAddr)
	}

	rec.State = StateValid
	t.armTimeout(rec)

	t.logger.Info("neighbor promoted to Valid",
		slog.Int("neighbor_id", int(senderID)),
		slog.String("addr", senderAddr.String()))

	if t.cb.SendEntireTable != nil {
		t.cb.SendEntireTable(rec.IfIndex, senderAddr, senderID)
	}
	return nil
}

// OnHi handles a Hi keep-alive: for a Valid record matching id, rearm
// the timeout. If no matching Valid record exists, the message is dropped.
func (t *Table) OnHi(senderID uint16, senderAddr netip.Addr) {
	k := key{id: senderID, addr: senderAddr}
	rec, ok := t.neighbors[k]
	if !ok || rec.State != StateValid {
		return
	}
	t.armTimeout(rec)
}

// CheckAuth implements the authentication policy: Void-state messages
// ignore auth; Valid-state responses require the record's {authType,
// authData} to match.
func (t *Table) CheckAuth(senderID uint16, senderAddr netip.Addr, authType wire.AuthType, authData uint16) bool {
	rec, ok := t.neighbors[key{id: senderID, addr: senderAddr}]
	if !ok {
		return false
	}
	if rec.State == StateVoid {
		return true
	}
	return rec.Auth.Matches(authType, authData)
}

// expire marks rec Invalid, schedules its deletion after
// garbageCollectionDelay, and invalidates every route whose next-hop
// equals the neighbor's address.
func (t *Table) expire(rec *Record) {
	rec.State = StateInvalid
	t.logger.Info("neighbor expired, Invalid",
		slog.Int("neighbor_id", int(rec.ID)),
		slog.String("addr", rec.Address.String()))

	if t.cb.InvalidateRoutesVia != nil {
		t.cb.InvalidateRoutesVia(rec.Address)
	}

	k := key{id: rec.ID, addr: rec.Address}
	rec.timerID = t.sched.After(t.now(), scheduler.Jitter(t.garbageCollectionDelay, gcJitterMax), func() {
		t.delete(k)
	})
}

// delete removes k from the table.
func (t *Table) delete(k key) {
	delete(t.neighbors, k)
}

// armTimeout cancels rec's pending timer (if any) and arms a fresh one at
// neighborTimeoutDelay, implementing the "cancel old, enqueue new"
// rescheduling rule.
func (t *Table) armTimeout(rec *Record) {
	t.sched.Cancel(rec.timerID)
	k := key{id: rec.ID, addr: rec.Address}
	rec.timerID = t.sched.After(t.now(), t.neighborTimeoutDelay, func() {
		current, ok := t.neighbors[k]
		if !ok || current != rec {
			return
		}
		switch rec.State {
		case StateVoid:
			t.delete(k)
		case StateValid:
			t.expire(rec)
		}
	})
}

// gcJitterMax is the upper bound of the uniform jitter applied to
// garbage-collection deadlines.
const gcJitterMax = 5 * time.Second
