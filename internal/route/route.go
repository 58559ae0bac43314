// Package route implements the dual routing table: the main (forwarding)
// table shadowed by a backup table holding a Primary mirror and an
// optional Secondary alternative, with settling-time admission, promotion,
// and reason-sensitive invalidation.
package route

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/dantte-lp/goeslr/internal/scheduler"
)

// RouteType distinguishes a backup record's role.
type RouteType uint8

const (
	TypePrimary RouteType = iota
	TypeSecondary
)

func (t RouteType) String() string {
	if t == TypePrimary {
		return "Primary"
	}
	return "Secondary"
}

// Validity is a main-table record's reachability state.
type Validity uint8

const (
	Valid Validity = iota
	Invalid
	Disconnected
	LocalHost
	Void
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "Valid"
	case Invalid:
		return "Invalid"
	case Disconnected:
		return "Disconnected"
	case LocalHost:
		return "LocalHost"
	case Void:
		return "Void"
	default:
		return "Unknown"
	}
}

// Reason distinguishes the two invalidation triggers: a
// soft expiration timeout versus a hard link/neighbor failure.
type Reason uint8

const (
	ReasonExpire Reason = iota
	ReasonBroken
)

func (r Reason) String() string {
	if r == ReasonExpire {
		return "Expire"
	}
	return "Broken"
}

// PoisonMetric is the metric carried by a Disconnected route.
const PoisonMetric uint32 = 0

// Record is a single route entry, living in either the main table or one
// slot (Primary/Secondary) of the backup table for its prefix.
type Record struct {
	Prefix    netip.Prefix
	NextHop   netip.Addr
	IfIndex   int
	Metric    uint32
	Seq       uint16
	RouteType RouteType // meaningful only for backup records
	Validity  Validity
	Changed   bool

	order   uint64 // insertion/replacement order, for forwarding tie-break
	timerID scheduler.EventID
	stale   bool // an expiry fired with no fresh primary data since
}

// Config bundles the timer durations and jitter bounds a Table needs from
// engine configuration.
type Config struct {
	SettlingTime           time.Duration
	RouteTimeoutDelay      time.Duration
	GarbageCollectionDelay time.Duration
	RouteJitterMax         time.Duration // 0..2s
	GCJitterMax            time.Duration // 0..5s
}

// Callbacks lets the engine observe table mutations -- notably "changed"
// routes, which drive triggered updates -- without the route
// package importing the engine.
type Callbacks struct {
	// OnChanged is invoked whenever a main-table record becomes new,
	// updated, or Disconnected.
	OnChanged func(prefix netip.Prefix)

	// OnPromoted is invoked when a backup record completes settling and
	// becomes the main record for its prefix.
	OnPromoted func(prefix netip.Prefix)

	// OnInvalidated is invoked whenever a main-table record is invalidated,
	// with the reason that triggered the repair.
	OnInvalidated func(prefix netip.Prefix, reason Reason)
}

// Table owns the main and backup route collections. Not goroutine-safe:
// every method must run on the engine's single logical executor.
type Table struct {
	logger *slog.Logger
	sched  *scheduler.Scheduler
	now    func() time.Time
	cfg    Config
	cb     Callbacks

	main     map[netip.Prefix]*Record
	backup   map[netip.Prefix][]*Record // len 0, 1 (Primary), or 2 (Primary+Secondary)
	orderSeq uint64
}

// New creates an empty dual routing table.
func New(logger *slog.Logger, sched *scheduler.Scheduler, now func() time.Time, cfg Config, cb Callbacks) *Table {
	return &Table{
		logger: logger.With(slog.String("component", "route")),
		sched:  sched,
		now:    now,
		cfg:    cfg,
		cb:     cb,
		main:   make(map[netip.Prefix]*Record),
		backup: make(map[netip.Prefix][]*Record),
	}
}

// Main returns the main-table record for prefix, if any.
func (t *Table) Main(prefix netip.Prefix) (*Record, bool) {
	r, ok := t.main[prefix]
	return r, ok
}

// MainSnapshot returns every main-table record, newest-admission first --
// the tie-break order the forwarding lookup uses.
func (t *Table) MainSnapshot() []Record {
	out := make([]Record, 0, len(t.main))
	for _, r := range t.main {
		out = append(out, *r)
	}
	sortByOrderDesc(out)
	return out
}

// Backup returns the backup-table entries for prefix: primary (if any) and
// secondary (if any).
func (t *Table) Backup(prefix netip.Prefix) (primary, secondary *Record) {
	for _, r := range t.backup[prefix] {
		if r.RouteType == TypePrimary {
			primary = r
		} else {
			secondary = r
		}
	}
	return
}

// BackupSnapshot returns a copy of every backup-table record across all
// prefixes, for debug/control surfaces.
func (t *Table) BackupSnapshot() []Record {
	var out []Record
	for _, entries := range t.backup {
		for _, r := range entries {
			out = append(out, *r)
		}
	}
	return out
}

func sortByOrderDesc(recs []Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j-1].order < recs[j].order; j-- {
			recs[j-1], recs[j] = recs[j], recs[j-1]
		}
	}
}

func (t *Table) nextOrder() uint64 {
	t.orderSeq++
	return t.orderSeq
}

func (t *Table) markChanged(rec *Record) {
	rec.Changed = true
	if t.cb.OnChanged != nil {
		t.cb.OnChanged(rec.Prefix)
	}
}

// -------------------------------------------------------------------------
// Local-host routes
// -------------------------------------------------------------------------

// AddLocalHost installs or refreshes the non-expiring LocalHost main record
// for a local interface address: next-hop zero, never demoted, and
// advertised to peers on every interface other than its own.
func (t *Table) AddLocalHost(prefix netip.Prefix, ifIndex int) {
	rec, ok := t.main[prefix]
	if !ok {
		rec = &Record{
			Prefix:    prefix,
			NextHop:   netip.IPv4Unspecified(),
			IfIndex:   ifIndex,
			Validity:  LocalHost,
			RouteType: TypePrimary,
			order:     t.nextOrder(),
		}
		t.main[prefix] = rec
		return
	}
	rec.IfIndex = ifIndex
	rec.Validity = LocalHost
}

// RemoveLocalHost deletes the LocalHost main record for prefix when its
// address is removed from the interface.
func (t *Table) RemoveLocalHost(prefix netip.Prefix) {
	if rec, ok := t.main[prefix]; ok && rec.Validity == LocalHost {
		delete(t.main, prefix)
	}
}

// -------------------------------------------------------------------------
// Admission
// -------------------------------------------------------------------------

// AdmitInput describes a peer's Response RUM, already resolved to a
// candidate metric (the peer's advertised metric plus the local per-hop
// cost) by the caller via internal/metric.
type AdmitInput struct {
	Prefix   netip.Prefix
	Sender   netip.Addr
	IfIndex  int
	Metric   uint32
	Seq      uint16
}

// Admit applies the admission procedure for a received Response RUM and
// returns whether the advertisement was accepted into some backup or main
// slot. Sequence strictly dominates metric for recency: an update that
// would roll a record's sequence back is rejected outright.
func (t *Table) Admit(in AdmitInput) bool {
	entries := t.backup[in.Prefix]
	var primary, secondary *Record
	for _, r := range entries {
		if r.RouteType == TypePrimary {
			primary = r
		} else {
			secondary = r
		}
	}

	switch {
	case primary == nil && secondary == nil:
		t.admitFirstRoute(in)
		return true

	case primary != nil && secondary == nil:
		if in.Sender == primary.NextHop {
			t.refreshPrimary(primary, in)
			return true
		}
		t.insertSecondary(in)
		return true

	default: // primary != nil && secondary != nil
		switch {
		case in.Sender == primary.NextHop:
			t.refreshPrimary(primary, in)
			return true
		case in.Sender == secondary.NextHop:
			if in.Seq < secondary.Seq {
				return false // sequence rollback: reject
			}
			t.refreshSecondary(secondary, in)
			return true
		default:
			if in.Metric < secondary.Metric && in.Seq >= secondary.Seq {
				t.replaceSecondary(secondary, in)
				return true
			}
			return false
		}
	}
}

// admitFirstRoute handles a prefix with no primary and no secondary:
// create both a main record and a Primary backup record immediately, no
// settling.
func (t *Table) admitFirstRoute(in AdmitInput) {
	primary := &Record{
		Prefix:    in.Prefix,
		NextHop:   in.Sender,
		IfIndex:   in.IfIndex,
		Metric:    in.Metric,
		Seq:       in.Seq,
		RouteType: TypePrimary,
		Validity:  Valid,
		order:     t.nextOrder(),
	}
	t.backup[in.Prefix] = []*Record{primary}

	main := &Record{
		Prefix:   in.Prefix,
		NextHop:  in.Sender,
		IfIndex:  in.IfIndex,
		Metric:   in.Metric,
		Seq:      in.Seq,
		Validity: Valid,
		order:    t.nextOrder(),
	}
	t.main[in.Prefix] = main
	t.armSharedExpiry(main, primary)
	t.markChanged(main)
}

// refreshPrimary updates the Primary in place, refreshing its schedule and
// metric regardless of whether the metric changed. The current next-hop is
// trusted unconditionally; only third-party candidates compete on metric.
func (t *Table) refreshPrimary(primary *Record, in AdmitInput) {
	primary.Metric = in.Metric
	primary.Seq = in.Seq
	primary.IfIndex = in.IfIndex
	primary.stale = false

	if main, ok := t.main[in.Prefix]; ok {
		changed := main.Metric != in.Metric || main.Seq != in.Seq
		main.Metric = in.Metric
		main.Seq = in.Seq
		main.IfIndex = in.IfIndex
		main.Validity = Valid
		if changed {
			t.markChanged(main)
		}
		t.armSharedExpiry(main, primary)
	}
}

// insertSecondary admits a new alternate next-hop into the backup table,
// where it begins its settling interval.
func (t *Table) insertSecondary(in AdmitInput) {
	sec := &Record{
		Prefix:    in.Prefix,
		NextHop:   in.Sender,
		IfIndex:   in.IfIndex,
		Metric:    in.Metric,
		Seq:       in.Seq,
		RouteType: TypeSecondary,
		Validity:  Valid,
		order:     t.nextOrder(),
	}
	t.backup[in.Prefix] = append(t.backup[in.Prefix], sec)
	t.armSettling(sec)
}

// refreshSecondary updates an existing secondary in place and re-arms its
// settling timer, whether it was freshly inserted or demoted by a prior
// promotion; a refreshed demoted record is thus a promotion candidate again.
func (t *Table) refreshSecondary(sec *Record, in AdmitInput) {
	sec.Metric = in.Metric
	sec.Seq = in.Seq
	sec.IfIndex = in.IfIndex
	sec.stale = false
	t.armSettling(sec)
}

// replaceSecondary displaces the existing secondary with a better-metric,
// non-stale-sequence candidate from a third next-hop.
func (t *Table) replaceSecondary(old *Record, in AdmitInput) {
	t.sched.Cancel(old.timerID)
	sec := &Record{
		Prefix:    in.Prefix,
		NextHop:   in.Sender,
		IfIndex:   in.IfIndex,
		Metric:    in.Metric,
		Seq:       in.Seq,
		RouteType: TypeSecondary,
		Validity:  Valid,
		order:     t.nextOrder(),
	}
	entries := t.backup[in.Prefix]
	for i, r := range entries {
		if r == old {
			entries[i] = sec
			break
		}
	}
	t.backup[in.Prefix] = entries
	t.armSettling(sec)
}

// armSettling arms (cancel-old, enqueue-new) a backup record's
// move-to-main timer.
func (t *Table) armSettling(rec *Record) {
	t.sched.Cancel(rec.timerID)
	prefix := rec.Prefix
	rec.timerID = t.sched.After(t.now(), scheduler.Jitter(t.cfg.SettlingTime, t.cfg.RouteJitterMax), func() {
		t.promote(prefix, rec)
	})
}

// armSharedExpiry arms the single shared timer covering a main record and
// its Primary backup mirror. The two always agree on next-hop, interface,
// and sequence number, so they share one pending timer event; running two
// lockstep timers would only add a way for them to drift.
func (t *Table) armSharedExpiry(main, primary *Record) {
	t.sched.Cancel(main.timerID)
	prefix := main.Prefix
	id := t.sched.After(t.now(), scheduler.Jitter(t.cfg.RouteTimeoutDelay, t.cfg.RouteJitterMax), func() {
		t.Invalidate(prefix, ReasonExpire)
	})
	main.timerID = id
	primary.timerID = id
}

// -------------------------------------------------------------------------
// Promotion
// -------------------------------------------------------------------------

// promote fires when a backup record's settling interval ends: install
// (or refresh) the main record from it, mark it Primary, and demote any
// other backup record for the same prefix to Secondary armed at
// routeTimeoutDelay.
func (t *Table) promote(prefix netip.Prefix, rec *Record) {
	entries := t.backup[prefix]
	stillPresent := false
	for _, r := range entries {
		if r == rec {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		return // replaced or removed before settling completed
	}

	main, exists := t.main[prefix]
	if !exists {
		main = &Record{Prefix: prefix, order: t.nextOrder()}
		t.main[prefix] = main
	}
	main.NextHop = rec.NextHop
	main.IfIndex = rec.IfIndex
	main.Metric = rec.Metric
	main.Seq = rec.Seq
	main.Validity = Valid

	wasPrimary := rec.RouteType == TypePrimary
	rec.RouteType = TypePrimary

	for _, other := range entries {
		if other == rec {
			continue
		}
		other.RouteType = TypeSecondary
		t.sched.Cancel(other.timerID)
		otherCopy := other
		otherPrefix := prefix
		other.timerID = t.sched.After(t.now(), scheduler.Jitter(t.cfg.RouteTimeoutDelay, t.cfg.RouteJitterMax), func() {
			t.expireSecondary(otherPrefix, otherCopy)
		})
	}

	t.armSharedExpiry(main, rec)
	if !wasPrimary {
		t.logger.Info("route promoted to main",
			slog.String("prefix", prefix.String()),
			slog.String("next_hop", rec.NextHop.String()))
		if t.cb.OnPromoted != nil {
			t.cb.OnPromoted(prefix)
		}
	}
	t.markChanged(main)
}

// expireSecondary removes a secondary backup record whose own timer fired
// without it ever being promoted.
func (t *Table) expireSecondary(prefix netip.Prefix, rec *Record) {
	entries := t.backup[prefix]
	for i, r := range entries {
		if r == rec {
			t.backup[prefix] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}

// -------------------------------------------------------------------------
// Invalidation
// -------------------------------------------------------------------------

// Invalidate runs the repair procedure for prefix, triggered by an
// expiration timer, an interface going down, or a peer advertising a
// disconnected prefix. Expiration is a soft failure (prefer the existing
// primary, upgrade only on evidence of a better alternate); brokenness is
// a hard failure (take any alternate).
func (t *Table) Invalidate(prefix netip.Prefix, reason Reason) {
	main, ok := t.main[prefix]
	if !ok || main.Validity == LocalHost {
		return
	}
	primary, secondary := t.Backup(prefix)

	if t.cb.OnInvalidated != nil {
		t.cb.OnInvalidated(prefix, reason)
	}

	switch reason {
	case ReasonExpire:
		t.invalidateExpire(prefix, main, primary, secondary)
	case ReasonBroken:
		t.invalidateBroken(prefix, main, primary, secondary)
	}
}

func (t *Table) invalidateExpire(prefix netip.Prefix, main, primary, secondary *Record) {
	switch {
	case secondary == nil:
		if main.stale {
			t.demoteToInvalid(prefix, main, primary)
			return
		}
		main.stale = true
		if primary != nil {
			primary.stale = true
		}
		t.armSharedExpiry(main, orElse(primary, main))

	case primary != nil && primary.Metric <= secondary.Metric:
		t.sched.Cancel(main.timerID)
		main.Metric = primary.Metric
		main.Seq = primary.Seq
		main.NextHop = primary.NextHop
		main.IfIndex = primary.IfIndex
		main.stale = false
		t.armSharedExpiry(main, primary)

	default:
		t.adoptSecondary(prefix, main, primary, secondary)
	}
}

func (t *Table) invalidateBroken(prefix netip.Prefix, main, primary, secondary *Record) {
	if secondary != nil {
		t.adoptSecondary(prefix, main, primary, secondary)
		return
	}

	main.Validity = Disconnected
	main.Metric = PoisonMetric
	if primary != nil {
		primary.Validity = Disconnected
		primary.Metric = PoisonMetric
	}
	t.markChanged(main)

	t.sched.Cancel(main.timerID)
	id := t.sched.After(t.now(), scheduler.Jitter(t.cfg.GarbageCollectionDelay, t.cfg.GCJitterMax), func() {
		t.garbageCollect(prefix)
	})
	main.timerID = id
	if primary != nil {
		primary.timerID = id
	}

	t.logger.Info("route disconnected",
		slog.String("prefix", prefix.String()))
}

// adoptSecondary implements the "replace both M and P with the contents of
// S; delete S" repair step used by both Expire (when the secondary is
// strictly better) and Broken (unconditionally).
func (t *Table) adoptSecondary(prefix netip.Prefix, main, primary, secondary *Record) {
	t.sched.Cancel(secondary.timerID)
	entries := t.backup[prefix]
	for i, r := range entries {
		if r == secondary {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	t.backup[prefix] = entries

	main.NextHop = secondary.NextHop
	main.IfIndex = secondary.IfIndex
	main.Metric = secondary.Metric
	main.Seq = secondary.Seq
	main.Validity = Valid
	main.stale = false

	if primary == nil {
		primary = &Record{Prefix: prefix, RouteType: TypePrimary, order: t.nextOrder()}
		t.backup[prefix] = append(t.backup[prefix], primary)
	}
	primary.NextHop = secondary.NextHop
	primary.IfIndex = secondary.IfIndex
	primary.Metric = secondary.Metric
	primary.Seq = secondary.Seq
	primary.Validity = Valid
	primary.stale = false

	t.armSharedExpiry(main, primary)
	t.markChanged(main)

	t.logger.Info("adopted backup path",
		slog.String("prefix", prefix.String()),
		slog.String("next_hop", main.NextHop.String()))
}

func (t *Table) demoteToInvalid(prefix netip.Prefix, main, primary *Record) {
	main.Validity = Invalid
	if primary != nil {
		primary.Validity = Invalid
	}
	t.sched.Cancel(main.timerID)
	id := t.sched.After(t.now(), scheduler.Jitter(t.cfg.GarbageCollectionDelay, t.cfg.GCJitterMax), func() {
		t.garbageCollect(prefix)
	})
	main.timerID = id
	if primary != nil {
		primary.timerID = id
	}
}

func (t *Table) garbageCollect(prefix netip.Prefix) {
	delete(t.main, prefix)
	delete(t.backup, prefix)
}

func orElse(r, fallback *Record) *Record {
	if r != nil {
		return r
	}
	return fallback
}

// -------------------------------------------------------------------------
// Host-stack driven invalidation
// -------------------------------------------------------------------------

// InvalidateInterface invalidates (reason Broken) every main route whose
// interface equals ifIndex; after it returns no non-local record on that
// interface is still Valid.
func (t *Table) InvalidateInterface(ifIndex int) {
	var prefixes []netip.Prefix
	for p, r := range t.main {
		if r.IfIndex == ifIndex && r.Validity != LocalHost {
			prefixes = append(prefixes, p)
		}
	}
	for _, p := range prefixes {
		t.Invalidate(p, ReasonBroken)
	}
}

// InvalidateNextHop invalidates (reason Broken) every main route whose
// next-hop equals addr, e.g. when the neighbor at that address expires.
func (t *Table) InvalidateNextHop(addr netip.Addr) {
	var prefixes []netip.Prefix
	for p, r := range t.main {
		if r.Validity != LocalHost && r.NextHop == addr {
			prefixes = append(prefixes, p)
		}
	}
	for _, p := range prefixes {
		t.Invalidate(p, ReasonBroken)
	}
}

// ClearAllChanged clears every main record's Changed flag after an update
// fan-out completes across all interfaces.
func (t *Table) ClearAllChanged() {
	for _, r := range t.main {
		r.Changed = false
	}
}

// OrphanedPrefixes returns the prefixes on ifIndex whose backup table had
// no Secondary alternative at the moment the interface went down -- the
// set the engine must pull from the remaining neighbors.
func (t *Table) OrphanedPrefixes(ifIndex int) []netip.Prefix {
	var out []netip.Prefix
	for p, r := range t.main {
		if r.IfIndex != ifIndex || r.Validity == LocalHost {
			continue
		}
		if _, secondary := t.Backup(p); secondary == nil {
			out = append(out, p)
		}
	}
	return out
}
