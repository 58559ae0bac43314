// Package engine implements the ESLR protocol engine: packet
// dispatch, split horizon, periodic/triggered/fast-triggered update
// scheduling, route pull, and host-stack event translation.
//
// The dispatch shape -- decode, validate, mutate owned tables, schedule
// follow-up work -- is shared by both the neighbor and route tables, so
// the engine wires the same pattern to each.
package engine

import (
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/goeslr/internal/metric"
	"github.com/dantte-lp/goeslr/internal/neighbor"
	"github.com/dantte-lp/goeslr/internal/route"
	"github.com/dantte-lp/goeslr/internal/scheduler"
	"github.com/dantte-lp/goeslr/internal/wire"
)

// Protocol UDP ports.
const (
	BroadcastPort     uint16 = 275
	AdvertisementPort uint16 = 276
)

// PrintingMethod selects the periodic debug snapshot surface.
type PrintingMethod uint8

const (
	PrintOff PrintingMethod = iota
	PrintMain
	PrintBackup
	PrintNeighbor
)

// String returns the configuration name of the printing method.
func (m PrintingMethod) String() string {
	switch m {
	case PrintMain:
		return "main"
	case PrintBackup:
		return "backup"
	case PrintNeighbor:
		return "neighbor"
	default:
		return "off"
	}
}

// ParsePrintingMethod maps a configuration string to its PrintingMethod.
// The empty string means off.
func ParsePrintingMethod(s string) (PrintingMethod, bool) {
	switch s {
	case "", "off":
		return PrintOff, true
	case "main":
		return PrintMain, true
	case "backup":
		return PrintBackup, true
	case "neighbor":
		return PrintNeighbor, true
	default:
		return PrintOff, false
	}
}

// debugPrintInterval is the period of the debug snapshot printer event.
const debugPrintInterval = 30 * time.Second

// HostAddress is one address entry reported by the host stack.
type HostAddress struct {
	Addr  netip.Addr
	Mask  uint32
	Scope AddressScope
}

// AddressScope distinguishes global-scope from link-scope addresses: the
// source address is selected from the chosen interface's global-scope
// addresses.
type AddressScope uint8

const (
	ScopeGlobal AddressScope = iota
	ScopeLink
)

// Host is the minimal host-stack contract the engine depends on.
type Host interface {
	InterfacesCount() int
	IsUp(ifIndex int) bool
	Addresses(ifIndex int) []HostAddress
	MTU(ifIndex int) int
	LinkAttrs(ifIndex int) metric.LinkAttrs
	RouterQueue() metric.RouterQueue
}

// Transport is the minimal send contract the engine depends on; concrete
// UDP binding lives in internal/netio.
type Transport interface {
	SendBroadcast(ifIndex int, port uint16, payload []byte)
	SendUnicast(ifIndex int, dst netip.Addr, port uint16, payload []byte)
}

// Metrics is an optional observation hook (protocol "ambient addition":
// every silently-dropped packet still increments a counter). A nil Metrics
// is valid; every call site guards against it.
type Metrics interface {
	PacketReceived(kind string)
	PacketDropped(reason string)
	PacketSent(kind string)
	RoutePromoted()
	RouteInvalidated(reason string)
	TriggeredSuppressed()
}

// Config bundles every engine-level timer, weight, and policy option.
type Config struct {
	KamInterval            time.Duration
	NeighborTimeoutDelay   time.Duration
	GarbageCollectionDelay time.Duration
	StartupDelay           time.Duration
	SplitHorizon           bool
	RouteTimeoutDelay      time.Duration
	SettlingTime           time.Duration
	MinTriggeredCooldown   time.Duration
	MaxTriggeredCooldown   time.Duration
	PeriodicUpdateDelay    time.Duration
	K1, K2, K3             uint8
	PrintingMethod         PrintingMethod
	ExcludeInterface       func(ifIndex int) bool

	RouteJitterMax time.Duration
	GCJitterMax    time.Duration

	LocalNeighborID uint16
	AuthType        wire.AuthType
	AuthData        uint16
	Identifier      uint8
}

func (c Config) excluded(ifIndex int) bool {
	return c.ExcludeInterface != nil && c.ExcludeInterface(ifIndex)
}

// Engine owns the neighbor table, the dual route table, and the timers
// that drive them. Not goroutine-safe: every method must run on the
// caller's single logical executor.
type Engine struct {
	logger    *slog.Logger
	sched     *scheduler.Scheduler
	now       func() time.Time
	cfg       Config
	host      Host
	transport Transport
	metrics   Metrics

	Neighbors *neighbor.Table
	Routes    *route.Table

	// printing is the debug snapshot printer's surface selector. Atomic
	// because the control API flips it from outside the engine's executor;
	// the printer event only ever reads it.
	printing atomic.Int32

	triggeredArmed bool
	triggeredID    scheduler.EventID
	periodicID     scheduler.EventID
	kamID          scheduler.EventID
	printID        scheduler.EventID
}

// New wires a fresh Engine: its neighbor and route tables, with callbacks
// closing back into engine methods. Both tables are owned collections,
// never holding back-pointers to each other directly.
func New(logger *slog.Logger, sched *scheduler.Scheduler, now func() time.Time, cfg Config, host Host, transport Transport, metrics Metrics) *Engine {
	e := &Engine{
		logger:    logger.With(slog.String("component", "engine")),
		sched:     sched,
		now:       now,
		cfg:       cfg,
		host:      host,
		transport: transport,
		metrics:   metrics,
	}
	e.printing.Store(int32(cfg.PrintingMethod))

	e.Routes = route.New(logger, sched, now, route.Config{
		SettlingTime:           cfg.SettlingTime,
		RouteTimeoutDelay:      cfg.RouteTimeoutDelay,
		GarbageCollectionDelay: cfg.GarbageCollectionDelay,
		RouteJitterMax:         cfg.RouteJitterMax,
		GCJitterMax:            cfg.GCJitterMax,
	}, route.Callbacks{
		OnChanged:     e.onRouteChanged,
		OnPromoted:    e.onRoutePromoted,
		OnInvalidated: e.onRouteInvalidated,
	})

	e.Neighbors = neighbor.New(logger, sched, now, neighbor.Config{
		NeighborTimeoutDelay:   cfg.NeighborTimeoutDelay,
		GarbageCollectionDelay: cfg.GarbageCollectionDelay,
	}, neighbor.Callbacks{
		SendHelloReply:       e.sendHelloReply,
		SendDiscoveryRequest: e.sendDiscoveryRequest,
		SendEntireTable:      e.sendEntireTableReply,
		InvalidateRoutesVia:  e.Routes.InvalidateNextHop,
	})

	return e
}

func (e *Engine) metricDropped(reason string) {
	if e.metrics != nil {
		e.metrics.PacketDropped(reason)
	}
}

func (e *Engine) metricReceived(kind string) {
	if e.metrics != nil {
		e.metrics.PacketReceived(kind)
	}
}

func (e *Engine) metricSent(kind string) {
	if e.metrics != nil {
		e.metrics.PacketSent(kind)
	}
}

func (e *Engine) onRoutePromoted(netip.Prefix) {
	if e.metrics != nil {
		e.metrics.RoutePromoted()
	}
}

func (e *Engine) onRouteInvalidated(_ netip.Prefix, reason route.Reason) {
	if e.metrics != nil {
		e.metrics.RouteInvalidated(reason.String())
	}
}

// -------------------------------------------------------------------------
// Startup
// -------------------------------------------------------------------------

// Start installs local-host routes for every already-up interface, arms the
// periodic update loop and the keep-alive loop, and schedules a jittered
// first discovery broadcast on every enabled interface.
func (e *Engine) Start() {
	e.schedulePeriodic()
	e.scheduleKeepAlive()
	e.scheduleDebugPrint()

	for i := 0; i < e.host.InterfacesCount(); i++ {
		if !e.host.IsUp(i) || e.cfg.excluded(i) {
			continue
		}
		e.installLocalHostRoutes(i)
		ifIndex := i
		e.sched.After(e.now(), scheduler.Jitter(0, e.cfg.StartupDelay), func() {
			e.sendHello(ifIndex)
		})
	}
}

func (e *Engine) installLocalHostRoutes(ifIndex int) {
	for _, a := range e.host.Addresses(ifIndex) {
		if a.Scope != ScopeGlobal {
			continue
		}
		bits := maskBits(a.Mask)
		if bits < 0 {
			continue
		}
		e.Routes.AddLocalHost(netip.PrefixFrom(a.Addr, bits).Masked(), ifIndex)
	}
}

func (e *Engine) schedulePeriodic() {
	e.periodicID = e.sched.After(e.now(), scheduler.Jitter(e.cfg.PeriodicUpdateDelay, e.cfg.PeriodicUpdateDelay), e.runPeriodic)
}

func (e *Engine) scheduleKeepAlive() {
	e.kamID = e.sched.After(e.now(), e.cfg.KamInterval, e.runKeepAlive)
}

func (e *Engine) scheduleDebugPrint() {
	e.printID = e.sched.After(e.now(), debugPrintInterval, e.runDebugPrint)
}

// -------------------------------------------------------------------------
// Debug snapshot printer
// -------------------------------------------------------------------------

// PrintingMethod returns the debug snapshot printer's current surface.
func (e *Engine) PrintingMethod() PrintingMethod {
	return PrintingMethod(e.printing.Load())
}

// SetPrintingMethod switches the debug snapshot printer's surface. Safe to
// call from any goroutine.
func (e *Engine) SetPrintingMethod(m PrintingMethod) {
	e.printing.Store(int32(m))
}

// runDebugPrint is the low-frequency printer event: it logs a snapshot of
// the selected table and rearms itself. Pure observation; it never mutates
// protocol state.
func (e *Engine) runDebugPrint() {
	switch e.PrintingMethod() {
	case PrintMain:
		recs := e.Routes.MainSnapshot()
		e.logger.Info("table snapshot", slog.String("table", "main"), slog.Int("routes", len(recs)))
		for _, rec := range recs {
			e.logger.Info("main route",
				slog.String("prefix", rec.Prefix.String()),
				slog.String("next_hop", rec.NextHop.String()),
				slog.Int("if_index", rec.IfIndex),
				slog.Uint64("metric", uint64(rec.Metric)),
				slog.Uint64("seq", uint64(rec.Seq)),
				slog.String("validity", rec.Validity.String()))
		}
	case PrintBackup:
		recs := e.Routes.BackupSnapshot()
		e.logger.Info("table snapshot", slog.String("table", "backup"), slog.Int("routes", len(recs)))
		for _, rec := range recs {
			e.logger.Info("backup route",
				slog.String("prefix", rec.Prefix.String()),
				slog.String("next_hop", rec.NextHop.String()),
				slog.Int("if_index", rec.IfIndex),
				slog.Uint64("metric", uint64(rec.Metric)),
				slog.Uint64("seq", uint64(rec.Seq)),
				slog.String("route_type", rec.RouteType.String()),
				slog.String("validity", rec.Validity.String()))
		}
	case PrintNeighbor:
		recs := e.Neighbors.Snapshot()
		e.logger.Info("table snapshot", slog.String("table", "neighbor"), slog.Int("neighbors", len(recs)))
		for _, rec := range recs {
			e.logger.Info("neighbor",
				slog.Int("neighbor_id", int(rec.ID)),
				slog.String("addr", rec.Address.String()),
				slog.Int("if_index", rec.IfIndex),
				slog.String("state", rec.State.String()))
		}
	}
	e.scheduleDebugPrint()
}

// -------------------------------------------------------------------------
// Inbound dispatch
// -------------------------------------------------------------------------

// HandlePacket decodes and dispatches a datagram received on ifIndex from
// senderAddr, destined for the interface's address localAddr. A packet
// whose source matches any local interface address is dropped (loop
// suppression).
func (e *Engine) HandlePacket(ifIndex int, localAddr, senderAddr netip.Addr, data []byte) {
	if e.isLocalAddress(senderAddr) {
		e.metricDropped("loopback-source")
		return
	}

	pkt, err := wire.Decode(data)
	if err != nil {
		e.logger.Debug("decode failed", slog.String("error", err.Error()))
		e.metricDropped("decode")
		return
	}

	switch pkt.Header.Command {
	case wire.CommandKeepAlive:
		e.handleKeepAlive(ifIndex, localAddr, senderAddr, pkt)
	case wire.CommandRouteUpdate:
		e.handleRouteUpdate(ifIndex, localAddr, senderAddr, pkt)
	case wire.CommandServerRouterCom:
		e.handleServerCom(ifIndex, senderAddr, pkt)
	default:
		e.metricDropped("unknown-command")
	}
}

func (e *Engine) isLocalAddress(addr netip.Addr) bool {
	for i := 0; i < e.host.InterfacesCount(); i++ {
		for _, a := range e.host.Addresses(i) {
			if a.Addr == addr {
				return true
			}
		}
	}
	return false
}

func (e *Engine) handleKeepAlive(ifIndex int, localAddr, senderAddr netip.Addr, pkt *wire.Packet) {
	for _, kam := range pkt.KAMs {
		switch kam.Kind {
		case wire.KAMKindHello:
			e.metricReceived("hello")
			e.Neighbors.OnHello(ifIndex, localAddr, senderAddr, kam)
		case wire.KAMKindHi:
			if !e.Neighbors.CheckAuth(kam.NeighborID, senderAddr, kam.AuthType, kam.AuthData) {
				e.metricDropped("auth")
				continue
			}
			e.metricReceived("hi")
			e.Neighbors.OnHi(kam.NeighborID, senderAddr)
		}
	}
}

func (e *Engine) handleRouteUpdate(ifIndex int, localAddr, senderAddr netip.Addr, pkt *wire.Packet) {
	switch pkt.Header.RUSubCommand {
	case wire.RUSubCommandRequest:
		e.handleRequest(ifIndex, senderAddr, pkt)
	case wire.RUSubCommandResponse:
		e.handleResponse(ifIndex, senderAddr, pkt)
	}
}

// handleRequest implements the Request branch of route pull:
// NeighborDiscovery is answered the same as EntireTable.
func (e *Engine) handleRequest(ifIndex int, senderAddr netip.Addr, pkt *wire.Packet) {
	e.metricReceived("request")
	switch pkt.Header.RequestType {
	case wire.RequestTypeNeighborDiscovery, wire.RequestTypeEntireTable, wire.RequestTypeRespondAll:
		e.sendUpdate(ifIndex, &senderAddr, false, wire.RequestTypeEntireTable, wire.AdFlagNone)
	case wire.RequestTypeOneEntry, wire.RequestTypeNEntries:
		e.sendRequestedPrefixes(ifIndex, senderAddr, pkt)
	}
}

func (e *Engine) sendRequestedPrefixes(ifIndex int, senderAddr netip.Addr, pkt *wire.Packet) {
	var rums []wire.RUM
	disconnected := false
	for _, req := range pkt.RUMs {
		prefix, ok := prefixFromWire(req.Prefix, req.Mask)
		if !ok {
			continue
		}
		main, ok := e.Routes.Main(prefix)
		if !ok || (main.Validity != route.Valid && main.Validity != route.Disconnected) {
			continue
		}
		if main.Validity == route.Disconnected {
			disconnected = true
		}
		rums = append(rums, rumFromRecord(*main))
	}
	if len(rums) == 0 {
		return
	}
	flags := wire.AdFlagNone
	if disconnected {
		flags |= wire.AdFlagDisconnected
	}
	e.sendPacket(ifIndex, &senderAddr, wire.RUSubCommandResponse, wire.RequestTypeNEntries, flags, rums)
}

// handleResponse implements the admission procedure plus the
// neighbor-discovery-reply promotion and the disconnected-prefix Broken
// invalidation path.
func (e *Engine) handleResponse(ifIndex int, senderAddr netip.Addr, pkt *wire.Packet) {
	e.metricReceived("response")

	// Response packets carry no neighbor id (only KAMs do); the sender is
	// resolved by address alone.
	rec, known := e.Neighbors.ByAddress(senderAddr)
	if !known {
		e.metricDropped("unknown-neighbor")
		return
	}
	if rec.State == neighbor.StateVoid {
		if err := e.Neighbors.OnNeighborDiscoveryReply(rec.ID, senderAddr); err != nil {
			e.logger.Debug("discovery reply", slog.String("error", err.Error()))
		}
	} else if rec.State == neighbor.StateInvalid {
		e.metricDropped("invalid-neighbor")
		return
	} else if !e.Neighbors.CheckAuth(rec.ID, senderAddr, pkt.Header.AuthType, pkt.Header.AuthData) {
		e.metricDropped("auth")
		return
	}

	disconnected := pkt.Header.HasFlag(wire.AdFlagDisconnected)

	attrs := e.host.LinkAttrs(ifIndex)
	queue := e.host.RouterQueue()
	weights := metric.Weights{K1: e.cfg.K1, K2: e.cfg.K2, K3: e.cfg.K3}
	perHop := metric.PerHopCost(weights, attrs, queue)

	for _, rum := range pkt.RUMs {
		prefix, ok := prefixFromWire(rum.Prefix, rum.Mask)
		if !ok {
			e.metricDropped("bad-prefix")
			continue
		}
		if e.isOwnNetwork(prefix) {
			e.metricDropped("own-network")
			continue
		}

		if disconnected {
			e.handleDisconnectedAdvert(prefix, senderAddr)
			continue
		}

		candidate := metric.CandidateMetric(rum.Metric, perHop)
		admitted := e.Routes.Admit(route.AdmitInput{
			Prefix:  prefix,
			Sender:  senderAddr,
			IfIndex: ifIndex,
			Metric:  candidate,
			Seq:     rum.Seq,
		})
		if !admitted {
			e.metricDropped("stale-sequence")
		}
	}
}

func (e *Engine) isOwnNetwork(prefix netip.Prefix) bool {
	for i := 0; i < e.host.InterfacesCount(); i++ {
		for _, a := range e.host.Addresses(i) {
			if netip.PrefixFrom(a.Addr, prefix.Bits()).Masked() == prefix {
				return true
			}
		}
	}
	return false
}

func (e *Engine) handleDisconnectedAdvert(prefix netip.Prefix, senderAddr netip.Addr) {
	if _, ok := e.Routes.Main(prefix); !ok {
		return
	}
	if primary, _ := e.Routes.Backup(prefix); primary != nil && primary.NextHop == senderAddr {
		e.Routes.Invalidate(prefix, route.ReasonBroken)
	}
}

func (e *Engine) handleServerCom(ifIndex int, senderAddr netip.Addr, pkt *wire.Packet) {
	e.metricReceived("server-com")
	for _, src := range pkt.SRCs {
		prefix, ok := prefixFromWire(src.Server, src.Mask)
		if !ok {
			continue
		}
		q := metric.RouterQueue{ServiceRate: float64(src.ServiceRate), ArrivalRate: float64(src.ArrivalRate)}
		cost := metric.ServerCost(e.cfg.K1, q)
		e.Routes.AddLocalHost(prefix, ifIndex)
		if main, ok := e.Routes.Main(prefix); ok {
			main.Metric = cost
			e.onRouteChanged(prefix)
		}
	}
}

func prefixFromWire(addr [4]byte, mask uint32) (netip.Prefix, bool) {
	bits := maskBits(mask)
	if bits < 0 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(netip.AddrFrom4(addr), bits).Masked(), true
}

func maskBits(mask uint32) int {
	n := 0
	seenZero := false
	for i := 31; i >= 0; i-- {
		bit := (mask >> uint(i)) & 1
		if bit == 1 {
			if seenZero {
				return -1
			}
			n++
		} else {
			seenZero = true
		}
	}
	return n
}

func prefixToWireMask(prefix netip.Prefix) uint32 {
	bits := prefix.Bits()
	if bits <= 0 {
		return 0
	}
	return ^uint32(0) << uint(32-bits)
}

// -------------------------------------------------------------------------
// Outbound reply helpers wired into neighbor.Callbacks
// -------------------------------------------------------------------------

func (e *Engine) sendHelloReply(ifIndex int, addr netip.Addr, id uint16) {
	e.sendHelloTo(ifIndex, &addr, wire.KAMKindHello)
}

func (e *Engine) sendDiscoveryRequest(ifIndex int, addr netip.Addr, id uint16) {
	e.sendPacket(ifIndex, &addr, wire.RUSubCommandRequest, wire.RequestTypeNeighborDiscovery, wire.AdFlagNone, nil)
}

func (e *Engine) sendEntireTableReply(ifIndex int, addr netip.Addr, id uint16) {
	e.sendUpdate(ifIndex, &addr, false, wire.RequestTypeEntireTable, wire.AdFlagNone)
}

// sendHello broadcasts a Hello KAM on ifIndex, used on both startup and
// interfaceUp.
func (e *Engine) sendHello(ifIndex int) {
	e.sendHelloTo(ifIndex, nil, wire.KAMKindHello)
}

func (e *Engine) sendHelloTo(ifIndex int, dst *netip.Addr, kind wire.KAMKind) {
	kam := e.localKAM(ifIndex, kind)
	e.sendKAM(ifIndex, dst, kam)
	e.metricSent("hello")
}

// localKAM builds a keep-alive record describing this router on ifIndex:
// the gateway fields carry the interface's global-scope address so the
// receiving side can record the sender as a candidate next-hop.
func (e *Engine) localKAM(ifIndex int, kind wire.KAMKind) wire.KAM {
	kam := wire.KAM{
		Kind:       kind,
		AuthType:   e.cfg.AuthType,
		AuthData:   e.cfg.AuthData,
		Identifier: e.cfg.Identifier,
		NeighborID: e.cfg.LocalNeighborID,
	}
	for _, a := range e.host.Addresses(ifIndex) {
		if a.Scope != ScopeGlobal {
			continue
		}
		kam.Gateway = a.Addr.As4()
		kam.GatewayMask = a.Mask
		break
	}
	return kam
}

func (e *Engine) sendKAM(ifIndex int, dst *netip.Addr, kam wire.KAM) {
	pkt := &wire.Packet{
		Header: wire.Header{
			Command:  wire.CommandKeepAlive,
			Count:    1,
			AuthType: kam.AuthType,
			AuthData: kam.AuthData,
		},
		KAMs: []wire.KAM{kam},
	}
	buf := make([]byte, wire.EncodedLen(pkt))
	n, err := wire.Encode(pkt, buf)
	if err != nil {
		e.logger.Warn("encode failed", slog.String("error", err.Error()))
		return
	}
	e.transmit(ifIndex, dst, BroadcastPort, buf[:n])
}

func (e *Engine) sendPacket(ifIndex int, dst *netip.Addr, rusub wire.RUSubCommand, reqType wire.RequestType, flags wire.AdFlag, rums []wire.RUM) {
	pkt := &wire.Packet{
		Header: wire.Header{
			Command:      wire.CommandRouteUpdate,
			RUSubCommand: rusub,
			RequestType:  reqType,
			Count:        uint8(len(rums)),
			AdFlags:      flags,
			AuthType:     e.cfg.AuthType,
			AuthData:     e.cfg.AuthData,
		},
		RUMs: rums,
	}
	buf := make([]byte, wire.EncodedLen(pkt))
	n, err := wire.Encode(pkt, buf)
	if err != nil {
		e.logger.Warn("encode failed", slog.String("error", err.Error()))
		return
	}
	port := AdvertisementPort
	if rusub == wire.RUSubCommandRequest {
		port = BroadcastPort
	}
	e.transmit(ifIndex, dst, port, buf[:n])
}

func (e *Engine) transmit(ifIndex int, dst *netip.Addr, port uint16, payload []byte) {
	if dst != nil {
		e.transport.SendUnicast(ifIndex, *dst, port, payload)
		return
	}
	e.transport.SendBroadcast(ifIndex, port, payload)
}

// -------------------------------------------------------------------------
// Outbound update assembly
// -------------------------------------------------------------------------

func rumFromRecord(r route.Record) wire.RUM {
	return wire.RUM{
		Seq:    r.Seq,
		Metric: r.Metric,
		Prefix: r.Prefix.Addr().As4(),
		Mask:   prefixToWireMask(r.Prefix),
	}
}

// buildRUMs assembles the outbound record set for ifIndex. onlyChanged
// restricts to routes with the Changed flag set (triggered and
// fast-triggered updates); otherwise every eligible route is included
// (periodic, and full-table replies). splitHorizon omits routes whose
// selected interface equals ifIndex. Disconnected records ride only on
// changed-driven updates: each is poisoned exactly once and never repeated
// by a later periodic update. buildRUMs also reports whether any included
// record is Disconnected, so the caller can set the header's Disconnected
// bit.
func (e *Engine) buildRUMs(ifIndex int, onlyChanged, splitHorizon bool) (rums []wire.RUM, hasDisconnected bool) {
	for _, rec := range e.Routes.MainSnapshot() {
		if onlyChanged && !rec.Changed {
			continue
		}
		switch rec.Validity {
		case route.Valid, route.Disconnected, route.LocalHost:
		default:
			continue
		}
		if rec.Validity == route.Disconnected && !rec.Changed {
			continue
		}
		if splitHorizon && rec.IfIndex == ifIndex {
			continue
		}
		// Local-host routes are never advertised back out their own
		// interface (redundant: the peer is already directly attached).
		if rec.Validity == route.LocalHost && rec.IfIndex == ifIndex {
			continue
		}

		if rec.Validity == route.Disconnected {
			hasDisconnected = true
		}

		rums = append(rums, rumFromRecord(rec))
	}
	return rums, hasDisconnected
}

// bumpLocalSequences increments every locally-originated route's sequence
// by 2, preserving even parity. Called once per periodic run, before the
// per-interface update fan-out.
func (e *Engine) bumpLocalSequences() {
	for _, rec := range e.Routes.MainSnapshot() {
		if rec.Validity != route.LocalHost {
			continue
		}
		if main, ok := e.Routes.Main(rec.Prefix); ok {
			main.Seq += 2
		}
	}
}

// sendUpdate emits one or more Response packets on ifIndex, respecting MTU
// packing. dst nil means broadcast/multicast. kind carries the
// advertisement-flag bit identifying the update class (periodic, triggered,
// fast-triggered, or none for solicited replies).
func (e *Engine) sendUpdate(ifIndex int, dst *netip.Addr, onlyChanged bool, reqType wire.RequestType, kind wire.AdFlag) {
	// Split horizon is always honoured on entire-table (discovery) replies,
	// even when the configuration has it off for ordinary updates.
	splitHorizon := e.cfg.SplitHorizon || reqType == wire.RequestTypeEntireTable
	rums, hasDisconnected := e.buildRUMs(ifIndex, onlyChanged, splitHorizon)
	if len(rums) == 0 {
		// An entire-table reply completes the requester's discovery
		// handshake, so it goes out even when split horizon left it empty.
		if reqType == wire.RequestTypeEntireTable {
			e.sendPacket(ifIndex, dst, wire.RUSubCommandResponse, reqType, kind, nil)
			e.metricSent("response")
		}
		return
	}
	flags := kind
	if hasDisconnected {
		flags |= wire.AdFlagDisconnected
	}

	maxPerPkt := wire.MaxRecordsPerPacket(e.host.MTU(ifIndex), wire.CommandRouteUpdate)
	if maxPerPkt <= 0 {
		maxPerPkt = len(rums)
	}
	for start := 0; start < len(rums); start += maxPerPkt {
		end := start + maxPerPkt
		if end > len(rums) {
			end = len(rums)
		}
		e.sendPacket(ifIndex, dst, wire.RUSubCommandResponse, reqType, flags, rums[start:end])
		e.metricSent("response")
	}
}

// -------------------------------------------------------------------------
// Periodic / triggered / fast-triggered
// -------------------------------------------------------------------------

func (e *Engine) runPeriodic() {
	e.bumpLocalSequences()
	for i := 0; i < e.host.InterfacesCount(); i++ {
		if !e.host.IsUp(i) || e.cfg.excluded(i) {
			continue
		}
		e.sendUpdate(i, nil, false, wire.RequestTypeNone, wire.AdFlagPeriodic)
	}
	e.Routes.ClearAllChanged()
	// A scheduled triggered update is canceled by the next periodic update.
	if e.triggeredArmed {
		e.sched.Cancel(e.triggeredID)
		e.triggeredArmed = false
	}
	e.schedulePeriodic()
}

func (e *Engine) runKeepAlive() {
	for _, rec := range e.Neighbors.Snapshot() {
		if rec.State != neighbor.StateValid {
			continue
		}
		kam := e.localKAM(rec.IfIndex, wire.KAMKindHi)
		addr := rec.Address
		e.sendKAM(rec.IfIndex, &addr, kam)
		e.metricSent("hi")
	}
	e.scheduleKeepAlive()
}

// onRouteChanged implements triggered-update scheduling: a second request
// within the cooldown window is silently suppressed.
func (e *Engine) onRouteChanged(prefix netip.Prefix) {
	if e.triggeredArmed {
		if e.metrics != nil {
			e.metrics.TriggeredSuppressed()
		}
		return
	}
	e.triggeredArmed = true
	e.triggeredID = e.sched.After(e.now(), scheduler.Jitter(e.cfg.MinTriggeredCooldown, e.cfg.MaxTriggeredCooldown-e.cfg.MinTriggeredCooldown), e.runTriggered)
}

func (e *Engine) runTriggered() {
	e.triggeredArmed = false
	for i := 0; i < e.host.InterfacesCount(); i++ {
		if !e.host.IsUp(i) || e.cfg.excluded(i) {
			continue
		}
		e.sendUpdate(i, nil, true, wire.RequestTypeNone, wire.AdFlagTriggered)
	}
	e.Routes.ClearAllChanged()
}

// runFastTriggered implements the local-link-down bypass: emit a single
// packet per remaining interface advertising the disconnected prefixes
// immediately, bypassing cooldown, then reschedule the ordinary triggered
// cooldown so follow-up changes are batched again.
func (e *Engine) runFastTriggered() {
	for i := 0; i < e.host.InterfacesCount(); i++ {
		if !e.host.IsUp(i) || e.cfg.excluded(i) {
			continue
		}
		e.sendUpdate(i, nil, true, wire.RequestTypeNone, wire.AdFlagFastTriggered)
	}
	e.Routes.ClearAllChanged()
	e.sched.Cancel(e.triggeredID)
	e.triggeredArmed = true
	e.triggeredID = e.sched.After(e.now(), scheduler.Jitter(e.cfg.MinTriggeredCooldown, e.cfg.MaxTriggeredCooldown-e.cfg.MinTriggeredCooldown), e.runTriggered)
}

// -------------------------------------------------------------------------
// Host-stack adapter
// -------------------------------------------------------------------------

// InterfaceUp implements interfaceUp(i): install the interface's local-host
// routes, schedule a Hello, and trigger an update.
func (e *Engine) InterfaceUp(ifIndex int) {
	if e.cfg.excluded(ifIndex) {
		return
	}
	e.installLocalHostRoutes(ifIndex)
	for _, rec := range e.Routes.MainSnapshot() {
		if rec.Validity != route.LocalHost || rec.IfIndex != ifIndex {
			continue
		}
		if main, ok := e.Routes.Main(rec.Prefix); ok {
			main.Changed = true
		}
		e.onRouteChanged(rec.Prefix)
	}
	e.sched.After(e.now(), scheduler.Jitter(0, e.cfg.StartupDelay), func() {
		e.sendHello(ifIndex)
	})
}

// InterfaceDown implements interfaceDown(i): invalidate every route on i
// with reason Broken, emit a fast-triggered update, and pull routes from
// remaining neighbors for the prefixes left without a backup.
func (e *Engine) InterfaceDown(ifIndex int) {
	orphans := e.Routes.OrphanedPrefixes(ifIndex)
	e.Routes.InvalidateInterface(ifIndex)
	e.runFastTriggered()
	e.pullOrphans(ifIndex, orphans)
}

func (e *Engine) pullOrphans(downIfIndex int, orphans []netip.Prefix) {
	if len(orphans) == 0 {
		return
	}
	rums := make([]wire.RUM, 0, len(orphans))
	for _, p := range orphans {
		addr4 := p.Addr().As4()
		rums = append(rums, wire.RUM{Prefix: addr4, Mask: prefixToWireMask(p)})
	}
	for i := 0; i < e.host.InterfacesCount(); i++ {
		if i == downIfIndex || !e.host.IsUp(i) || e.cfg.excluded(i) {
			continue
		}
		e.sendPacket(i, nil, wire.RUSubCommandRequest, wire.RequestTypeNEntries, wire.AdFlagNone, rums)
	}
}

// AddressAdded implements addressAdded(i, a): refresh the local-host route
// and trigger an update.
func (e *Engine) AddressAdded(ifIndex int, a HostAddress) {
	if a.Scope != ScopeGlobal {
		return
	}
	prefix := netip.PrefixFrom(a.Addr, maskBits(a.Mask)).Masked()
	e.Routes.AddLocalHost(prefix, ifIndex)
	e.onRouteChanged(prefix)
}

// AddressRemoved implements addressRemoved(i, a).
func (e *Engine) AddressRemoved(ifIndex int, a HostAddress) {
	prefix := netip.PrefixFrom(a.Addr, maskBits(a.Mask)).Masked()
	e.Routes.RemoveLocalHost(prefix)
}
