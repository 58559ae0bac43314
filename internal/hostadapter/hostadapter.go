//go:build linux

// Package hostadapter implements the host-stack adapter and engine.Host
// contract: it enumerates real OS network interfaces (net.Interfaces,
// net.InterfaceAddrs), tracks their up/down and address state, and
// translates changes into engine.Engine calls. It also supplies the link
// attributes and router-queue instrumentation the kernel cannot report
// (propagation delay, datarate, queueing rates), which are configuration
// inputs rather than host-observable facts.
package hostadapter

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/dantte-lp/goeslr/internal/engine"
	"github.com/dantte-lp/goeslr/internal/metric"
	"github.com/dantte-lp/goeslr/internal/netio"
)

// LinkConfig holds the per-interface attributes a host's netDevice(i)
// callback reports, none of which the kernel exposes: propagation delay,
// datarate, and current channel occupancy.
type LinkConfig struct {
	PropagationDelay  time.Duration
	AveragePacketBits uint32
	ChannelDatarate   uint64
	ChannelLoad       uint64
}

func (l LinkConfig) toAttrs() metric.LinkAttrs {
	return metric.LinkAttrs{
		PropagationDelay:  uint32(l.PropagationDelay.Microseconds()), //nolint:gosec // configured values fit comfortably in u32 microseconds
		AveragePacketBits: l.AveragePacketBits,
		ChannelDatarate:   l.ChannelDatarate,
		ChannelLoad:       l.ChannelLoad,
	}
}

type ifaceState struct {
	kernelIndex int
	name        string
	up          bool
	mtu         int
	addrs       []engine.HostAddress
	link        LinkConfig
}

// Adapter enumerates host interfaces and implements engine.Host, plus
// owns the translation between the kernel's interface indices (as
// reported by netio's IP_PKTINFO control messages) and the engine's
// dense 0..N-1 interface numbering.
type Adapter struct {
	mu     sync.RWMutex
	logger *slog.Logger

	eng     *engine.Engine
	sender  *netio.Sender
	metrics engine.Metrics

	excluded    map[string]bool
	defaultLink LinkConfig
	linkByName  map[string]LinkConfig
	queue       metric.RouterQueue

	ifaces     []*ifaceState
	byName     map[string]int // name -> dense index
	byKernelID map[int]int    // kernel ifIndex -> dense index
}

// Config bundles the static, operator-supplied pieces of host state.
type Config struct {
	ExcludeInterfaces []string
	DefaultLink       LinkConfig
	LinkByName        map[string]LinkConfig
	RouterQueue       metric.RouterQueue
}

// New creates a host Adapter. Call Refresh once before Engine.Start to
// populate the initial interface snapshot and establish sender bindings.
// sender may be nil in tests that only exercise enumeration; production
// callers always supply a live *netio.Sender.
func New(logger *slog.Logger, sender *netio.Sender, cfg Config) *Adapter {
	excluded := make(map[string]bool, len(cfg.ExcludeInterfaces))
	for _, n := range cfg.ExcludeInterfaces {
		excluded[n] = true
	}
	linkByName := cfg.LinkByName
	if linkByName == nil {
		linkByName = map[string]LinkConfig{}
	}
	return &Adapter{
		logger:      logger.With(slog.String("component", "hostadapter")),
		sender:      sender,
		excluded:    excluded,
		defaultLink: cfg.DefaultLink,
		linkByName:  linkByName,
		queue:       cfg.RouterQueue,
		byName:      make(map[string]int),
		byKernelID:  make(map[int]int),
	}
}

// BindEngine wires the engine that interface/address events are reported
// to. A Refresh made before BindEngine updates the interface snapshot
// without reporting any event.
func (a *Adapter) BindEngine(e *engine.Engine) {
	a.eng = e
}

// SetMetrics wires an optional counter sink for fatal-invariant drops
// (DispatchPacket). A nil Metrics is valid; the call site guards against it.
func (a *Adapter) SetMetrics(m engine.Metrics) {
	a.metrics = m
}

// -------------------------------------------------------------------------
// engine.Host
// -------------------------------------------------------------------------

// InterfacesCount implements engine.Host.
func (a *Adapter) InterfacesCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.ifaces)
}

// IsUp implements engine.Host.
func (a *Adapter) IsUp(ifIndex int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ifIndex < 0 || ifIndex >= len(a.ifaces) {
		return false
	}
	return a.ifaces[ifIndex].up
}

// Addresses implements engine.Host.
func (a *Adapter) Addresses(ifIndex int) []engine.HostAddress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ifIndex < 0 || ifIndex >= len(a.ifaces) {
		return nil
	}
	out := make([]engine.HostAddress, len(a.ifaces[ifIndex].addrs))
	copy(out, a.ifaces[ifIndex].addrs)
	return out
}

// MTU implements engine.Host.
func (a *Adapter) MTU(ifIndex int) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ifIndex < 0 || ifIndex >= len(a.ifaces) {
		return 0
	}
	return a.ifaces[ifIndex].mtu
}

// LinkAttrs implements engine.Host.
func (a *Adapter) LinkAttrs(ifIndex int) metric.LinkAttrs {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ifIndex < 0 || ifIndex >= len(a.ifaces) {
		return a.defaultLink.toAttrs()
	}
	return a.ifaces[ifIndex].link.toAttrs()
}

// RouterQueue implements engine.Host. One router-wide M/M/1 queue is
// modeled, not one per interface.
func (a *Adapter) RouterQueue() metric.RouterQueue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.queue
}

// SetRouterQueue updates the router-wide queue instrumentation, e.g. from
// a periodic sampler.
func (a *Adapter) SetRouterQueue(q metric.RouterQueue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = q
}

// -------------------------------------------------------------------------
// Enumeration and refresh
// -------------------------------------------------------------------------

// Refresh re-enumerates host interfaces via net.Interfaces, assigns dense
// engine indices in a stable (name-sorted) order, registers netio.Sender
// broadcast bindings, and reports interfaceUp for every already-up
// interface present for the first time. It does not report interfaceDown
// for interfaces that disappear from the enumeration.
func (a *Adapter) Refresh() error {
	ifs, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("enumerate interfaces: %w", err)
	}
	sort.Slice(ifs, func(i, j int) bool { return ifs[i].Name < ifs[j].Name })

	a.mu.Lock()
	for _, iface := range ifs {
		if iface.Flags&net.FlagLoopback != 0 || a.excluded[iface.Name] {
			continue
		}
		if _, known := a.byName[iface.Name]; known {
			continue
		}
		st := &ifaceState{
			kernelIndex: iface.Index,
			name:        iface.Name,
			mtu:         iface.MTU,
			link:        a.linkConfigFor(iface.Name),
		}
		idx := len(a.ifaces)
		a.ifaces = append(a.ifaces, st)
		a.byName[iface.Name] = idx
		a.byKernelID[iface.Index] = idx
	}
	a.mu.Unlock()

	for _, iface := range ifs {
		if err := a.syncOne(iface); err != nil {
			a.logger.Warn("refresh interface", slog.String("name", iface.Name), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (a *Adapter) linkConfigFor(name string) LinkConfig {
	if lc, ok := a.linkByName[name]; ok {
		return lc
	}
	return a.defaultLink
}

// syncOne refreshes one interface's up/address state and, on a
// transition, calls the engine's host-event translation methods.
func (a *Adapter) syncOne(iface net.Interface) error {
	a.mu.RLock()
	idx, known := a.byName[iface.Name]
	a.mu.RUnlock()
	if !known {
		return nil
	}

	wasUp, oldAddrs := a.snapshot(idx)
	nowUp := iface.Flags&net.FlagUp != 0
	newAddrs, err := hostAddresses(iface)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.ifaces[idx].up = nowUp
	a.ifaces[idx].addrs = newAddrs
	a.mu.Unlock()

	if a.sender != nil {
		if nowUp {
			a.registerBinding(idx, newAddrs)
		} else {
			a.sender.ClearBinding(a.ifaces[idx].kernelIndex)
		}
	}

	if a.eng == nil {
		return nil
	}
	if nowUp && !wasUp {
		a.eng.InterfaceUp(idx)
	} else if !nowUp && wasUp {
		a.eng.InterfaceDown(idx)
	} else if nowUp {
		diffAddresses(oldAddrs, newAddrs, func(added engine.HostAddress) {
			a.eng.AddressAdded(idx, added)
		}, func(removed engine.HostAddress) {
			a.eng.AddressRemoved(idx, removed)
		})
	}
	return nil
}

func (a *Adapter) snapshot(idx int) (up bool, addrs []engine.HostAddress) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ifaces[idx].up, a.ifaces[idx].addrs
}

func (a *Adapter) registerBinding(idx int, addrs []engine.HostAddress) {
	for _, addr := range addrs {
		if addr.Scope != engine.ScopeGlobal {
			continue
		}
		a.mu.RLock()
		kernelIdx := a.ifaces[idx].kernelIndex
		name := a.ifaces[idx].name
		a.mu.RUnlock()
		bits := maskBits(addr.Mask)
		a.sender.SetBinding(kernelIdx, netio.Binding{
			IfName:    name,
			LocalAddr: addr.Addr,
			Broadcast: netio.DirectedBroadcast(addr.Addr, bits),
		})
		return
	}
}

func diffAddresses(old, cur []engine.HostAddress, added, removed func(engine.HostAddress)) {
	oldSet := make(map[netip.Addr]engine.HostAddress, len(old))
	for _, a := range old {
		oldSet[a.Addr] = a
	}
	curSet := make(map[netip.Addr]engine.HostAddress, len(cur))
	for _, a := range cur {
		curSet[a.Addr] = a
		if _, existed := oldSet[a.Addr]; !existed {
			added(a)
		}
	}
	for _, a := range old {
		if _, still := curSet[a.Addr]; !still {
			removed(a)
		}
	}
}

func hostAddresses(iface net.Interface) ([]engine.HostAddress, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("addrs for %s: %w", iface.Name, err)
	}
	out := make([]engine.HostAddress, 0, len(addrs))
	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}
		ip := prefix.Addr()
		if !ip.Is4() {
			continue
		}
		scope := engine.ScopeGlobal
		if ip.IsLinkLocalUnicast() {
			scope = engine.ScopeLink
		}
		out = append(out, engine.HostAddress{
			Addr:  ip,
			Mask:  wireMask(prefix.Bits()),
			Scope: scope,
		})
	}
	return out, nil
}

func wireMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return ^uint32(0) << uint(32-bits)
}

func maskBits(mask uint32) int {
	n := 0
	for i := 31; i >= 0; i-- {
		if (mask>>uint(i))&1 == 1 {
			n++
		} else {
			break
		}
	}
	return n
}

// -------------------------------------------------------------------------
// Dispatch
// -------------------------------------------------------------------------

// DispatchPacket translates a kernel interface index (as reported by
// netio.Listener's control messages) into the engine's dense index and
// forwards the datagram to Engine.HandlePacket.
//
// A kernel interface index with no known binding is the fatal-invariant
// error kind: a datagram arrived on an interface the adapter's own
// enumeration never saw, which indicates a bug in the adapter's
// refresh/binding logic rather than anything a remote peer can trigger.
// It is logged at error level and counted distinctly from the engine's
// silently-dropped decode/auth/policy rejections; it does not abort the
// daemon, since a momentary interface-enumeration race is recoverable on
// the next Refresh.
func (a *Adapter) DispatchPacket(kernelIfIndex int, localAddr, senderAddr netip.Addr, payload []byte) {
	a.mu.RLock()
	idx, ok := a.byKernelID[kernelIfIndex]
	a.mu.RUnlock()
	if !ok {
		a.logger.Error("packet received on interface with no bound endpoint",
			slog.Int("kernel_if_index", kernelIfIndex))
		if a.metrics != nil {
			a.metrics.PacketDropped("fatal-unbound-interface")
		}
		return
	}
	if a.eng == nil {
		return
	}
	a.eng.HandlePacket(idx, localAddr, senderAddr, payload)
}
