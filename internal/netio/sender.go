//go:build linux

package netio

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"
)

// Binding associates an interface with the local address and directed
// subnet broadcast address used to send ESLR traffic on it: packets are
// sent to the directed subnet broadcast of the outgoing interface.
type Binding struct {
	IfName    string
	LocalAddr netip.Addr
	Broadcast netip.Addr
}

// DirectedBroadcast computes the directed subnet broadcast address for
// addr/maskBits: the host bits are set to all ones.
func DirectedBroadcast(addr netip.Addr, maskBits int) netip.Addr {
	a4 := addr.As4()
	var mask uint32
	if maskBits > 0 {
		mask = ^uint32(0) << uint(32-maskBits)
	}
	hostMask := ^mask
	addrU32 := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	bc := addrU32 | hostMask
	return netip.AddrFrom4([4]byte{byte(bc >> 24), byte(bc >> 16), byte(bc >> 8), byte(bc)})
}

// Sender implements engine.Transport over a single SO_BROADCAST-enabled
// UDP socket: one purpose-configured socket per concern rather than
// per-destination dialing.
type Sender struct {
	conn   *net.UDPConn
	mu     sync.RWMutex
	bound  map[int]Binding
	logger *slog.Logger
}

// NewSender creates an unbound UDP socket with SO_BROADCAST and
// SO_REUSEADDR set, ready to send to any directed broadcast or unicast
// destination.
func NewSender(logger *slog.Logger) (*Sender, error) {
	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("create sender socket: %w", err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("create sender socket: %w", ErrNotIPv4Conn)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sender raw conn: %w", err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		if err := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			sockErr = fmt.Errorf("set SO_BROADCAST: %w", err)
			return
		}
		if err := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
		}
	})
	if ctrlErr != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sender sockopts: %w", ctrlErr)
	}
	if sockErr != nil {
		_ = conn.Close()
		return nil, sockErr
	}

	return &Sender{
		conn:   conn,
		bound:  make(map[int]Binding),
		logger: logger.With(slog.String("component", "netio.sender")),
	}, nil
}

// SetBinding registers (or updates) the broadcast binding for an
// interface. Called by the host adapter whenever interface addressing
// changes.
func (s *Sender) SetBinding(ifIndex int, b Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[ifIndex] = b
}

// ClearBinding removes an interface's binding, e.g. on interface-down.
func (s *Sender) ClearBinding(ifIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bound, ifIndex)
}

// SendBroadcast implements engine.Transport: sends payload to the
// directed subnet broadcast address of ifIndex on port.
func (s *Sender) SendBroadcast(ifIndex int, port uint16, payload []byte) {
	s.mu.RLock()
	b, ok := s.bound[ifIndex]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("send broadcast: no binding for interface", slog.Int("if_index", ifIndex))
		return
	}
	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(b.Broadcast, port))
	if _, err := s.conn.WriteToUDP(payload, dst); err != nil {
		s.logger.Warn("send broadcast failed", slog.String("dst", dst.String()), slog.String("error", err.Error()))
	}
}

// SendUnicast implements engine.Transport: sends payload directly to dst
// on port.
func (s *Sender) SendUnicast(ifIndex int, dst netip.Addr, port uint16, payload []byte) {
	udst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, port))
	if _, err := s.conn.WriteToUDP(payload, udst); err != nil {
		s.logger.Warn("send unicast failed", slog.String("dst", udst.String()), slog.String("error", err.Error()))
	}
}

// Close releases the underlying socket.
func (s *Sender) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close sender: %w", err)
	}
	return nil
}
