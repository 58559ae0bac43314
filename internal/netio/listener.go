package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// ErrNotIPv4Conn indicates the listener's underlying net.PacketConn did not
// yield an IPv4 source address on receive.
var ErrNotIPv4Conn = errors.New("listener: non-IPv4 source address")

// Handler processes one received datagram: the interface it arrived on,
// the local (destination) address, the sender address, and the payload.
type Handler func(ifIndex int, localAddr, senderAddr netip.Addr, payload []byte)

// Listener binds one UDP port across all interfaces and demultiplexes
// inbound datagrams by the interface index and local address they arrived
// on, using IP_PKTINFO (golang.org/x/net/ipv4's control-message support)
// instead of one socket per interface.
type Listener struct {
	pc     *ipv4.PacketConn
	port   uint16
	logger *slog.Logger
}

// NewListener binds a UDP listener on the given port across all
// interfaces (0.0.0.0:port) and enables per-packet interface/destination
// control messages.
func NewListener(port uint16, logger *slog.Logger) (*Listener, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp4 :%d: %w", port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable control messages on :%d: %w", port, err)
	}

	return &Listener{
		pc:     pc,
		port:   port,
		logger: logger.With(slog.String("component", "netio.listener"), slog.Uint64("port", uint64(port))),
	}, nil
}

// Run reads datagrams until ctx is cancelled, invoking handle for each.
// Malformed or unattributable packets (no control message, so the
// interface cannot be determined) are dropped with a debug log line.
func (l *Listener) Run(ctx context.Context, handle Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.pc.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 65535)
	for {
		n, cm, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read udp :%d: %w", l.port, err)
		}

		udpAddr, ok := src.(*net.UDPAddr)
		if !ok {
			l.logger.Debug("dropped datagram", slog.String("reason", ErrNotIPv4Conn.Error()))
			continue
		}
		senderAddr, ok := netip.AddrFromSlice(udpAddr.IP.To4())
		if !ok {
			l.logger.Debug("dropped datagram", slog.String("reason", ErrNotIPv4Conn.Error()))
			continue
		}

		if cm == nil {
			l.logger.Debug("dropped datagram: no control message, cannot attribute interface")
			continue
		}
		localAddr, ok := netip.AddrFromSlice(cm.Dst.To4())
		if !ok {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		handle(cm.IfIndex, localAddr, senderAddr, payload)
	}
}

// Close releases the underlying socket.
func (l *Listener) Close() error {
	if err := l.pc.Close(); err != nil {
		return fmt.Errorf("close listener :%d: %w", l.port, err)
	}
	return nil
}
