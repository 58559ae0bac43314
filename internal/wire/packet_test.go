package wire_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/goeslr/internal/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pkt  wire.Packet
	}{
		{
			name: "route update response with two RUMs",
			pkt: wire.Packet{
				Header: wire.Header{
					Command:      wire.CommandRouteUpdate,
					RUSubCommand: wire.RUSubCommandResponse,
					RequestType:  wire.RequestTypeNone,
					Count:        2,
					AdFlags:      wire.AdFlagPeriodic,
					AuthType:     wire.AuthTypePlaintext,
					AuthData:     0xBEEF,
				},
				RUMs: []wire.RUM{
					{Seq: 10, Metric: 1500, Tag: 1, Prefix: [4]byte{10, 0, 0, 0}, Mask: 0xFFFFFF00},
					{Seq: 8, Metric: 0, Tag: 0, Prefix: [4]byte{192, 168, 1, 0}, Mask: 0xFFFFFF00},
				},
			},
		},
		{
			name: "keep-alive hello",
			pkt: wire.Packet{
				Header: wire.Header{
					Command: wire.CommandKeepAlive,
					Count:   1,
				},
				KAMs: []wire.KAM{
					{
						Kind:        wire.KAMKindHello,
						AuthType:    wire.AuthTypePlaintext,
						AuthData:    7,
						Identifier:  42,
						NeighborID:  99,
						Gateway:     [4]byte{10, 0, 0, 1},
						GatewayMask: 0xFFFFFF00,
					},
				},
			},
		},
		{
			name: "server-router communication",
			pkt: wire.Packet{
				Header: wire.Header{
					Command: wire.CommandServerRouterCom,
					Count:   1,
				},
				SRCs: []wire.SRC{
					{Seq: 4, Flags: 1, ServiceRate: 1000, ArrivalRate: 500,
						Server: [4]byte{172, 16, 0, 1}, Mask: 0xFFFFFFFF},
				},
			},
		},
		{
			name: "zero-record route update request",
			pkt: wire.Packet{
				Header: wire.Header{
					Command:      wire.CommandRouteUpdate,
					RUSubCommand: wire.RUSubCommandRequest,
					RequestType:  wire.RequestTypeEntireTable,
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, wire.EncodedLen(&tc.pkt))
			n, err := wire.Encode(&tc.pkt, buf)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := wire.Decode(buf[:n])
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			gotBuf := make([]byte, wire.EncodedLen(got))
			gn, err := wire.Encode(got, gotBuf)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(buf[:n], gotBuf[:gn]) {
				t.Fatalf("round-trip mismatch: original=% x decoded-reencoded=% x", buf[:n], gotBuf[:gn])
			}
		})
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	t.Parallel()

	_, err := wire.Decode([]byte{1, 2, 3})
	var decErr *wire.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if !errors.Is(err, wire.ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", decErr.Reason)
	}
}

func TestDecodeRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	buf := make([]byte, wire.HeaderSize)
	buf[0] = 0xFF // not a valid command

	_, err := wire.Decode(buf)
	if !errors.Is(err, wire.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestDecodeRejectsBadRecordLength(t *testing.T) {
	t.Parallel()

	buf := make([]byte, wire.HeaderSize+wire.RUMSize+3)
	buf[0] = uint8(wire.CommandRouteUpdate)

	_, err := wire.Decode(buf)
	if !errors.Is(err, wire.ErrBadRecordLength) {
		t.Fatalf("expected ErrBadRecordLength, got %v", err)
	}
}

func TestMaxRecordsPerPacket(t *testing.T) {
	t.Parallel()

	// 1500 MTU - 20 (IPv4) - 8 (UDP) - 8 (ESLR header) = 1464 bytes available.
	n := wire.MaxRecordsPerPacket(1500, wire.CommandRouteUpdate)
	want := 1464 / wire.RUMSize
	if n != want {
		t.Errorf("MaxRecordsPerPacket(1500, RouteUpdate) = %d, want %d", n, want)
	}

	if got := wire.MaxRecordsPerPacket(1500, wire.Command(99)); got != 0 {
		t.Errorf("MaxRecordsPerPacket with unknown command = %d, want 0", got)
	}
}

func TestAdFlagBitset(t *testing.T) {
	t.Parallel()

	h := wire.Header{AdFlags: wire.AdFlagTriggered | wire.AdFlagDisconnected}
	if !h.HasFlag(wire.AdFlagTriggered) {
		t.Error("expected AdFlagTriggered set")
	}
	if !h.HasFlag(wire.AdFlagDisconnected) {
		t.Error("expected AdFlagDisconnected set")
	}
	if h.HasFlag(wire.AdFlagPeriodic) {
		t.Error("expected AdFlagPeriodic clear")
	}
}
