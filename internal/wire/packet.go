// Package wire implements the ESLR packet codec: the fixed 8-byte header
// shared by every ESLR datagram and the three record bodies (RUM, KAM, SRC)
// that follow it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Header layout
// -------------------------------------------------------------------------

// HeaderSize is the fixed ESLR base header size in bytes.
const HeaderSize = 8

// RUMSize is the on-wire size of a single Route Update Message record:
// seq(2) + metric(4) + tag(1) + reserved(1) + prefix(4) + mask(4) = 16 bytes.
const RUMSize = 16

// KAMSize is the on-wire size of a single Keep-Alive Message record:
// kind(1) + authType(1) + authData(2) + identifier(1) + neighborId(2) +
// gateway(4) + gatewayMask(4) = 15 bytes.
const KAMSize = 15

// SRCSize is the on-wire size of a single Server-Router Communication
// record: seq(2) + flags(2) + serviceRate(4) + arrivalRate(4) + server(4) +
// mask(4) = 20 bytes.
const SRCSize = 20

// Command identifies the kind of ESLR packet.
type Command uint8

const (
	// CommandRouteUpdate carries RUM records (request or response).
	CommandRouteUpdate Command = 1
	// CommandKeepAlive carries a KAM record (Hello/Hi).
	CommandKeepAlive Command = 2
	// CommandServerRouterCom carries an SRC record.
	CommandServerRouterCom Command = 3
)

// String returns the human-readable command name.
func (c Command) String() string {
	switch c {
	case CommandRouteUpdate:
		return "RouteUpdate"
	case CommandKeepAlive:
		return "KeepAlive"
	case CommandServerRouterCom:
		return "ServerRouterCom"
	default:
		return "Unknown"
	}
}

// RUSubCommand distinguishes request from response for CommandRouteUpdate.
type RUSubCommand uint8

const (
	RUSubCommandNone     RUSubCommand = 0
	RUSubCommandRequest  RUSubCommand = 1
	RUSubCommandResponse RUSubCommand = 2
)

// RequestType narrows a Request sub-command.
type RequestType uint8

const (
	RequestTypeNone              RequestType = 0
	RequestTypeOneEntry          RequestType = 1
	RequestTypeNEntries          RequestType = 2
	RequestTypeEntireTable       RequestType = 3
	RequestTypeNeighborDiscovery RequestType = 4
	RequestTypeRespondAll        RequestType = 5
)

// AdFlag is a single bit in the Advertisement Flags bitset.
type AdFlag uint8

const (
	AdFlagNone          AdFlag = 0
	AdFlagFastTriggered AdFlag = 1 << iota
	AdFlagPeriodic
	AdFlagTriggered
	AdFlagConnected
	AdFlagDisconnected
)

// AuthType identifies the authentication mechanism in use.
type AuthType uint8

const (
	AuthTypePlaintext AuthType = 0
	AuthTypeMD5       AuthType = 1
	AuthTypeSHA       AuthType = 2
)

// String returns the human-readable auth type name.
func (a AuthType) String() string {
	switch a {
	case AuthTypePlaintext:
		return "Plaintext"
	case AuthTypeMD5:
		return "MD5"
	case AuthTypeSHA:
		return "SHA"
	default:
		return "Unknown"
	}
}

// Header is the 8-byte base header shared by every ESLR packet.
type Header struct {
	Command      Command
	RUSubCommand RUSubCommand
	RequestType  RequestType
	Count        uint8
	AdFlags      AdFlag
	AuthType     AuthType
	AuthData     uint16
}

// HasFlag reports whether f is set in the header's advertisement flags.
func (h Header) HasFlag(f AdFlag) bool {
	return h.AdFlags&f != 0
}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// DecodeError wraps a decode failure with the byte offset at which it was
// detected, so callers can log exactly where a malformed packet broke
// down.
type DecodeError struct {
	Offset int
	Reason error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode eslr packet at offset %d: %v", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Reason }

// Sentinel reasons for DecodeError.
var (
	ErrShortHeader     = errors.New("packet shorter than base header")
	ErrUnknownCommand  = errors.New("unknown command octet")
	ErrBadRecordLength = errors.New("record bytes not a multiple of record size")
	ErrBufTooSmall     = errors.New("destination buffer too small")
)

// -------------------------------------------------------------------------
// Record bodies
// -------------------------------------------------------------------------

// RUM is a single Route Update Message record.
type RUM struct {
	Seq      uint16
	Metric   uint32
	Tag      uint8
	Reserved uint8
	Prefix   [4]byte
	Mask     uint32
}

// KAMKind distinguishes the discovery Hello from the steady-state Hi.
type KAMKind uint8

const (
	KAMKindHello KAMKind = 1
	KAMKindHi    KAMKind = 2
)

// KAM is a single Keep-Alive Message record.
type KAM struct {
	Kind        KAMKind
	AuthType    AuthType
	AuthData    uint16
	Identifier  uint8
	NeighborID  uint16
	Gateway     [4]byte
	GatewayMask uint32
}

// SRC is a single Server-Router Communication record.
type SRC struct {
	Seq         uint16
	Flags       uint16
	ServiceRate uint32
	ArrivalRate uint32
	Server      [4]byte
	Mask        uint32
}

// -------------------------------------------------------------------------
// Packet — the decoded, typed-variant form of a datagram
// -------------------------------------------------------------------------

// Packet is the fully decoded form of an ESLR datagram: the header plus
// exactly one of the three tagged record-kind slices, selected by
// Header.Command. The variant is never represented as a single union
// struct with uninterpreted payload bytes.
type Packet struct {
	Header Header
	RUMs   []RUM
	KAMs   []KAM
	SRCs   []SRC
}

// recordSize returns the fixed record size for cmd, or 0 if cmd is not a
// recognized command.
func recordSize(cmd Command) int {
	switch cmd {
	case CommandRouteUpdate:
		return RUMSize
	case CommandKeepAlive:
		return KAMSize
	case CommandServerRouterCom:
		return SRCSize
	default:
		return 0
	}
}

// Encode serializes pkt into buf, returning the number of bytes written.
// buf must be at least EncodedLen(pkt) bytes.
func Encode(pkt *Packet, buf []byte) (int, error) {
	need := EncodedLen(pkt)
	if len(buf) < need {
		return 0, fmt.Errorf("encode eslr packet: need %d bytes, got %d: %w",
			need, len(buf), ErrBufTooSmall)
	}

	encodeHeader(pkt.Header, buf)
	off := HeaderSize

	switch pkt.Header.Command {
	case CommandRouteUpdate:
		for _, r := range pkt.RUMs {
			encodeRUM(r, buf[off:])
			off += RUMSize
		}
	case CommandKeepAlive:
		for _, k := range pkt.KAMs {
			encodeKAM(k, buf[off:])
			off += KAMSize
		}
	case CommandServerRouterCom:
		for _, s := range pkt.SRCs {
			encodeSRC(s, buf[off:])
			off += SRCSize
		}
	}

	return off, nil
}

// EncodedLen returns the total wire length of pkt.
func EncodedLen(pkt *Packet) int {
	size := recordSize(pkt.Header.Command)
	return HeaderSize + int(pkt.Header.Count)*size
}

func encodeHeader(h Header, buf []byte) {
	buf[0] = uint8(h.Command)
	buf[1] = uint8(h.RUSubCommand)
	buf[2] = uint8(h.RequestType)
	buf[3] = h.Count
	buf[4] = uint8(h.AdFlags)
	buf[5] = uint8(h.AuthType)
	binary.BigEndian.PutUint16(buf[6:8], h.AuthData)
}

func decodeHeader(buf []byte) Header {
	return Header{
		Command:      Command(buf[0]),
		RUSubCommand: RUSubCommand(buf[1]),
		RequestType:  RequestType(buf[2]),
		Count:        buf[3],
		AdFlags:      AdFlag(buf[4]),
		AuthType:     AuthType(buf[5]),
		AuthData:     binary.BigEndian.Uint16(buf[6:8]),
	}
}

func encodeRUM(r RUM, buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], r.Seq)
	binary.BigEndian.PutUint32(buf[2:6], r.Metric)
	buf[6] = r.Tag
	buf[7] = r.Reserved
	copy(buf[8:12], r.Prefix[:])
	binary.BigEndian.PutUint32(buf[12:16], r.Mask)
}

func decodeRUM(buf []byte) RUM {
	var r RUM
	r.Seq = binary.BigEndian.Uint16(buf[0:2])
	r.Metric = binary.BigEndian.Uint32(buf[2:6])
	r.Tag = buf[6]
	r.Reserved = buf[7]
	copy(r.Prefix[:], buf[8:12])
	r.Mask = binary.BigEndian.Uint32(buf[12:16])
	return r
}

func encodeKAM(k KAM, buf []byte) {
	buf[0] = uint8(k.Kind)
	buf[1] = uint8(k.AuthType)
	binary.BigEndian.PutUint16(buf[2:4], k.AuthData)
	buf[4] = k.Identifier
	binary.BigEndian.PutUint16(buf[5:7], k.NeighborID)
	copy(buf[7:11], k.Gateway[:])
	binary.BigEndian.PutUint32(buf[11:15], k.GatewayMask)
}

func decodeKAM(buf []byte) KAM {
	var k KAM
	k.Kind = KAMKind(buf[0])
	k.AuthType = AuthType(buf[1])
	k.AuthData = binary.BigEndian.Uint16(buf[2:4])
	k.Identifier = buf[4]
	k.NeighborID = binary.BigEndian.Uint16(buf[5:7])
	copy(k.Gateway[:], buf[7:11])
	k.GatewayMask = binary.BigEndian.Uint32(buf[11:15])
	return k
}

func encodeSRC(s SRC, buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], s.Seq)
	binary.BigEndian.PutUint16(buf[2:4], s.Flags)
	binary.BigEndian.PutUint32(buf[4:8], s.ServiceRate)
	binary.BigEndian.PutUint32(buf[8:12], s.ArrivalRate)
	copy(buf[12:16], s.Server[:])
	binary.BigEndian.PutUint32(buf[16:20], s.Mask)
}

func decodeSRC(buf []byte) SRC {
	var s SRC
	s.Seq = binary.BigEndian.Uint16(buf[0:2])
	s.Flags = binary.BigEndian.Uint16(buf[2:4])
	s.ServiceRate = binary.BigEndian.Uint32(buf[4:8])
	s.ArrivalRate = binary.BigEndian.Uint32(buf[8:12])
	copy(s.Server[:], buf[12:16])
	s.Mask = binary.BigEndian.Uint32(buf[16:20])
	return s
}

// Decode parses buf into a Packet. Returns a *DecodeError for any malformed
// input per: unknown command octet, record bytes not a multiple of the
// selected record size, or a packet shorter than the base header.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, &DecodeError{Offset: 0, Reason: ErrShortHeader}
	}

	h := decodeHeader(buf)
	size := recordSize(h.Command)
	if size == 0 {
		return nil, &DecodeError{Offset: 0, Reason: ErrUnknownCommand}
	}

	body := buf[HeaderSize:]
	if len(body)%size != 0 {
		return nil, &DecodeError{Offset: HeaderSize, Reason: ErrBadRecordLength}
	}

	pkt := &Packet{Header: h}
	n := len(body) / size

	switch h.Command {
	case CommandRouteUpdate:
		pkt.RUMs = make([]RUM, n)
		for i := 0; i < n; i++ {
			pkt.RUMs[i] = decodeRUM(body[i*size : (i+1)*size])
		}
	case CommandKeepAlive:
		pkt.KAMs = make([]KAM, n)
		for i := 0; i < n; i++ {
			pkt.KAMs[i] = decodeKAM(body[i*size : (i+1)*size])
		}
	case CommandServerRouterCom:
		pkt.SRCs = make([]SRC, n)
		for i := 0; i < n; i++ {
			pkt.SRCs[i] = decodeSRC(body[i*size : (i+1)*size])
		}
	}

	return pkt, nil
}

// MaxRecordsPerPacket returns the number of records of size recordSize(cmd)
// that fit within mtu once IPv4, UDP, and the ESLR base header are
// subtracted.
func MaxRecordsPerPacket(mtu int, cmd Command) int {
	const ipv4HeaderLen = 20
	const udpHeaderLen = 8
	size := recordSize(cmd)
	if size == 0 {
		return 0
	}
	avail := mtu - ipv4HeaderLen - udpHeaderLen - HeaderSize
	if avail <= 0 {
		return 0
	}
	return avail / size
}
