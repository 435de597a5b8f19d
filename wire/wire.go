// Package wire implements the overlay's binary frame format: a 14-byte
// header (destination MAC, source MAC, protocol marker), a 1-byte class,
// a 1-byte sub-kind, and a typed payload. Every numeric field is
// little-endian; MACs are 6 raw bytes in transmit order.
package wire

import (
	"encoding/binary"
	"net"
)

// Class identifies the outer packet class.
type Class uint8

const (
	ClassControl Class = 0
	ClassData    Class = 1
)

// Control sub-kinds.
const (
	CtrlHeartbeat       uint8 = 0
	CtrlHeartbeatReply  uint8 = 1
	CtrlSessionRequest  uint8 = 2
	CtrlSessionResponse uint8 = 3
)

// Data sub-kinds.
const (
	DataUpstream   uint8 = 0
	DataDownstream uint8 = 1
)

const (
	macLen       = 6
	markerOffset = 12
	classOffset  = 14
	subKindOffset = 15
	// HeaderLen is the fixed portion common to every frame: dest MAC,
	// src MAC, marker, class, sub-kind.
	HeaderLen = 16

	durationLen = 16
	idLen       = 4
	hopsLen     = 4

	heartbeatPayloadLen      = durationLen + idLen + hopsLen + macLen
	heartbeatReplyPayloadLen = heartbeatPayloadLen + macLen
	sessionRequestPayloadLen = macLen + 8
	sessionResponsePayloadLen = macLen
)

var marker = [2]byte{0x30, 0x30}

// Heartbeat is Control sub-kind 0. DurationMs is the sender's elapsed time
// since its own boot, encoded on the wire as 16 bytes (matching the
// original 128-bit duration representation) though it never exceeds 64
// bits of range in this implementation.
type Heartbeat struct {
	DurationMs uint64
	ID         uint32
	Hops       uint32
	Source     net.HardwareAddr
}

// HeartbeatReply is Control sub-kind 1.
type HeartbeatReply struct {
	DurationMs uint64
	ID         uint32
	Hops       uint32
	Source     net.HardwareAddr
	Sender     net.HardwareAddr
}

// SessionRequest is Control sub-kind 2: an OBU-originated keep-alive
// carrying its own overlay MAC and the requested session lifetime.
type SessionRequest struct {
	Source      net.HardwareAddr
	LifetimeSec uint64
}

// SessionResponse is Control sub-kind 3: the RSU's acknowledgement.
type SessionResponse struct {
	Source net.HardwareAddr
}

// Upstream is Data sub-kind 0: traffic flowing back out from an RSU
// toward one or more OBUs. Origin identifies the node where the frame
// entered the mesh: the RSU for its own TAP traffic, or the OBU whose
// Downstream message the RSU is sending back out; Destination is the ultimate overlay target
// (an OBU's own MAC, or the broadcast address) and is carried unchanged
// across every hop so intermediate relays can make delivery and fan-out
// decisions without opening Payload, which stays opaque end-to-end.
type Upstream struct {
	Origin      net.HardwareAddr
	Destination net.HardwareAddr
	Payload     []byte
}

// Downstream is Data sub-kind 1: host traffic from an OBU's TAP climbing
// toward the RSU, relayed unchanged along each OBU's cached upstream.
type Downstream struct {
	Origin      net.HardwareAddr
	Destination net.HardwareAddr
	Payload     []byte
}

// Message is a parsed overlay frame. Exactly one of the typed fields is
// non-nil, selected by Class and SubKind.
type Message struct {
	To      net.HardwareAddr
	From    net.HardwareAddr
	Class   Class
	SubKind uint8

	Heartbeat       *Heartbeat
	HeartbeatReply  *HeartbeatReply
	SessionRequest  *SessionRequest
	SessionResponse *SessionResponse
	Upstream        *Upstream
	Downstream      *Downstream
}

// Parse decodes buf into a Message. The returned Message borrows MAC and
// payload slices from buf where possible; callers that retain a Message
// past the lifetime of buf must copy it themselves.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < HeaderLen {
		return nil, ErrBufferTooShort(HeaderLen, len(buf))
	}
	if buf[markerOffset] != marker[0] || buf[markerOffset+1] != marker[1] {
		return nil, wrapProtocol()
	}

	m := &Message{
		To:      net.HardwareAddr(buf[0:6]),
		From:    net.HardwareAddr(buf[6:12]),
		Class:   Class(buf[classOffset]),
		SubKind: buf[subKindOffset],
	}
	payload := buf[HeaderLen:]

	switch m.Class {
	case ClassControl:
		switch m.SubKind {
		case CtrlHeartbeat:
			hb, err := parseHeartbeat(payload)
			if err != nil {
				return nil, err
			}
			m.Heartbeat = hb
		case CtrlHeartbeatReply:
			hbr, err := parseHeartbeatReply(payload)
			if err != nil {
				return nil, err
			}
			m.HeartbeatReply = hbr
		case CtrlSessionRequest:
			sr, err := parseSessionRequest(payload)
			if err != nil {
				return nil, err
			}
			m.SessionRequest = sr
		case CtrlSessionResponse:
			sres, err := parseSessionResponse(payload)
			if err != nil {
				return nil, err
			}
			m.SessionResponse = sres
		default:
			return nil, wrapMessageType()
		}
	case ClassData:
		switch m.SubKind {
		case DataUpstream:
			up, err := parseUpstream(payload)
			if err != nil {
				return nil, err
			}
			m.Upstream = up
		case DataDownstream:
			down, err := parseDownstream(payload)
			if err != nil {
				return nil, err
			}
			m.Downstream = down
		default:
			return nil, wrapMessageType()
		}
	default:
		return nil, wrapMessageType()
	}

	return m, nil
}

func parseHeartbeat(b []byte) (*Heartbeat, error) {
	if len(b) < heartbeatPayloadLen {
		return nil, ErrBufferTooShort(HeaderLen+heartbeatPayloadLen, HeaderLen+len(b))
	}
	return &Heartbeat{
		DurationMs: durationFromLE(b[0:16]),
		ID:         binary.LittleEndian.Uint32(b[16:20]),
		Hops:       binary.LittleEndian.Uint32(b[20:24]),
		Source:     net.HardwareAddr(b[24:30]),
	}, nil
}

func parseHeartbeatReply(b []byte) (*HeartbeatReply, error) {
	if len(b) < heartbeatReplyPayloadLen {
		return nil, ErrBufferTooShort(HeaderLen+heartbeatReplyPayloadLen, HeaderLen+len(b))
	}
	return &HeartbeatReply{
		DurationMs: durationFromLE(b[0:16]),
		ID:         binary.LittleEndian.Uint32(b[16:20]),
		Hops:       binary.LittleEndian.Uint32(b[20:24]),
		Source:     net.HardwareAddr(b[24:30]),
		Sender:     net.HardwareAddr(b[30:36]),
	}, nil
}

func parseSessionRequest(b []byte) (*SessionRequest, error) {
	if len(b) < sessionRequestPayloadLen {
		return nil, ErrBufferTooShort(HeaderLen+sessionRequestPayloadLen, HeaderLen+len(b))
	}
	return &SessionRequest{
		Source:      net.HardwareAddr(b[0:6]),
		LifetimeSec: binary.LittleEndian.Uint64(b[6:14]),
	}, nil
}

func parseSessionResponse(b []byte) (*SessionResponse, error) {
	if len(b) < sessionResponsePayloadLen {
		return nil, ErrBufferTooShort(HeaderLen+sessionResponsePayloadLen, HeaderLen+len(b))
	}
	return &SessionResponse{Source: net.HardwareAddr(b[0:6])}, nil
}

func parseUpstream(b []byte) (*Upstream, error) {
	if len(b) < 2*macLen {
		return nil, ErrBufferTooShort(HeaderLen+2*macLen, HeaderLen+len(b))
	}
	return &Upstream{
		Origin:      net.HardwareAddr(b[0:6]),
		Destination: net.HardwareAddr(b[6:12]),
		Payload:     b[12:],
	}, nil
}

func parseDownstream(b []byte) (*Downstream, error) {
	if len(b) < 2*macLen {
		return nil, ErrBufferTooShort(HeaderLen+2*macLen, HeaderLen+len(b))
	}
	return &Downstream{
		Origin:      net.HardwareAddr(b[0:6]),
		Destination: net.HardwareAddr(b[6:12]),
		Payload:     b[12:],
	}, nil
}

func durationFromLE(b []byte) uint64 {
	// Only the low 8 bytes are meaningful; the high 8 bytes exist to
	// match the original 128-bit duration-since-boot encoding and are
	// always zero in practice.
	return binary.LittleEndian.Uint64(b[0:8])
}

func putDurationLE(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b[0:8], v)
	for i := 8; i < 16; i++ {
		b[i] = 0
	}
}

func putHeader(out []byte, to, from net.HardwareAddr, class Class, subKind uint8) {
	copy(out[0:6], to)
	copy(out[6:12], from)
	out[markerOffset] = marker[0]
	out[markerOffset+1] = marker[1]
	out[classOffset] = byte(class)
	out[subKindOffset] = subKind
}

// Serialize produces a contiguous byte sequence ready for a single write.
func Serialize(m *Message) ([]byte, error) {
	switch {
	case m.Heartbeat != nil:
		out := make([]byte, HeaderLen+heartbeatPayloadLen)
		n, err := SerializeHeartbeat(m.Heartbeat, m.From, m.To, out)
		return out[:n], err
	case m.HeartbeatReply != nil:
		out := make([]byte, HeaderLen+heartbeatReplyPayloadLen)
		n, err := serializeHeartbeatReplyRaw(m.HeartbeatReply, m.From, m.To, out)
		return out[:n], err
	case m.SessionRequest != nil:
		out := make([]byte, HeaderLen+sessionRequestPayloadLen)
		n, err := SerializeSessionRequest(m.SessionRequest, m.From, m.To, out)
		return out[:n], err
	case m.SessionResponse != nil:
		out := make([]byte, HeaderLen+sessionResponsePayloadLen)
		n, err := SerializeSessionResponse(m.SessionResponse, m.From, m.To, out)
		return out[:n], err
	case m.Upstream != nil:
		out := make([]byte, HeaderLen+2*macLen+len(m.Upstream.Payload))
		n, err := SerializeUpstream(m.Upstream, m.From, m.To, out)
		return out[:n], err
	case m.Downstream != nil:
		out := make([]byte, HeaderLen+2*macLen+len(m.Downstream.Payload))
		n, err := SerializeDownstream(m.Downstream.Origin, m.Downstream.Destination, m.Downstream.Payload, m.From, m.To, out)
		return out[:n], err
	default:
		return nil, wrapMessageType()
	}
}

// SerializeHeartbeat writes a Heartbeat frame into out, which must be at
// least HeaderLen+heartbeatPayloadLen bytes.
func SerializeHeartbeat(hb *Heartbeat, from, to net.HardwareAddr, out []byte) (int, error) {
	n := HeaderLen + heartbeatPayloadLen
	if len(out) < n {
		return 0, &ParseError{errBufferTooShort}
	}
	putHeader(out, to, from, ClassControl, CtrlHeartbeat)
	b := out[HeaderLen:n]
	putDurationLE(b[0:16], hb.DurationMs)
	binary.LittleEndian.PutUint32(b[16:20], hb.ID)
	binary.LittleEndian.PutUint32(b[20:24], hb.Hops)
	copy(b[24:30], hb.Source)
	return n, nil
}

// SerializeHeartbeatForward re-frames an inbound Heartbeat with hops
// incremented by one (saturating at math.MaxUint32), writing directly
// into out without intermediate allocation.
func SerializeHeartbeatForward(hbIn *Heartbeat, from, to net.HardwareAddr, out []byte) (int, error) {
	fwd := *hbIn
	fwd.Hops = saturatingIncrement(fwd.Hops)
	return SerializeHeartbeat(&fwd, from, to, out)
}

func saturatingIncrement(hops uint32) uint32 {
	if hops == ^uint32(0) {
		return hops
	}
	return hops + 1
}

func serializeHeartbeatReplyRaw(hbr *HeartbeatReply, from, to net.HardwareAddr, out []byte) (int, error) {
	n := HeaderLen + heartbeatReplyPayloadLen
	if len(out) < n {
		return 0, &ParseError{errBufferTooShort}
	}
	putHeader(out, to, from, ClassControl, CtrlHeartbeatReply)
	b := out[HeaderLen:n]
	putDurationLE(b[0:16], hbr.DurationMs)
	binary.LittleEndian.PutUint32(b[16:20], hbr.ID)
	binary.LittleEndian.PutUint32(b[20:24], hbr.Hops)
	copy(b[24:30], hbr.Source)
	copy(b[30:36], hbr.Sender)
	return n, nil
}

// SerializeHeartbeatReply writes a HeartbeatReply framed from an inbound
// Heartbeat: the reply carries the heartbeat's id/hops/source, the
// replying node's own MAC as sender, and residenceMs as the local
// residence time (the RSU subtracts this on arrival to compute latency).
func SerializeHeartbeatReply(hbIn *Heartbeat, sender, from, to net.HardwareAddr, residenceMs uint64, out []byte) (int, error) {
	hbr := &HeartbeatReply{
		DurationMs: residenceMs,
		ID:         hbIn.ID,
		Hops:       hbIn.Hops,
		Source:     hbIn.Source,
		Sender:     sender,
	}
	return serializeHeartbeatReplyRaw(hbr, from, to, out)
}

// SerializeHeartbeatReplyForward re-frames an inbound HeartbeatReply
// unchanged except for the outer header's from/to, for forwarding toward
// upstream_from.
func SerializeHeartbeatReplyForward(hbrIn *HeartbeatReply, from, to net.HardwareAddr, out []byte) (int, error) {
	return serializeHeartbeatReplyRaw(hbrIn, from, to, out)
}

// SerializeSessionRequest writes a SessionRequest frame.
func SerializeSessionRequest(sr *SessionRequest, from, to net.HardwareAddr, out []byte) (int, error) {
	n := HeaderLen + sessionRequestPayloadLen
	if len(out) < n {
		return 0, &ParseError{errBufferTooShort}
	}
	putHeader(out, to, from, ClassControl, CtrlSessionRequest)
	b := out[HeaderLen:n]
	copy(b[0:6], sr.Source)
	binary.LittleEndian.PutUint64(b[6:14], sr.LifetimeSec)
	return n, nil
}

// SerializeSessionResponse writes a SessionResponse frame.
func SerializeSessionResponse(sres *SessionResponse, from, to net.HardwareAddr, out []byte) (int, error) {
	n := HeaderLen + sessionResponsePayloadLen
	if len(out) < n {
		return 0, &ParseError{errBufferTooShort}
	}
	putHeader(out, to, from, ClassControl, CtrlSessionResponse)
	copy(out[HeaderLen:n], sres.Source)
	return n, nil
}

// SerializeUpstream writes an Upstream Data frame.
func SerializeUpstream(up *Upstream, from, to net.HardwareAddr, out []byte) (int, error) {
	n := HeaderLen + 2*macLen + len(up.Payload)
	if len(out) < n {
		return 0, &ParseError{errBufferTooShort}
	}
	putHeader(out, to, from, ClassData, DataUpstream)
	b := out[HeaderLen:n]
	copy(b[0:6], up.Origin)
	copy(b[6:12], up.Destination)
	copy(b[12:], up.Payload)
	return n, nil
}

// SerializeUpstreamForward re-frames an inbound Upstream message toward a
// new next hop without touching origin or payload.
func SerializeUpstreamForward(upIn *Upstream, from, to net.HardwareAddr, out []byte) (int, error) {
	return SerializeUpstream(upIn, from, to, out)
}

// SerializeDownstream writes a Downstream Data frame.
func SerializeDownstream(origin, destination net.HardwareAddr, payload []byte, from, to net.HardwareAddr, out []byte) (int, error) {
	n := HeaderLen + 2*macLen + len(payload)
	if len(out) < n {
		return 0, &ParseError{errBufferTooShort}
	}
	putHeader(out, to, from, ClassData, DataDownstream)
	b := out[HeaderLen:n]
	copy(b[0:6], origin)
	copy(b[6:12], destination)
	copy(b[12:], payload)
	return n, nil
}

// SerializeDownstreamForward re-frames an inbound Downstream message
// toward a new next hop without touching origin, destination, or payload.
func SerializeDownstreamForward(downIn *Downstream, from, to net.HardwareAddr, out []byte) (int, error) {
	return SerializeDownstream(downIn.Origin, downIn.Destination, downIn.Payload, from, to, out)
}

// SerializedLen returns the number of bytes Serialize(m) would produce.
func SerializedLen(m *Message) int {
	switch {
	case m.Heartbeat != nil:
		return HeaderLen + heartbeatPayloadLen
	case m.HeartbeatReply != nil:
		return HeaderLen + heartbeatReplyPayloadLen
	case m.SessionRequest != nil:
		return HeaderLen + sessionRequestPayloadLen
	case m.SessionResponse != nil:
		return HeaderLen + sessionResponsePayloadLen
	case m.Upstream != nil:
		return HeaderLen + 2*macLen + len(m.Upstream.Payload)
	case m.Downstream != nil:
		return HeaderLen + 2*macLen + len(m.Downstream.Payload)
	default:
		return 0
	}
}

// IsBroadcast reports whether mac is the all-ones broadcast address.
func IsBroadcast(mac net.HardwareAddr) bool {
	if len(mac) != macLen {
		return false
	}
	for _, b := range mac {
		if b != 0xff {
			return false
		}
	}
	return true
}

// IsMulticastOrBroadcast reports whether mac has the multicast/broadcast
// bit (LSB of the first octet) set.
func IsMulticastOrBroadcast(mac net.HardwareAddr) bool {
	if len(mac) != macLen {
		return false
	}
	return mac[0]&0x01 == 1
}

// BroadcastMAC is the all-ones overlay broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
