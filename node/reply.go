// Package node implements the OBU and RSU message dispatchers: the
// decision logic that turns an inbound wire or TAP frame into zero or
// more outbound frames, mirroring the daemon's request/response handler
// shape but for mesh traffic instead of SSH sessions.
package node

// ReplyKind selects which sink a Reply's Frame is destined for.
type ReplyKind int

const (
	// ReplyWire sends Frame out the raw-packet side channel.
	ReplyWire ReplyKind = iota
	// ReplyTap injects Frame into the local TAP device.
	ReplyTap
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyWire:
		return "wire"
	case ReplyTap:
		return "tap"
	default:
		return "unknown"
	}
}

// Reply is one outbound frame produced by handling an inbound message.
// A single inbound frame can produce zero, one, or many replies (a
// broadcast Data message fans out to every known next hop).
type Reply struct {
	Kind  ReplyKind
	Frame []byte
}
