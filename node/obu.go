package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/fieldmesh/overlay/crypto"
	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/routing"
	"github.com/fieldmesh/overlay/wire"
)

// sessionRefreshInterval and sessionLifetime match the OBU's periodic
// keep-alive: a SessionRequest toward the cached upstream every 10s,
// each asking for a 1800s session.
const (
	sessionRefreshInterval = 10 * time.Second
	sessionLifetimeSec     = 1800
)

// OBUNode dispatches inbound wire and TAP frames for an onboard unit,
// consulting routing for next-hop decisions and producing the replies
// the transmit path flushes to the wire or TAP sink.
type OBUNode struct {
	self net.HardwareAddr

	routing *routing.OBU
	cipher  *crypto.Cipher
	metrics *metrics.Metrics
	log     *logging.Logger

	mu      sync.Mutex
	lastRSU net.HardwareAddr
}

// NewOBUNode builds an OBUNode. cipher may be nil to disable encryption.
func NewOBUNode(self net.HardwareAddr, r *routing.OBU, cipher *crypto.Cipher, m *metrics.Metrics, log *logging.Logger) *OBUNode {
	if m == nil {
		m = metrics.Noop()
	}
	return &OBUNode{self: self, routing: r, cipher: cipher, metrics: m, log: log}
}

// HandleWire dispatches one parsed inbound wire message, in the shape
// of the original handle_msg: a class/sub-kind switch over routing and
// re-framing decisions, returning the replies to flush.
func (n *OBUNode) HandleWire(msg *wire.Message, from net.HardwareAddr, nowMs uint64) ([]Reply, error) {
	switch msg.Class {
	case wire.ClassControl:
		switch msg.SubKind {
		case wire.CtrlHeartbeat:
			return n.handleHeartbeat(msg.Heartbeat, from, nowMs)
		case wire.CtrlHeartbeatReply:
			return n.handleHeartbeatReply(msg.HeartbeatReply, from, nowMs)
		case wire.CtrlSessionRequest:
			return n.handleSessionRequest(msg.SessionRequest)
		case wire.CtrlSessionResponse:
			return n.handleSessionResponse(msg.SessionResponse)
		}
	case wire.ClassData:
		switch msg.SubKind {
		case wire.DataDownstream:
			return n.handleDataDownstream(msg.Downstream)
		case wire.DataUpstream:
			return n.handleDataUpstream(msg.Upstream, from)
		}
	}
	return nil, nil
}

func (n *OBUNode) handleHeartbeat(hb *wire.Heartbeat, from net.HardwareAddr, nowMs uint64) ([]Reply, error) {
	outcome := n.routing.HandleHeartbeat(hb, from, nowMs)

	n.mu.Lock()
	n.lastRSU = append(net.HardwareAddr(nil), hb.Source...)
	n.mu.Unlock()
	// A newly visible RSU's first heartbeat should populate the
	// candidate cache immediately, not wait for a later send to trigger it.
	n.routing.SelectAndCacheUpstream(hb.Source)
	n.metrics.HeartbeatsForwarded.Inc()

	fwdSize := wire.SerializedLen(&wire.Message{Heartbeat: outcome.Forward})
	fwdOut := make([]byte, fwdSize)
	// outcome.Forward already carries hops+1; use the plain serializer so
	// it isn't incremented a second time.
	if _, err := wire.SerializeHeartbeat(outcome.Forward, n.self, wire.BroadcastMAC, fwdOut); err != nil {
		return nil, err
	}

	replySize := wire.SerializedLen(&wire.Message{HeartbeatReply: &wire.HeartbeatReply{}})
	replyOut := make([]byte, replySize)
	if _, err := wire.SerializeHeartbeatReply(hb, outcome.ReplySender, n.self, outcome.ReplyTo, outcome.ResidenceMs, replyOut); err != nil {
		return nil, err
	}

	return []Reply{
		{Kind: ReplyWire, Frame: fwdOut},
		{Kind: ReplyWire, Frame: replyOut},
	}, nil
}

func (n *OBUNode) handleHeartbeatReply(hbr *wire.HeartbeatReply, from net.HardwareAddr, nowMs uint64) ([]Reply, error) {
	forwardTo, dup, stale := n.routing.HandleHeartbeatReply(hbr, hbr.Source, from, nowMs)
	if dup || stale {
		return nil, nil
	}

	size := wire.SerializedLen(&wire.Message{HeartbeatReply: hbr})
	out := make([]byte, size)
	if _, err := wire.SerializeHeartbeatReplyForward(hbr, n.self, forwardTo, out); err != nil {
		return nil, err
	}
	return []Reply{{Kind: ReplyWire, Frame: out}}, nil
}

func (n *OBUNode) handleSessionRequest(sr *wire.SessionRequest) ([]Reply, error) {
	upstream, ok := n.routing.GetCachedUpstream()
	if !ok {
		return nil, nil
	}
	size := wire.SerializedLen(&wire.Message{SessionRequest: sr})
	out := make([]byte, size)
	if _, err := wire.SerializeSessionRequest(sr, n.self, upstream, out); err != nil {
		return nil, err
	}
	return []Reply{{Kind: ReplyWire, Frame: out}}, nil
}

func (n *OBUNode) handleSessionResponse(sres *wire.SessionResponse) ([]Reply, error) {
	if macEqual(sres.Source, n.self) {
		n.log.Debugf("session response for self terminates locally")
		return nil, nil
	}
	route, ok := n.routing.GetRouteTo(sres.Source)
	if !ok {
		return nil, nil
	}
	size := wire.SerializedLen(&wire.Message{SessionResponse: sres})
	out := make([]byte, size)
	if _, err := wire.SerializeSessionResponse(sres, n.self, route.NextHop, out); err != nil {
		return nil, err
	}
	return []Reply{{Kind: ReplyWire, Frame: out}}, nil
}

// handleDataDownstream relays host traffic climbing toward the RSU: this
// OBU doesn't inspect the payload, it just re-frames the same message
// toward its own cached upstream.
func (n *OBUNode) handleDataDownstream(down *wire.Downstream) ([]Reply, error) {
	upstream, ok := n.routing.GetCachedUpstream()
	if !ok {
		return nil, nil
	}
	size := wire.SerializedLen(&wire.Message{Downstream: down})
	out := make([]byte, size)
	if _, err := wire.SerializeDownstreamForward(down, n.self, upstream, out); err != nil {
		return nil, err
	}
	return []Reply{{Kind: ReplyWire, Frame: out}}, nil
}

// handleDataUpstream delivers or relays traffic flowing back out from
// the RSU. Destination is carried as a first-class wire field rather
// than inside Payload precisely so this decision never needs to open an
// encrypted payload: only a node that is actually delivering locally
// opens it, everyone else just re-addresses the still-sealed bytes.
func (n *OBUNode) handleDataUpstream(up *wire.Upstream, from net.HardwareAddr) ([]Reply, error) {
	var replies []Reply
	broadcast := wire.IsMulticastOrBroadcast(up.Destination)

	if broadcast || macEqual(up.Destination, n.self) {
		plain, ok := openPayload(n.cipher, up.Payload)
		if !ok {
			n.metrics.DecryptFailed.Inc()
		} else {
			replies = append(replies, Reply{Kind: ReplyTap, Frame: plain})
		}
	}

	if broadcast {
		for _, hop := range n.routing.IterNextHops(from) {
			out, err := n.reframeUpstream(up, hop)
			if err != nil {
				return replies, err
			}
			replies = append(replies, Reply{Kind: ReplyWire, Frame: out})
		}
		return replies, nil
	}

	if macEqual(up.Destination, n.self) {
		return replies, nil
	}

	route, ok := n.routing.GetRouteTo(up.Destination)
	if !ok {
		return replies, nil
	}
	out, err := n.reframeUpstream(up, route.NextHop)
	if err != nil {
		return replies, err
	}
	replies = append(replies, Reply{Kind: ReplyWire, Frame: out})
	return replies, nil
}

func (n *OBUNode) reframeUpstream(up *wire.Upstream, to net.HardwareAddr) ([]byte, error) {
	size := wire.SerializedLen(&wire.Message{Upstream: up})
	out := make([]byte, size)
	if _, err := wire.SerializeUpstreamForward(up, n.self, to, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HandleTapFrame wraps a frame read from the local TAP device into a
// Data/Downstream message addressed to the cached upstream, the way
// host traffic climbs onto the mesh at the OBU that owns it.
func (n *OBUNode) HandleTapFrame(frame []byte) ([]Reply, error) {
	if len(frame) < 6 {
		return nil, fmt.Errorf("node: tap frame too short to carry an ethernet header: %d bytes", len(frame))
	}
	upstream, ok := n.routing.GetCachedUpstream()
	if !ok {
		return nil, nil
	}
	dest := net.HardwareAddr(append([]byte(nil), frame[0:6]...))

	payload, err := sealPayload(n.cipher, frame)
	if err != nil {
		return nil, err
	}

	down := &wire.Downstream{Origin: n.self, Destination: dest, Payload: payload}
	size := wire.SerializedLen(&wire.Message{Downstream: down})
	out := make([]byte, size)
	if _, err := wire.SerializeDownstream(down.Origin, down.Destination, down.Payload, n.self, upstream, out); err != nil {
		return nil, err
	}
	return []Reply{{Kind: ReplyWire, Frame: out}}, nil
}

// RunSessionRefresh emits a SessionRequest toward the cached upstream
// every sessionRefreshInterval, until ctx is done. send is invoked with
// each built frame; callers typically wire it to a transmit.Batch flush.
func (n *OBUNode) RunSessionRefresh(ctx context.Context, send func(frame []byte) error) {
	ticker := time.NewTicker(sessionRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			upstream, ok := n.routing.GetCachedUpstream()
			if !ok {
				continue
			}
			sr := &wire.SessionRequest{Source: n.self, LifetimeSec: sessionLifetimeSec}
			size := wire.SerializedLen(&wire.Message{SessionRequest: sr})
			out := make([]byte, size)
			if _, err := wire.SerializeSessionRequest(sr, n.self, upstream, out); err != nil {
				n.log.Error("building session refresh request:", err)
				continue
			}
			if err := send(out); err != nil {
				n.log.Warning("sending session refresh request:", err)
			}
		}
	}
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
