package node

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/op/go-logging"

	"github.com/fieldmesh/overlay/clientcache"
	"github.com/fieldmesh/overlay/crypto"
	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/routing"
	"github.com/fieldmesh/overlay/wire"
)

// RSUNode dispatches inbound wire and TAP frames for a roadside unit:
// the root of the tree, the only node that emits heartbeats, and the
// only node that tracks which overlay neighbor last carried which host.
type RSUNode struct {
	self net.HardwareAddr

	routing *routing.RSU
	cache   *clientcache.Cache
	cipher  *crypto.Cipher
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewRSUNode builds an RSUNode. cipher may be nil to disable encryption.
func NewRSUNode(self net.HardwareAddr, r *routing.RSU, cache *clientcache.Cache, cipher *crypto.Cipher, m *metrics.Metrics, log *logging.Logger) *RSUNode {
	if m == nil {
		m = metrics.Noop()
	}
	return &RSUNode{self: self, routing: r, cache: cache, cipher: cipher, metrics: m, log: log}
}

// HandleWire dispatches one parsed inbound wire message. An RSU is the
// root of the tree: it never forwards Heartbeat or Upstream traffic
// (Upstream, as the content its own TAP ingress emits, never arrives
// back over the wire in a well-formed mesh) and only acts on
// HeartbeatReply, SessionRequest, and Downstream.
func (n *RSUNode) HandleWire(msg *wire.Message, from net.HardwareAddr, nowMs uint64) ([]Reply, error) {
	switch msg.Class {
	case wire.ClassControl:
		switch msg.SubKind {
		case wire.CtrlHeartbeatReply:
			return n.handleHeartbeatReply(msg.HeartbeatReply, from, nowMs)
		case wire.CtrlSessionRequest:
			return n.handleSessionRequest(msg.SessionRequest)
		}
	case wire.ClassData:
		switch msg.SubKind {
		case wire.DataDownstream:
			return n.handleDataDownstream(msg.Downstream, from)
		}
	}
	return nil, nil
}

func (n *RSUNode) handleHeartbeatReply(hbr *wire.HeartbeatReply, from net.HardwareAddr, nowMs uint64) ([]Reply, error) {
	if !macEqual(hbr.Source, n.self) {
		return nil, nil
	}
	n.routing.HandleHeartbeatReply(hbr, from, nowMs)
	return nil, nil
}

func (n *RSUNode) handleSessionRequest(sr *wire.SessionRequest) ([]Reply, error) {
	route, ok := n.routing.GetRouteTo(sr.Source)
	if !ok {
		return nil, nil
	}
	sres := &wire.SessionResponse{Source: n.self}
	size := wire.SerializedLen(&wire.Message{SessionResponse: sres})
	out := make([]byte, size)
	if _, err := wire.SerializeSessionResponse(sres, n.self, route.NextHop, out); err != nil {
		return nil, err
	}
	return []Reply{{Kind: ReplyWire, Frame: out}}, nil
}

// handleDataDownstream is the terminus for host traffic climbing toward
// the RSU: it parses the inner Ethernet header carried in Payload,
// records the client cache entry, and either delivers to the local TAP,
// floods to every known next hop except the neighbor it arrived from
// (broadcast/multicast), or relays to the single overlay node known to
// carry the destination host.
func (n *RSUNode) handleDataDownstream(down *wire.Downstream, from net.HardwareAddr) ([]Reply, error) {
	plain, ok := openPayload(n.cipher, down.Payload)
	if !ok {
		n.metrics.DecryptFailed.Inc()
		return nil, nil
	}
	if len(plain) < 12 {
		return nil, fmt.Errorf("node: downstream payload too short to carry an inner ethernet header: %d bytes", len(plain))
	}
	innerDest := net.HardwareAddr(plain[0:6])
	innerSrc := net.HardwareAddr(plain[6:12])
	n.cache.Store(innerSrc, down.Origin)

	var replies []Reply

	if wire.IsMulticastOrBroadcast(innerDest) {
		replies = append(replies, Reply{Kind: ReplyTap, Frame: plain})
		for _, hop := range n.routing.IterNextHops(from) {
			out, err := n.reframeAsUpstream(down, wire.BroadcastMAC, hop)
			if err != nil {
				return replies, err
			}
			replies = append(replies, Reply{Kind: ReplyWire, Frame: out})
		}
		return replies, nil
	}

	target, ok := n.cache.Get(innerDest)
	if !ok {
		return replies, nil
	}
	if macEqual(target, n.self) {
		replies = append(replies, Reply{Kind: ReplyTap, Frame: plain})
		return replies, nil
	}

	route, ok := n.routing.GetRouteTo(target)
	if !ok {
		return replies, nil
	}
	out, err := n.reframeAsUpstream(down, target, route.NextHop)
	if err != nil {
		return replies, err
	}
	replies = append(replies, Reply{Kind: ReplyWire, Frame: out})
	return replies, nil
}

// reframeAsUpstream wraps a Downstream message's origin and still-opaque
// payload into an Upstream message addressed toward to: host traffic
// that climbed in as Downstream flows back out as Upstream. target is
// the overlay node identity the message is ultimately bound for (an
// OBU's or RSU's own MAC, or the broadcast marker) — never the inner
// LAN client MAC, which routing has no entry for.
func (n *RSUNode) reframeAsUpstream(down *wire.Downstream, target net.HardwareAddr, to net.HardwareAddr) ([]byte, error) {
	up := &wire.Upstream{Origin: down.Origin, Destination: target, Payload: down.Payload}
	size := wire.SerializedLen(&wire.Message{Upstream: up})
	out := make([]byte, size)
	if _, err := wire.SerializeUpstream(up, n.self, to, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HandleTapFrame wraps a frame read from the RSU's own TAP device into
// an Upstream message and floods it to every distinct known next hop:
// traffic originating at the RSU's wired side, by definition, is bound
// for somewhere out in the mesh. The client cache resolves the inner
// destination to an overlay node when known; an unresolved destination
// falls back to the broadcast marker, same as an explicit broadcast.
func (n *RSUNode) HandleTapFrame(frame []byte) ([]Reply, error) {
	if len(frame) < 12 {
		return nil, fmt.Errorf("node: tap frame too short to carry an ethernet header: %d bytes", len(frame))
	}
	innerDest := net.HardwareAddr(append([]byte(nil), frame[0:6]...))
	innerSrc := net.HardwareAddr(append([]byte(nil), frame[6:12]...))
	n.cache.Store(innerSrc, n.self)

	target, ok := n.cache.Get(innerDest)
	if !ok {
		target = wire.BroadcastMAC
	}

	payload, err := sealPayload(n.cipher, frame)
	if err != nil {
		return nil, err
	}
	up := &wire.Upstream{Origin: n.self, Destination: target, Payload: payload}
	size := wire.SerializedLen(&wire.Message{Upstream: up})

	var replies []Reply
	for _, hop := range n.routing.IterNextHops(nil) {
		out := make([]byte, size)
		if _, err := wire.SerializeUpstream(up, n.self, hop, out); err != nil {
			return replies, err
		}
		replies = append(replies, Reply{Kind: ReplyWire, Frame: out})
	}
	return replies, nil
}

// RunHeartbeat emits a broadcast Heartbeat every period, until ctx is
// done. send is invoked with each built frame.
func (n *RSUNode) RunHeartbeat(ctx context.Context, period time.Duration, bootTime time.Time, send func(frame []byte) error) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nowMs := uint64(time.Since(bootTime).Milliseconds())
			hb := n.routing.SendHeartbeat(nowMs)
			size := wire.SerializedLen(&wire.Message{Heartbeat: hb})
			out := make([]byte, size)
			if _, err := wire.SerializeHeartbeat(hb, n.self, wire.BroadcastMAC, out); err != nil {
				n.log.Error("building heartbeat:", err)
				continue
			}
			if err := send(out); err != nil {
				n.log.Warning("sending heartbeat:", err)
			}
		}
	}
}
