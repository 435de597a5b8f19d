package node

import (
	"context"
	"net"
	"testing"
	"time"

	golog "github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/overlay/clientcache"
	"github.com/fieldmesh/overlay/crypto"
	"github.com/fieldmesh/overlay/logging"
	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/routing"
	"github.com/fieldmesh/overlay/wire"
)

func newTestRSUNode(t *testing.T, self net.HardwareAddr, cipher *crypto.Cipher) (*RSUNode, *routing.RSU, *clientcache.Cache) {
	t.Helper()
	log := logging.Setup("node_test", golog.ERROR, false)
	r, err := routing.NewRSU(self, 8, metrics.Noop())
	require.NoError(t, err)
	cache := clientcache.New()
	return NewRSUNode(self, r, cache, cipher, metrics.Noop(), log), r, cache
}

func TestRSUNodeHandleHeartbeatReplyOnlyForOwnHeartbeat(t *testing.T) {
	self := mac(0xF1)
	n, r, _ := newTestRSUNode(t, self, nil)
	hb := r.SendHeartbeat(0)

	// A reply to someone else's heartbeat must be ignored.
	other := &wire.HeartbeatReply{ID: hb.ID, Source: mac(0xF2), Sender: mac(9)}
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassControl, SubKind: wire.CtrlHeartbeatReply, HeartbeatReply: other}, mac(1), 10)
	require.NoError(t, err)
	assert.Nil(t, replies)

	mine := &wire.HeartbeatReply{ID: hb.ID, Hops: 1, Source: self, Sender: mac(9)}
	replies, err = n.HandleWire(&wire.Message{Class: wire.ClassControl, SubKind: wire.CtrlHeartbeatReply, HeartbeatReply: mine}, mac(1), 10)
	require.NoError(t, err)
	assert.Nil(t, replies)

	route, ok := r.GetRouteTo(mac(9))
	require.True(t, ok)
	assert.Equal(t, []byte(mac(1)), []byte(route.NextHop))
}

func TestRSUNodeHandleSessionRequestRespondsAlongRoute(t *testing.T) {
	self := mac(0xF1)
	n, r, _ := newTestRSUNode(t, self, nil)
	hb := r.SendHeartbeat(0)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: mac(9)}, mac(1), 10)

	sr := &wire.SessionRequest{Source: mac(9), LifetimeSec: 1800}
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassControl, SubKind: wire.CtrlSessionRequest, SessionRequest: sr}, mac(1), 0)
	require.NoError(t, err)
	require.Len(t, replies, 1)

	parsed, err := wire.Parse(replies[0].Frame)
	require.NoError(t, err)
	require.NotNil(t, parsed.SessionResponse)
	assert.Equal(t, []byte(self), []byte(parsed.SessionResponse.Source))
	assert.Equal(t, []byte(mac(1)), []byte(parsed.To))
}

func TestRSUNodeHandleDataDownstreamUnicastToSelfDeliversTapOnly(t *testing.T) {
	// 0xF0 keeps the multicast bit clear, so this exercises the unicast path.
	self := mac(0xF0)
	n, _, cache := newTestRSUNode(t, self, nil)
	cache.Store(self, self)

	plain := append(append([]byte{}, self...), append(mac(2), []byte("ping-req")...)...)
	down := &wire.Downstream{Origin: mac(2), Destination: mac(1), Payload: plain}
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassData, SubKind: wire.DataDownstream, Downstream: down}, mac(1), 0)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, ReplyTap, replies[0].Kind)
	assert.Equal(t, plain, replies[0].Frame)
}

func TestRSUNodeHandleDataDownstreamUnicastUnresolvedDrops(t *testing.T) {
	self := mac(0xF1)
	n, _, _ := newTestRSUNode(t, self, nil)

	// mac(8) is a unicast host MAC (multicast bit clear).
	plain := append(append([]byte{}, mac(8)...), append(mac(2), []byte("x")...)...)
	down := &wire.Downstream{Origin: mac(2), Destination: mac(1), Payload: plain}
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassData, SubKind: wire.DataDownstream, Downstream: down}, mac(1), 0)
	require.NoError(t, err)
	assert.Nil(t, replies)
}

func TestRSUNodeHandleDataDownstreamUnicastRelaysToResolvedOverlayNode(t *testing.T) {
	self := mac(0xF1)
	n, r, cache := newTestRSUNode(t, self, nil)
	target := mac(3)
	// mac(8) is a unicast host MAC (multicast bit clear).
	cache.Store(mac(8), target)

	hb := r.SendHeartbeat(0)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: target}, mac(2), 10)

	plain := append(append([]byte{}, mac(8)...), append(mac(7), []byte("x")...)...)
	down := &wire.Downstream{Origin: mac(7), Destination: self, Payload: plain}
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassData, SubKind: wire.DataDownstream, Downstream: down}, mac(2), 0)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, ReplyWire, replies[0].Kind)

	parsed, err := wire.Parse(replies[0].Frame)
	require.NoError(t, err)
	require.NotNil(t, parsed.Upstream)
	// Destination must carry the resolved overlay node, not the raw
	// inner host MAC — routing has no entry for the latter.
	assert.Equal(t, []byte(target), []byte(parsed.Upstream.Destination))
	assert.Equal(t, []byte(mac(2)), []byte(parsed.To))
}

func TestRSUNodeHandleDataDownstreamBroadcastFloodsAndDelivers(t *testing.T) {
	self := mac(0xF1)
	n, r, _ := newTestRSUNode(t, self, nil)

	hb := r.SendHeartbeat(0)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: mac(9)}, mac(2), 10)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: mac(10)}, mac(3), 10)

	plain := append(append([]byte{}, wire.BroadcastMAC...), append(mac(7), []byte("x")...)...)
	down := &wire.Downstream{Origin: mac(7), Destination: self, Payload: plain}
	// Arrives via mac(2): that neighbor must be excluded from the flood.
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassData, SubKind: wire.DataDownstream, Downstream: down}, mac(2), 0)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	var sawTap bool
	var wireDests []string
	for _, rep := range replies {
		if rep.Kind == ReplyTap {
			sawTap = true
			continue
		}
		parsed, err := wire.Parse(rep.Frame)
		require.NoError(t, err)
		wireDests = append(wireDests, string(parsed.To))
		assert.True(t, wire.IsMulticastOrBroadcast(parsed.Upstream.Destination))
	}
	assert.True(t, sawTap)
	assert.ElementsMatch(t, []string{string(mac(3))}, wireDests)
}

func TestRSUNodeHandleTapFrameFloodsUnconditionally(t *testing.T) {
	self := mac(0xF1)
	n, r, _ := newTestRSUNode(t, self, nil)

	hb := r.SendHeartbeat(0)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: mac(9)}, mac(2), 10)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: mac(10)}, mac(3), 10)

	frame := append(append([]byte{}, mac(9)...), append(self, []byte("ping-rep")...)...)
	replies, err := n.HandleTapFrame(frame)
	require.NoError(t, err)
	require.Len(t, replies, 2)

	for _, rep := range replies {
		assert.Equal(t, ReplyWire, rep.Kind)
		parsed, err := wire.Parse(rep.Frame)
		require.NoError(t, err)
		require.NotNil(t, parsed.Upstream)
		assert.Equal(t, []byte(self), []byte(parsed.Upstream.Origin))
		// No resolved client-cache entry for mac(9) yet: falls back to broadcast.
		assert.True(t, wire.IsMulticastOrBroadcast(parsed.Upstream.Destination))
	}
}

func TestRSUNodeHandleTapFrameResolvesKnownDestination(t *testing.T) {
	self := mac(0xF1)
	n, r, cache := newTestRSUNode(t, self, nil)
	target := mac(3)
	cache.Store(mac(9), target)

	hb := r.SendHeartbeat(0)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Source: self, Sender: target}, mac(2), 10)

	frame := append(append([]byte{}, mac(9)...), append(self, []byte("ping-rep")...)...)
	replies, err := n.HandleTapFrame(frame)
	require.NoError(t, err)
	require.Len(t, replies, 1)

	parsed, err := wire.Parse(replies[0].Frame)
	require.NoError(t, err)
	assert.Equal(t, []byte(target), []byte(parsed.Upstream.Destination))
}

func TestRSUNodeEncryptionFailureIsDropped(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	cipher, err := crypto.New(key)
	require.NoError(t, err)

	self := mac(0xF1)
	n, _, _ := newTestRSUNode(t, self, cipher)

	down := &wire.Downstream{Origin: mac(7), Destination: self, Payload: []byte("not sealed")}
	replies, err := n.HandleWire(&wire.Message{Class: wire.ClassData, SubKind: wire.DataDownstream, Downstream: down}, mac(2), 0)
	require.NoError(t, err)
	assert.Nil(t, replies)
}

func TestRSUNodeRunHeartbeatEmitsOnTick(t *testing.T) {
	self := mac(0xF1)
	n, _, _ := newTestRSUNode(t, self, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan []byte, 4)
	done := make(chan struct{})
	go func() {
		n.RunHeartbeat(ctx, 10*time.Millisecond, time.Now(), func(frame []byte) error {
			sent <- frame
			return nil
		})
		close(done)
	}()

	select {
	case frame := <-sent:
		parsed, err := wire.Parse(frame)
		require.NoError(t, err)
		require.NotNil(t, parsed.Heartbeat)
		assert.Equal(t, []byte(self), []byte(parsed.Heartbeat.Source))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
	cancel()
	<-done
}
