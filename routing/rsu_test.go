package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/wire"
)

func newTestRSU(t *testing.T, history int) *RSU {
	t.Helper()
	r, err := NewRSU(mac(0xF1), history, metrics.Noop())
	require.NoError(t, err)
	return r
}

func TestRSURejectsZeroHistory(t *testing.T) {
	_, err := NewRSU(mac(0xF1), 0, metrics.Noop())
	assert.Error(t, err)
}

func TestRSUSendHeartbeatAssignsMonotonicSequence(t *testing.T) {
	r := newTestRSU(t, 8)
	hb1 := r.SendHeartbeat(0)
	hb2 := r.SendHeartbeat(5)
	assert.Equal(t, uint32(0), hb1.ID)
	assert.Equal(t, uint32(1), hb2.ID)
	assert.Equal(t, uint32(0), hb1.Hops)
}

func TestRSUWindowEvictsOldestOnceFull(t *testing.T) {
	r := newTestRSU(t, 2)
	r.SendHeartbeat(0)
	r.SendHeartbeat(0)
	r.SendHeartbeat(0)

	stale0 := r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: 0, Sender: mac(9)}, mac(1), 10)
	stale2 := r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: 2, Sender: mac(9)}, mac(1), 10)
	assert.True(t, stale0)
	assert.False(t, stale2)
}

func TestRSUHandleHeartbeatReplyRecordsObservation(t *testing.T) {
	r := newTestRSU(t, 8)
	hb := r.SendHeartbeat(0)

	stale := r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Hops: 2, Sender: mac(9)}, mac(2), 10)
	require.False(t, stale)

	route, ok := r.GetRouteTo(mac(9))
	require.True(t, ok)
	assert.Equal(t, mac(2), route.NextHop)
	assert.Equal(t, uint32(2), route.Hops)
}

func TestRSUGetRouteToUnknownTargetIsFalse(t *testing.T) {
	r := newTestRSU(t, 8)
	r.SendHeartbeat(0)
	_, ok := r.GetRouteTo(mac(9))
	assert.False(t, ok)
}

func TestRSUHandleHeartbeatReplyOnUnknownSequenceIsStale(t *testing.T) {
	r := newTestRSU(t, 8)
	stale := r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: 123, Sender: mac(9)}, mac(2), 10)
	assert.True(t, stale)
}

func TestRSUIterNextHopsExcludesGivenNeighbor(t *testing.T) {
	r := newTestRSU(t, 8)
	hb := r.SendHeartbeat(0)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Sender: mac(9)}, mac(2), 10)
	r.HandleHeartbeatReply(&wire.HeartbeatReply{ID: hb.ID, Sender: mac(9)}, mac(3), 10)

	hops := r.IterNextHops(mac(2))
	require.Len(t, hops, 1)
	assert.Equal(t, mac(3), hops[0])
}
