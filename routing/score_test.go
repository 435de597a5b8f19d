package routing

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(b byte) net.HardwareAddr { return net.HardwareAddr{b, b, b, b, b, b} }

func u64(v uint64) *uint64 { return &v }

func TestPickBestFiltersToMinHops(t *testing.T) {
	obs := []Observation{
		{Hops: 2, NextHop: mac(1), Latency: u64(10)},
		{Hops: 1, NextHop: mac(2), Latency: u64(500)},
	}
	route, ok := pickBest(obs)
	require.True(t, ok)
	assert.Equal(t, uint32(1), route.Hops)
	assert.Equal(t, mac(2), route.NextHop)
}

func TestPickBestPrefersLowerCompositeScore(t *testing.T) {
	obs := []Observation{
		{Hops: 1, NextHop: mac(1), Latency: u64(100)},
		{Hops: 1, NextHop: mac(1), Latency: u64(300)},
		{Hops: 1, NextHop: mac(2), Latency: u64(190)},
	}
	// mac(1): min=100, avg=200, score=150. mac(2): min=190, avg=190, score=190.
	route, ok := pickBest(obs)
	require.True(t, ok)
	assert.Equal(t, mac(1), route.NextHop)
}

func TestPickBestTieBreaksOnLexicographicMAC(t *testing.T) {
	obs := []Observation{
		{Hops: 1, NextHop: mac(9), Latency: u64(100)},
		{Hops: 1, NextHop: mac(3), Latency: u64(100)},
	}
	route, ok := pickBest(obs)
	require.True(t, ok)
	assert.Equal(t, mac(3), route.NextHop)
}

func TestPickBestUnmeasuredTiesLast(t *testing.T) {
	obs := []Observation{
		{Hops: 1, NextHop: mac(1)}, // unmeasured
		{Hops: 1, NextHop: mac(9), Latency: u64(99999)},
	}
	route, ok := pickBest(obs)
	require.True(t, ok)
	assert.Equal(t, mac(9), route.NextHop)
}

func TestPickBestEmptyIsFalse(t *testing.T) {
	_, ok := pickBest(nil)
	assert.False(t, ok)
}

func TestTopNBackfillsByHopsThenMACWhenNoLatencyData(t *testing.T) {
	obs := []Observation{
		{Hops: 2, NextHop: mac(5)},
		{Hops: 1, NextHop: mac(9)},
		{Hops: 1, NextHop: mac(2)},
	}
	got := topN(obs, 2)
	require.Len(t, got, 2)
	assert.Equal(t, mac(2), got[0])
	assert.Equal(t, mac(9), got[1])
}

func TestTopNUsesScoreWhenLatencyDataExists(t *testing.T) {
	obs := []Observation{
		{Hops: 1, NextHop: mac(1), Latency: u64(50)},
		{Hops: 1, NextHop: mac(2), Latency: u64(500)},
		{Hops: 2, NextHop: mac(3), Latency: u64(1)},
	}
	got := topN(obs, 5)
	require.Len(t, got, 2) // mac(3) is excluded: hops=2 is not the minimum
	assert.Equal(t, mac(1), got[0])
	assert.Equal(t, mac(2), got[1])
}
