package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(b byte) net.HardwareAddr {
	return net.HardwareAddr{b, b, b, b, b, b}
}

func TestParseRejectsShortFrame(t *testing.T) {
	_, err := Parse(make([]byte, 15))
	require.Error(t, err)
	assert.True(t, IsBufferTooShort(err))
}

func TestParseRejectsBadMarker(t *testing.T) {
	buf := make([]byte, 16)
	buf[12] = 0x31
	buf[13] = 0x30
	_, err := Parse(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	from, to := mac(1), mac(2)
	hb := &Heartbeat{DurationMs: 12345, ID: 7, Hops: 3, Source: mac(9)}
	out := make([]byte, HeaderLen+heartbeatPayloadLen)
	n, err := SerializeHeartbeat(hb, from, to, out)
	require.NoError(t, err)

	msg, err := Parse(out[:n])
	require.NoError(t, err)
	require.NotNil(t, msg.Heartbeat)
	assert.Equal(t, to, msg.To)
	assert.Equal(t, from, msg.From)
	assert.Equal(t, hb.DurationMs, msg.Heartbeat.DurationMs)
	assert.Equal(t, hb.ID, msg.Heartbeat.ID)
	assert.Equal(t, hb.Hops, msg.Heartbeat.Hops)
	assert.Equal(t, []byte(hb.Source), []byte(msg.Heartbeat.Source))
}

func TestHeartbeatForwardIncrementsHops(t *testing.T) {
	hb := &Heartbeat{DurationMs: 1, ID: 1, Hops: 4, Source: mac(3)}
	out := make([]byte, HeaderLen+heartbeatPayloadLen)
	n, err := SerializeHeartbeatForward(hb, mac(5), mac(6), out)
	require.NoError(t, err)
	msg, err := Parse(out[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(5), msg.Heartbeat.Hops)
}

func TestHeartbeatForwardSaturatesAtMax(t *testing.T) {
	hb := &Heartbeat{DurationMs: 1, ID: 1, Hops: ^uint32(0), Source: mac(3)}
	out := make([]byte, HeaderLen+heartbeatPayloadLen)
	n, err := SerializeHeartbeatForward(hb, mac(5), mac(6), out)
	require.NoError(t, err)
	msg, err := Parse(out[:n])
	require.NoError(t, err)
	assert.Equal(t, ^uint32(0), msg.Heartbeat.Hops)
}

func TestHeartbeatReplyRoundTrip(t *testing.T) {
	out := make([]byte, HeaderLen+heartbeatReplyPayloadLen)
	hbr := &HeartbeatReply{DurationMs: 99, ID: 2, Hops: 1, Source: mac(1), Sender: mac(2)}
	n, err := serializeHeartbeatReplyRaw(hbr, mac(3), mac(4), out)
	require.NoError(t, err)

	msg, err := Parse(out[:n])
	require.NoError(t, err)
	require.NotNil(t, msg.HeartbeatReply)
	assert.Equal(t, []byte(mac(2)), []byte(msg.HeartbeatReply.Sender))
	assert.Equal(t, uint32(2), msg.HeartbeatReply.ID)
}

func TestUpstreamDownstreamRoundTrip(t *testing.T) {
	up := &Upstream{Origin: mac(1), Destination: mac(4), Payload: []byte("ping-req")}
	out := make([]byte, HeaderLen+2*macLen+len(up.Payload))
	n, err := SerializeUpstream(up, mac(2), mac(3), out)
	require.NoError(t, err)
	msg, err := Parse(out[:n])
	require.NoError(t, err)
	require.NotNil(t, msg.Upstream)
	assert.Equal(t, []byte("ping-req"), msg.Upstream.Payload)
	assert.Equal(t, []byte(mac(4)), []byte(msg.Upstream.Destination))

	down := &Downstream{Origin: mac(1), Destination: mac(5), Payload: []byte("ping-rep")}
	out2 := make([]byte, HeaderLen+2*macLen+len(down.Payload))
	n2, err := SerializeDownstream(down.Origin, down.Destination, down.Payload, mac(2), mac(3), out2)
	require.NoError(t, err)
	msg2, err := Parse(out2[:n2])
	require.NoError(t, err)
	require.NotNil(t, msg2.Downstream)
	assert.Equal(t, []byte("ping-rep"), msg2.Downstream.Payload)
	assert.Equal(t, []byte(mac(5)), []byte(msg2.Downstream.Destination))
}

func TestSerializeParseEveryMessageIsRoundTrip(t *testing.T) {
	messages := []*Message{
		{From: mac(1), To: BroadcastMAC, Class: ClassControl, SubKind: CtrlHeartbeat,
			Heartbeat: &Heartbeat{DurationMs: 1, ID: 1, Hops: 0, Source: mac(1)}},
		{From: mac(2), To: mac(1), Class: ClassControl, SubKind: CtrlHeartbeatReply,
			HeartbeatReply: &HeartbeatReply{DurationMs: 2, ID: 1, Hops: 1, Source: mac(1), Sender: mac(2)}},
		{From: mac(2), To: mac(1), Class: ClassControl, SubKind: CtrlSessionRequest,
			SessionRequest: &SessionRequest{Source: mac(2), LifetimeSec: 1800}},
		{From: mac(1), To: mac(2), Class: ClassControl, SubKind: CtrlSessionResponse,
			SessionResponse: &SessionResponse{Source: mac(1)}},
		{From: mac(2), To: mac(1), Class: ClassData, SubKind: DataUpstream,
			Upstream: &Upstream{Origin: mac(9), Destination: mac(7), Payload: []byte{1, 2, 3}}},
		{From: mac(1), To: mac(2), Class: ClassData, SubKind: DataDownstream,
			Downstream: &Downstream{Origin: mac(9), Destination: mac(8), Payload: []byte{4, 5}}},
	}

	for _, m := range messages {
		buf, err := Serialize(m)
		require.NoError(t, err)
		assert.Equal(t, marker[0], buf[12])
		assert.Equal(t, marker[1], buf[13])
		assert.GreaterOrEqual(t, len(buf), HeaderLen)

		parsed, err := Parse(buf)
		require.NoError(t, err)
		assert.Equal(t, m.Class, parsed.Class)
		assert.Equal(t, m.SubKind, parsed.SubKind)
	}
}

func TestWireHeaderIntegrityInvariant(t *testing.T) {
	up := &Upstream{Origin: mac(1), Destination: mac(4), Payload: []byte("x")}
	out := make([]byte, HeaderLen+2*macLen+len(up.Payload))
	n, err := SerializeUpstream(up, mac(2), mac(3), out)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 16)
	assert.Equal(t, byte(0x30), out[12])
	assert.Equal(t, byte(0x30), out[13])
}
