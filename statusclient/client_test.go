package statusclient

import (
	"net"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/overlay/statusserver"
)

type fakeSnapshotter struct {
	status statusserver.Status
}

func (f fakeSnapshotter) Snapshot() statusserver.Status { return f.status }

func TestRequestStatusOverRoundTrip(t *testing.T) {
	want := statusserver.Status{
		NodeType:       "obu",
		Self:           "aa:bb:cc:dd:ee:ff",
		CachedUpstream: "11:22:33:44:55:66",
		ClientCount:    3,
	}
	srv := statusserver.New(fakeSnapshotter{status: want}, logging.MustGetLogger("statusclient-test"))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go srv.Serve(listener)

	got, err := RequestStatus(listener.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRequestStatusUnreachableAddrFails(t *testing.T) {
	_, err := RequestStatus("127.0.0.1:1")
	assert.ErrorIs(t, err, ErrStatusUnavailable)
}
