package transmit

import (
	"context"
	"errors"
	"net"

	"github.com/fieldmesh/overlay/routing"
)

// ErrNoUpstream is returned when no cached or rebuilt upstream candidate
// is available to send through.
var ErrNoUpstream = errors.New("transmit: no upstream candidate available")

// maxFailoverAttempts bounds how many candidates SendUpstream will try
// before giving up, so a sink that rejects every frame (interface down)
// doesn't spin through the whole candidate list forever on one send.
const maxFailoverAttempts = 4

// SendUpstream writes a frame addressed to the OBU's currently cached
// upstream next hop, failing over to the next candidate (and, if
// necessary, rebuilding the candidate list) on every send error. frame
// is built fresh for each attempt via reframe, since the destination MAC
// changes between candidates.
func SendUpstream(ctx context.Context, w FrameWriter, obu *routing.OBU, rsu net.HardwareAddr, reframe func(nextHop net.HardwareAddr) []byte) error {
	nextHop, ok := obu.GetCachedUpstream()
	if !ok {
		nextHop, ok = obu.SelectAndCacheUpstream(rsu)
	}

	for attempt := 0; attempt < maxFailoverAttempts; attempt++ {
		if !ok {
			return SendError{ErrNoUpstream}
		}
		err := w.WriteFrame(ctx, reframe(nextHop))
		if err == nil {
			return nil
		}
		nextHop, ok = obu.Failover()
	}
	return SendError{ErrNoUpstream}
}
