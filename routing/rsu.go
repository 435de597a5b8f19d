package routing

import (
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/wire"
)

type rsuSeqEntry struct {
	emitMs   uint64
	bySender map[string][]Observation
}

// RSU tracks the sequence window for heartbeats this RSU itself emits,
// and the observations its replies carry back.
type RSU struct {
	mu sync.RWMutex

	self         net.HardwareAddr
	helloHistory int
	nextID       uint32

	seq *lru.Cache // uint32 -> *rsuSeqEntry, Add-only, Peek for lookups

	metrics *metrics.Metrics
}

// NewRSU constructs routing state for an RSU identified by self. history
// bounds the sequence window and must be at least 1.
func NewRSU(self net.HardwareAddr, history int, m *metrics.Metrics) (*RSU, error) {
	if m == nil {
		m = metrics.Noop()
	}
	cache, err := lru.New(history)
	if err != nil {
		return nil, err
	}
	return &RSU{
		self:         self,
		helloHistory: history,
		seq:          cache,
		metrics:      m,
	}, nil
}

// SendHeartbeat allocates the next sequence id, records its emission
// time, and returns the heartbeat to broadcast.
func (r *RSU) SendHeartbeat(nowMs uint64) *wire.Heartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	if earliest, ok := r.earliestID(); ok && id < earliest {
		r.seq.Purge()
	}
	r.seq.Add(id, &rsuSeqEntry{emitMs: nowMs, bySender: map[string][]Observation{}})
	r.metrics.HeartbeatsSent.Inc()

	return &wire.Heartbeat{DurationMs: nowMs, ID: id, Hops: 0, Source: r.self}
}

func (r *RSU) earliestID() (uint32, bool) {
	keys := r.seq.Keys()
	if len(keys) == 0 {
		return 0, false
	}
	return keys[0].(uint32), true
}

// HandleHeartbeatReply records the observation a reply carries, keyed by
// the OBU that originated it (hbr.Sender). Returns stale if the reply's
// sequence id has already fallen out of the window.
func (r *RSU) HandleHeartbeatReply(hbr *wire.HeartbeatReply, from net.HardwareAddr, nowMs uint64) (stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.seq.Peek(hbr.ID)
	if !ok {
		r.metrics.StaleHeartbeat.Inc()
		return true
	}
	entry := v.(*rsuSeqEntry)

	latency := latencyMicros(nowMs, hbr.DurationMs)
	key := string(hbr.Sender)
	entry.bySender[key] = append(entry.bySender[key], Observation{
		Hops:    hbr.Hops,
		NextHop: from,
		Latency: &latency,
	})
	return false
}

// GetRouteTo returns the best known route to target, aggregated across
// every sequence still in the window.
func (r *RSU) GetRouteTo(target net.HardwareAddr) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Observation
	key := string(target)
	for _, k := range r.seq.Keys() {
		v, ok := r.seq.Peek(k)
		if !ok {
			continue
		}
		entry := v.(*rsuSeqEntry)
		all = append(all, entry.bySender[key]...)
	}
	return pickBest(all)
}

// IterNextHops returns every distinct next-hop MAC this RSU has ever
// observed a reply arrive from, across every sequence still in the
// window, excluding exclude (typically the originating neighbor of the
// message currently being handled).
func (r *RSU) IterNextHops(exclude net.HardwareAddr) []net.HardwareAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]net.HardwareAddr{}
	for _, k := range r.seq.Keys() {
		v, ok := r.seq.Peek(k)
		if !ok {
			continue
		}
		entry := v.(*rsuSeqEntry)
		for _, obs := range entry.bySender {
			for _, o := range obs {
				key := string(o.NextHop)
				if key == string(exclude) {
					continue
				}
				seen[key] = o.NextHop
			}
		}
	}
	out := make([]net.HardwareAddr, 0, len(seen))
	for _, mac := range seen {
		out = append(out, mac)
	}
	return out
}
