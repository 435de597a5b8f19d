package routing

import (
	"net"
	"sync"

	"github.com/fieldmesh/overlay/metrics"
	"github.com/fieldmesh/overlay/wire"
)

// OBU tracks everything an onboard unit knows about the mesh: per-RSU
// sliding windows of heartbeat sequences, the observations they carry,
// and the cached upstream selection used to forward traffic toward the
// wired side of the network.
type OBU struct {
	mu sync.RWMutex

	self         net.HardwareAddr
	helloHistory int
	cachedN      int

	rsus  map[string]*obuSeqTable
	cache upstreamCache

	metrics *metrics.Metrics
}

// NewOBU constructs routing state for an OBU identified by self. history
// bounds each RSU's sequence window; cachedCandidates bounds the N-best
// upstream candidate list.
func NewOBU(self net.HardwareAddr, history, cachedCandidates int, m *metrics.Metrics) *OBU {
	if m == nil {
		m = metrics.Noop()
	}
	return &OBU{
		self:         self,
		helloHistory: history,
		cachedN:      cachedCandidates,
		rsus:         map[string]*obuSeqTable{},
		metrics:      m,
	}
}

// RSUTableSizes reports, for every RSU this OBU has ever received a
// heartbeat from, how many sequence ids its window currently holds.
// Intended for status reporting, not the hot path.
func (o *OBU) RSUTableSizes() map[string]int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sizes := make(map[string]int, len(o.rsus))
	for key, t := range o.rsus {
		sizes[net.HardwareAddr(key).String()] = len(t.index)
	}
	return sizes
}

func (o *OBU) tableFor(rsu net.HardwareAddr) *obuSeqTable {
	key := string(rsu)
	t, ok := o.rsus[key]
	if !ok {
		t = newOBUSeqTable(o.helloHistory)
		o.rsus[key] = t
	}
	return t
}

// HeartbeatOutcome carries what HandleHeartbeat learned: the rebroadcast
// copy (hops already incremented, saturating) and the unicast reply to
// send back toward from. Every heartbeat receipt produces both, whether
// or not its sequence id was already known — a duplicate still reveals
// an alternate neighbor worth recording and still owes its sender a
// reply, it just doesn't get inserted into the sequence window again.
type HeartbeatOutcome struct {
	Forward     *wire.Heartbeat
	ReplySender net.HardwareAddr
	ReplyTo     net.HardwareAddr
	ResidenceMs uint64
	Inserted    bool
}

// HandleHeartbeat records an inbound heartbeat, returning the data needed
// to both rebroadcast it (hops incremented, saturating) and reply to the
// neighbor it arrived from. nowMs is this OBU's own elapsed-since-boot
// clock, in milliseconds, supplied by the caller so tests can drive it
// deterministically.
func (o *OBU) HandleHeartbeat(hb *wire.Heartbeat, from net.HardwareAddr, nowMs uint64) *HeartbeatOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	incremented := saturatingIncrement(hb.Hops)
	table := o.tableFor(hb.Source)
	entry, inserted := table.insertIfAbsent(hb.ID, func() *obuSeqEntry {
		return &obuSeqEntry{
			tRecv:            nowMs,
			upstreamFrom:     from,
			hops:             incremented,
			upstreamRoutes:   map[string]net.HardwareAddr{string(from): from},
			downstreamRoutes: map[string][]Observation{},
		}
	})
	if !inserted {
		entry.upstreamRoutes[string(from)] = from
	}

	residence := uint64(0)
	if nowMs > entry.tRecv {
		residence = nowMs - entry.tRecv
	}

	return &HeartbeatOutcome{
		Forward: &wire.Heartbeat{
			DurationMs: hb.DurationMs,
			ID:         hb.ID,
			Hops:       incremented,
			Source:     hb.Source,
		},
		ReplySender: o.self,
		ReplyTo:     from,
		ResidenceMs: residence,
		Inserted:    inserted,
	}
}

// HandleHeartbeatReply records a reply's observation and decides whether
// to forward it on toward this RSU's upstream neighbor. dup reports a
// routing loop (the reply arrived back from the same neighbor this OBU
// used to reach the RSU) and stale reports the sequence fell outside the
// window; in both cases the reply must be dropped, not forwarded.
func (o *OBU) HandleHeartbeatReply(hbr *wire.HeartbeatReply, rsu net.HardwareAddr, from net.HardwareAddr, nowMs uint64) (forwardTo net.HardwareAddr, dup, stale bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	table, ok := o.rsus[string(rsu)]
	if !ok {
		o.metrics.StaleHeartbeat.Inc()
		return nil, false, true
	}
	entry, ok := table.get(hbr.ID)
	if !ok {
		o.metrics.StaleHeartbeat.Inc()
		return nil, false, true
	}

	// A reply arriving from the same neighbor we'd forward it to is a
	// loop: that neighbor is this sequence's upstream_from, so relaying
	// the reply there would just send it back the way it came.
	if string(from) == string(entry.upstreamFrom) {
		o.metrics.LoopDetected.Inc()
		return nil, true, false
	}

	latency := latencyMicros(nowMs, hbr.DurationMs)
	key := string(hbr.Sender)
	entry.downstreamRoutes[key] = append(entry.downstreamRoutes[key], Observation{
		Hops:    hbr.Hops,
		NextHop: from,
		Latency: &latency,
	})

	return entry.upstreamFrom, false, false
}

// GetRouteTo returns the best known route to target, aggregated across
// every sequence this OBU has ever recorded an observation for it under,
// for every RSU. It never consults the cached upstream.
func (o *OBU) GetRouteTo(target net.HardwareAddr) (Route, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var all []Observation
	key := string(target)
	for _, table := range o.rsus {
		for _, entry := range table.all() {
			all = append(all, entry.downstreamRoutes[key]...)
		}
	}
	return pickBest(all)
}

// GetCachedUpstream returns the currently cached primary upstream next
// hop, if any, without consulting the routing table.
func (o *OBU) GetCachedUpstream() (net.HardwareAddr, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cache.get()
}

// SelectAndCacheUpstream (re)computes the N-best next hops toward rsu
// from the upstream observations recorded under it, caches them, and
// promotes the first as primary.
func (o *OBU) SelectAndCacheUpstream(rsu net.HardwareAddr) (net.HardwareAddr, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.CacheSelect.Inc()

	cands := o.upstreamCandidates(rsu)
	o.cache.set(rsu, cands)
	return o.cache.get()
}

func (o *OBU) upstreamCandidates(rsu net.HardwareAddr) []net.HardwareAddr {
	table, ok := o.rsus[string(rsu)]
	if !ok {
		return nil
	}
	var obs []Observation
	for _, entry := range table.all() {
		for _, neighbor := range entry.upstreamRoutes {
			obs = append(obs, Observation{Hops: entry.hops, NextHop: neighbor})
		}
	}
	return topN(obs, o.cachedN)
}

// Failover rotates away from the current primary upstream, rebuilding
// the candidate list from the routing table if fewer than two candidates
// remain cached.
func (o *OBU) Failover() (net.HardwareAddr, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.Failover.Inc()
	return o.cache.failover(func(source net.HardwareAddr, _ int) []net.HardwareAddr {
		if source == nil {
			return nil
		}
		return o.upstreamCandidates(source)
	})
}

// IterNextHops returns every distinct next-hop MAC this OBU has ever
// recorded a downstream observation toward, across every RSU and
// sequence still in the window, excluding exclude (typically the
// neighbor the message being fanned out arrived from).
func (o *OBU) IterNextHops(exclude net.HardwareAddr) []net.HardwareAddr {
	o.mu.RLock()
	defer o.mu.RUnlock()

	seen := map[string]net.HardwareAddr{}
	for _, table := range o.rsus {
		for _, entry := range table.all() {
			for _, obs := range entry.downstreamRoutes {
				for _, observation := range obs {
					key := string(observation.NextHop)
					if key == string(exclude) {
						continue
					}
					seen[key] = observation.NextHop
				}
			}
		}
	}
	out := make([]net.HardwareAddr, 0, len(seen))
	for _, mac := range seen {
		out = append(out, mac)
	}
	return out
}

// ClearCache drops the cached upstream selection entirely, forcing the
// next send to go through SelectAndCacheUpstream.
func (o *OBU) ClearCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics.CacheClear.Inc()
	o.cache.clear()
}

func saturatingIncrement(hops uint32) uint32 {
	if hops == ^uint32(0) {
		return hops
	}
	return hops + 1
}

func latencyMicros(nowMs, markMs uint64) uint64 {
	if nowMs <= markMs {
		return 0
	}
	return (nowMs - markMs) * 1000
}
