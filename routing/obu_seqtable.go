package routing

import (
	"net"

	"github.com/golang/groupcache/lru"
)

type obuSeqEntry struct {
	tRecv            uint64 // milliseconds since this OBU's boot, at first receipt
	upstreamFrom     net.HardwareAddr
	hops             uint32
	upstreamRoutes   map[string]net.HardwareAddr
	downstreamRoutes map[string][]Observation
}

// obuSeqTable is the bounded, insertion-ordered window of heartbeat
// sequence ids observed from one RSU. It is backed by groupcache's lru
// for eviction bookkeeping only: every entry is added exactly once and
// never looked up through the cache itself (Get would promote it and
// corrupt the FIFO order), so lookups go through a plain index map kept
// in sync via the cache's eviction callback.
type obuSeqTable struct {
	capacity int
	order    *lru.Cache
	index    map[uint32]*obuSeqEntry
	hasAny   bool
}

func newOBUSeqTable(capacity int) *obuSeqTable {
	t := &obuSeqTable{
		capacity: capacity,
		index:    map[uint32]*obuSeqEntry{},
	}
	t.order = lru.New(capacity)
	t.order.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(t.index, key.(uint32))
	}
	return t
}

func (t *obuSeqTable) reset() {
	t.order = lru.New(t.capacity)
	order := t.order
	t.index = map[uint32]*obuSeqEntry{}
	order.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(t.index, key.(uint32))
	}
	t.hasAny = false
}

func (t *obuSeqTable) minID() uint32 {
	first := true
	var min uint32
	for id := range t.index {
		if first || id < min {
			min = id
			first = false
		}
	}
	return min
}

func (t *obuSeqTable) get(id uint32) (*obuSeqEntry, bool) {
	e, ok := t.index[id]
	return e, ok
}

// insertIfAbsent returns the existing entry for id if present. Otherwise
// it clears the whole table when id regresses before the earliest entry
// still held (a sequence reset), builds a new entry via makeEntry, and
// inserts it. A zero capacity means the window can never retain an
// entry at all (groupcache's lru treats MaxEntries == 0 as unlimited,
// the opposite of what a zero history window must mean here), so the
// built entry is handed back for this call only and never stored.
func (t *obuSeqTable) insertIfAbsent(id uint32, makeEntry func() *obuSeqEntry) (*obuSeqEntry, bool) {
	if t.capacity == 0 {
		return makeEntry(), true
	}
	if e, ok := t.index[id]; ok {
		return e, false
	}
	if t.hasAny && id < t.minID() {
		t.reset()
	}
	entry := makeEntry()
	t.index[id] = entry
	t.order.Add(id, entry)
	t.hasAny = true
	return entry, true
}

func (t *obuSeqTable) all() []*obuSeqEntry {
	out := make([]*obuSeqEntry, 0, len(t.index))
	for _, e := range t.index {
		out = append(out, e)
	}
	return out
}
