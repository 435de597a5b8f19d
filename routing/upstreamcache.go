package routing

import "net"

// upstreamCache holds the OBU's cached primary upstream next hop and its
// N-best alternates, plus the RSU MAC the selection was computed for.
// Callers hold the owning OBU's mutex; this type has no locking of its
// own. Modeled directly on the reference failover state machine: if only
// zero or one candidates remain, ask the caller to rebuild the candidate
// list from scratch before giving up; otherwise rotate the head of the
// list to the back and promote the new head.
type upstreamCache struct {
	source     net.HardwareAddr
	primary    net.HardwareAddr
	candidates []net.HardwareAddr
}

func (c *upstreamCache) get() (net.HardwareAddr, bool) {
	if c.primary == nil {
		return nil, false
	}
	return c.primary, true
}

func (c *upstreamCache) clear() {
	c.source = nil
	c.primary = nil
	c.candidates = nil
}

// set installs a freshly computed candidate list for source, promoting
// its head as primary. An empty cands clears the cache, mirroring the
// reference's "set_candidates(empty) stores None" rule.
func (c *upstreamCache) set(source net.HardwareAddr, cands []net.HardwareAddr) {
	if len(cands) == 0 {
		c.clear()
		return
	}
	c.source = source
	c.candidates = cands
	c.primary = cands[0]
}

// failover rotates away from the current primary. If fewer than two
// candidates remain, it asks rebuild to recompute the candidate list for
// the cached source (passing the number of candidates currently held);
// a non-empty result replaces the cache and its head becomes the new
// primary, except that when that head is the current primary and the
// result holds an alternate, the head is first moved to the tail.
// Otherwise the current head is moved to the tail and the new head is
// promoted. Returns the new primary and whether one is available.
func (c *upstreamCache) failover(rebuild func(source net.HardwareAddr, have int) []net.HardwareAddr) (net.HardwareAddr, bool) {
	if len(c.candidates) <= 1 {
		fresh := rebuild(c.source, len(c.candidates))
		if len(fresh) == 0 {
			c.clear()
			return nil, false
		}
		if len(fresh) > 1 && string(fresh[0]) == string(c.primary) {
			fresh = append(fresh[1:], fresh[0])
		}
		c.candidates = fresh
		c.primary = fresh[0]
		return c.primary, true
	}

	rotated := append(c.candidates[1:], c.candidates[0])
	c.candidates = rotated
	c.primary = rotated[0]
	return c.primary, true
}
