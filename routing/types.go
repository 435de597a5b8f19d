// Package routing maintains each node's view of the mesh: the sliding
// window of recently observed heartbeats, the aggregated next-hop
// candidates derived from them, and (for OBUs) the cached upstream
// selection with its failover rotation.
package routing

import "net"

// Observation is one data point toward reaching some target: a next hop
// MAC, the hop count via that next hop, and an optional latency sample.
// A nil Latency means the candidate was never measured and is scored
// after every measured candidate.
type Observation struct {
	Hops    uint32
	NextHop net.HardwareAddr
	Latency *uint64 // microseconds
}

// Route is the outcome of a route selection: the next hop to use and the
// hop count it was chosen at.
type Route struct {
	NextHop net.HardwareAddr
	Hops    uint32
}
