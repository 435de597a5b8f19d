package routing

import (
	"net"
	"sort"
)

// aggregate collects every observation seen for one next hop, reduced to
// the statistics the scoring formula needs.
type aggregate struct {
	nextHop  string // raw MAC bytes as a map/sort key
	hops     uint32
	minMicros uint64
	sumMicros uint64
	count     uint32
	measured  bool
}

// score returns (min_latency + avg_latency) / 2 in microseconds, and
// whether the aggregate carries any measured sample at all.
func (a aggregate) score() (uint64, bool) {
	if !a.measured {
		return 0, false
	}
	avg := a.sumMicros / uint64(a.count)
	return (a.minMicros + avg) / 2, true
}

// less orders two aggregates by score ascending, with unmeasured
// aggregates always sorting after measured ones, and MAC ascending as the
// final tie-break.
func (a aggregate) less(b aggregate) bool {
	sa, ma := a.score()
	sb, mb := b.score()
	if ma && mb {
		if sa != sb {
			return sa < sb
		}
		return a.nextHop < b.nextHop
	}
	if ma != mb {
		return ma
	}
	return a.nextHop < b.nextHop
}

// aggregateByNextHop reduces observations already filtered to a single
// hop count into one aggregate per distinct next hop.
func aggregateByNextHop(obs []Observation) []aggregate {
	byHop := map[string]*aggregate{}
	order := []string{}
	for _, o := range obs {
		key := string(o.NextHop)
		a, ok := byHop[key]
		if !ok {
			a = &aggregate{nextHop: key, hops: o.Hops}
			byHop[key] = a
			order = append(order, key)
		}
		if o.Latency != nil {
			if !a.measured || *o.Latency < a.minMicros {
				a.minMicros = *o.Latency
			}
			a.sumMicros += *o.Latency
			a.count++
			a.measured = true
		}
	}
	out := make([]aggregate, 0, len(order))
	for _, key := range order {
		out = append(out, *byHop[key])
	}
	return out
}

// minHops returns the smallest Hops value present in obs, and false if
// obs is empty.
func minHops(obs []Observation) (uint32, bool) {
	if len(obs) == 0 {
		return 0, false
	}
	min := obs[0].Hops
	for _, o := range obs[1:] {
		if o.Hops < min {
			min = o.Hops
		}
	}
	return min, true
}

// filterHops returns the subset of obs whose Hops equals want.
func filterHops(obs []Observation, want uint32) []Observation {
	out := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if o.Hops == want {
			out = append(out, o)
		}
	}
	return out
}

// pickBest implements the composite route score: filter to the minimum
// hop count present, aggregate per next hop, and return the candidate
// with the lowest (min+avg)/2 latency, breaking ties on the
// lexicographically smaller MAC. Candidates with no latency sample at all
// tie last. Returns false if obs is empty.
func pickBest(obs []Observation) (Route, bool) {
	min, ok := minHops(obs)
	if !ok {
		return Route{}, false
	}
	aggs := aggregateByNextHop(filterHops(obs, min))
	if len(aggs) == 0 {
		return Route{}, false
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].less(aggs[j]) })
	best := aggs[0]
	return Route{NextHop: net.HardwareAddr([]byte(best.nextHop)), Hops: best.hops}, true
}

// topN returns up to n next hops ordered best-first by the same scoring
// rule pickBest uses, filtered to the minimum hop count present. When no
// observation in obs carries a latency sample at all, the list is instead
// backfilled by hop count ascending, then MAC ascending, across every hop
// count present (not just the minimum) so failover still has alternates.
func topN(obs []Observation, n int) []net.HardwareAddr {
	if len(obs) == 0 || n <= 0 {
		return nil
	}

	anyMeasured := false
	for _, o := range obs {
		if o.Latency != nil {
			anyMeasured = true
			break
		}
	}

	if !anyMeasured {
		return backfillByHopsThenMAC(obs, n)
	}

	min, _ := minHops(obs)
	aggs := aggregateByNextHop(filterHops(obs, min))
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].less(aggs[j]) })
	out := make([]net.HardwareAddr, 0, n)
	for _, a := range aggs {
		if len(out) == n {
			break
		}
		out = append(out, net.HardwareAddr([]byte(a.nextHop)))
	}
	return out
}

func backfillByHopsThenMAC(obs []Observation, n int) []net.HardwareAddr {
	type entry struct {
		hops    uint32
		nextHop string
	}
	seen := map[string]bool{}
	entries := make([]entry, 0, len(obs))
	for _, o := range obs {
		key := string(o.NextHop)
		if seen[key] {
			continue
		}
		seen[key] = true
		entries = append(entries, entry{hops: o.Hops, nextHop: key})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hops != entries[j].hops {
			return entries[i].hops < entries[j].hops
		}
		return entries[i].nextHop < entries[j].nextHop
	})
	out := make([]net.HardwareAddr, 0, n)
	for _, e := range entries {
		if len(out) == n {
			break
		}
		out = append(out, net.HardwareAddr([]byte(e.nextHop)))
	}
	return out
}
