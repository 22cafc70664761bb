package opt

import "math"

// InitializeDepartures consolidates taxis leaving this station close
// together in time. Each departure looks back through earlier departures,
// nearest first, until the pickup window closes and merges with the first
// compatible one. A taxi takes part in at most one merge per pass.
func (s *Station) InitializeDepartures(r *Registry) (int, error) {
	p := r.params
	touched := map[*Taxi]bool{}
	merges := 0
	for _, d := range s.departures.Snapshot() {
		if touched[d] || !d.queued || d.origin != s {
			continue
		}
		if d.TotalTripNodes() >= p.MaxNodes {
			continue
		}
		var cands []*Taxi
		s.departures.descendBefore(d, func(c *Taxi) bool {
			if c.dTime < d.dTime-p.PickupSlackSec {
				return false
			}
			if !touched[c] {
				cands = append(cands, c)
			}
			return true
		})
		for _, c := range cands {
			leg, ok := d.initialCombination(p, c)
			if !ok {
				continue
			}
			if err := r.consolidate(d, c, leg); err != nil {
				return merges, err
			}
			touched[d], touched[c] = true, true
			merges++
			break
		}
	}
	return merges, nil
}

// IntercountyOptimization pairs vehicles that arrive here from outside the
// region with departures headed back out to the county they came from, then
// repositions every departure still bound outside to its nearest station.
func (s *Station) IntercountyOptimization(r *Registry) (int, error) {
	p := r.params
	touched := map[*Taxi]bool{}
	merges := 0
	for _, a := range s.arrivals.Snapshot() {
		if touched[a] || !a.queued || a.origin != nil {
			continue
		}
		from := a.CurrentTrip().dCounty
		var match *Taxi
		s.departures.ascendFrom(departProbe(a.available, math.Inf(-1)), func(d *Taxi) bool {
			if d.dTime > a.available+p.ReuseWindowSec {
				return false
			}
			if touched[d] || d.current != nil {
				return true
			}
			if d.CurrentTrip().aCounty == from {
				match = d
				return false
			}
			return true
		})
		if match == nil {
			continue
		}
		dn, an := match.TotalTripNodes(), a.TotalTripNodes()
		if err := r.chain(a, match); err != nil {
			return merges, err
		}
		s.intercountyDNodes += dn
		s.intercountyANodes += an
		touched[a], touched[match] = true, true
		merges++
	}

	for _, d := range s.departures.Snapshot() {
		if d.current != nil {
			continue
		}
		dest := d.CurrentTrip().FindClosestCurrentStation(p, r.stations)
		if err := r.relocate(d, dest); err != nil {
			return merges, err
		}
	}
	return merges, nil
}

// OptimizeEmptyMiles hands each departure that ends away from its origin to
// a vehicle arriving here shortly before it leaves. A vehicle that started
// where the departure ends is preferred since the pair becomes a round trip;
// otherwise the arrival whose origin is nearest that end point is used.
func (s *Station) OptimizeEmptyMiles(r *Registry) (int, error) {
	p := r.params
	touched := map[*Taxi]bool{}
	merges := 0
	for _, d := range s.departures.Snapshot() {
		if touched[d] || !d.queued || d.origin != s {
			continue
		}
		if d.current == d.origin {
			continue
		}
		if d.current == nil {
			return merges, violation("OptimizeEmptyMiles", s, d, nil, "departure has no current station")
		}
		var exact, nearest *Taxi
		best := math.Inf(1)
		lo := arriveProbe(d.dTime-p.ReuseWindowSec, math.Inf(-1))
		hi := arriveProbe(d.dTime, math.Inf(1))
		s.arrivals.ascendRange(lo, hi, func(a *Taxi) bool {
			if a == d || touched[a] {
				return true
			}
			if a.origin == d.current {
				exact = a
				return false
			}
			if a.origin == nil {
				return true
			}
			if m := d.current.MilesTo(p, a.origin); m < best {
				best, nearest = m, a
			}
			return true
		})
		pick := exact
		if pick == nil {
			pick = nearest
		}
		if pick == nil {
			continue
		}
		if err := r.chain(pick, d); err != nil {
			return merges, err
		}
		touched[pick], touched[d] = true, true
		merges++
	}
	return merges, nil
}

// CycleDepartures sends every departure home to this station, then lets a
// vehicle that is already back take over the next departure. A vehicle that
// absorbed a chain can absorb again later in the pass but is never itself
// handed to another.
func (s *Station) CycleDepartures(r *Registry) (int, error) {
	for _, d := range s.departures.Snapshot() {
		if d.current == s {
			continue
		}
		if err := r.relocate(d, s); err != nil {
			return 0, err
		}
	}

	used := map[*Taxi]bool{}
	merges := 0
	for _, d := range s.departures.Snapshot() {
		if used[d] || !d.queued {
			continue
		}
		var pick *Taxi
		s.arrivals.ascendBelow(arriveProbe(d.dTime, math.Inf(1)), func(c *Taxi) bool {
			if c == d || c.origin != s {
				return true
			}
			pick = c
			return false
		})
		if pick == nil {
			continue
		}
		if err := r.chain(pick, d); err != nil {
			return merges, err
		}
		used[pick], used[d] = true, true
		merges++
	}
	return merges, nil
}
