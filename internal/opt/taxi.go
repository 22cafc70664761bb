package opt

import (
	"cmp"
	"math"
)

// Taxi is one vehicle and its chained legs. A taxi sits in the departure
// queue of its origin station and the arrival queue of its current station;
// a nil station means the vehicle starts or ends outside the region.
//
// Any change to a field that feeds the queue orderings must happen while the
// taxi is deregistered (RemoveAllTraces, mutate, UpdateEverywhere). Mutators
// return an invariant error otherwise.
type Taxi struct {
	id         uint64
	legs       []*Trip
	origin     *Station
	current    *Station
	at         Pixel // last known position
	dTime      float64
	available  float64
	emptyMiles float64
	queued     bool
}

func newTaxi(id uint64, trip *Trip, origin, current *Station) *Taxi {
	return &Taxi{
		id:        id,
		legs:      []*Trip{trip},
		origin:    origin,
		current:   current,
		at:        trip.Destination(),
		dTime:     trip.dTime,
		available: trip.aTime,
	}
}

func (t *Taxi) ID() uint64            { return t.id }
func (t *Taxi) Origin() *Station      { return t.origin }
func (t *Taxi) Current() *Station     { return t.current }
func (t *Taxi) DepartSec() float64    { return t.dTime }
func (t *Taxi) AvailableSec() float64 { return t.available }
func (t *Taxi) EmptyMiles() float64   { return t.emptyMiles }
func (t *Taxi) NumTrips() int         { return len(t.legs) }
func (t *Taxi) Registered() bool      { return t.queued }

// Legs returns the chained trips in time order.
func (t *Taxi) Legs() []*Trip { return append([]*Trip(nil), t.legs...) }

// CurrentTrip is the last leg of the chain.
func (t *Taxi) CurrentTrip() *Trip { return t.legs[len(t.legs)-1] }

// TotalTripNodes sums node counts across all legs.
func (t *Taxi) TotalTripNodes() int {
	n := 0
	for _, l := range t.legs {
		n += l.NodeCount()
	}
	return n
}

func (t *Taxi) TotalRiders() int {
	n := 0
	for _, l := range t.legs {
		n += l.TotalRiders()
	}
	return n
}

func (t *Taxi) TotalTripMiles() float64 {
	m := 0.0
	for _, l := range t.legs {
		m += l.vehMiles
	}
	return m
}

// AddTrips chains other's legs onto t. other goes in front when it is free
// before t departs, behind when it departs after t is free; overlapping
// chains are rejected. other is consumed and must already be deregistered.
func (t *Taxi) AddTrips(other *Taxi) error {
	if t.queued || other.queued {
		return violation("AddTrips", nil, t, other, "taxi mutated while registered")
	}
	nodes := t.TotalTripNodes() + other.TotalTripNodes()
	switch {
	case other.available <= t.dTime:
		t.legs = append(append([]*Trip(nil), other.legs...), t.legs...)
		t.origin = other.origin
		t.dTime = other.dTime
	case other.dTime >= t.available:
		t.legs = append(t.legs, other.legs...)
		t.current = other.current
		t.available = other.available
		t.at = other.at
	default:
		return violation("AddTrips", nil, t, other,
			"overlapping chains [%v,%v] and [%v,%v]", t.dTime, t.available, other.dTime, other.available)
	}
	t.emptyMiles += other.emptyMiles
	if got := t.TotalTripNodes(); got != nodes {
		return violation("AddTrips", nil, t, other, "node count %d after merge, want %d", got, nodes)
	}
	return nil
}

// CombineInitialTripNodes consolidates other's single trip into t's when the
// pickup, detour, capacity and circuity limits allow it. Both taxis must be
// deregistered. On success t carries the merged leg and other is spent.
func (t *Taxi) CombineInitialTripNodes(p Params, other *Taxi) (bool, error) {
	if t.queued || other.queued {
		return false, violation("CombineInitialTripNodes", nil, t, other, "taxi mutated while registered")
	}
	leg, ok := t.initialCombination(p, other)
	if !ok {
		return false, nil
	}
	t.takeLeg(leg, other)
	return true, nil
}

func (t *Taxi) initialCombination(p Params, other *Taxi) (*Trip, bool) {
	if len(t.legs) != 1 || len(other.legs) != 1 {
		return nil, false
	}
	mine, theirs := t.legs[0], other.legs[0]
	if t.TotalTripNodes()+other.TotalTripNodes() > p.MaxNodes {
		return nil, false
	}
	gap := math.Abs(mine.dTime - theirs.dTime)
	if gap+mine.delay > p.PickupSlackSec || gap+theirs.delay > p.PickupSlackSec {
		return nil, false
	}
	// the vehicle must be able to drive between the pickups in the gap
	if p.DriveSeconds(p.Miles(mine.Origin(), theirs.Origin())) > gap {
		return nil, false
	}
	if mine.TotalRiders()+theirs.TotalRiders() > p.MaxRiders {
		return nil, false
	}
	return mine.combined(p, theirs)
}

func (t *Taxi) takeLeg(leg *Trip, other *Taxi) {
	t.legs = []*Trip{leg}
	t.dTime = leg.dTime
	t.available = leg.aTime
	t.at = leg.Destination()
	t.emptyMiles += other.emptyMiles
}

// SendTo drives the taxi empty from its last position to s.
func (t *Taxi) SendTo(p Params, s *Station) error {
	if t.queued {
		return violation("SendTo", s, t, nil, "taxi mutated while registered")
	}
	if s == nil {
		return violation("SendTo", nil, t, nil, "nil destination")
	}
	miles := p.Miles(t.at, s.at)
	t.emptyMiles += miles
	t.available += p.DriveSeconds(miles)
	t.current = s
	t.at = s.at
	return nil
}

// UpdateEverywhere inserts the taxi into the queues of its stations.
func (t *Taxi) UpdateEverywhere(r *Registry) error { return r.register(t) }

// RemoveAllTraces removes the taxi from the queues of its stations.
func (t *Taxi) RemoveAllTraces(r *Registry) error { return r.deregister(t) }

// departureOrder sorts by departure time, then availability, then origin
// station (external origins last), then distance from the origin to the last
// drop-off, then by leg structure. Every key is a property of one taxi, so
// the order is a lexicographic total order; the taxi id breaks remaining ties
// so distinct taxis never compare equal.
func departureOrder(p Params) func(a, b *Taxi) int {
	return func(a, b *Taxi) int {
		if a == b {
			return 0
		}
		if c := cmp.Compare(a.dTime, b.dTime); c != 0 {
			return c
		}
		if c := cmp.Compare(a.available, b.available); c != 0 {
			return c
		}
		if c := cmp.Compare(a.originKey(), b.originKey()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.homeMiles(p), b.homeMiles(p)); c != 0 {
			return c
		}
		if c := compareLegs(a, b); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	}
}

func (t *Taxi) originKey() int {
	if t.origin == nil {
		return math.MaxInt
	}
	return t.origin.id
}

// homeMiles is the distance from the origin station to the last drop-off,
// zero for external origins.
func (t *Taxi) homeMiles(p Params) float64 {
	if t.origin == nil || len(t.legs) == 0 {
		return 0
	}
	return p.Miles(t.origin.at, t.CurrentTrip().Destination())
}

// arrivalOrder sorts by availability first and falls back to departureOrder.
func arrivalOrder(p Params) func(a, b *Taxi) int {
	dep := departureOrder(p)
	return func(a, b *Taxi) int {
		if c := cmp.Compare(a.available, b.available); c != 0 {
			return c
		}
		return dep(a, b)
	}
}

func compareLegs(a, b *Taxi) int {
	if c := cmp.Compare(len(a.legs), len(b.legs)); c != 0 {
		return c
	}
	for i := range a.legs {
		x, y := a.legs[i], b.legs[i]
		if c := cmp.Compare(x.NodeCount(), y.NodeCount()); c != 0 {
			return c
		}
		if c := cmp.Compare(x.dTime, y.dTime); c != 0 {
			return c
		}
		if c := cmp.Compare(x.aTime, y.aTime); c != 0 {
			return c
		}
		if c := cmp.Compare(x.vehMiles, y.vehMiles); c != 0 {
			return c
		}
		if c := cmp.Compare(x.TotalRiders(), y.TotalRiders()); c != 0 {
			return c
		}
	}
	return 0
}

// Range probes are bare taxis used as btree pivots. Callers pass an infinite
// secondary key so a probe never ties with a queued taxi.
func departProbe(dTime, available float64) *Taxi {
	return &Taxi{dTime: dTime, available: available}
}

func arriveProbe(available, dTime float64) *Taxi {
	return &Taxi{available: available, dTime: dTime}
}
