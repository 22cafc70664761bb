package opt

import (
	"fmt"
	"sort"
)

// Registry owns the stations and every live taxi. Taxis that begin and end
// outside the region are live but sit in no station queue.
type Registry struct {
	params   Params
	region   string
	stations []*Station
	byPixel  map[Pixel]*Station
	live     map[uint64]*Taxi
	nextID   uint64
	riders   int
	trips    int
	skipped  int
}

// NewRegistry creates one station per coordinate. Duplicate coordinates are
// rejected.
func NewRegistry(p Params, region string, at []Pixel) (*Registry, error) {
	if len(at) == 0 {
		return nil, ErrNoStations
	}
	r := &Registry{
		params:  p,
		region:  region,
		byPixel: make(map[Pixel]*Station, len(at)),
		live:    map[uint64]*Taxi{},
	}
	for i, px := range at {
		if _, dup := r.byPixel[px]; dup {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateStation, px)
		}
		s := newStation(i, px, p)
		r.stations = append(r.stations, s)
		r.byPixel[px] = s
	}
	return r, nil
}

func (r *Registry) Params() Params { return r.params }
func (r *Registry) Region() string { return r.region }

// Stations returns the stations in load order.
func (r *Registry) Stations() []*Station { return append([]*Station(nil), r.stations...) }

// StationAt finds a station by coordinates.
func (r *Registry) StationAt(px Pixel) (*Station, bool) {
	s, ok := r.byPixel[px]
	return s, ok
}

// TrackedTrips is the number of trip records loaded into the registry.
func (r *Registry) TrackedTrips() int { return r.trips }

// SkippedTrips counts records that neither start nor end in the region.
func (r *Registry) SkippedTrips() int { return r.skipped }

// AddTrip creates a single-leg taxi for rec and queues it. Trips that neither
// start nor end in the region are skipped and return nil.
func (r *Registry) AddTrip(rec TripRecord) (*Taxi, error) {
	tr, err := NewTrip(rec)
	if err != nil {
		return nil, err
	}
	if tr.TotalRiders() > r.params.MaxRiders {
		return nil, fmt.Errorf("%w: %d riders exceeds %d", ErrBadTrip, tr.TotalRiders(), r.params.MaxRiders)
	}
	origin := r.stationFor(tr.dCounty, tr.Origin())
	current := r.stationFor(tr.aCounty, tr.Destination())
	if origin == nil && current == nil {
		r.skipped++
		return nil, nil
	}
	r.nextID++
	t := newTaxi(r.nextID, tr, origin, current)
	if err := t.UpdateEverywhere(r); err != nil {
		return nil, err
	}
	r.trips++
	r.riders += tr.TotalRiders()
	return t, nil
}

func (r *Registry) stationFor(county string, at Pixel) *Station {
	if county != r.region {
		return nil
	}
	return closestStation(r.params, at, r.stations)
}

func (r *Registry) register(t *Taxi) error {
	if t.queued {
		return violation("register", nil, t, nil, "already registered")
	}
	if t.origin != nil && !t.origin.departures.insert(t) {
		return violation("register", t.origin, t, nil, "departure slot taken")
	}
	if t.current != nil && !t.current.arrivals.insert(t) {
		if t.origin != nil {
			t.origin.departures.remove(t)
		}
		return violation("register", t.current, t, nil, "arrival slot taken")
	}
	r.live[t.id] = t
	t.queued = true
	return nil
}

func (r *Registry) deregister(t *Taxi) error {
	if !t.queued {
		return violation("deregister", nil, t, nil, "not registered")
	}
	if t.origin != nil && !t.origin.departures.remove(t) {
		return violation("deregister", t.origin, t, nil, "missing from departures")
	}
	if t.current != nil && !t.current.arrivals.remove(t) {
		return violation("deregister", t.current, t, nil, "missing from arrivals")
	}
	delete(r.live, t.id)
	t.queued = false
	return nil
}

// chain appends next's legs onto first and requeues the result. next is
// retired.
func (r *Registry) chain(first, next *Taxi) error {
	if err := first.RemoveAllTraces(r); err != nil {
		return err
	}
	if err := next.RemoveAllTraces(r); err != nil {
		return err
	}
	if err := first.AddTrips(next); err != nil {
		return err
	}
	return first.UpdateEverywhere(r)
}

// consolidate replaces keep's leg with the merged leg and retires spent.
func (r *Registry) consolidate(keep, spent *Taxi, leg *Trip) error {
	riders := keep.TotalRiders() + spent.TotalRiders()
	if err := keep.RemoveAllTraces(r); err != nil {
		return err
	}
	if err := spent.RemoveAllTraces(r); err != nil {
		return err
	}
	keep.takeLeg(leg, spent)
	keep.current = r.stationFor(leg.aCounty, leg.Destination())
	if got := keep.TotalRiders(); got != riders {
		return violation("consolidate", keep.origin, keep, spent, "riders %d after merge, want %d", got, riders)
	}
	return keep.UpdateEverywhere(r)
}

// relocate sends t to s while keeping the queues consistent.
func (r *Registry) relocate(t *Taxi, s *Station) error {
	if err := t.RemoveAllTraces(r); err != nil {
		return err
	}
	if err := t.SendTo(r.params, s); err != nil {
		return err
	}
	return t.UpdateEverywhere(r)
}

// byDepartureCount orders stations busiest first; ties keep load order.
func (r *Registry) byDepartureCount() []*Station {
	out := r.Stations()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalDepartures() > out[j].TotalDepartures()
	})
	return out
}

// Taxis returns the live taxis ordered by id.
func (r *Registry) Taxis() []*Taxi {
	out := make([]*Taxi, 0, len(r.live))
	for _, t := range r.live {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// External returns live taxis that neither start nor end at a station.
func (r *Registry) External() []*Taxi {
	var out []*Taxi
	for _, t := range r.Taxis() {
		if t.origin == nil && t.current == nil {
			out = append(out, t)
		}
	}
	return out
}

// Totals aggregates the queues. Fleet is the departure-queue total.
type Totals struct {
	Fleet          int
	Arrivals       int
	DepartureNodes int
	ArrivalNodes   int
	EmptyMiles     float64
	TripMiles      float64
	Live           int
}

func (r *Registry) Totals() Totals {
	var tot Totals
	for _, s := range r.stations {
		tot.Fleet += s.TotalDepartures()
		tot.Arrivals += s.TotalArrivals()
		tot.DepartureNodes += s.TotalDepartureNodes()
		tot.ArrivalNodes += s.TotalArrivalNodes()
	}
	// summed in id order so float totals are reproducible
	for _, t := range r.Taxis() {
		tot.EmptyMiles += t.emptyMiles
		tot.TripMiles += t.TotalTripMiles()
	}
	tot.Live = len(r.live)
	return tot
}

func (r *Registry) totalDepartures() int {
	n := 0
	for _, s := range r.stations {
		n += s.TotalDepartures()
	}
	return n
}

// Check verifies queue membership, rider conservation and leg ordering
// across the whole registry.
func (r *Registry) Check() error {
	deps, arrs := 0, 0
	for _, s := range r.stations {
		for _, t := range s.departures.Snapshot() {
			if t.origin != s || !t.queued || r.live[t.id] != t {
				return violation("Check", s, t, nil, "stray departure")
			}
		}
		for _, t := range s.arrivals.Snapshot() {
			if t.current != s || !t.queued || r.live[t.id] != t {
				return violation("Check", s, t, nil, "stray arrival")
			}
		}
		deps += s.TotalDepartures()
		arrs += s.TotalArrivals()
	}

	riders, wantDeps, wantArrs := 0, 0, 0
	for _, t := range r.live {
		if t.origin != nil {
			wantDeps++
			if !t.origin.departures.Has(t) {
				return violation("Check", t.origin, t, nil, "missing from departures")
			}
		}
		if t.current != nil {
			wantArrs++
			if !t.current.arrivals.Has(t) {
				return violation("Check", t.current, t, nil, "missing from arrivals")
			}
		}
		for i, l := range t.legs {
			if l.TotalRiders() > r.params.MaxRiders {
				return violation("Check", nil, t, nil, "leg %d carries %d riders", i, l.TotalRiders())
			}
			if i > 0 && t.legs[i-1].aTime > l.dTime {
				return violation("Check", nil, t, nil, "leg %d departs before leg %d arrives", i, i-1)
			}
		}
		riders += t.TotalRiders()
	}
	if deps != wantDeps || arrs != wantArrs {
		return violation("Check", nil, nil, nil, "queue sizes %d/%d, live taxis expect %d/%d", deps, arrs, wantDeps, wantArrs)
	}
	if riders != r.riders {
		return violation("Check", nil, nil, nil, "riders %d, loaded %d", riders, r.riders)
	}
	return nil
}
