package opt

import (
	"fmt"
	"math"
)

// Node is a drop-off point and the riders leaving the vehicle there.
type Node struct {
	Pixel  Pixel `json:"pixel"`
	Riders int   `json:"riders"`
}

// TripRecord is one decoded demand record as produced by ingestion.
type TripRecord struct {
	OriginCounty string  `json:"originCounty"`
	DestCounty   string  `json:"destCounty"`
	Origin       Pixel   `json:"origin"`
	Nodes        []Node  `json:"nodes"`
	DepartSec    float64 `json:"departSec"`
	ArriveSec    float64 `json:"arriveSec"`
	VehMiles     float64 `json:"vehMiles"`
}

// Trip is one vehicle leg: pickups in boarding order followed by the
// drop-off nodes in visiting order.
type Trip struct {
	origins  []Pixel
	nodes    []Node
	dCounty  string
	aCounty  string
	dTime    float64
	aTime    float64
	vehMiles float64
	delay    float64
}

// NewTrip builds a trip from a decoded record.
func NewTrip(rec TripRecord) (*Trip, error) {
	if len(rec.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrBadTrip)
	}
	if !(rec.VehMiles > 0) {
		return nil, fmt.Errorf("%w: vehicle miles %v", ErrBadTrip, rec.VehMiles)
	}
	for _, n := range rec.Nodes {
		if n.Riders < 0 {
			return nil, fmt.Errorf("%w: negative riders", ErrBadTrip)
		}
	}
	return &Trip{
		origins:  []Pixel{rec.Origin},
		nodes:    append([]Node(nil), rec.Nodes...),
		dCounty:  rec.OriginCounty,
		aCounty:  rec.DestCounty,
		dTime:    rec.DepartSec,
		aTime:    rec.ArriveSec,
		vehMiles: rec.VehMiles,
	}, nil
}

func (t *Trip) NodeCount() int       { return len(t.nodes) }
func (t *Trip) Origin() Pixel        { return t.origins[0] }
func (t *Trip) Destination() Pixel   { return t.nodes[len(t.nodes)-1].Pixel }
func (t *Trip) DepartCounty() string { return t.dCounty }
func (t *Trip) ArriveCounty() string { return t.aCounty }
func (t *Trip) DepartSec() float64   { return t.dTime }
func (t *Trip) ArriveSec() float64   { return t.aTime }
func (t *Trip) VehMiles() float64    { return t.vehMiles }
func (t *Trip) DelaySec() float64    { return t.delay }

// Pickups returns the boarding points in order.
func (t *Trip) Pickups() []Pixel { return append([]Pixel(nil), t.origins...) }

// Nodes returns the drop-off nodes in order.
func (t *Trip) Nodes() []Node { return append([]Node(nil), t.nodes...) }

// TotalRiders sums the riders over every node.
func (t *Trip) TotalRiders() int {
	n := 0
	for _, nd := range t.nodes {
		n += nd.Riders
	}
	return n
}

// CombineNodes merges other into t when the shared route keeps both trips
// within the circuity cap. On failure t is left untouched.
func (t *Trip) CombineNodes(p Params, other *Trip) bool {
	m, ok := t.combined(p, other)
	if !ok {
		return false
	}
	*t = *m
	return true
}

// combined builds the shared route: every pickup in departure order, then the
// earlier trip's drop-offs, then the later trip's. Each side's ridden
// distance is measured from its first pickup to its last drop-off.
func (t *Trip) combined(p Params, other *Trip) (*Trip, bool) {
	early, late := t, other
	if other.dTime < t.dTime {
		early, late = other, t
	}

	route := make([]Pixel, 0, len(early.origins)+len(late.origins)+len(early.nodes)+len(late.nodes))
	route = append(route, early.origins...)
	lateStart := len(route)
	route = append(route, late.origins...)
	for _, n := range early.nodes {
		route = append(route, n.Pixel)
	}
	earlyEnd := len(route)
	for _, n := range late.nodes {
		route = append(route, n.Pixel)
	}

	if !withinCircuity(p.RouteMiles(route[:earlyEnd]), early.vehMiles, p.MaxCircuity) {
		return nil, false
	}
	if !withinCircuity(p.RouteMiles(route[lateStart:]), late.vehMiles, p.MaxCircuity) {
		return nil, false
	}

	miles := p.RouteMiles(route)
	m := &Trip{
		origins:  append(append([]Pixel(nil), early.origins...), late.origins...),
		nodes:    append(append([]Node(nil), early.nodes...), late.nodes...),
		dCounty:  early.dCounty,
		aCounty:  late.aCounty,
		dTime:    early.dTime,
		vehMiles: miles,
		delay:    t.delay + math.Abs(t.dTime-other.dTime),
	}
	m.aTime = m.dTime + p.DriveSeconds(miles)
	return m, true
}

// FindClosestOriginStation returns the station nearest the trip origin.
// Ties keep the first station in the given order.
func (t *Trip) FindClosestOriginStation(p Params, stations []*Station) *Station {
	return closestStation(p, t.Origin(), stations)
}

// FindClosestCurrentStation returns the station nearest the final drop-off.
func (t *Trip) FindClosestCurrentStation(p Params, stations []*Station) *Station {
	return closestStation(p, t.Destination(), stations)
}

func closestStation(p Params, at Pixel, stations []*Station) *Station {
	var best *Station
	bestMiles := math.Inf(1)
	for _, s := range stations {
		if d := p.Miles(s.at, at); d < bestMiles {
			best, bestMiles = s, d
		}
	}
	return best
}
