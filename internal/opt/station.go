package opt

// Station is a fixed depot. It owns the departure queue (taxis whose chain
// starts here) and the arrival queue (taxis whose chain currently ends here).
// Two stations are the same station iff their coordinates match.
type Station struct {
	id         int
	at         Pixel
	departures *Queue
	arrivals   *Queue

	intercountyDNodes int
	intercountyANodes int
}

func newStation(id int, at Pixel, p Params) *Station {
	return &Station{
		id:         id,
		at:         at,
		departures: newQueue(departureOrder(p)),
		arrivals:   newQueue(arrivalOrder(p)),
	}
}

func (s *Station) ID() int      { return s.id }
func (s *Station) Pixel() Pixel { return s.at }

// Equal compares by coordinates.
func (s *Station) Equal(o *Station) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.at == o.at
}

// MilesTo is the road distance between two stations.
func (s *Station) MilesTo(p Params, o *Station) float64 { return p.Miles(s.at, o.at) }

func (s *Station) TotalDepartures() int { return s.departures.Len() }
func (s *Station) TotalArrivals() int   { return s.arrivals.Len() }

// Departures returns the departure queue in order.
func (s *Station) Departures() []*Taxi { return s.departures.Snapshot() }

// Arrivals returns the arrival queue in order.
func (s *Station) Arrivals() []*Taxi { return s.arrivals.Snapshot() }

func (s *Station) TotalDepartureNodes() int { return sumNodes(s.departures) }
func (s *Station) TotalArrivalNodes() int   { return sumNodes(s.arrivals) }

// TotalEmptyMiles sums empty miles over the departure queue.
func (s *Station) TotalEmptyMiles() float64 {
	m := 0.0
	s.departures.tree.Ascend(func(t *Taxi) bool {
		m += t.emptyMiles
		return true
	})
	return m
}

// TotalTripMiles sums loaded miles over the departure queue.
func (s *Station) TotalTripMiles() float64 {
	m := 0.0
	s.departures.tree.Ascend(func(t *Taxi) bool {
		m += t.TotalTripMiles()
		return true
	})
	return m
}

// IntercountyNodes returns the node counts absorbed by intercounty merges at
// this station: departure side, then arrival side.
func (s *Station) IntercountyNodes() (int, int) {
	return s.intercountyDNodes, s.intercountyANodes
}

func sumNodes(q *Queue) int {
	n := 0
	q.tree.Ascend(func(t *Taxi) bool {
		n += t.TotalTripNodes()
		return true
	})
	return n
}
