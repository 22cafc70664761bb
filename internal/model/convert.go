package model

import "taxifleet/internal/opt"

// FromCheckpoint converts an engine checkpoint for storage and transport.
func FromCheckpoint(cp opt.Checkpoint) Checkpoint {
    return Checkpoint{
        Seq:            cp.Seq,
        Name:           cp.Name,
        Stations:       cp.Stations,
        OriginalTrips:  cp.OriginalTrips,
        Taxis:          cp.Taxis,
        DepartureNodes: cp.DepartureNodes,
        ArrivalNodes:   cp.ArrivalNodes,
        EmptyMiles:     cp.EmptyMiles,
        Merges:         cp.Merges,
        Rounds:         cp.Rounds,
        ElapsedMs:      cp.Elapsed.Milliseconds(),
    }
}

// Itineraries flattens the surviving taxis of a result in output order.
func Itineraries(res opt.Result) []Itinerary {
    out := make([]Itinerary, 0, len(res.Taxis))
    for i, t := range res.Taxis {
        it := Itinerary{
            TaxiID:       t.ID(),
            Seq:          i + 1,
            DepartSec:    t.DepartSec(),
            AvailableSec: t.AvailableSec(),
            EmptyMiles:   t.EmptyMiles(),
            Riders:       t.TotalRiders(),
            Nodes:        t.TotalTripNodes(),
        }
        if s := t.Origin(); s != nil {
            id := s.ID()
            it.OriginStation = &id
        }
        if s := t.Current(); s != nil {
            id := s.ID()
            it.CurrentStation = &id
        }
        for _, l := range t.Legs() {
            it.Legs = append(it.Legs, Leg{
                OriginCounty: l.DepartCounty(),
                DestCounty:   l.ArriveCounty(),
                DepartSec:    l.DepartSec(),
                ArriveSec:    l.ArriveSec(),
                VehMiles:     l.VehMiles(),
                DelaySec:     l.DelaySec(),
                Pickups:      l.Pickups(),
                Stops:        l.Nodes(),
            })
        }
        out = append(out, it)
    }
    return out
}

// Summarize builds the headline numbers for a finished run.
func Summarize(res opt.Result, skipped, external int) *Summary {
    s := &Summary{
        FleetSize:      res.Final.Taxis,
        EmptyMiles:     res.Final.EmptyMiles,
        TripMiles:      res.Final.TripMiles,
        OriginalTrips:  res.Final.OriginalTrips,
        SkippedTrips:   skipped,
        DepartureNodes: res.Final.DepartureNodes,
        ArrivalNodes:   res.Final.ArrivalNodes,
        ExternalTaxis:  external,
        RunTimeMs:      res.Final.Elapsed.Milliseconds(),
        Merges:         map[string]int{},
        Rounds:         map[string]int{},
    }
    for ph := opt.Phase(0); ph < opt.NumPhases; ph++ {
        s.Merges[ph.String()] = res.Metrics.Merges[ph]
        s.Rounds[ph.String()] = res.Metrics.Rounds[ph]
    }
    return s
}
