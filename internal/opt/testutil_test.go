package opt

import "testing"

const region = "R"

// rec builds a single-node trip whose vehicle miles equal the direct route.
func rec(p Params, from, to Pixel, dep float64, riders int, dCounty, aCounty string) TripRecord {
	miles := p.Miles(from, to)
	return TripRecord{
		OriginCounty: dCounty,
		DestCounty:   aCounty,
		Origin:       from,
		Nodes:        []Node{{Pixel: to, Riders: riders}},
		DepartSec:    dep,
		ArriveSec:    dep + p.DriveSeconds(miles),
		VehMiles:     miles,
	}
}

func local(p Params, from, to Pixel, dep float64, riders int) TripRecord {
	return rec(p, from, to, dep, riders, region, region)
}

func mustEngine(t *testing.T, stations []Pixel, trips []TripRecord) *Engine {
	t.Helper()
	e := NewEngine(DefaultParams(), region)
	e.Logf = t.Logf
	if err := e.Load(stations, trips); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
