package opt

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func TestRunConsolidatesNearbyDepartures(t *testing.T) {
	p := DefaultParams()
	e := mustEngine(t, []Pixel{{0, 0}}, []TripRecord{
		local(p, Pixel{0, 0}, Pixel{10, 0}, 100, 2),
		local(p, Pixel{1, 0}, Pixel{10, 1}, 250, 3),
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Checkpoints) != 5 {
		t.Fatalf("checkpoints: got %d want 5", len(res.Checkpoints))
	}
	if got := res.Checkpoints[1].Taxis; got != 1 {
		t.Fatalf("after consolidation: got %d taxis want 1", got)
	}
	if len(res.Taxis) != 1 {
		t.Fatalf("live taxis: %d", len(res.Taxis))
	}
	x := res.Taxis[0]
	if x.TotalTripNodes() != 2 || x.TotalRiders() != 5 || x.DepartSec() != 100 {
		t.Fatalf("merged taxi: nodes=%d riders=%d dep=%v", x.TotalTripNodes(), x.TotalRiders(), x.DepartSec())
	}
	if res.Metrics.Merges[PhaseConsolidate] != 1 {
		t.Fatalf("merges: %v", res.Metrics.Merges)
	}
}

func TestRunChainsIntercountyVehicles(t *testing.T) {
	p := DefaultParams()
	inbound := rec(p, Pixel{50, 50}, Pixel{0, 1}, 0, 1, "OUT", region)
	outbound := rec(p, Pixel{0, 0}, Pixel{60, 60}, inbound.ArriveSec+200, 1, region, "OUT")
	e := mustEngine(t, []Pixel{{0, 0}}, []TripRecord{inbound, outbound})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := res.Checkpoints[2].Taxis; got != 0 {
		t.Fatalf("departures after intercounty: got %d want 0", got)
	}
	ext := e.Registry().External()
	if len(ext) != 1 || ext[0].NumTrips() != 2 {
		t.Fatalf("external taxis: %d", len(ext))
	}
	dn, an := e.Registry().Stations()[0].IntercountyNodes()
	if dn != 1 || an != 1 {
		t.Fatalf("intercounty counters: d=%d a=%d", dn, an)
	}
	if res.Stations[0].IntercountyDNodes != 1 {
		t.Fatalf("station stats missing counters")
	}
}

func TestRunRelocatesOutboundDepartures(t *testing.T) {
	p := DefaultParams()
	outbound := rec(p, Pixel{0, 0}, Pixel{30, 0}, 0, 1, region, "OUT")
	e := mustEngine(t, []Pixel{{0, 0}, {20, 0}}, []TripRecord{outbound})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	x := res.Taxis[0]
	if x.Current() == nil || x.Current().ID() != 0 {
		t.Fatalf("taxi should end at home station")
	}
	// 30->20 after intercounty, 20->0 when cycling home
	if !near(x.EmptyMiles(), p.Miles(Pixel{30, 0}, Pixel{20, 0})+p.Miles(Pixel{20, 0}, Pixel{0, 0})) {
		t.Fatalf("empty miles: %v", x.EmptyMiles())
	}
}

func TestRunReturnsTaxisHome(t *testing.T) {
	p := DefaultParams()
	e := mustEngine(t, []Pixel{{0, 0}, {10, 0}}, []TripRecord{
		local(p, Pixel{0, 0}, Pixel{10, 0}, 0, 1),
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Final.Taxis != 1 || !near(res.Final.EmptyMiles, 6) {
		t.Fatalf("final: taxis=%d empty=%v", res.Final.Taxis, res.Final.EmptyMiles)
	}
	if res.Taxis[0].Current() != res.Taxis[0].Origin() {
		t.Fatalf("taxi not returned home")
	}
}

func TestRunReusesReturnedTaxi(t *testing.T) {
	p := DefaultParams()
	e := mustEngine(t, []Pixel{{0, 0}, {10, 0}}, []TripRecord{
		local(p, Pixel{0, 0}, Pixel{10, 0}, 0, 1),
		local(p, Pixel{0, 0}, Pixel{10, 0}, 3000, 1),
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Final.Taxis != 1 {
		t.Fatalf("fleet: got %d want 1", res.Final.Taxis)
	}
	if res.Taxis[0].NumTrips() != 2 || !near(res.Final.EmptyMiles, 12) {
		t.Fatalf("trips=%d empty=%v", res.Taxis[0].NumTrips(), res.Final.EmptyMiles)
	}
}

func TestRunPairsRoundTrips(t *testing.T) {
	p := DefaultParams()
	e := mustEngine(t, []Pixel{{0, 0}, {10, 0}}, []TripRecord{
		local(p, Pixel{0, 0}, Pixel{10, 0}, 0, 1),
		local(p, Pixel{10, 0}, Pixel{0, 0}, 1000, 1),
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := res.Checkpoints[3].Taxis; got != 1 {
		t.Fatalf("after empty-mile phase: got %d want 1", got)
	}
	x := res.Taxis[0]
	if x.Origin() != x.Current() || x.EmptyMiles() != 0 {
		t.Fatalf("round trip should need no empty miles, got %v", x.EmptyMiles())
	}
}

func TestEmptyInputs(t *testing.T) {
	e := mustEngine(t, []Pixel{{0, 0}}, nil)
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Final.Taxis != 0 || res.Final.EmptyMiles != 0 {
		t.Fatalf("expected empty result")
	}
	if _, err := Optimize(context.Background(), DefaultParams(), region, nil, nil); !errors.Is(err, ErrNoStations) {
		t.Fatalf("no stations: got %v", err)
	}
	if _, err := NewRegistry(DefaultParams(), region, []Pixel{{1, 1}, {1, 1}}); !errors.Is(err, ErrDuplicateStation) {
		t.Fatalf("duplicate: got %v", err)
	}
}

func TestSkipsTripsOutsideRegion(t *testing.T) {
	p := DefaultParams()
	e := mustEngine(t, []Pixel{{0, 0}}, []TripRecord{
		rec(p, Pixel{0, 0}, Pixel{1, 0}, 0, 1, "A", "B"),
		local(p, Pixel{0, 0}, Pixel{1, 0}, 0, 1),
	})
	if e.Registry().SkippedTrips() != 1 || e.Registry().TrackedTrips() != 1 {
		t.Fatalf("skipped=%d tracked=%d", e.Registry().SkippedTrips(), e.Registry().TrackedTrips())
	}
}

func randomTrips(seed int64, n int, stations []Pixel) []TripRecord {
	p := DefaultParams()
	rnd := rand.New(rand.NewSource(seed))
	counties := []string{region, region, region, "OUT"}
	out := make([]TripRecord, 0, n)
	for i := 0; i < n; i++ {
		from := Pixel{float64(rnd.Intn(30)), float64(rnd.Intn(30))}
		to := Pixel{float64(rnd.Intn(30)), float64(rnd.Intn(30))}
		if from == to {
			to.X++
		}
		dc, ac := counties[rnd.Intn(len(counties))], counties[rnd.Intn(len(counties))]
		out = append(out, rec(p, from, to, float64(rnd.Intn(6*3600)), 1+rnd.Intn(3), dc, ac))
	}
	return out
}

func TestRunInvariantsOnRandomDemand(t *testing.T) {
	stations := []Pixel{{5, 5}, {25, 5}, {5, 25}, {25, 25}, {15, 15}}
	trips := randomTrips(7, 400, stations)
	e := mustEngine(t, stations, trips)
	initial := e.Registry().Totals()
	riders := 0
	for _, x := range e.Registry().Taxis() {
		riders += x.TotalRiders()
	}
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i := 1; i < len(res.Checkpoints); i++ {
		if res.Checkpoints[i].Taxis > res.Checkpoints[i-1].Taxis {
			t.Fatalf("fleet grew at checkpoint %d", i+1)
		}
	}
	if res.Final.Taxis > initial.Fleet {
		t.Fatalf("fleet grew overall")
	}
	got := 0
	for _, x := range res.Taxis {
		got += x.TotalRiders()
		for _, l := range x.Legs() {
			if l.NodeCount() > 1 && l.NodeCount() > DefaultParams().MaxNodes {
				t.Fatalf("taxi %d: consolidated leg with %d nodes", x.ID(), l.NodeCount())
			}
			if l.TotalRiders() > DefaultParams().MaxRiders {
				t.Fatalf("taxi %d: leg with %d riders", x.ID(), l.TotalRiders())
			}
		}
	}
	if got != riders {
		t.Fatalf("riders: got %d want %d", got, riders)
	}
	if err := e.Registry().Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	stations := []Pixel{{5, 5}, {25, 5}, {15, 20}}
	trips := randomTrips(11, 250, stations)
	run := func() Result {
		e := mustEngine(t, stations, trips)
		res, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if a.Final.Taxis != b.Final.Taxis || a.Final.EmptyMiles != b.Final.EmptyMiles || a.Final.TripMiles != b.Final.TripMiles || a.Metrics.Merges != b.Metrics.Merges {
		t.Fatalf("runs differ: %+v vs %+v", a.Final, b.Final)
	}
	if len(a.Taxis) != len(b.Taxis) {
		t.Fatalf("itineraries differ")
	}
	for i := range a.Taxis {
		if a.Taxis[i].ID() != b.Taxis[i].ID() || a.Taxis[i].NumTrips() != b.Taxis[i].NumTrips() {
			t.Fatalf("itinerary %d differs", i)
		}
	}
}

func TestConsolidationIsIdempotent(t *testing.T) {
	stations := []Pixel{{5, 5}, {25, 25}}
	e := mustEngine(t, stations, randomTrips(3, 200, stations))
	reg := e.Registry()
	for round := 0; round < 100; round++ {
		n := 0
		for _, s := range reg.byDepartureCount() {
			m, err := s.InitializeDepartures(reg)
			if err != nil {
				t.Fatalf("consolidate: %v", err)
			}
			n += m
		}
		if n == 0 {
			break
		}
	}
	before := reg.Totals()
	for _, s := range reg.byDepartureCount() {
		m, err := s.InitializeDepartures(reg)
		if err != nil || m != 0 {
			t.Fatalf("second pass: merges=%d err=%v", m, err)
		}
	}
	if reg.Totals() != before {
		t.Fatalf("second pass changed totals")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	stations := []Pixel{{5, 5}}
	e := mustEngine(t, stations, randomTrips(1, 20, stations))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestCheckpointCallback(t *testing.T) {
	p := DefaultParams()
	e := mustEngine(t, []Pixel{{0, 0}}, []TripRecord{local(p, Pixel{0, 0}, Pixel{3, 0}, 0, 1)})
	var names []string
	e.OnCheckpoint = func(cp Checkpoint) { names = append(names, cp.Name) }
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"ingest", "consolidated", "intercounty", "empty-miles", "cycled"}
	if len(names) != len(want) {
		t.Fatalf("names: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("checkpoint %d: got %s want %s", i, names[i], want[i])
		}
	}
}
