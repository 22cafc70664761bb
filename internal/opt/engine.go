package opt

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Phase identifies one stage of the optimization.
type Phase int

const (
	PhaseConsolidate Phase = iota // A: merge nearby departures
	PhaseIntercounty              // B: chain vehicles crossing the region boundary
	PhaseEmptyMiles               // C: reuse arriving vehicles for departures
	PhaseCycle                    // D: return home and reuse
	NumPhases
)

func (ph Phase) String() string {
	switch ph {
	case PhaseConsolidate:
		return "consolidate"
	case PhaseIntercounty:
		return "intercounty"
	case PhaseEmptyMiles:
		return "empty_miles"
	case PhaseCycle:
		return "cycle"
	}
	return fmt.Sprintf("phase(%d)", int(ph))
}

// Metrics are the per-run counters.
type Metrics struct {
	Rounds   [NumPhases]int
	Merges   [NumPhases]int
	Duration [NumPhases]time.Duration
	Skipped  int // trips outside the region on both ends
}

// Checkpoint is a snapshot of the aggregate counters after a stage.
type Checkpoint struct {
	Seq            int           `json:"seq"`
	Name           string        `json:"name"`
	Stations       int           `json:"stations"`
	OriginalTrips  int           `json:"originalTrips"`
	Taxis          int           `json:"taxis"`
	DepartureNodes int           `json:"departureNodes"`
	ArrivalNodes   int           `json:"arrivalNodes"`
	EmptyMiles     float64       `json:"emptyMiles"`
	TripMiles      float64       `json:"tripMiles"`
	Merges         int           `json:"merges"`
	Rounds         int           `json:"rounds"`
	Elapsed        time.Duration `json:"elapsed"`
}

// StationStats is the per-station view after a run.
type StationStats struct {
	ID                int     `json:"id"`
	Pixel             Pixel   `json:"pixel"`
	Departures        int     `json:"departures"`
	Arrivals          int     `json:"arrivals"`
	DepartureNodes    int     `json:"departureNodes"`
	ArrivalNodes      int     `json:"arrivalNodes"`
	EmptyMiles        float64 `json:"emptyMiles"`
	TripMiles         float64 `json:"tripMiles"`
	IntercountyDNodes int     `json:"intercountyDNodes"`
	IntercountyANodes int     `json:"intercountyANodes"`
}

// Result is what a finished run reports.
type Result struct {
	Checkpoints []Checkpoint
	Final       Checkpoint
	Metrics     Metrics
	Stations    []StationStats
	Taxis       []*Taxi // live taxis ordered by origin station, then departure
}

// Engine drives the four phases over one registry. It is single-threaded and
// not safe for concurrent use.
type Engine struct {
	Params       Params
	Region       string
	OnCheckpoint func(Checkpoint)
	Logf         func(format string, args ...any)

	reg     *Registry
	metrics Metrics
	cps     []Checkpoint
	started time.Time
}

// NewEngine returns an engine with defaults filled into p.
func NewEngine(p Params, region string) *Engine {
	return &Engine{Params: p.WithDefaults(), Region: region, Logf: log.Printf}
}

// Load builds the registry from station coordinates and trip records.
func (e *Engine) Load(stations []Pixel, trips []TripRecord) error {
	if err := e.Params.Validate(); err != nil {
		return err
	}
	reg, err := NewRegistry(e.Params, e.Region, stations)
	if err != nil {
		return err
	}
	for i, rec := range trips {
		if _, err := reg.AddTrip(rec); err != nil {
			return fmt.Errorf("trip %d: %w", i, err)
		}
	}
	e.reg = reg
	e.metrics = Metrics{Skipped: reg.SkippedTrips()}
	e.cps = nil
	return nil
}

// Registry exposes the loaded registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Run executes the phases in order, emitting a checkpoint after ingest and
// after each phase. Cancellation is observed between rounds.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if e.reg == nil {
		return Result{}, fmt.Errorf("opt: engine not loaded")
	}
	e.started = time.Now()
	if err := e.checkpoint("ingest", 0, 0); err != nil {
		return Result{}, err
	}
	steps := []struct {
		phase    Phase
		name     string
		fixpoint bool
		fn       func(*Station, *Registry) (int, error)
	}{
		{PhaseConsolidate, "consolidated", true, (*Station).InitializeDepartures},
		{PhaseIntercounty, "intercounty", false, (*Station).IntercountyOptimization},
		{PhaseEmptyMiles, "empty-miles", true, (*Station).OptimizeEmptyMiles},
		{PhaseCycle, "cycled", false, (*Station).CycleDepartures},
	}
	for _, st := range steps {
		t0 := time.Now()
		if err := e.runPhase(ctx, st.phase, st.fixpoint, st.fn); err != nil {
			return Result{}, fmt.Errorf("%s: %w", st.phase, err)
		}
		e.metrics.Duration[st.phase] = time.Since(t0)
		if err := e.checkpoint(st.name, e.metrics.Merges[st.phase], e.metrics.Rounds[st.phase]); err != nil {
			return Result{}, err
		}
	}
	return e.result(), nil
}

func (e *Engine) runPhase(ctx context.Context, ph Phase, fixpoint bool, fn func(*Station, *Registry) (int, error)) error {
	prev := e.reg.totalDepartures()
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		merges := 0
		for _, s := range e.reg.byDepartureCount() {
			n, err := fn(s, e.reg)
			merges += n
			if err != nil {
				return err
			}
		}
		e.metrics.Rounds[ph] = round
		e.metrics.Merges[ph] += merges
		now := e.reg.totalDepartures()
		if now > prev {
			return violation(ph.String(), nil, nil, nil, "departures grew from %d to %d", prev, now)
		}
		reduced := prev - now
		prev = now
		if !fixpoint || reduced == 0 {
			return nil
		}
		if round >= e.Params.MaxRounds {
			e.logf("[opt] %s stopped at round cap %d with %d departures", ph, round, now)
			return nil
		}
	}
}

func (e *Engine) checkpoint(name string, merges, rounds int) error {
	if err := e.reg.Check(); err != nil {
		return fmt.Errorf("checkpoint %s: %w", name, err)
	}
	tot := e.reg.Totals()
	cp := Checkpoint{
		Seq:            len(e.cps) + 1,
		Name:           name,
		Stations:       len(e.reg.stations),
		OriginalTrips:  e.reg.TrackedTrips(),
		Taxis:          tot.Fleet,
		DepartureNodes: tot.DepartureNodes,
		ArrivalNodes:   tot.ArrivalNodes,
		EmptyMiles:     tot.EmptyMiles,
		TripMiles:      tot.TripMiles,
		Merges:         merges,
		Rounds:         rounds,
		Elapsed:        time.Since(e.started),
	}
	e.cps = append(e.cps, cp)
	e.logf("[opt] checkpoint %d %s: taxis=%d dnodes=%d anodes=%d empty=%.1f",
		cp.Seq, cp.Name, cp.Taxis, cp.DepartureNodes, cp.ArrivalNodes, cp.EmptyMiles)
	if e.OnCheckpoint != nil {
		e.OnCheckpoint(cp)
	}
	return nil
}

func (e *Engine) result() Result {
	res := Result{
		Checkpoints: append([]Checkpoint(nil), e.cps...),
		Metrics:     e.metrics,
	}
	if n := len(e.cps); n > 0 {
		res.Final = e.cps[n-1]
	}
	for _, s := range e.reg.stations {
		dn, an := s.IntercountyNodes()
		res.Stations = append(res.Stations, StationStats{
			ID:                s.id,
			Pixel:             s.at,
			Departures:        s.TotalDepartures(),
			Arrivals:          s.TotalArrivals(),
			DepartureNodes:    s.TotalDepartureNodes(),
			ArrivalNodes:      s.TotalArrivalNodes(),
			EmptyMiles:        s.TotalEmptyMiles(),
			TripMiles:         s.TotalTripMiles(),
			IntercountyDNodes: dn,
			IntercountyANodes: an,
		})
	}
	res.Taxis = e.reg.Taxis()
	dep := departureOrder(e.Params)
	sort.SliceStable(res.Taxis, func(i, j int) bool {
		a, b := res.Taxis[i], res.Taxis[j]
		ai, bi := stationIndex(a.origin), stationIndex(b.origin)
		if ai != bi {
			return ai < bi
		}
		return dep(a, b) < 0
	})
	return res
}

// stationIndex sorts taxis without an origin station last.
func stationIndex(s *Station) int {
	if s == nil {
		return int(^uint(0) >> 1)
	}
	return s.id
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

// Optimize is the one-shot form: load, run and return the result.
func Optimize(ctx context.Context, p Params, region string, stations []Pixel, trips []TripRecord) (Result, error) {
	e := NewEngine(p, region)
	if err := e.Load(stations, trips); err != nil {
		return Result{}, err
	}
	return e.Run(ctx)
}
