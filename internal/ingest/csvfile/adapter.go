// Package csvfile serves demand data sets stored as station and trip files on
// local disk.
package csvfile

import (
	"context"
	"fmt"
	"log"

	"taxifleet/internal/config"
	"taxifleet/internal/ingest"
	"taxifleet/internal/opt"
)

// Adapter reads one configured data set. Trip files are decoded in order and
// concatenated.
type Adapter struct {
	Spec      config.SourceSpec
	MaxRiders int
}

func New(spec config.SourceSpec, maxRiders int) Adapter {
	return Adapter{Spec: spec, MaxRiders: maxRiders}
}

func (a Adapter) Name() string { return a.Spec.Name }

func (a Adapter) Stations(ctx context.Context) ([]opt.Pixel, error) {
	if a.Spec.Stations == "" {
		return nil, fmt.Errorf("source %s: no stations file", a.Spec.Name)
	}
	return ingest.ReadStationsFile(a.Spec.Stations)
}

func (a Adapter) Trips(ctx context.Context) ([]opt.TripRecord, ingest.Stats, error) {
	var all []opt.TripRecord
	var st ingest.Stats
	for _, path := range a.Spec.Trips {
		if err := ctx.Err(); err != nil {
			return nil, st, err
		}
		recs, s, err := ingest.ReadTripFile(path, a.MaxRiders)
		if err != nil {
			return nil, st, err
		}
		if s.Filtered > 0 {
			log.Printf("[ingest] %s: dropped %d of %d trips over %d riders", path, s.Filtered, s.Rows, a.MaxRiders)
		}
		all = append(all, recs...)
		st.Add(s)
	}
	return all, st, nil
}

var _ ingest.Source = Adapter{}
