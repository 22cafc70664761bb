// Package ingest decodes demand data (trip CSVs, station lists) into engine
// inputs and hosts the station placement pass.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"taxifleet/internal/opt"
)

// ErrMalformed marks a record that could not be decoded.
var ErrMalformed = errors.New("ingest: malformed record")

// Source supplies the inputs of one run.
type Source interface {
	Name() string
	Stations(ctx context.Context) ([]opt.Pixel, error)
	Trips(ctx context.Context) ([]opt.TripRecord, Stats, error)
}

// Stats summarizes a decode pass.
type Stats struct {
	Rows     int // data rows read, header excluded
	Kept     int
	Filtered int // dropped for exceeding the rider cap
}

func (s *Stats) Add(o Stats) {
	s.Rows += o.Rows
	s.Kept += o.Kept
	s.Filtered += o.Filtered
}

func malformed(file string, line int, format string, args ...any) error {
	where := fmt.Sprintf("line %d", line)
	if file != "" {
		where = fmt.Sprintf("%s:%d", file, line)
	}
	return fmt.Errorf("%w: %s: %s", ErrMalformed, where, fmt.Sprintf(format, args...))
}
