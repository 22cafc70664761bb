package api

import (
	"fmt"
	"strings"

	"taxifleet/internal/model"
	"taxifleet/internal/opt"
)

func validateRunRequest(req *model.RunRequest) error {
	req.Region = strings.ToUpper(strings.TrimSpace(req.Region))
	if req.Region == "" {
		return fmt.Errorf("region is required")
	}
	if req.Source == "" && len(req.Stations) == 0 {
		return fmt.Errorf("stations or source is required")
	}
	if req.Source != "" && (len(req.Stations) > 0 || len(req.Trips) > 0) {
		return fmt.Errorf("source cannot be combined with inline stations or trips")
	}
	p := opt.DefaultParams()
	if req.Params != nil {
		p = req.Params.WithDefaults()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	for i := range req.Trips {
		rec := &req.Trips[i]
		rec.OriginCounty = strings.ToUpper(strings.TrimSpace(rec.OriginCounty))
		rec.DestCounty = strings.ToUpper(strings.TrimSpace(rec.DestCounty))
		if err := validateTrip(*rec, p); err != nil {
			return fmt.Errorf("trips[%d]: %w", i, err)
		}
	}
	return nil
}

func validateTrip(rec opt.TripRecord, p opt.Params) error {
	tr, err := opt.NewTrip(rec)
	if err != nil {
		return err
	}
	if tr.TotalRiders() > p.MaxRiders {
		return fmt.Errorf("%d riders exceeds maxRiders %d", tr.TotalRiders(), p.MaxRiders)
	}
	if rec.ArriveSec < rec.DepartSec {
		return fmt.Errorf("arriveSec before departSec")
	}
	return nil
}

func validatePlacementRequest(req *model.PlacementRequest) error {
	if len(req.Candidates) == 0 {
		return fmt.Errorf("candidates are required")
	}
	if req.ThresholdSec < 0 {
		return fmt.Errorf("thresholdSec must be >= 0")
	}
	if req.Params != nil {
		if err := req.Params.WithDefaults().Validate(); err != nil {
			return err
		}
	}
	return nil
}
