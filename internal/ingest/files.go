package ingest

import (
	"os"

	"taxifleet/internal/opt"
)

// ReadTripFile decodes the trip file at path.
func ReadTripFile(path string, maxRiders int) ([]opt.TripRecord, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer f.Close()
	return parseTrips(f, path, maxRiders)
}

// ReadStationsFile decodes the station list at path.
func ReadStationsFile(path string) ([]opt.Pixel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseStations(f, path)
}
