package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"taxifleet/internal/opt"
)

// Trip file columns. Node i occupies colNode+4i (x), +1 (y) and +2 (riders).
const (
	colOriginCounty = 0
	colOriginX      = 1
	colOriginY      = 2
	colDepart       = 3
	colNodeCount    = 4
	colNode         = 6
	colRiders       = 17
	colVehMiles     = 18
	colDestCounty   = 21
	colArrive       = 24
	minColumns      = colArrive + 1
)

// ParseTripCSV decodes a trip file. The first line is a header. Rows whose
// total riders exceed maxRiders are counted and dropped.
func ParseTripCSV(r io.Reader, maxRiders int) ([]opt.TripRecord, Stats, error) {
	return parseTrips(r, "", maxRiders)
}

func parseTrips(r io.Reader, name string, maxRiders int) ([]opt.TripRecord, Stats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	var st Stats
	var out []opt.TripRecord
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, st, nil
		}
		return nil, st, malformed(name, 1, "%v", err)
	}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, st, malformed(name, line, "%v", err)
		}
		st.Rows++
		rec, riders, err := decodeTrip(row)
		if err != nil {
			return nil, st, malformed(name, line, "%v", err)
		}
		if riders > maxRiders {
			st.Filtered++
			continue
		}
		out = append(out, rec)
		st.Kept++
	}
	return out, st, nil
}

type fieldErr struct {
	col int
	err error
}

func (e fieldErr) Error() string { return "column " + strconv.Itoa(e.col) + ": " + e.err.Error() }

func decodeTrip(row []string) (opt.TripRecord, int, error) {
	if len(row) < minColumns {
		return opt.TripRecord{}, 0, errors.New("expected at least " + strconv.Itoa(minColumns) + " columns, got " + strconv.Itoa(len(row)))
	}
	var ferr error
	num := func(col int) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
		if err != nil && ferr == nil {
			ferr = fieldErr{col, err}
		}
		return v
	}
	whole := func(col int) int {
		v, err := strconv.Atoi(strings.TrimSpace(row[col]))
		if err != nil && ferr == nil {
			ferr = fieldErr{col, err}
		}
		return v
	}

	riders := whole(colRiders)
	n := whole(colNodeCount)
	if ferr != nil {
		return opt.TripRecord{}, 0, ferr
	}
	if n < 1 || colNode+4*(n-1)+2 >= len(row) {
		return opt.TripRecord{}, 0, fieldErr{colNodeCount, errors.New("node count " + strconv.Itoa(n) + " out of range")}
	}
	rec := opt.TripRecord{
		OriginCounty: county(row[colOriginCounty]),
		DestCounty:   county(row[colDestCounty]),
		Origin:       opt.Pixel{X: num(colOriginX), Y: num(colOriginY)},
		DepartSec:    num(colDepart),
		ArriveSec:    num(colArrive),
		VehMiles:     num(colVehMiles),
	}
	for i := 0; i < n; i++ {
		c := colNode + 4*i
		rec.Nodes = append(rec.Nodes, opt.Node{
			Pixel:  opt.Pixel{X: num(c), Y: num(c + 1)},
			Riders: whole(c + 2),
		})
	}
	if ferr != nil {
		return opt.TripRecord{}, 0, ferr
	}
	return rec, riders, nil
}

// county keeps the code before the first dash: "34021-xyz" -> "34021".
func county(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	return strings.ToUpper(s)
}
