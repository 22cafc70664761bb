package ingest

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"taxifleet/internal/opt"
)

// ParseStations reads one "x, y" pair per line. Blank lines are skipped.
func ParseStations(r io.Reader) ([]opt.Pixel, error) {
	return parseStations(r, "")
}

func parseStations(r io.Reader, name string) ([]opt.Pixel, error) {
	sc := bufio.NewScanner(r)
	var out []opt.Pixel
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 2 {
			return nil, malformed(name, line, "expected \"x, y\", got %q", text)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errX != nil || errY != nil {
			return nil, malformed(name, line, "bad coordinates %q", text)
		}
		out = append(out, opt.Pixel{X: x, Y: y})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DefaultPlacementSec is the minimum drive time between placed stations.
const DefaultPlacementSec = 300

// PlaceStations walks the candidates in order and keeps each one whose drive
// time to every station kept so far exceeds thresholdSec.
func PlaceStations(candidates []opt.Pixel, thresholdSec float64, p opt.Params) []opt.Pixel {
	if thresholdSec <= 0 {
		thresholdSec = DefaultPlacementSec
	}
	p = p.WithDefaults()
	var kept []opt.Pixel
	for _, c := range candidates {
		ok := true
		for _, k := range kept {
			if p.DriveSeconds(p.Miles(c, k)) <= thresholdSec {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}
	return kept
}
