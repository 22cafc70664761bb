package opt

import "math"

// Pixel is a cell of the analysis grid addressed by column and row.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Miles returns the road distance between two pixels: the straight-line
// pixel distance scaled by the road factor and the pixel edge length.
func (p Params) Miles(a, b Pixel) float64 {
	return p.RoadFactor * math.Hypot(a.X-b.X, a.Y-b.Y) * p.PixelMiles
}

// DriveSeconds converts a distance in miles to seconds at road speed.
func (p Params) DriveSeconds(miles float64) float64 {
	return miles * 3600 / p.SpeedMPH
}

// RouteMiles sums the leg distances along an ordered list of pixels.
func (p Params) RouteMiles(route []Pixel) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += p.Miles(route[i-1], route[i])
	}
	return total
}

// withinCircuity reports whether routed miles stay inside the cap relative to
// the baseline. NaN ratios (zero baselines) never pass.
func withinCircuity(routed, baseline, max float64) bool {
	return routed/baseline <= max
}
