package opt

import "fmt"

// Params holds the tunables of the consolidation engine. The zero value of a
// field means "use the default" when passed through WithDefaults.
type Params struct {
	SpeedMPH       float64 `yaml:"speedMph" json:"speedMph,omitempty"`             // road speed for time/distance conversions
	RoadFactor     float64 `yaml:"roadFactor" json:"roadFactor,omitempty"`         // straight-line to road distance scale
	PixelMiles     float64 `yaml:"pixelMiles" json:"pixelMiles,omitempty"`         // miles per pixel edge
	MaxCircuity    float64 `yaml:"maxCircuity" json:"maxCircuity,omitempty"`       // per-trip mileage inflation cap
	MaxNodes       int     `yaml:"maxNodes" json:"maxNodes,omitempty"`             // node cap for a consolidated leg
	MaxRiders      int     `yaml:"maxRiders" json:"maxRiders,omitempty"`           // rider cap per leg
	PickupSlackSec float64 `yaml:"pickupSlackSec" json:"pickupSlackSec,omitempty"` // consolidation window and delay cap
	ReuseWindowSec float64 `yaml:"reuseWindowSec" json:"reuseWindowSec,omitempty"` // vehicle reuse window
	MaxRounds      int     `yaml:"maxRounds" json:"maxRounds,omitempty"`           // cap on fixpoint rounds per phase
}

// DefaultParams returns the parameters of the reference study: 30 mph roads,
// quarter-square-mile pixels, 20% circuity, 3 nodes and 6 riders per leg.
func DefaultParams() Params {
	return Params{
		SpeedMPH:       30,
		RoadFactor:     1.2,
		PixelMiles:     0.5,
		MaxCircuity:    1.2,
		MaxNodes:       3,
		MaxRiders:      6,
		PickupSlackSec: 300,
		ReuseWindowSec: 600,
		MaxRounds:      1000,
	}
}

// WithDefaults returns p with every zero field replaced by its default.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.SpeedMPH == 0 {
		p.SpeedMPH = d.SpeedMPH
	}
	if p.RoadFactor == 0 {
		p.RoadFactor = d.RoadFactor
	}
	if p.PixelMiles == 0 {
		p.PixelMiles = d.PixelMiles
	}
	if p.MaxCircuity == 0 {
		p.MaxCircuity = d.MaxCircuity
	}
	if p.MaxNodes == 0 {
		p.MaxNodes = d.MaxNodes
	}
	if p.MaxRiders == 0 {
		p.MaxRiders = d.MaxRiders
	}
	if p.PickupSlackSec == 0 {
		p.PickupSlackSec = d.PickupSlackSec
	}
	if p.ReuseWindowSec == 0 {
		p.ReuseWindowSec = d.ReuseWindowSec
	}
	if p.MaxRounds == 0 {
		p.MaxRounds = d.MaxRounds
	}
	return p
}

// Validate reports the first out-of-range parameter.
func (p Params) Validate() error {
	switch {
	case p.SpeedMPH <= 0:
		return fmt.Errorf("speedMph must be > 0")
	case p.RoadFactor <= 0:
		return fmt.Errorf("roadFactor must be > 0")
	case p.PixelMiles <= 0:
		return fmt.Errorf("pixelMiles must be > 0")
	case p.MaxCircuity < 1:
		return fmt.Errorf("maxCircuity must be >= 1")
	case p.MaxNodes < 1:
		return fmt.Errorf("maxNodes must be >= 1")
	case p.MaxRiders < 1:
		return fmt.Errorf("maxRiders must be >= 1")
	case p.PickupSlackSec < 0:
		return fmt.Errorf("pickupSlackSec must be >= 0")
	case p.ReuseWindowSec < 0:
		return fmt.Errorf("reuseWindowSec must be >= 0")
	case p.MaxRounds < 1:
		return fmt.Errorf("maxRounds must be >= 1")
	}
	return nil
}
