package opt

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariant is wrapped by every internal consistency failure. It means
	// the queue bookkeeping is corrupt and the run must not be trusted.
	ErrInvariant = errors.New("opt: invariant violated")
	// ErrDuplicateStation is returned when two stations share coordinates.
	ErrDuplicateStation = errors.New("opt: duplicate station")
	// ErrNoStations is returned when a registry is built without stations.
	ErrNoStations = errors.New("opt: no stations")
	// ErrBadTrip is returned for trip records the engine cannot represent.
	ErrBadTrip = errors.New("opt: bad trip record")
)

// InvariantError identifies which invariant failed and on which station and
// taxi pair.
type InvariantError struct {
	Op      string
	Station int // -1 when no station is involved
	Taxi    uint64
	Other   uint64
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("opt: invariant violated in %s (station %d, taxi %d, other %d): %s",
		e.Op, e.Station, e.Taxi, e.Other, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

func violation(op string, s *Station, a, b *Taxi, format string, args ...any) error {
	e := &InvariantError{Op: op, Station: -1, Detail: fmt.Sprintf(format, args...)}
	if s != nil {
		e.Station = s.id
	}
	if a != nil {
		e.Taxi = a.id
	}
	if b != nil {
		e.Other = b.id
	}
	return e
}
