package l2frames

import (
	"fmt"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/units"
)

// Point is one converted return tagged with the mode it was captured in.
// Single is set for Strongest and LastReturn points, Dual for DualReturn.
type Point struct {
	Mode   l1packets.ReturnMode
	Single Timestamped[PointPair]
	Dual   Timestamped[DualPair]
}

// StrongestPoint wraps a single-return point captured in Strongest mode.
func StrongestPoint(p Timestamped[PointPair]) Point {
	return Point{Mode: l1packets.ReturnModeStrongest, Single: p}
}

// LastReturnPoint wraps a single-return point captured in LastReturn mode.
func LastReturnPoint(p Timestamped[PointPair]) Point {
	return Point{Mode: l1packets.ReturnModeLastReturn, Single: p}
}

// DualReturnPoint wraps a last/strongest pair captured in DualReturn mode.
func DualReturnPoint(p Timestamped[DualPair]) Point {
	return Point{Mode: l1packets.ReturnModeDualReturn, Dual: p}
}

// TimestampNs returns the point's sensor-clock time.
func (p Point) TimestampNs() uint64 {
	if p.Mode == l1packets.ReturnModeDualReturn {
		return p.Dual.TimestampNs
	}
	return p.Single.TimestampNs
}

// Azimuth returns the point's standard-convention azimuth. Both halves of a
// dual pair share it.
func (p Point) Azimuth() units.Angle {
	if p.Mode == l1packets.ReturnModeDualReturn {
		return p.Dual.Value.Last.Spherical.Azimuth
	}
	return p.Single.Value.Spherical.Azimuth
}

// PointList is a mode-tagged sequence of points. Exactly one of the backing
// slices is used, chosen by the list's mode at construction.
type PointList struct {
	mode   l1packets.ReturnMode
	single []Timestamped[PointPair]
	dual   []Timestamped[DualPair]
}

// NewPointList creates an empty list for the given return mode.
func NewPointList(mode l1packets.ReturnMode) (*PointList, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown return mode %s", ErrMalformedInput, mode)
	}
	return &PointList{mode: mode}, nil
}

func newPointListCap(mode l1packets.ReturnMode, capacity int) *PointList {
	pl := &PointList{mode: mode}
	if mode == l1packets.ReturnModeDualReturn {
		pl.dual = make([]Timestamped[DualPair], 0, capacity)
	} else {
		pl.single = make([]Timestamped[PointPair], 0, capacity)
	}
	return pl
}

// Mode returns the variant of the list.
func (pl *PointList) Mode() l1packets.ReturnMode {
	return pl.mode
}

// Len returns the number of points in the list.
func (pl *PointList) Len() int {
	if pl.mode == l1packets.ReturnModeDualReturn {
		return len(pl.dual)
	}
	return len(pl.single)
}

// Push appends p. A point captured in another return mode is rejected with
// ErrMalformedInput and the list is left unchanged.
func (pl *PointList) Push(p Point) error {
	if p.Mode != pl.mode {
		return fmt.Errorf("%w: cannot push %s point into %s list", ErrMalformedInput, p.Mode, pl.mode)
	}
	if pl.mode == l1packets.ReturnModeDualReturn {
		pl.dual = append(pl.dual, p.Dual)
	} else {
		pl.single = append(pl.single, p.Single)
	}
	return nil
}

// At returns the i-th point.
func (pl *PointList) At(i int) Point {
	if pl.mode == l1packets.ReturnModeDualReturn {
		return DualReturnPoint(pl.dual[i])
	}
	return Point{Mode: pl.mode, Single: pl.single[i]}
}

// Singles returns the backing slice of a Strongest or LastReturn list, or nil
// for a DualReturn list.
func (pl *PointList) Singles() []Timestamped[PointPair] {
	return pl.single
}

// Duals returns the backing slice of a DualReturn list, or nil otherwise.
func (pl *PointList) Duals() []Timestamped[DualPair] {
	return pl.dual
}

// Cartesian returns the Cartesian coordinates and timestamps of every
// return. Dual lists contribute the strongest return then the last return
// of each pair, skipping the last return when both are identical.
func (pl *PointList) Cartesian() []Timestamped[CartesianPoint] {
	if pl.mode != l1packets.ReturnModeDualReturn {
		out := make([]Timestamped[CartesianPoint], len(pl.single))
		for i, p := range pl.single {
			out[i] = Timestamped[CartesianPoint]{Value: p.Value.Cartesian, TimestampNs: p.TimestampNs}
		}
		return out
	}
	out := make([]Timestamped[CartesianPoint], 0, 2*len(pl.dual))
	for _, p := range pl.dual {
		out = append(out, Timestamped[CartesianPoint]{Value: p.Value.Strongest.Cartesian, TimestampNs: p.TimestampNs})
		if p.Value.Last.Cartesian != p.Value.Strongest.Cartesian {
			out = append(out, Timestamped[CartesianPoint]{Value: p.Value.Last.Cartesian, TimestampNs: p.TimestampNs})
		}
	}
	return out
}
