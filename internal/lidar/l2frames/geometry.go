package l2frames

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lidar-buffer/internal/units"
)

// SphericalPoint is a return in the sensor's native polar frame. Azimuth is
// a standard mathematical angle (zero on +X, counter-clockwise) and
// VerticalAngle is the elevation above the XY plane.
type SphericalPoint struct {
	Distance      units.Length
	Azimuth       units.Angle
	VerticalAngle units.Angle
}

// SphericalFromAltitude builds a SphericalPoint from an altitude (elevation)
// angle rather than a polar angle measured from +Z.
func SphericalFromAltitude(distance units.Length, azimuth, altitude units.Angle) SphericalPoint {
	return SphericalPoint{Distance: distance, Azimuth: azimuth, VerticalAngle: altitude}
}

// CartesianPoint is x, y, z in millimetres in the sensor frame.
type CartesianPoint = r3.Vec

// Cartesian projects the point into the sensor's Cartesian frame.
func (s SphericalPoint) Cartesian() CartesianPoint {
	d := s.Distance.Millimeters()
	horizontal := d * s.VerticalAngle.Cos()
	return CartesianPoint{
		X: horizontal * s.Azimuth.Cos(),
		Y: horizontal * s.Azimuth.Sin(),
		Z: d * s.VerticalAngle.Sin(),
	}
}

// PointPair keeps both representations of one converted return.
type PointPair struct {
	Cartesian CartesianPoint
	Spherical SphericalPoint
}

// NewPointPair converts a polar measurement and lifts z by the channel's
// vertical correction. The spherical half keeps the uncorrected geometry.
func NewPointPair(distance units.Length, azimuth, verticalAngle units.Angle, verticalCorrection units.Length) PointPair {
	spherical := SphericalFromAltitude(distance, azimuth, verticalAngle)
	cartesian := spherical.Cartesian()
	cartesian.Z += verticalCorrection.Millimeters()
	return PointPair{Cartesian: cartesian, Spherical: spherical}
}

// Range returns the straight-line distance of the Cartesian point from the
// sensor origin in millimetres.
func (p PointPair) Range() float64 {
	return r3.Norm(p.Cartesian)
}

// Timestamped attaches a sensor-clock time in nanoseconds to a value.
type Timestamped[T any] struct {
	Value       T
	TimestampNs uint64
}

// DualPair holds the last and strongest returns of one laser pulse. Both share
// the same azimuth, vertical angle and timestamp.
type DualPair struct {
	Last      PointPair
	Strongest PointPair
}
