// Package units provides typed physical quantities shared by the LiDAR
// packages. Angles are stored in radians, lengths in millimetres and
// sensor-clock durations in microseconds so that the unit travels with the
// value instead of living in a variable name.
package units

import "math"

// Angle is a plane angle in radians.
type Angle float64

// Angle constants
const (
	FullTurn    Angle = 2 * math.Pi
	HalfTurn    Angle = math.Pi
	QuarterTurn Angle = math.Pi / 2
)

// Radians builds an Angle from a value in radians.
func Radians(r float64) Angle { return Angle(r) }

// Degrees builds an Angle from a value in degrees.
func Degrees(d float64) Angle { return Angle(d * math.Pi / 180.0) }

// Radians returns the angle in radians.
func (a Angle) Radians() float64 { return float64(a) }

// Degrees returns the angle in degrees.
func (a Angle) Degrees() float64 { return float64(a) * 180.0 / math.Pi }

func (a Angle) Sin() float64 { return math.Sin(float64(a)) }

func (a Angle) Cos() float64 { return math.Cos(float64(a)) }

// WrapTo2Pi maps the angle into [0, 2π).
func (a Angle) WrapTo2Pi() Angle {
	r := math.Mod(float64(a), float64(FullTurn))
	if r < 0 {
		r += float64(FullTurn)
	}
	// -tiny + 2π rounds to exactly 2π
	if r >= float64(FullTurn) {
		r = 0
	}
	return Angle(r)
}

// Mod2Pi is the remainder of the angle by a full turn. Unlike WrapTo2Pi the
// sign of a negative input is kept.
func (a Angle) Mod2Pi() Angle {
	return Angle(math.Mod(float64(a), float64(FullTurn)))
}

// ClockwiseToStandard converts between the sensor's clockwise encoder
// convention (zero at the front, growing clockwise) and a mathematical angle
// (zero on +X, growing counter-clockwise). The mapping θ' = π/2 − θ is its
// own inverse, so the same call restores the encoder angle.
func ClockwiseToStandard(a Angle) Angle {
	return (QuarterTurn - a).WrapTo2Pi()
}

// Lerp linearly interpolates between lhs and rhs.
func Lerp(lhs, rhs Angle, ratio float64) Angle {
	return Angle(float64(lhs)*(1.0-ratio) + float64(rhs)*ratio)
}

// Length is a distance in millimetres.
type Length float64

// Millimeters builds a Length from millimetres.
func Millimeters(mm float64) Length { return Length(mm) }

// Meters builds a Length from metres.
func Meters(m float64) Length { return Length(m * 1000.0) }

// Millimeters returns the length in millimetres.
func (l Length) Millimeters() float64 { return float64(l) }

// Meters returns the length in metres.
func (l Length) Meters() float64 { return float64(l) / 1000.0 }

// Micros is a duration on the sensor clock in microseconds. Velodyne firing
// periods are fractional microseconds, so this is a float rather than a
// time.Duration.
type Micros float64

// Nanoseconds truncates the duration to whole nanoseconds.
func (m Micros) Nanoseconds() uint64 {
	if m <= 0 {
		return 0
	}
	return uint64(float64(m) * 1000.0)
}

// Ratio returns m / other.
func (m Micros) Ratio(other Micros) float64 {
	return float64(m) / float64(other)
}

// MicrosPerMinute is used to turn revolutions per minute into a period.
const MicrosPerMinute Micros = 60_000_000
