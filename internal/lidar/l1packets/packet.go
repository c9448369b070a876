package l1packets

import (
	"fmt"

	"github.com/banshee-data/lidar-buffer/internal/units"
)

// VLP-16 family packet geometry and firing timing.
const (
	ChannelsPerFiring = 16 // lasers fired together in one firing
	ColumnsPerPacket  = 12 // data blocks per datagram
	FiringsPerColumn  = 2  // firing sequences per data block

	// FiringPeriod is the time between the starts of two firing sequences.
	FiringPeriod units.Micros = 55.296
	// LaserReturnPeriod is the time between two consecutive lasers in one firing.
	LaserReturnPeriod units.Micros = 2.304

	// DistanceResolutionMM is the size of one raw distance unit.
	DistanceResolutionMM = 2
	// AzimuthResolutionDeg is the size of one raw azimuth unit.
	AzimuthResolutionDeg = 0.01
)

// ReturnMode selects which echoes the sensor reports per laser pulse.
type ReturnMode uint8

// Return modes carry the factory byte the sensor writes into each datagram.
const (
	ReturnModeStrongest  ReturnMode = 0x37
	ReturnModeLastReturn ReturnMode = 0x38
	ReturnModeDualReturn ReturnMode = 0x39
)

func (m ReturnMode) String() string {
	switch m {
	case ReturnModeStrongest:
		return "strongest"
	case ReturnModeLastReturn:
		return "last_return"
	case ReturnModeDualReturn:
		return "dual_return"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(m))
	}
}

// Valid reports whether m is one of the three known modes.
func (m ReturnMode) Valid() bool {
	switch m {
	case ReturnModeStrongest, ReturnModeLastReturn, ReturnModeDualReturn:
		return true
	}
	return false
}

// ParseReturnMode maps a config or CLI string onto a ReturnMode.
func ParseReturnMode(s string) (ReturnMode, error) {
	switch s {
	case "strongest":
		return ReturnModeStrongest, nil
	case "last", "last_return":
		return ReturnModeLastReturn, nil
	case "dual", "dual_return":
		return ReturnModeDualReturn, nil
	}
	return 0, fmt.Errorf("unknown return mode %q", s)
}

// RawReturn is one laser's measurement within a firing.
// A zero distance means no return was detected.
type RawReturn struct {
	Distance     uint16 // raw distance in DistanceResolutionMM units
	Reflectivity uint8
}

// MillimeterDistance returns the measured distance in millimetres.
func (r RawReturn) MillimeterDistance() uint32 {
	return uint32(r.Distance) * DistanceResolutionMM
}

// Length returns the measured distance as a typed length.
func (r RawReturn) Length() units.Length {
	return units.Millimeters(float64(r.MillimeterDistance()))
}

// Firing holds one RawReturn per laser channel, captured at a single instant.
type Firing []RawReturn

// Column is one encoder-angle sample. In Strongest and LastReturn modes the
// two firings are consecutive in time; in DualReturn mode FiringFormer holds
// the last return and FiringLatter the strongest return of the same firing.
type Column struct {
	Azimuth      uint16 // raw encoder angle in AzimuthResolutionDeg units
	FiringFormer Firing
	FiringLatter Firing
}

// AzimuthAngle returns the column's encoder angle.
func (c Column) AzimuthAngle() units.Angle {
	return units.Degrees(float64(c.Azimuth) * AzimuthResolutionDeg)
}

// Packet is a decoded sensor datagram. The return mode applies to every column.
type Packet struct {
	TimestampMicros uint32 // sensor clock, microseconds past the hour
	ReturnMode      ReturnMode
	ProductID       uint8
	Columns         []Column
}

// TimestampNs returns the packet capture time in nanoseconds.
func (p Packet) TimestampNs() uint64 {
	return uint64(p.TimestampMicros) * 1000
}
