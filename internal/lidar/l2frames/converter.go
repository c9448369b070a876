package l2frames

import (
	"fmt"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/units"
)

// PointCloudConverter turns one decoded packet into timestamped points. It
// holds no state between packets.
type PointCloudConverter struct {
	calibration *Calibration
}

// NewPointCloudConverter creates a converter for the given calibration.
func NewPointCloudConverter(calibration *Calibration) *PointCloudConverter {
	return &PointCloudConverter{calibration: calibration}
}

// Calibration returns the table the converter reads.
func (c *PointCloudConverter) Calibration() *Calibration {
	return c.calibration
}

// Convert computes point locations and firing times for every laser return
// in the packet. The list variant follows the packet's return mode.
func (c *PointCloudConverter) Convert(packet l1packets.Packet) (*PointList, error) {
	if err := c.validate(packet); err != nil {
		return nil, err
	}

	diffs := azimuthDiffs(packet.Columns)

	switch packet.ReturnMode {
	case l1packets.ReturnModeStrongest, l1packets.ReturnModeLastReturn:
		return c.convertSingle(packet, diffs), nil
	case l1packets.ReturnModeDualReturn:
		return c.convertDual(packet, diffs), nil
	}
	return nil, fmt.Errorf("%w: unknown return mode %s", ErrMalformedInput, packet.ReturnMode)
}

func (c *PointCloudConverter) validate(packet l1packets.Packet) error {
	if c.calibration == nil || c.calibration.Channels() == 0 {
		return fmt.Errorf("%w: converter has no calibration", ErrMalformedInput)
	}
	if len(packet.Columns) == 0 {
		return fmt.Errorf("%w: packet has no columns", ErrMalformedInput)
	}
	if !packet.ReturnMode.Valid() {
		return fmt.Errorf("%w: unknown return mode %s", ErrMalformedInput, packet.ReturnMode)
	}
	channels := c.calibration.Channels()
	for i, col := range packet.Columns {
		if len(col.FiringFormer) != channels || len(col.FiringLatter) != channels {
			return fmt.Errorf("%w: column %d has firings of %d and %d returns, calibration has %d channels",
				ErrMalformedInput, i, len(col.FiringFormer), len(col.FiringLatter), channels)
		}
	}
	return nil
}

// azimuthDiffs returns, per column, the angle swept until the next column,
// unwrapped across 0°. The last column repeats the previous difference.
func azimuthDiffs(columns []l1packets.Column) []units.Angle {
	diffs := make([]units.Angle, len(columns))
	for i := 0; i+1 < len(columns); i++ {
		curr := columns[i].AzimuthAngle()
		next := columns[i+1].AzimuthAngle()
		if next >= curr {
			diffs[i] = next - curr
		} else {
			diffs[i] = next - curr + units.FullTurn
		}
	}
	if n := len(columns); n > 1 {
		diffs[n-1] = diffs[n-2]
	}
	return diffs
}

// convertSingle handles Strongest and LastReturn packets: every column holds
// two consecutive firings spanning two firing periods.
func (c *PointCloudConverter) convertSingle(packet l1packets.Packet, diffs []units.Angle) *PointList {
	channels := c.calibration.Channels()
	points := newPointListCap(packet.ReturnMode, len(packet.Columns)*l1packets.FiringsPerColumn*channels)
	packetTime := units.Micros(packet.TimestampMicros)

	for colIdx, column := range packet.Columns {
		columnTime := packetTime + units.Micros(colIdx)*2*l1packets.FiringPeriod
		base := column.AzimuthAngle()
		diff := diffs[colIdx]

		firings := [l1packets.FiringsPerColumn]l1packets.Firing{column.FiringFormer, column.FiringLatter}
		for firingIdx, firing := range firings {
			firingOffset := units.Micros(firingIdx) * l1packets.FiringPeriod

			for ch, ret := range firing {
				laserOffset := firingOffset + units.Micros(ch)*l1packets.LaserReturnPeriod
				ratio := laserOffset.Ratio(2 * l1packets.FiringPeriod)
				azimuth := units.ClockwiseToStandard(units.Lerp(base, base+diff, ratio))

				pair := NewPointPair(ret.Length(), azimuth, c.calibration.VerticalAngle(ch), c.calibration.VerticalCorrection(ch))
				points.single = append(points.single, Timestamped[PointPair]{
					Value:       pair,
					TimestampNs: (columnTime + laserOffset).Nanoseconds(),
				})
			}
		}
	}
	return points
}

// convertDual handles DualReturn packets: the two firings of a column are the
// last and strongest echoes of a single firing.
func (c *PointCloudConverter) convertDual(packet l1packets.Packet, diffs []units.Angle) *PointList {
	channels := c.calibration.Channels()
	points := newPointListCap(l1packets.ReturnModeDualReturn, len(packet.Columns)*channels)
	packetTime := units.Micros(packet.TimestampMicros)

	for colIdx, column := range packet.Columns {
		columnTime := packetTime + units.Micros(colIdx)*l1packets.FiringPeriod
		base := column.AzimuthAngle()
		diff := diffs[colIdx]

		for ch := 0; ch < channels; ch++ {
			laserOffset := units.Micros(ch) * l1packets.LaserReturnPeriod
			ratio := laserOffset.Ratio(l1packets.FiringPeriod)
			// Dual points use the same remap as single returns. Without it the
			// boundary check sees a backwards azimuth on every point.
			azimuth := units.ClockwiseToStandard(units.Lerp(base, base+diff, ratio).Mod2Pi())

			vertical := c.calibration.VerticalAngle(ch)
			correction := c.calibration.VerticalCorrection(ch)
			points.dual = append(points.dual, Timestamped[DualPair]{
				Value: DualPair{
					Last:      NewPointPair(column.FiringFormer[ch].Length(), azimuth, vertical, correction),
					Strongest: NewPointPair(column.FiringLatter[ch].Length(), azimuth, vertical, correction),
				},
				TimestampNs: (columnTime + laserOffset).Nanoseconds(),
			})
		}
	}
	return points
}
