package l2frames

import (
	"fmt"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/monitoring"
	"github.com/banshee-data/lidar-buffer/internal/units"
)

//
// FrameConverter - folds converted packets into one frame per revolution
//

// Frame is the point set captured during one sensor revolution. Ownership
// passes to the caller when a FrameConverter returns it.
type Frame struct {
	ID               string // "<sensor>-frame-<seq>"
	SensorID         string
	Seq              uint64 // 1-based, increases by one per frame started
	StartTimestampNs uint64 // timestamp of the anchoring point
	EndTimestampNs   uint64 // timestamp of the last point pushed
	Points           *PointList
}

// Mode returns the return mode of every point in the frame.
func (f *Frame) Mode() l1packets.ReturnMode {
	return f.Points.Mode()
}

// Len returns the number of points in the frame.
func (f *Frame) Len() int {
	return f.Points.Len()
}

// FrameConverterConfig contains configuration for the FrameConverter
type FrameConverterConfig struct {
	SensorID         string       // sensor identifier used in frame IDs
	RPM              int          // motor speed; positive multiple of 60
	StrictTimestamps bool         // reject packets older than the last point instead of warning
	Calibration      *Calibration // shared, read-only
}

// FrameConverterStats counts what a FrameConverter has processed.
type FrameConverterStats struct {
	Packets          uint64 // packets folded into frames
	RejectedPackets  uint64 // packets refused by validation or strict ordering
	Points           uint64
	Frames           uint64 // frames handed out by PushPacket, Flush and Finish
	OrderingWarnings uint64 // out-of-order packets accepted in lenient mode
}

type assemblerState struct {
	lastAzimuth          units.Angle // encoder-convention azimuth of the last point
	lastPointTimestampNs uint64
	lastFrameTimestampNs uint64 // anchor of the in-progress revolution
	frame                *Frame
}

// FrameConverter assembles packets into revolution frames. It keeps at most
// one in-progress frame. Not safe for concurrent use; run one per sensor.
type FrameConverter struct {
	sensorID       string
	converter      *PointCloudConverter
	rpm            int
	periodPerFrame units.Micros
	strict         bool

	state        *assemblerState // nil until the first point
	frameCounter uint64
	finished     bool
	stats        FrameConverterStats
}

// NewFrameConverter validates cfg and creates a FrameConverter.
func NewFrameConverter(cfg FrameConverterConfig) (*FrameConverter, error) {
	if cfg.RPM <= 0 || cfg.RPM%60 != 0 {
		return nil, fmt.Errorf("%w: rpm must be positive and a multiple of 60, got %d", ErrConfiguration, cfg.RPM)
	}
	if cfg.Calibration == nil || cfg.Calibration.Channels() == 0 {
		return nil, fmt.Errorf("%w: calibration is required", ErrConfiguration)
	}

	return &FrameConverter{
		sensorID:       cfg.SensorID,
		converter:      NewPointCloudConverter(cfg.Calibration),
		rpm:            cfg.RPM,
		periodPerFrame: units.MicrosPerMinute / units.Micros(cfg.RPM),
		strict:         cfg.StrictTimestamps,
	}, nil
}

// PeriodPerFrameMicros returns the expected revolution duration.
func (fc *FrameConverter) PeriodPerFrameMicros() units.Micros {
	return fc.periodPerFrame
}

// FiringsPerRevolution returns how many firing periods fit in one revolution.
func (fc *FrameConverter) FiringsPerRevolution() float64 {
	return units.MicrosPerMinute.Ratio(units.Micros(fc.rpm) * l1packets.FiringPeriod)
}

// RPM returns the configured motor speed.
func (fc *FrameConverter) RPM() int {
	return fc.rpm
}

// Stats returns a snapshot of the converter's counters.
func (fc *FrameConverter) Stats() FrameConverterStats {
	return fc.stats
}

// InProgressMode reports the return mode of the frame being built, if any.
func (fc *FrameConverter) InProgressMode() (l1packets.ReturnMode, bool) {
	if fc.state == nil || fc.state.frame == nil {
		return 0, false
	}
	return fc.state.frame.Mode(), true
}

// RejectsOrdering reports whether PushPacket would refuse packet with
// ErrOrderingViolation. Always false in lenient mode.
func (fc *FrameConverter) RejectsOrdering(packet l1packets.Packet) bool {
	return fc.strict && !fc.finished && fc.outOfOrder(packet)
}

func (fc *FrameConverter) outOfOrder(packet l1packets.Packet) bool {
	return fc.state != nil && packet.TimestampNs() < fc.state.lastPointTimestampNs
}

// PushPacket converts packet and folds its points into the running
// revolution. It returns the frames completed by this packet, oldest first.
// On error no state is modified.
func (fc *FrameConverter) PushPacket(packet l1packets.Packet) ([]*Frame, error) {
	if fc.finished {
		return nil, ErrFinished
	}

	if fc.outOfOrder(packet) {
		current := packet.TimestampNs()
		previous := fc.state.lastPointTimestampNs
		if fc.strict {
			fc.stats.RejectedPackets++
			return nil, fmt.Errorf("%w: current=%dns previous=%dns", ErrOrderingViolation, current, previous)
		}
		fc.stats.OrderingWarnings++
		monitoring.Warnf("[FrameConverter] sensor=%s timestamp of input packet is less than that of previous packet (current=%dns, previous=%dns)",
			fc.sensorID, current, previous)
	}

	points, err := fc.converter.Convert(packet)
	if err != nil {
		fc.stats.RejectedPackets++
		return nil, err
	}
	// A frame holds a single return mode. Every point in the packet shares
	// one, so a mismatch can only surface on the first point and only if it
	// does not close the in-progress frame.
	if st := fc.state; st != nil && st.frame != nil && st.frame.Mode() != points.Mode() {
		if closes, _ := fc.closesFrame(st, points.At(0)); !closes {
			fc.stats.RejectedPackets++
			return nil, fmt.Errorf("%w: %s packet cannot extend %s frame %s",
				ErrMalformedInput, points.Mode(), st.frame.Mode(), st.frame.ID)
		}
	}

	var completed []*Frame
	for i := 0; i < points.Len(); i++ {
		point := points.At(i)
		ts := point.TimestampNs()

		if fc.state == nil {
			fc.state = &assemblerState{}
			fc.startFrame(point)
			continue
		}

		st := fc.state
		if closes, reason := fc.closesFrame(st, point); closes && st.frame != nil {
			debugf("[FrameConverter] closing %s: reason=%s points=%d span=%dns",
				st.frame.ID, reason, st.frame.Len(), st.frame.EndTimestampNs-st.frame.StartTimestampNs)
			completed = append(completed, st.frame)
			st.frame = nil
		}

		if st.frame == nil {
			fc.startFrame(point)
			continue
		}

		// modes were checked above, so the push cannot fail
		_ = st.frame.Points.Push(point)
		st.frame.EndTimestampNs = ts
		st.lastAzimuth = units.ClockwiseToStandard(point.Azimuth())
		st.lastPointTimestampNs = ts
	}

	fc.stats.Packets++
	fc.stats.Points += uint64(points.Len())
	fc.stats.Frames += uint64(len(completed))
	return completed, nil
}

// closesFrame applies the revolution boundary test to point: the encoder
// azimuth went backwards past 0°, or a full period elapsed since the anchor.
func (fc *FrameConverter) closesFrame(st *assemblerState, point Point) (bool, string) {
	azimuth := units.ClockwiseToStandard(point.Azimuth())
	if azimuth < st.lastAzimuth {
		return true, "azimuth_wrap"
	}
	ts := point.TimestampNs()
	if ts >= st.lastFrameTimestampNs {
		elapsed := units.Micros(float64(ts-st.lastFrameTimestampNs) / 1000.0)
		if elapsed >= fc.periodPerFrame {
			return true, "period_elapsed"
		}
	}
	return false, ""
}

// startFrame opens a new frame anchored at point.
func (fc *FrameConverter) startFrame(point Point) {
	fc.frameCounter++
	ts := point.TimestampNs()
	points := newPointListCap(point.Mode, fc.expectedPoints(point.Mode))
	_ = points.Push(point)

	fc.state.frame = &Frame{
		ID:               fmt.Sprintf("%s-frame-%d", fc.sensorID, fc.frameCounter),
		SensorID:         fc.sensorID,
		Seq:              fc.frameCounter,
		StartTimestampNs: ts,
		EndTimestampNs:   ts,
		Points:           points,
	}
	fc.state.lastAzimuth = units.ClockwiseToStandard(point.Azimuth())
	fc.state.lastPointTimestampNs = ts
	fc.state.lastFrameTimestampNs = ts
}

// expectedPoints sizes a new frame for one revolution.
func (fc *FrameConverter) expectedPoints(mode l1packets.ReturnMode) int {
	firings := int(fc.FiringsPerRevolution()) + 1
	if mode == l1packets.ReturnModeDualReturn {
		firings /= l1packets.FiringsPerColumn
	}
	return firings * fc.converter.Calibration().Channels()
}

// Flush hands out the in-progress frame, if any, without ending the stream.
// The next point starts a new frame; ordering and azimuth history are kept.
func (fc *FrameConverter) Flush() *Frame {
	if fc.finished || fc.state == nil || fc.state.frame == nil {
		return nil
	}
	frame := fc.state.frame
	fc.state.frame = nil
	fc.stats.Frames++
	return frame
}

// Finish ends the stream and returns the partial frame, or nil when nothing
// is in progress. Later calls to PushPacket fail with ErrFinished.
func (fc *FrameConverter) Finish() *Frame {
	if fc.finished {
		return nil
	}
	frame := fc.Flush()
	fc.finished = true
	fc.state = nil
	return frame
}
