package publish

import (
	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
)

// FrameMessage is the JSON document published for one frame. Coordinates
// are in millimetres in the sensor frame.
type FrameMessage struct {
	SessionID        string         `json:"session_id"`
	FrameID          string         `json:"frame_id"`
	SensorID         string         `json:"sensor_id"`
	Seq              uint64         `json:"seq"`
	StartTimestampNs uint64         `json:"start_timestamp_ns"`
	EndTimestampNs   uint64         `json:"end_timestamp_ns"`
	Mode             string         `json:"mode"`
	PointCount       int            `json:"point_count"`
	Points           []PointMessage `json:"points,omitempty"`
}

// PointMessage is one Cartesian point with its firing timestamp.
type PointMessage struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	T uint64  `json:"t"`
}

// NewFrameMessage builds the message for frame. maxPoints caps the number of
// points included by taking every n-th point; 0 includes all of them and a
// negative value sends the header only.
func NewFrameMessage(frame *l2frames.Frame, sessionID string, maxPoints int) FrameMessage {
	msg := FrameMessage{
		SessionID:        sessionID,
		FrameID:          frame.ID,
		SensorID:         frame.SensorID,
		Seq:              frame.Seq,
		StartTimestampNs: frame.StartTimestampNs,
		EndTimestampNs:   frame.EndTimestampNs,
		Mode:             frame.Mode().String(),
		PointCount:       frame.Len(),
	}
	if maxPoints < 0 {
		return msg
	}

	cloud := frame.Points.Cartesian()
	stride := 1
	if maxPoints > 0 && len(cloud) > maxPoints {
		stride = (len(cloud) + maxPoints - 1) / maxPoints
	}

	msg.Points = make([]PointMessage, 0, (len(cloud)+stride-1)/stride)
	for i := 0; i < len(cloud); i += stride {
		p := cloud[i]
		msg.Points = append(msg.Points, PointMessage{X: p.Value.X, Y: p.Value.Y, Z: p.Value.Z, T: p.TimestampNs})
	}
	return msg
}
