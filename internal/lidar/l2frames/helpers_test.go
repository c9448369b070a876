package l2frames

import (
	"testing"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
)

// packetMicros is the time one Strongest/LastReturn packet covers.
const packetMicros = float64(l1packets.ColumnsPerPacket) * 2 * float64(l1packets.FiringPeriod)

func makeFiring(channels int, distance uint16) l1packets.Firing {
	f := make(l1packets.Firing, channels)
	for i := range f {
		f[i] = l1packets.RawReturn{Distance: distance, Reflectivity: 50}
	}
	return f
}

func makeColumn(azimuth uint16, channels int, distance uint16) l1packets.Column {
	return l1packets.Column{
		Azimuth:      azimuth,
		FiringFormer: makeFiring(channels, distance),
		FiringLatter: makeFiring(channels, distance),
	}
}

func makePacket(ts uint32, mode l1packets.ReturnMode, azimuths ...uint16) l1packets.Packet {
	p := l1packets.Packet{TimestampMicros: ts, ReturnMode: mode}
	for _, az := range azimuths {
		p.Columns = append(p.Columns, makeColumn(az, l1packets.ChannelsPerFiring, 500))
	}
	return p
}

// sweepPackets simulates a sensor advancing step raw azimuth units per column.
func sweepPackets(count int, mode l1packets.ReturnMode, startAz, step uint16) []l1packets.Packet {
	packets := make([]l1packets.Packet, 0, count)
	col := 0
	for i := 0; i < count; i++ {
		azimuths := make([]uint16, l1packets.ColumnsPerPacket)
		for c := range azimuths {
			azimuths[c] = uint16((int(startAz) + col*int(step)) % 36000)
			col++
		}
		packets = append(packets, makePacket(uint32(float64(i)*packetMicros), mode, azimuths...))
	}
	return packets
}

func newTestConverter(t *testing.T, rpm int, strict bool) *FrameConverter {
	t.Helper()
	fc, err := NewFrameConverter(FrameConverterConfig{
		SensorID:         "vlp16-test",
		RPM:              rpm,
		StrictTimestamps: strict,
		Calibration:      VLP16Calibration(),
	})
	if err != nil {
		t.Fatalf("NewFrameConverter: %v", err)
	}
	return fc
}
