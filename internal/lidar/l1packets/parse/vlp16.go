package parse

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
)

/*
VLP-16 Data Packet Layout

The sensor sends one 1206-byte UDP payload per 12 data blocks (default port 2368).

PACKET STRUCTURE (1206 bytes total):
├── Data Blocks (1200 bytes) - 12 blocks × 100 bytes each, starting at offset 0
│   └── Each block: 2-byte flag (0xFFEE) + 2-byte azimuth + 32 channels × 3 bytes
│       (2-byte distance in 2 mm units + 1-byte reflectivity)
│       Channels 0-15 are the first firing sequence, 16-31 the second.
└── Tail (6 bytes)
    ├── Timestamp (4 bytes) - microseconds past the top of the hour
    ├── Return mode (1 byte) - 0x37 Strongest, 0x38 Last, 0x39 Dual
    └── Product ID (1 byte) - 0x22 VLP-16, 0x24 Puck Hi-Res

In dual return mode the first firing slot of a block carries the last return
and the second slot the strongest return of the same firing.

Position (GPS/NMEA) packets are 512 bytes and arrive on port 8308. They are
recognised and rejected with ErrPositionPacket so listeners can skip them
without logging a decode failure.
*/

// VLP-16 packet structure constants
const (
	PACKET_SIZE          = 1206
	POSITION_PACKET_SIZE = 512
	BLOCK_FLAG_SIZE      = 2
	AZIMUTH_SIZE         = 2
	BYTES_PER_CHANNEL    = 3
	CHANNELS_PER_BLOCK   = l1packets.ChannelsPerFiring * l1packets.FiringsPerColumn
	BLOCK_SIZE           = BLOCK_FLAG_SIZE + AZIMUTH_SIZE + CHANNELS_PER_BLOCK*BYTES_PER_CHANNEL // 100 bytes
	TAIL_START           = l1packets.ColumnsPerPacket * BLOCK_SIZE                            // 1200
	TAIL_SIZE            = 6

	// BLOCK_FLAG is the 0xFFEE block marker read as little-endian.
	BLOCK_FLAG = 0xEEFF

	// ROTATION_MAX_UNITS is 360.00° in raw azimuth units.
	ROTATION_MAX_UNITS = 36000
)

// Product IDs written in the last byte of the datagram.
const (
	ProductVLP16     uint8 = 0x22
	ProductPuckHiRes uint8 = 0x24
	ProductVLP32C    uint8 = 0x28
)

// Decode errors. Every failure wraps ErrInvalidPacket except position packets.
var (
	ErrInvalidPacket  = errors.New("invalid lidar packet")
	ErrPositionPacket = errors.New("position packet")
)

// Decoder turns raw datagrams into l1packets.Packet values.
type Decoder interface {
	Decode(data []byte) (l1packets.Packet, error)
}

// VLP16Decoder decodes VLP-16, Puck LITE and Puck Hi-Res data packets.
// It is not safe for concurrent use; each sensor stream owns one decoder.
type VLP16Decoder struct {
	packetCount    int
	lastReturnMode l1packets.ReturnMode
	lastProductID  uint8
}

// NewVLP16Decoder creates a decoder.
func NewVLP16Decoder() *VLP16Decoder {
	return &VLP16Decoder{}
}

// Decode validates and decodes one 1206-byte data packet.
func (d *VLP16Decoder) Decode(data []byte) (l1packets.Packet, error) {
	switch len(data) {
	case PACKET_SIZE:
	case POSITION_PACKET_SIZE:
		return l1packets.Packet{}, ErrPositionPacket
	default:
		diagf("rejecting datagram of %d bytes", len(data))
		return l1packets.Packet{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPacket, PACKET_SIZE, len(data))
	}

	tail := data[TAIL_START : TAIL_START+TAIL_SIZE]
	packet := l1packets.Packet{
		TimestampMicros: binary.LittleEndian.Uint32(tail[0:4]),
		ReturnMode:      l1packets.ReturnMode(tail[4]),
		ProductID:       tail[5],
		Columns:         make([]l1packets.Column, 0, l1packets.ColumnsPerPacket),
	}
	if !packet.ReturnMode.Valid() {
		return l1packets.Packet{}, fmt.Errorf("%w: unknown return mode byte 0x%02x", ErrInvalidPacket, tail[4])
	}

	for blockIdx := 0; blockIdx < l1packets.ColumnsPerPacket; blockIdx++ {
		offset := blockIdx * BLOCK_SIZE
		column, err := parseBlock(data[offset : offset+BLOCK_SIZE])
		if err != nil {
			return l1packets.Packet{}, fmt.Errorf("%w: block %d: %v", ErrInvalidPacket, blockIdx, err)
		}
		packet.Columns = append(packet.Columns, column)
	}

	d.packetCount++
	if d.packetCount > 1 && packet.ReturnMode != d.lastReturnMode {
		opsf("return mode changed from %s to %s at packet %d", d.lastReturnMode, packet.ReturnMode, d.packetCount)
	}
	d.lastReturnMode = packet.ReturnMode
	d.lastProductID = packet.ProductID

	tracef("packet %d: ts=%dus mode=%s product=0x%02x first_az=%d",
		d.packetCount, packet.TimestampMicros, packet.ReturnMode, packet.ProductID, packet.Columns[0].Azimuth)

	return packet, nil
}

// parseBlock decodes one 100-byte data block into a column.
func parseBlock(data []byte) (l1packets.Column, error) {
	flag := binary.LittleEndian.Uint16(data[0:2])
	if flag != BLOCK_FLAG {
		return l1packets.Column{}, fmt.Errorf("bad block flag 0x%04X", flag)
	}

	azimuth := binary.LittleEndian.Uint16(data[2:4])
	if azimuth >= ROTATION_MAX_UNITS {
		return l1packets.Column{}, fmt.Errorf("azimuth %d out of range", azimuth)
	}

	column := l1packets.Column{
		Azimuth:      azimuth,
		FiringFormer: make(l1packets.Firing, l1packets.ChannelsPerFiring),
		FiringLatter: make(l1packets.Firing, l1packets.ChannelsPerFiring),
	}

	channelOffset := BLOCK_FLAG_SIZE + AZIMUTH_SIZE
	for i := 0; i < CHANNELS_PER_BLOCK; i++ {
		ret := l1packets.RawReturn{
			Distance:     binary.LittleEndian.Uint16(data[channelOffset : channelOffset+2]),
			Reflectivity: data[channelOffset+2],
		}
		if i < l1packets.ChannelsPerFiring {
			column.FiringFormer[i] = ret
		} else {
			column.FiringLatter[i-l1packets.ChannelsPerFiring] = ret
		}
		channelOffset += BYTES_PER_CHANNEL
	}

	return column, nil
}

// PacketCount returns how many data packets were decoded successfully.
func (d *VLP16Decoder) PacketCount() int {
	return d.packetCount
}

// LastReturnMode returns the return mode of the most recent data packet.
func (d *VLP16Decoder) LastReturnMode() l1packets.ReturnMode {
	return d.lastReturnMode
}

// LastProductID returns the product byte of the most recent data packet.
func (d *VLP16Decoder) LastProductID() uint8 {
	return d.lastProductID
}
