package testutil

import "encoding/binary"

// Raw VLP-16 datagram layout, duplicated here so fixtures do not depend on
// the decoder they are used to test.
const (
	vlp16PacketSize = 1206
	vlp16Blocks     = 12
	vlp16BlockSize  = 100
	vlp16Channels   = 32
)

// VLP16Packet describes a synthetic VLP-16 data packet.
type VLP16Packet struct {
	TimestampMicros uint32
	ReturnMode      uint8 // defaults to 0x37 (strongest)
	ProductID       uint8 // defaults to 0x22 (VLP-16)
	StartAzimuth    uint16
	AzimuthStep     uint16 // raw units between consecutive blocks
	Distance        uint16 // raw distance written to every channel
	Reflectivity    uint8
}

// Bytes encodes the packet into a 1206-byte datagram.
func (p VLP16Packet) Bytes() []byte {
	mode := p.ReturnMode
	if mode == 0 {
		mode = 0x37
	}
	product := p.ProductID
	if product == 0 {
		product = 0x22
	}

	buf := make([]byte, vlp16PacketSize)
	for b := 0; b < vlp16Blocks; b++ {
		off := b * vlp16BlockSize
		buf[off] = 0xFF
		buf[off+1] = 0xEE
		az := (uint32(p.StartAzimuth) + uint32(b)*uint32(p.AzimuthStep)) % 36000
		binary.LittleEndian.PutUint16(buf[off+2:off+4], uint16(az))
		ch := off + 4
		for c := 0; c < vlp16Channels; c++ {
			binary.LittleEndian.PutUint16(buf[ch:ch+2], p.Distance)
			buf[ch+2] = p.Reflectivity
			ch += 3
		}
	}
	binary.LittleEndian.PutUint32(buf[1200:1204], p.TimestampMicros)
	buf[1204] = mode
	buf[1205] = product
	return buf
}

// VLP16Sweep returns count consecutive datagrams starting at packet index
// first. Packet i starts at i × 12 × 2 × 55.296 µs and at azimuth
// i × 12 × step, so a step of 40 (0.4°) closes a revolution every 75 packets
// and fits a 600 rpm period.
func VLP16Sweep(first, count int, step uint16, mode uint8, distance uint16) [][]byte {
	const packetMicros = 12 * 2 * 55.296

	packets := make([][]byte, 0, count)
	for i := first; i < first+count; i++ {
		pkt := VLP16Packet{
			TimestampMicros: uint32(float64(i) * packetMicros),
			ReturnMode:      mode,
			StartAzimuth:    uint16((i * 12 * int(step)) % 36000),
			AzimuthStep:     step,
			Distance:        distance,
			Reflectivity:    100,
		}
		packets = append(packets, pkt.Bytes())
	}
	return packets
}
