package parse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/testutil"
)

func TestVLP16Decoder_Decode(t *testing.T) {
	raw := testutil.VLP16Packet{
		TimestampMicros: 3_000_000,
		StartAzimuth:    100,
		AzimuthStep:     20,
		Distance:        1000,
		Reflectivity:    42,
	}.Bytes()
	// Distinguish the two firings in the first block.
	binary.LittleEndian.PutUint16(raw[4+16*3:4+16*3+2], 2000)

	d := NewVLP16Decoder()
	pkt, err := d.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(3_000_000), pkt.TimestampMicros)
	assert.Equal(t, l1packets.ReturnModeStrongest, pkt.ReturnMode)
	assert.Equal(t, ProductVLP16, pkt.ProductID)
	require.Len(t, pkt.Columns, l1packets.ColumnsPerPacket)

	col := pkt.Columns[0]
	assert.Equal(t, uint16(100), col.Azimuth)
	require.Len(t, col.FiringFormer, l1packets.ChannelsPerFiring)
	require.Len(t, col.FiringLatter, l1packets.ChannelsPerFiring)
	assert.Equal(t, uint16(1000), col.FiringFormer[0].Distance)
	assert.Equal(t, uint8(42), col.FiringFormer[0].Reflectivity)
	assert.Equal(t, uint16(2000), col.FiringLatter[0].Distance)
	assert.Equal(t, uint16(1000), col.FiringLatter[1].Distance)
	assert.Equal(t, uint16(320), pkt.Columns[11].Azimuth)

	assert.Equal(t, 1, d.PacketCount())
	assert.Equal(t, l1packets.ReturnModeStrongest, d.LastReturnMode())
	assert.Equal(t, ProductVLP16, d.LastProductID())
}

func TestVLP16Decoder_Errors(t *testing.T) {
	valid := func() []byte {
		return testutil.VLP16Packet{StartAzimuth: 0, AzimuthStep: 20, Distance: 10}.Bytes()
	}

	tests := []struct {
		name    string
		data    func() []byte
		wantErr error
	}{
		{
			name:    "short datagram",
			data:    func() []byte { return make([]byte, 100) },
			wantErr: ErrInvalidPacket,
		},
		{
			name:    "position packet",
			data:    func() []byte { return make([]byte, POSITION_PACKET_SIZE) },
			wantErr: ErrPositionPacket,
		},
		{
			name: "bad block flag",
			data: func() []byte {
				b := valid()
				b[BLOCK_SIZE*3] = 0x00
				return b
			},
			wantErr: ErrInvalidPacket,
		},
		{
			name: "azimuth out of range",
			data: func() []byte {
				b := valid()
				binary.LittleEndian.PutUint16(b[2:4], ROTATION_MAX_UNITS)
				return b
			},
			wantErr: ErrInvalidPacket,
		},
		{
			name: "unknown return mode",
			data: func() []byte {
				b := valid()
				b[TAIL_START+4] = 0x40
				return b
			},
			wantErr: ErrInvalidPacket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewVLP16Decoder()
			_, err := d.Decode(tt.data())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.Equal(t, 0, d.PacketCount(), "failed decodes must not be counted")
		})
	}
}

func TestVLP16Decoder_DualReturnAndModeChange(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	d := NewVLP16Decoder()
	_, err := d.Decode(testutil.VLP16Packet{Distance: 1}.Bytes())
	require.NoError(t, err)

	pkt, err := d.Decode(testutil.VLP16Packet{ReturnMode: 0x39, ProductID: ProductPuckHiRes, Distance: 1}.Bytes())
	require.NoError(t, err)

	assert.Equal(t, l1packets.ReturnModeDualReturn, pkt.ReturnMode)
	assert.Equal(t, ProductPuckHiRes, d.LastProductID())
	assert.Equal(t, 2, d.PacketCount())
	assert.Contains(t, ops.String(), "return mode changed from strongest to dual_return")
}
