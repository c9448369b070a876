package network

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/parse"
	"github.com/banshee-data/lidar-buffer/internal/timeutil"
)

func TestReadPCAPFile_FiltersByPort(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	reader := NewMockPCAPReader(nil)
	reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(1000, 0)), base)
	reader.AddPacket(udpFrame(t, DefaultPositionPort, make([]byte, parse.POSITION_PACKET_SIZE)), base)
	reader.AddPacket(udpFrame(t, 9999, dataPacket(5000, 0)), base)
	reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(2327, 480)), base)

	handler := &collector{}
	stats := &recordingStats{}
	result, err := ReadPCAPFile(context.Background(), reader, "capture.pcap", PCAPReplayConfig{
		UDPPort: DefaultDataPort,
		Decoder: parse.NewVLP16Decoder(),
		Handler: handler,
		Stats:   stats,
	})
	require.NoError(t, err)

	assert.Equal(t, "capture.pcap", reader.OpenedFile)
	assert.True(t, reader.Closed)
	assert.Equal(t, 4, result.Frames)
	assert.Equal(t, 2, result.Datagrams)
	require.Equal(t, 2, handler.count())
	assert.Equal(t, uint32(2327), handler.packets[1].TimestampMicros)
	assert.Equal(t, 2*1206, stats.snapshot().bytes)
}

func TestReadPCAPFile_AllPorts(t *testing.T) {
	reader := NewMockPCAPReader(nil)
	reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(1000, 0)), time.Time{})
	reader.AddPacket(udpFrame(t, 9999, dataPacket(2000, 0)), time.Time{})

	handler := &collector{}
	result, err := ReadPCAPFile(context.Background(), reader, "x.pcap", PCAPReplayConfig{
		Decoder: parse.NewVLP16Decoder(),
		Handler: handler,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Datagrams)
	assert.Equal(t, 2, handler.count())
}

func TestReadPCAPFile_PacesReplay(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	reader := NewMockPCAPReader(nil)
	reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(0, 0)), base)
	reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(1327, 480)), base.Add(10*time.Millisecond))
	reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(2654, 960)), base.Add(30*time.Millisecond))

	clock := timeutil.NewMockClock(base)
	_, err := ReadPCAPFile(context.Background(), reader, "x.pcap", PCAPReplayConfig{
		UDPPort:         DefaultDataPort,
		SpeedMultiplier: 2,
		Clock:           clock,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, clock.Sleeps())
}

func TestReadPCAPFile_Errors(t *testing.T) {
	t.Run("open error", func(t *testing.T) {
		reader := NewMockPCAPReader(nil)
		reader.OpenError = errors.New("permission denied")
		_, err := ReadPCAPFile(context.Background(), reader, "x.pcap", PCAPReplayConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")
	})

	t.Run("cancelled", func(t *testing.T) {
		reader := NewMockPCAPReader(nil)
		reader.AddPacket(udpFrame(t, DefaultDataPort, dataPacket(0, 0)), time.Time{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ReadPCAPFile(ctx, reader, "x.pcap", PCAPReplayConfig{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func writeCapture(t *testing.T, ng bool, frames [][]byte) string {
	t.Helper()
	name := "capture.pcap"
	if ng {
		name = "capture.pcapng"
	}
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	base := time.Unix(1_700_000_000, 0)
	ci := func(i int, data []byte) gopacket.CaptureInfo {
		return gopacket.CaptureInfo{
			Timestamp:      base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength:  len(data),
			Length:         len(data),
			InterfaceIndex: 0,
		}
	}

	if ng {
		w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
		require.NoError(t, err)
		for i, data := range frames {
			require.NoError(t, w.WritePacket(ci(i, data), data))
		}
		require.NoError(t, w.Flush())
		return path
	}

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, data := range frames {
		require.NoError(t, w.WritePacket(ci(i, data), data))
	}
	return path
}

func TestGoPacketReader_ReplaysCaptures(t *testing.T) {
	frames := [][]byte{
		udpFrame(t, DefaultDataPort, dataPacket(1000, 0)),
		udpFrame(t, DefaultPositionPort, make([]byte, parse.POSITION_PACKET_SIZE)),
		udpFrame(t, DefaultDataPort, dataPacket(2327, 480)),
		udpFrame(t, DefaultDataPort, dataPacket(3654, 960)),
	}

	for _, ng := range []bool{false, true} {
		name := "pcap"
		if ng {
			name = "pcapng"
		}
		t.Run(name, func(t *testing.T) {
			path := writeCapture(t, ng, frames)
			handler := &collector{}

			reader := NewGoPacketReader()
			result, err := ReadPCAPFile(context.Background(), reader, path, PCAPReplayConfig{
				UDPPort: DefaultDataPort,
				Decoder: parse.NewVLP16Decoder(),
				Handler: handler,
			})
			require.NoError(t, err)
			assert.Equal(t, 4, result.Frames)
			assert.Equal(t, 3, result.Datagrams)
			assert.Equal(t, 3, handler.count())
			assert.Equal(t, int(layers.LinkTypeEthernet), reader.LinkType())
		})
	}
}

func TestGoPacketReader_OpenErrors(t *testing.T) {
	r := NewGoPacketReader()
	require.Error(t, r.Open(filepath.Join(t.TempDir(), "missing.pcap")))

	empty := filepath.Join(t.TempDir(), "empty.pcap")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.Error(t, r.Open(empty))

	garbage := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a capture file"), 0o644))
	require.Error(t, r.Open(garbage))

	_, err := r.NextPacket()
	require.Error(t, err)
}
