package network

import (
	"net"
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/testutil"
)

// collector is a PacketHandler that records decoded packets.
type collector struct {
	mu      sync.Mutex
	packets []l1packets.Packet
}

func (c *collector) HandlePacket(p l1packets.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, p)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

// recordingStats is a PacketStatsInterface that keeps plain counters.
type recordingStats struct {
	mu           sync.Mutex
	packets      int
	bytes        int
	dropped      int
	decodeErrors int
	logCalls     int
}

func (s *recordingStats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets++
	s.bytes += bytes
}

func (s *recordingStats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

func (s *recordingStats) AddDecodeError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeErrors++
}

func (s *recordingStats) LogStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logCalls++
}

func (s *recordingStats) snapshot() recordingStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordingStats{packets: s.packets, bytes: s.bytes, dropped: s.dropped, decodeErrors: s.decodeErrors, logCalls: s.logCalls}
}

func dataPacket(ts uint32, startAz uint16) []byte {
	return testutil.VLP16Packet{
		TimestampMicros: ts,
		StartAzimuth:    startAz,
		AzimuthStep:     40,
		Distance:        2500,
		Reflectivity:    80,
	}.Bytes()
}

// udpFrame wraps payload in Ethernet/IPv4/UDP headers as a sensor would
// send it.
func udpFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x60, 0x76, 0x88, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 201),
		DstIP:    net.IPv4(255, 255, 255, 255),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(dstPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}
