package network

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPPacket is one captured link-layer frame.
type PCAPPacket struct {
	Data      []byte
	Timestamp time.Time
}

// PCAPReader reads link-layer frames from a capture file.
type PCAPReader interface {
	// Open opens a capture file for reading.
	Open(filename string) error

	// NextPacket returns the next frame, or io.EOF when the file is exhausted.
	NextPacket() (*PCAPPacket, error)

	// Close releases the file.
	Close()

	// LinkType returns the capture's link type as a layers.LinkType value.
	LinkType() int
}

// packetDataSource is implemented by both pcapgo.Reader and pcapgo.NgReader.
type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// pcapngMagic is the block type of a pcapng Section Header Block.
const pcapngMagic = 0x0A0D0D0A

// GoPacketReader reads classic pcap and pcapng files with gopacket's pure Go
// readers, so replay needs neither cgo nor libpcap.
type GoPacketReader struct {
	file   *os.File
	source packetDataSource
}

// NewGoPacketReader creates an unopened reader.
func NewGoPacketReader() *GoPacketReader {
	return &GoPacketReader{}
}

// Open detects the capture format from its magic number and opens it.
func (r *GoPacketReader) Open(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", filename, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture header of %s: %w", filename, err)
	}

	var source packetDataSource
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		source, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		source, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to parse capture %s: %w", filename, err)
	}

	r.file = f
	r.source = source
	return nil
}

// NextPacket returns the next captured frame.
func (r *GoPacketReader) NextPacket() (*PCAPPacket, error) {
	if r.source == nil {
		return nil, fmt.Errorf("capture not open")
	}
	data, ci, err := r.source.ReadPacketData()
	if err != nil {
		return nil, err
	}
	return &PCAPPacket{Data: data, Timestamp: ci.Timestamp}, nil
}

// Close closes the underlying file.
func (r *GoPacketReader) Close() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.source = nil
}

// LinkType returns the capture's link type.
func (r *GoPacketReader) LinkType() int {
	if r.source == nil {
		return int(layers.LinkTypeEthernet)
	}
	return int(r.source.LinkType())
}

// MockPCAPReader implements PCAPReader for testing.
type MockPCAPReader struct {
	mu sync.Mutex

	Packets      []PCAPPacket
	ReadIndex    int
	OpenError    error
	OpenedFile   string
	Closed       bool
	MockLinkType int
}

// NewMockPCAPReader creates an Ethernet capture holding packets.
func NewMockPCAPReader(packets []PCAPPacket) *MockPCAPReader {
	return &MockPCAPReader{
		Packets:      packets,
		MockLinkType: int(layers.LinkTypeEthernet),
	}
}

func (m *MockPCAPReader) Open(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenedFile = filename
	return m.OpenError
}

func (m *MockPCAPReader) NextPacket() (*PCAPPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return nil, fmt.Errorf("reader closed")
	}
	if m.ReadIndex >= len(m.Packets) {
		return nil, io.EOF
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return &pkt, nil
}

func (m *MockPCAPReader) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

func (m *MockPCAPReader) LinkType() int {
	return m.MockLinkType
}

// AddPacket appends a frame to the capture.
func (m *MockPCAPReader) AddPacket(data []byte, timestamp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, PCAPPacket{Data: data, Timestamp: timestamp})
}
