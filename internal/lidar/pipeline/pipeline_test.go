package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/network"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/parse"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
	"github.com/banshee-data/lidar-buffer/internal/testutil"
)

// At 600 rpm a 0.4° column step closes a revolution every 75 packets.
const (
	packetsPerRev   = 75
	strongestPoints = 12 * 2 * 16
	dualPoints      = 12 * 16
)

var _ network.PacketHandler = (*Pipeline)(nil)

type recordingSink struct {
	mu     sync.Mutex
	frames []*l2frames.Frame
	err    error
}

func (s *recordingSink) HandleFrame(f *l2frames.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return s.err
}

func (s *recordingSink) received() []*l2frames.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*l2frames.Frame(nil), s.frames...)
}

// sweep decodes n synthetic packets starting at packet index first.
func sweep(t *testing.T, first, n int, mode uint8) []l1packets.Packet {
	t.Helper()
	dec := parse.NewVLP16Decoder()
	packets := make([]l1packets.Packet, 0, n)
	for _, raw := range testutil.VLP16Sweep(first, n, 40, mode, 2500) {
		p, err := dec.Decode(raw)
		require.NoError(t, err)
		packets = append(packets, p)
	}
	return packets
}

func newPipeline(t *testing.T, strict bool, sinks ...FrameSink) *Pipeline {
	t.Helper()
	p, err := New(Config{
		SensorID:         "vlp16-pipe",
		RPM:              600,
		StrictTimestamps: strict,
		Calibration:      l2frames.VLP16Calibration(),
		Sinks:            sinks,
	})
	require.NoError(t, err)
	return p
}

func feed(t *testing.T, p *Pipeline, packets []l1packets.Packet) {
	t.Helper()
	for _, pkt := range packets {
		require.NoError(t, p.HandlePacket(pkt))
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{SensorID: "x", RPM: 61, Calibration: l2frames.VLP16Calibration()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, l2frames.ErrConfiguration))
}

func TestPipeline_SessionID(t *testing.T) {
	a := newPipeline(t, false)
	b := newPipeline(t, false)
	_, err := uuid.Parse(a.SessionID())
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
	assert.Equal(t, a.SessionID(), a.Stats().SessionID)
}

func TestPipeline_DeliversFramesAndPartialOnClose(t *testing.T) {
	sink := &recordingSink{}
	ch := NewChannelSink(4)
	p := newPipeline(t, true, sink, ch)

	feed(t, p, sweep(t, 0, packetsPerRev+5, 0x37))

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, packetsPerRev*strongestPoints, got[0].Len())
	assert.Equal(t, "vlp16-pipe-frame-1", got[0].ID)

	require.NoError(t, p.Close())
	got = sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, 5*strongestPoints, got[1].Len())

	assert.Len(t, ch.Frames(), 2)
	assert.Equal(t, got[0], <-ch.Frames())

	stats := p.Stats()
	assert.Equal(t, uint64(packetsPerRev+5), stats.Packets)
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Zero(t, stats.DroppedPackets)
	assert.Equal(t, uint64((packetsPerRev+5)*strongestPoints), stats.Assembler.Points)

	// a closed pipeline drops packets and a second Close is a no-op
	require.NoError(t, p.HandlePacket(sweep(t, 100, 1, 0x37)[0]))
	assert.Equal(t, uint64(1), p.Stats().DroppedPackets)
	require.NoError(t, p.Close())
	assert.Len(t, sink.received(), 2)
}

func TestPipeline_StrictOrderingDropsPacket(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, nil, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	sink := &recordingSink{}
	p := newPipeline(t, true, sink)

	packets := sweep(t, 0, 3, 0x37)
	feed(t, p, []l1packets.Packet{packets[0], packets[2], packets[1]})

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Packets)
	assert.Equal(t, uint64(1), stats.DroppedPackets)
	assert.Equal(t, uint64(1), stats.Assembler.RejectedPackets)
	assert.Contains(t, ops.String(), "dropping out-of-order packet")
}

func TestPipeline_ModeChangeFlushesFrame(t *testing.T) {
	var diag bytes.Buffer
	SetLogWriters(nil, &diag, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	sink := &recordingSink{}
	p := newPipeline(t, true, sink)

	feed(t, p, sweep(t, 0, 10, 0x37))
	feed(t, p, sweep(t, 10, 5, 0x39))

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, l1packets.ReturnModeStrongest, got[0].Mode())
	assert.Equal(t, 10*strongestPoints, got[0].Len())

	require.NoError(t, p.Close())
	got = sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, l1packets.ReturnModeDualReturn, got[1].Mode())
	assert.Equal(t, 5*dualPoints, got[1].Len())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.ModeChanges)
	assert.Zero(t, stats.DroppedPackets)
	assert.Contains(t, diag.String(), "return mode changed from strongest to dual_return")
}

func TestPipeline_StaleModeChangeKeepsFrame(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, true, sink)

	feed(t, p, sweep(t, 5, 10, 0x37))
	// older dual packet: strict ordering drops it, the strongest frame survives
	feed(t, p, sweep(t, 0, 1, 0x39))

	assert.Empty(t, sink.received())
	stats := p.Stats()
	assert.Zero(t, stats.ModeChanges)
	assert.Equal(t, uint64(1), stats.DroppedPackets)

	feed(t, p, sweep(t, 15, 2, 0x37))
	require.NoError(t, p.Close())
	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, l1packets.ReturnModeStrongest, got[0].Mode())
	assert.Equal(t, 12*strongestPoints, got[0].Len())
}

func TestPipeline_Flush(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, false, sink)

	p.Flush()
	assert.Empty(t, sink.received())

	feed(t, p, sweep(t, 0, 3, 0x37))
	p.Flush()
	require.Len(t, sink.received(), 1)
	assert.Equal(t, 3*strongestPoints, sink.received()[0].Len())

	feed(t, p, sweep(t, 3, 2, 0x37))
	require.NoError(t, p.Close())
	got := sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, 2*strongestPoints, got[1].Len())
}

func TestPipeline_SinkErrorsDoNotStopDelivery(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(&ops, nil, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	failing := &recordingSink{err: errors.New("broker unavailable")}
	healthy := &recordingSink{}
	p := newPipeline(t, false, failing, healthy)

	feed(t, p, sweep(t, 0, 2, 0x37))
	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	assert.Len(t, failing.received(), 1)
	assert.Len(t, healthy.received(), 1)
	assert.Equal(t, uint64(1), p.Stats().SinkErrors)
	assert.Contains(t, ops.String(), "broker unavailable")
}

func TestPipeline_AddSinkIgnoresNil(t *testing.T) {
	var nilSink *recordingSink
	p := newPipeline(t, false, nil, nilSink)

	var calls int
	p.AddSink(FrameSinkFunc(func(*l2frames.Frame) error {
		calls++
		return nil
	}))

	feed(t, p, sweep(t, 0, 1, 0x37))
	require.NoError(t, p.Close())
	assert.Equal(t, 1, calls)
}

func TestPipeline_ReceivesFromListener(t *testing.T) {
	sink := &recordingSink{}
	p := newPipeline(t, false, sink)

	socket := network.NewMockUDPSocket(nil)
	for _, raw := range testutil.VLP16Sweep(0, packetsPerRev+1, 40, 0, 2500) {
		socket.Datagrams = append(socket.Datagrams, network.MockDatagram{Data: raw})
	}

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:       ":2368",
		Decoder:       parse.NewVLP16Decoder(),
		Handler:       p,
		SocketFactory: network.NewMockUDPSocketFactory(socket),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Start(ctx) }()

	require.Eventually(t, func() bool {
		return p.Stats().Packets == packetsPerRev+1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancellation")
	}

	require.Len(t, sink.received(), 1)
	assert.Equal(t, packetsPerRev*strongestPoints, sink.received()[0].Len())
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	require.NoError(t, s.HandleFrame(&l2frames.Frame{Seq: 1}))
	require.NoError(t, s.HandleFrame(&l2frames.Frame{Seq: 2}))
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, uint64(1), (<-s.Frames()).Seq)
}
