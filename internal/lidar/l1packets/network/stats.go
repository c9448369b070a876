package network

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/banshee-data/lidar-buffer/internal/timeutil"
)

// PacketStatsInterface collects per-datagram counters for periodic logging.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddDecodeError()
	LogStats()
}

// noopStats is used when no stats collector is configured.
type noopStats struct{}

func (noopStats) AddPacket(int)   {}
func (noopStats) AddDropped()     {}
func (noopStats) AddDecodeError() {}
func (noopStats) LogStats()       {}

// PacketStats tracks packet statistics with thread-safe operations
type PacketStats struct {
	mu           sync.Mutex
	clock        timeutil.Clock
	packetCount  int64
	byteCount    int64
	droppedCount int64
	decodeErrors int64
	lastReset    time.Time
	logf         func(format string, v ...interface{})
}

// StatsSnapshot is one interval's worth of counters.
type StatsSnapshot struct {
	Packets      int64
	Bytes        int64
	Dropped      int64
	DecodeErrors int64
	Duration     time.Duration
}

// NewPacketStats creates a PacketStats. A nil clock uses wall time.
func NewPacketStats(clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketStats{
		clock:     clock,
		lastReset: clock.Now(),
		logf:      log.Printf,
	}
}

// AddPacket increments packet count and byte count
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped counts a datagram the forwarder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddDecodeError counts a datagram the decoder rejected.
func (ps *PacketStats) AddDecodeError() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.decodeErrors++
}

// GetAndReset returns current stats and resets counters
func (ps *PacketStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	s := StatsSnapshot{
		Packets:      ps.packetCount,
		Bytes:        ps.byteCount,
		Dropped:      ps.droppedCount,
		DecodeErrors: ps.decodeErrors,
		Duration:     now.Sub(ps.lastReset),
	}
	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.decodeErrors = 0
	ps.lastReset = now
	return s
}

// LogStats logs per-second rates for the interval since the last call.
// Quiet intervals are not logged.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if s.Packets == 0 && s.Dropped == 0 {
		return
	}
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}

	p := message.NewPrinter(language.English)
	msg := p.Sprintf("[LidarStats] (/sec): %.2f MB, %.1f packets, %d bytes total",
		float64(s.Bytes)/secs/(1024*1024), float64(s.Packets)/secs, s.Bytes)
	if s.DecodeErrors > 0 {
		msg += fmt.Sprintf(", %d rejected by decoder", s.DecodeErrors)
	}
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", s.Dropped)
	}
	ps.logf("%s", msg)
}
