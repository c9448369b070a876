package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
)

// Config holds the assembler settings and the initial sinks of a Pipeline.
type Config struct {
	SensorID         string
	RPM              int
	StrictTimestamps bool
	Calibration      *l2frames.Calibration
	Sinks            []FrameSink
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	SessionID      string
	Packets        uint64 // packets handed to HandlePacket
	DroppedPackets uint64 // packets the assembler refused
	Frames         uint64 // frames delivered to sinks
	SinkErrors     uint64
	ModeChanges    uint64
	Assembler      l2frames.FrameConverterStats
}

// Pipeline feeds packets into one FrameConverter and delivers completed
// frames to its sinks. It implements network.PacketHandler. HandlePacket,
// Flush and Close may be called from different goroutines.
type Pipeline struct {
	mu        sync.Mutex
	sessionID string
	converter *l2frames.FrameConverter
	sinks     []FrameSink
	closed    bool

	packets     uint64
	dropped     uint64
	frames      uint64
	sinkErrors  uint64
	modeChanges uint64
}

// New creates a Pipeline with a fresh session ID.
func New(cfg Config) (*Pipeline, error) {
	converter, err := l2frames.NewFrameConverter(l2frames.FrameConverterConfig{
		SensorID:         cfg.SensorID,
		RPM:              cfg.RPM,
		StrictTimestamps: cfg.StrictTimestamps,
		Calibration:      cfg.Calibration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create frame converter: %w", err)
	}

	p := &Pipeline{
		sessionID: uuid.New().String(),
		converter: converter,
	}
	for _, s := range cfg.Sinks {
		p.AddSink(s)
	}

	log.Printf("[Pipeline] session %s: sensor=%s rpm=%d strict=%v channels=%d sinks=%d",
		p.sessionID, cfg.SensorID, cfg.RPM, cfg.StrictTimestamps, cfg.Calibration.Channels(), len(p.sinks))
	return p, nil
}

// SessionID identifies this pipeline run in logs and published messages.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// AddSink registers a sink. nil sinks, including typed nil pointers, are
// ignored.
func (p *Pipeline) AddSink(s FrameSink) {
	if isNilInterface(s) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// HandlePacket folds one packet into the running revolution. Packets the
// assembler refuses are logged and dropped, so the returned error is always
// nil; the signature matches network.PacketHandler.
func (p *Pipeline) HandlePacket(packet l1packets.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.packets++

	// The assembler refuses a packet whose return mode differs from the
	// in-progress frame, so hand that frame out first. A packet strict
	// ordering will drop must leave the frame alone.
	mode, ok := p.converter.InProgressMode()
	if ok && mode != packet.ReturnMode && !p.converter.RejectsOrdering(packet) {
		p.modeChanges++
		diagf("return mode changed from %s to %s, flushing in-progress frame", mode, packet.ReturnMode)
		if frame := p.converter.Flush(); frame != nil {
			p.emit(frame)
		}
	}

	frames, err := p.converter.PushPacket(packet)
	if err != nil {
		p.dropped++
		switch {
		case errors.Is(err, l2frames.ErrOrderingViolation):
			opsf("dropping out-of-order packet ts=%dus: %v", packet.TimestampMicros, err)
		case errors.Is(err, l2frames.ErrFinished):
			opsf("dropping packet ts=%dus: pipeline closed", packet.TimestampMicros)
		default:
			opsf("dropping packet ts=%dus: %v", packet.TimestampMicros, err)
		}
		return nil
	}

	for _, frame := range frames {
		p.emit(frame)
	}
	return nil
}

// Flush delivers the in-progress frame, if any, without ending the stream.
// Use it between capture files or after a long receive gap.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if frame := p.converter.Flush(); frame != nil {
		diagf("flushing partial frame %s (%d points)", frame.ID, frame.Len())
		p.emit(frame)
	}
}

// Close finishes the assembler and delivers the partial frame. Packets
// handled afterwards are dropped. It returns the sink errors raised by the
// final frame.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if frame := p.converter.Finish(); frame != nil {
		err = p.emit(frame)
	}
	log.Printf("[Pipeline] session %s closed: %d packets, %d frames, %d dropped, %d sink errors",
		p.sessionID, p.packets, p.frames, p.dropped, p.sinkErrors)
	return err
}

// emit hands frame to every sink. A failing sink does not stop the others.
func (p *Pipeline) emit(frame *l2frames.Frame) error {
	p.frames++
	tracef("frame %s seq=%d mode=%s points=%d span=%dns",
		frame.ID, frame.Seq, frame.Mode(), frame.Len(), frame.EndTimestampNs-frame.StartTimestampNs)

	var errs []error
	for _, s := range p.sinks {
		if err := s.HandleFrame(frame); err != nil {
			p.sinkErrors++
			opsf("sink %T failed on frame %s: %v", s, frame.ID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pipeline and assembler counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		SessionID:      p.sessionID,
		Packets:        p.packets,
		DroppedPackets: p.dropped,
		Frames:         p.frames,
		SinkErrors:     p.sinkErrors,
		ModeChanges:    p.modeChanges,
		Assembler:      p.converter.Stats(),
	}
}

// LogStats writes a one-line summary through the standard logger.
func (p *Pipeline) LogStats() {
	s := p.Stats()
	log.Printf("[Pipeline] session %s: %d packets, %d frames, %d points, %d dropped, %d ordering warnings, %d sink errors",
		s.SessionID, s.Packets, s.Frames, s.Assembler.Points, s.DroppedPackets, s.Assembler.OrderingWarnings, s.SinkErrors)
}
