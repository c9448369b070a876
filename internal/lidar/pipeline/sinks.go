package pipeline

import (
	"reflect"
	"sync"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
)

// FrameSink receives completed frames. Sinks run inline on the packet
// goroutine and must not retain the frame's point list past the call unless
// they own it; the pipeline never touches a frame after handing it out.
type FrameSink interface {
	HandleFrame(frame *l2frames.Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(frame *l2frames.Frame) error

// HandleFrame calls f(frame).
func (f FrameSinkFunc) HandleFrame(frame *l2frames.Frame) error {
	return f(frame)
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// ChannelSink delivers frames on a buffered channel. When the buffer is full
// the frame is dropped and counted rather than blocking the packet path.
type ChannelSink struct {
	frames chan *l2frames.Frame

	mu      sync.Mutex
	dropped uint64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{frames: make(chan *l2frames.Frame, buffer)}
}

// Frames returns the receive side of the sink.
func (s *ChannelSink) Frames() <-chan *l2frames.Frame {
	return s.frames
}

// HandleFrame enqueues frame without blocking.
func (s *ChannelSink) HandleFrame(frame *l2frames.Frame) error {
	select {
	case s.frames <- frame:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
	return nil
}

// Dropped returns how many frames were discarded because the buffer was full.
func (s *ChannelSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
