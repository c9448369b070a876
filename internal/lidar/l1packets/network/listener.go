package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets"
	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/parse"
	"github.com/banshee-data/lidar-buffer/internal/timeutil"
)

// Velodyne factory ports.
const (
	DefaultDataPort     = 2368
	DefaultPositionPort = 8308
)

// readTimeout bounds each socket read so cancellation is noticed promptly.
const readTimeout = 100 * time.Millisecond

// PacketHandler consumes decoded packets in arrival order.
type PacketHandler interface {
	HandlePacket(packet l1packets.Packet) error
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(packet l1packets.Packet) error

func (f PacketHandlerFunc) HandlePacket(packet l1packets.Packet) error {
	return f(packet)
}

// UDPListener handles receiving and processing LiDAR packets from UDP
// with configurable components for decoding, statistics, and forwarding
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	connMu        sync.RWMutex
	conn          UDPSocket
	stats         PacketStatsInterface
	forwarder     *PacketForwarder
	decoder       parse.Decoder
	handler       PacketHandler
	socketFactory UDPSocketFactory
	clock         timeutil.Clock
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address       string // host:port, default ":2368"
	RcvBuf        int    // socket receive buffer in bytes
	LogInterval   time.Duration
	Stats         PacketStatsInterface
	Forwarder     *PacketForwarder
	Decoder       parse.Decoder    // nil disables decoding (forward-only)
	Handler       PacketHandler    // receives every decoded data packet
	SocketFactory UDPSocketFactory // optional, for tests
	Clock         timeutil.Clock   // optional, for tests
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	l := &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   config.LogInterval,
		stats:         config.Stats,
		forwarder:     config.Forwarder,
		decoder:       config.Decoder,
		handler:       config.Handler,
		socketFactory: config.SocketFactory,
		clock:         config.Clock,
	}
	if l.address == "" {
		l.address = fmt.Sprintf(":%d", DefaultDataPort)
	}
	if l.logInterval <= 0 {
		l.logInterval = time.Minute
	}
	if l.stats == nil {
		l.stats = noopStats{}
	}
	if l.socketFactory == nil {
		l.socketFactory = NewRealUDPSocketFactory()
	}
	if l.clock == nil {
		l.clock = timeutil.RealClock{}
	}
	return l
}

// Start receives datagrams until ctx is cancelled or the socket is closed.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.setConn(conn)
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("[UDPListener] failed to set receive buffer to %d bytes: %v", l.rcvBuf, err)
		}
	}
	log.Printf("[UDPListener] listening on %s (receive buffer %d bytes)", l.address, l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.startStatsLogging(ctx)

	buffer := make([]byte, 2048) // VLP-16 data packets are 1206 bytes
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			log.Print("[UDPListener] stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(l.clock.Now().Add(readTimeout)); err != nil && !deadlineErrLogged {
			log.Printf("[UDPListener] failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[UDPListener] read error: %v", err)
			continue
		}

		if err := l.handleDatagram(buffer[:n]); err != nil {
			log.Printf("[UDPListener] error handling datagram from %v: %v", from, err)
		}
	}
}

// startStatsLogging logs packet statistics every log interval.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.stats.LogStats()
		}
	}
}

// handleDatagram counts, forwards, decodes and dispatches one datagram.
// Decode failures are counted and logged, never returned.
func (l *UDPListener) handleDatagram(data []byte) error {
	return dispatchDatagram(data, l.stats, l.forwarder, l.decoder, l.handler)
}

func dispatchDatagram(data []byte, stats PacketStatsInterface, forwarder *PacketForwarder, decoder parse.Decoder, handler PacketHandler) error {
	stats.AddPacket(len(data))

	if forwarder != nil {
		forwarder.ForwardAsync(data)
	}
	if decoder == nil {
		return nil
	}

	packet, err := decoder.Decode(data)
	if err != nil {
		if errors.Is(err, parse.ErrPositionPacket) {
			return nil
		}
		stats.AddDecodeError()
		log.Printf("[UDPListener] VLP-16 decoding failed: %v", err)
		return nil
	}

	if handler == nil {
		return nil
	}
	return handler.HandlePacket(packet)
}

func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// GetConn returns the active socket, or nil before Start and after Close.
func (l *UDPListener) GetConn() UDPSocket {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Close closes the socket, which also ends Start.
// It is safe to call Close multiple times.
func (l *UDPListener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
