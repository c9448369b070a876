package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// DropCounter is notified when a datagram cannot be queued for forwarding.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder mirrors raw datagrams to another UDP endpoint, for example
// a visualiser that speaks the sensor's native format. Forwarding never
// blocks the receive loop: when the queue is full the datagram is dropped.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	drops       DropCounter
	logInterval time.Duration
	address     string
}

// NewPacketForwarder dials addr:port and returns a forwarder for it.
func NewPacketForwarder(addr string, port int, drops DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := net.JoinHostPort(addr, fmt.Sprint(port))
	udpAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if drops == nil {
		drops = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		drops:       drops,
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Address returns the forwarding destination.
func (f *PacketForwarder) Address() string {
	return f.address
}

// Start runs the forwarding goroutine until ctx is cancelled. Write errors are
// summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					log.Printf("[PacketForwarder] %d datagrams to %s failed (latest: %v)", failed, f.address, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()

	log.Printf("[PacketForwarder] forwarding datagrams to %s", f.address)
}

// ForwardAsync queues a copy of packet without blocking.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		f.drops.AddDropped()
	}
}

// Close stops accepting datagrams and closes the connection.
func (f *PacketForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
