package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the listener uses, so it can be
// driven without a real network in tests.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory opens UDPSockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// realUDPSocketFactory opens sockets with net.ListenUDP. *net.UDPConn
// satisfies UDPSocket directly.
type realUDPSocketFactory struct{}

// NewRealUDPSocketFactory returns the factory used outside tests.
func NewRealUDPSocketFactory() UDPSocketFactory {
	return realUDPSocketFactory{}
}

func (realUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockDatagram is one datagram queued on a MockUDPSocket.
type MockDatagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket replays queued datagrams and then reports read timeouts,
// like an idle sensor link.
type MockUDPSocket struct {
	mu sync.Mutex

	Datagrams      []MockDatagram
	ReadIndex      int
	Closed         bool
	ReadBufferSize int
	ReadDeadline   time.Time
	LocalAddress   *net.UDPAddr

	// ReadError is returned once by the next ReadFromUDP call.
	ReadError error
	// SetReadBufferError is returned by SetReadBuffer.
	SetReadBufferError error
}

// NewMockUDPSocket creates a socket bound to the default Velodyne data port.
func NewMockUDPSocket(datagrams []MockDatagram) *MockUDPSocket {
	return &MockUDPSocket{
		Datagrams:    datagrams,
		LocalAddress: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultDataPort},
	}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Datagrams) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	d := m.Datagrams[m.ReadIndex]
	m.ReadIndex++
	return copy(b, d.Data), d.Addr, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.ReadBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// Drained reports whether every queued datagram has been read.
func (m *MockUDPSocket) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadIndex >= len(m.Datagrams)
}

// MockUDPSocketFactory hands out a fixed MockUDPSocket.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
	// Addrs records every address passed to ListenUDP.
	Addrs []*net.UDPAddr
}

// NewMockUDPSocketFactory creates a factory returning socket.
func NewMockUDPSocketFactory(socket *MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Socket: socket}
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.Addrs = append(f.Addrs, laddr)
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
