package transport

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
)

// Memory is an in-process Handle. Frames passed to Inject are read back by
// the port; frames the port writes are kept and, when wired, delivered to the
// peer handle.
type Memory struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
	peer    *Memory
}

func NewMemory(queue int) *Memory {
	return &Memory{in: make(chan []byte, queue), closed: make(chan struct{})}
}

// Wire connects a and b so that each one's writes are the other's reads.
func Wire(a, b *Memory) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (m *Memory) Inject(frame []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.in <- append([]byte(nil), frame...):
		return nil
	case <-m.closed:
		return ErrClosed
	}
}

func (m *Memory) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case f := <-m.in:
		return f, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f), Length: len(f)}, nil
	case <-m.closed:
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
}

func (m *Memory) WritePacketData(frame []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	m.mu.Lock()
	m.written = append(m.written, append([]byte(nil), frame...))
	peer := m.peer
	m.mu.Unlock()
	if peer != nil {
		return peer.Inject(frame)
	}
	return nil
}

// Written returns a copy of every frame written so far.
func (m *Memory) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
