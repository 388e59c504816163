package transport

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Recorder appends frames to a pcap file.
type Recorder struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

func NewRecorder(path string, snapLen int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Recorder{f: f, w: w}, nil
}

func (r *Recorder) Write(ci gopacket.CaptureInfo, frame []byte) error {
	ci.CaptureLength = len(frame)
	if ci.Length < len(frame) {
		ci.Length = len(frame)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return ErrClosed
	}
	return r.w.WritePacket(ci, frame)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
