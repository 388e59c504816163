// Package transport moves raw Ethernet frames between router interfaces and
// the network devices they are bound to.
package transport

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/strouter/internal/config"
)

const (
	TypeAFPacket = "afpacket"
	TypePcap     = "pcap"
)

var ErrClosed = errors.New("transport closed")

// Handle is a frame source and sink bound to one device.
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(frame []byte) error
	Close() error
}

// Options are the per-transport settings found under transport.options.
type Options struct {
	SnapLen      int    `mapstructure:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	FanoutID     uint16 `mapstructure:"fanout_id"`
	Filter       string `mapstructure:"bpf_filter"`
	Promiscuous  bool   `mapstructure:"promiscuous"`
}

func DefaultOptions() Options {
	return Options{
		SnapLen:      1600,
		BufferSizeMB: 8,
		TimeoutMs:    100,
		Filter:       DefaultFilter,
		Promiscuous:  true,
	}
}

// DecodeOptions overlays raw on the defaults. Unknown keys are rejected.
func DecodeOptions(raw map[string]interface{}) (Options, error) {
	opts := DefaultOptions()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("transport options: %w", err)
	}
	if opts.SnapLen <= 0 {
		return opts, fmt.Errorf("transport options: snap_len must be positive")
	}
	return opts, nil
}

// Open opens the transport described by ic and wraps it in a Port.
func Open(ic config.InterfaceConfig) (*Port, error) {
	opts, err := DecodeOptions(ic.Transport.Options)
	if err != nil {
		return nil, err
	}

	var h Handle
	switch ic.Transport.Type {
	case TypeAFPacket, "":
		h, err = openAFPacket(ic.Device, opts)
	case TypePcap:
		h, err = openPcap(ic.Device, opts)
	default:
		return nil, fmt.Errorf("unsupported transport type %q", ic.Transport.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s on %s: %w", ic.Transport.Type, ic.Device, err)
	}

	var rec *Recorder
	if ic.CaptureFile != "" {
		if rec, err = NewRecorder(ic.CaptureFile, opts.SnapLen); err != nil {
			h.Close()
			return nil, err
		}
	}
	return NewPort(ic.Number, ic.Device, h, rec), nil
}
