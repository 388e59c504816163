package transport

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

type pcapHandle struct {
	h *pcap.Handle
}

func openPcap(device string, o Options) (Handle, error) {
	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(o.SnapLen); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(o.Promiscuous); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(time.Duration(o.TimeoutMs) * time.Millisecond); err != nil {
		return nil, err
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, err
	}
	if o.BufferSizeMB > 0 {
		if err := inactive.SetBufferSize(o.BufferSizeMB << 20); err != nil {
			return nil, err
		}
	}
	h, err := inactive.Activate()
	if err != nil {
		return nil, err
	}

	filter := o.Filter
	if filter == "" {
		filter = DefaultFilter
	}
	if err := h.SetBPFFilter(filter); err != nil {
		h.Close()
		return nil, err
	}
	return &pcapHandle{h: h}, nil
}

func (p *pcapHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return p.h.ReadPacketData()
}

func (p *pcapHandle) WritePacketData(frame []byte) error {
	return p.h.WritePacketData(frame)
}

func (p *pcapHandle) Close() error {
	p.h.Close()
	return nil
}
