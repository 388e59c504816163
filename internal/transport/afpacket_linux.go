//go:build linux

package transport

import (
	"errors"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/vishvananda/netlink"
)

type afpacketHandle struct {
	tp      *afpacket.TPacket
	device  string
	promisc bool
}

func openAFPacket(device string, o Options) (Handle, error) {
	frameSize, blockSize, numBlocks, err := ringSize(o.BufferSizeMB, o.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Duration(o.TimeoutMs)*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, err
	}
	h := &afpacketHandle{tp: tp, device: device}

	if o.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, o.FanoutID); err != nil {
			tp.Close()
			return nil, err
		}
	}
	prog, err := compileFilter(o.Filter, o.SnapLen)
	if err != nil {
		tp.Close()
		return nil, err
	}
	if err := tp.SetBPF(prog); err != nil {
		tp.Close()
		return nil, err
	}
	// The router answers for its configured MAC, which need not be the
	// device's own.
	if o.Promiscuous {
		link, err := netlink.LinkByName(device)
		if err == nil {
			err = netlink.SetPromiscOn(link)
		}
		if err != nil {
			tp.Close()
			return nil, err
		}
		h.promisc = true
	}
	return h, nil
}

func (h *afpacketHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return h.tp.ReadPacketData()
}

func (h *afpacketHandle) WritePacketData(frame []byte) error {
	return h.tp.WritePacketData(frame)
}

func (h *afpacketHandle) Close() error {
	h.tp.Close()
	if !h.promisc {
		return nil
	}
	link, err := netlink.LinkByName(h.device)
	if err != nil {
		return err
	}
	return netlink.SetPromiscOff(link)
}

func isRingTimeout(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout)
}
