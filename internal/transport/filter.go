package transport

import (
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/strouter/internal/codec"
)

// DefaultFilter admits the only ether types the router speaks.
const DefaultFilter = "arp or ip"

// defaultInstructions is DefaultFilter as a classic BPF program, so the
// AF_PACKET transport needs no libpcap for the common case.
func defaultInstructions(snapLen int) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(codec.EtherTypeARP), SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(codec.EtherTypeIPv4), SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: uint32(snapLen)},
	}
}

// compileFilter returns the socket filter for expr.
func compileFilter(expr string, snapLen int) ([]bpf.RawInstruction, error) {
	if expr == "" || expr == DefaultFilter {
		return bpf.Assemble(defaultInstructions(snapLen))
	}
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return nil, err
	}
	raw := make([]bpf.RawInstruction, len(pcapBPF))
	for i, inst := range pcapBPF {
		raw[i] = bpf.RawInstruction{Op: inst.Code, Jt: inst.Jt, Jf: inst.Jf, K: inst.K}
	}
	return raw, nil
}
