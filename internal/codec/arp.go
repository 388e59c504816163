package codec

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/strouter/internal/addr"
)

// ARPOperation is the opcode of an ARP packet.
type ARPOperation uint16

const (
	ARPRequest ARPOperation = 1
	ARPReply   ARPOperation = 2
)

func (o ARPOperation) String() string {
	switch o {
	case ARPRequest:
		return "request"
	case ARPReply:
		return "reply"
	default:
		return fmt.Sprintf("op(%d)", uint16(o))
	}
}

const (
	ARPPacketLen        = 28
	arpHardwareEthernet = 1
)

// ARPPacket is an Ethernet/IPv4 ARP packet.
type ARPPacket struct {
	Operation ARPOperation
	SenderMAC addr.LinkAddress
	SenderIP  addr.NetworkAddress
	TargetMAC addr.LinkAddress
	TargetIP  addr.NetworkAddress
}

func (p *ARPPacket) MarshalBinary() ([]byte, error) {
	b := make([]byte, ARPPacketLen)
	binary.BigEndian.PutUint16(b[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(b[2:4], uint16(EtherTypeIPv4))
	b[4] = addr.LinkAddressLen
	b[5] = addr.NetworkAddressLen
	binary.BigEndian.PutUint16(b[6:8], uint16(p.Operation))
	copy(b[8:14], p.SenderMAC[:])
	copy(b[14:18], p.SenderIP[:])
	copy(b[18:24], p.TargetMAC[:])
	copy(b[24:28], p.TargetIP[:])
	return b, nil
}

// UnmarshalBinary reads the fixed 28 byte layout. Hardware and protocol
// type fields are not checked.
func (p *ARPPacket) UnmarshalBinary(b []byte) error {
	if len(b) < ARPPacketLen {
		return &addr.FormatError{Kind: "arp packet", Reason: fmt.Sprintf("need at least %d bytes, got %d", ARPPacketLen, len(b))}
	}
	p.Operation = ARPOperation(binary.BigEndian.Uint16(b[6:8]))
	copy(p.SenderMAC[:], b[8:14])
	copy(p.SenderIP[:], b[14:18])
	copy(p.TargetMAC[:], b[18:24])
	copy(p.TargetIP[:], b[24:28])
	return nil
}

func DecodeARP(b []byte) (*ARPPacket, error) {
	p := &ARPPacket{}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
