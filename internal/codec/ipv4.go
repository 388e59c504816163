package codec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/strouter/internal/addr"
)

// IPProtocol is the protocol number carried in the IPv4 header.
type IPProtocol uint8

const (
	IPProtocolICMP IPProtocol = 1
	IPProtocolIGMP IPProtocol = 2
	IPProtocolTCP  IPProtocol = 6
	IPProtocolUDP  IPProtocol = 17
)

func (p IPProtocol) String() string {
	switch p {
	case IPProtocolICMP:
		return "ICMP"
	case IPProtocolIGMP:
		return "IGMP"
	case IPProtocolTCP:
		return "TCP"
	case IPProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// ParseIPProtocol accepts a protocol name (icmp, igmp, tcp, udp) or a
// decimal protocol number.
func ParseIPProtocol(s string) (IPProtocol, error) {
	switch strings.ToLower(s) {
	case "icmp":
		return IPProtocolICMP, nil
	case "igmp":
		return IPProtocolIGMP, nil
	case "tcp":
		return IPProtocolTCP, nil
	case "udp":
		return IPProtocolUDP, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, &addr.FormatError{Kind: "ip protocol", Input: s, Reason: "expected a name or a number 0-255"}
	}
	return IPProtocol(n), nil
}

const (
	IPv4HeaderLen = 20
	DefaultTTL    = 64

	flagDontFragment  = 0x4000
	flagMoreFragments = 0x2000
	fragOffsetMask    = 0x1fff
)

// TypeOfService is the RFC 791 service byte.
type TypeOfService struct {
	Precedence      uint8 // 0-7
	LowDelay        bool
	HighThroughput  bool
	HighReliability bool
	LowCost         bool
}

func (t TypeOfService) Byte() byte {
	b := (t.Precedence & 0x7) << 5
	if t.LowDelay {
		b |= 1 << 4
	}
	if t.HighThroughput {
		b |= 1 << 3
	}
	if t.HighReliability {
		b |= 1 << 2
	}
	if t.LowCost {
		b |= 1 << 1
	}
	return b
}

func TypeOfServiceFromByte(b byte) TypeOfService {
	return TypeOfService{
		Precedence:      b >> 5,
		LowDelay:        b&(1<<4) != 0,
		HighThroughput:  b&(1<<3) != 0,
		HighReliability: b&(1<<2) != 0,
		LowCost:         b&(1<<1) != 0,
	}
}

// IPPacket is an IPv4 datagram. Options are not kept; the header is always
// encoded with IHL 5.
type IPPacket struct {
	TOS            TypeOfService
	ID             uint16
	DontFragment   bool
	MoreFragments  bool
	FragmentOffset uint16
	TTL            uint8
	Protocol       IPProtocol
	Checksum       uint16
	Source         addr.NetworkAddress
	Destination    addr.NetworkAddress
	Payload        []byte
}

// NewIPPacket returns a packet with the default TTL.
func NewIPPacket(src, dst addr.NetworkAddress, proto IPProtocol, payload []byte) *IPPacket {
	return &IPPacket{
		TTL:         DefaultTTL,
		Protocol:    proto,
		Source:      src,
		Destination: dst,
		Payload:     payload,
	}
}

// MarshalBinary writes the header with a recomputed total length. The
// checksum field is written as is.
func (p *IPPacket) MarshalBinary() ([]byte, error) {
	total := IPv4HeaderLen + len(p.Payload)
	if total > 0xffff {
		return nil, &addr.FormatError{Kind: "ipv4 packet", Reason: fmt.Sprintf("total length %d exceeds 65535", total)}
	}
	b := make([]byte, total)
	p.putHeader(b)
	copy(b[IPv4HeaderLen:], p.Payload)
	return b, nil
}

func (p *IPPacket) putHeader(b []byte) {
	b[0] = 4<<4 | 5
	b[1] = p.TOS.Byte()
	binary.BigEndian.PutUint16(b[2:4], uint16(IPv4HeaderLen+len(p.Payload)))
	binary.BigEndian.PutUint16(b[4:6], p.ID)
	frag := p.FragmentOffset & fragOffsetMask
	if p.DontFragment {
		frag |= flagDontFragment
	}
	if p.MoreFragments {
		frag |= flagMoreFragments
	}
	binary.BigEndian.PutUint16(b[6:8], frag)
	b[8] = p.TTL
	b[9] = byte(p.Protocol)
	binary.BigEndian.PutUint16(b[10:12], p.Checksum)
	copy(b[12:16], p.Source[:])
	copy(b[16:20], p.Destination[:])
}

// UpdateChecksum sets Checksum to the RFC 1071 sum of the encoded header.
func (p *IPPacket) UpdateChecksum() {
	h := make([]byte, IPv4HeaderLen)
	p.Checksum = 0
	p.putHeader(h)
	p.Checksum = HeaderChecksum(h)
}

// HeaderChecksum computes the ones' complement checksum of header. The
// checksum field inside header must already be zero.
func HeaderChecksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// UnmarshalBinary honours IHL and trims trailing link padding when the total
// length field is consistent with the buffer.
func (p *IPPacket) UnmarshalBinary(b []byte) error {
	if len(b) < IPv4HeaderLen {
		return &addr.FormatError{Kind: "ipv4 packet", Reason: fmt.Sprintf("need at least %d bytes, got %d", IPv4HeaderLen, len(b))}
	}
	if v := b[0] >> 4; v != 4 {
		return &addr.FormatError{Kind: "ipv4 packet", Reason: fmt.Sprintf("version %d", v)}
	}
	hl := int(b[0]&0x0f) * 4
	if hl < IPv4HeaderLen || hl > len(b) {
		return &addr.FormatError{Kind: "ipv4 packet", Reason: fmt.Sprintf("header length %d", hl)}
	}
	p.TOS = TypeOfServiceFromByte(b[1])
	total := int(binary.BigEndian.Uint16(b[2:4]))
	p.ID = binary.BigEndian.Uint16(b[4:6])
	frag := binary.BigEndian.Uint16(b[6:8])
	p.DontFragment = frag&flagDontFragment != 0
	p.MoreFragments = frag&flagMoreFragments != 0
	p.FragmentOffset = frag & fragOffsetMask
	p.TTL = b[8]
	p.Protocol = IPProtocol(b[9])
	p.Checksum = binary.BigEndian.Uint16(b[10:12])
	copy(p.Source[:], b[12:16])
	copy(p.Destination[:], b[16:20])

	end := len(b)
	if total >= hl && total <= len(b) {
		end = total
	}
	p.Payload = append([]byte(nil), b[hl:end]...)
	return nil
}

func DecodeIPv4(b []byte) (*IPPacket, error) {
	p := &IPPacket{}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
