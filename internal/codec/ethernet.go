// Package codec encodes and decodes the Ethernet, ARP and IPv4 wire formats
// handled by the router.
package codec

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/strouter/internal/addr"
)

// EtherType identifies the protocol carried in an Ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

const (
	EthernetHeaderLen  = 14
	EthernetMinPayload = 46
	EthernetMTU        = 1500
)

// EthernetFrame is an Ethernet II frame without preamble and FCS.
type EthernetFrame struct {
	Destination addr.LinkAddress
	Source      addr.LinkAddress
	Type        EtherType
	Payload     []byte
}

// MarshalBinary pads the payload with zeros up to 46 bytes and cuts it at the
// 1500 byte MTU.
func (f *EthernetFrame) MarshalBinary() ([]byte, error) {
	payload := f.Payload
	if len(payload) > EthernetMTU {
		payload = payload[:EthernetMTU]
	}
	size := len(payload)
	if size < EthernetMinPayload {
		size = EthernetMinPayload
	}
	b := make([]byte, EthernetHeaderLen+size)
	copy(b[0:6], f.Destination[:])
	copy(b[6:12], f.Source[:])
	binary.BigEndian.PutUint16(b[12:14], uint16(f.Type))
	copy(b[EthernetHeaderLen:], payload)
	return b, nil
}

// UnmarshalBinary keeps everything after the header as payload, padding
// included.
func (f *EthernetFrame) UnmarshalBinary(b []byte) error {
	if len(b) < EthernetHeaderLen {
		return &addr.FormatError{Kind: "ethernet frame", Reason: fmt.Sprintf("need at least %d bytes, got %d", EthernetHeaderLen, len(b))}
	}
	copy(f.Destination[:], b[0:6])
	copy(f.Source[:], b[6:12])
	f.Type = EtherType(binary.BigEndian.Uint16(b[12:14]))
	f.Payload = append([]byte(nil), b[EthernetHeaderLen:]...)
	return nil
}

func DecodeEthernet(b []byte) (*EthernetFrame, error) {
	f := &EthernetFrame{}
	if err := f.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return f, nil
}
