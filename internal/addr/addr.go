// Package addr defines the link-layer and network-layer address types used by
// every layer of the router.
package addr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFormat is matched by every FormatError via errors.Is.
var ErrFormat = errors.New("malformed input")

// FormatError reports text or bytes that cannot be turned into a value.
type FormatError struct {
	Kind   string // what was being parsed, e.g. "link address"
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Input, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Address is either a NetworkAddress or a LinkAddress. The set of variants is
// closed; layers switch on the concrete type.
type Address interface {
	fmt.Stringer
	Bytes() []byte
	sealed()
}

const (
	LinkAddressLen    = 6
	NetworkAddressLen = 4
)

// LinkAddress is a 48-bit Ethernet MAC address.
type LinkAddress [LinkAddressLen]byte

var (
	ZeroLinkAddress      = LinkAddress{}
	BroadcastLinkAddress = LinkAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// ParseLinkAddress parses the colon separated hex form, e.g. "00:1A:2b:3c:4d:5e".
func ParseLinkAddress(s string) (LinkAddress, error) {
	var a LinkAddress
	groups := strings.Split(s, ":")
	if len(groups) != LinkAddressLen {
		return a, &FormatError{Kind: "link address", Input: s, Reason: "expected 6 colon separated groups"}
	}
	for i, g := range groups {
		if len(g) == 0 || len(g) > 2 {
			return a, &FormatError{Kind: "link address", Input: s, Reason: fmt.Sprintf("group %d must be 1 or 2 hex digits", i)}
		}
		v, err := strconv.ParseUint(g, 16, 8)
		if err != nil {
			return a, &FormatError{Kind: "link address", Input: s, Reason: fmt.Sprintf("group %d is not hex", i)}
		}
		a[i] = byte(v)
	}
	return a, nil
}

// LinkAddressFromBytes copies exactly six bytes into a LinkAddress.
func LinkAddressFromBytes(b []byte) (LinkAddress, error) {
	var a LinkAddress
	if len(b) != LinkAddressLen {
		return a, &FormatError{Kind: "link address", Reason: fmt.Sprintf("need %d bytes, got %d", LinkAddressLen, len(b))}
	}
	copy(a[:], b)
	return a, nil
}

// MustParseLinkAddress is ParseLinkAddress for constants and tests.
func MustParseLinkAddress(s string) LinkAddress {
	a, err := ParseLinkAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a LinkAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a LinkAddress) Bytes() []byte {
	b := make([]byte, LinkAddressLen)
	copy(b, a[:])
	return b
}

func (a LinkAddress) IsBroadcast() bool { return a == BroadcastLinkAddress }
func (a LinkAddress) IsZero() bool      { return a == ZeroLinkAddress }

func (a LinkAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *LinkAddress) UnmarshalText(text []byte) error {
	v, err := ParseLinkAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (LinkAddress) sealed() {}

// NetworkAddress is an IPv4 address.
type NetworkAddress [NetworkAddressLen]byte

var (
	ZeroNetworkAddress      = NetworkAddress{}
	BroadcastNetworkAddress = NetworkAddress{0xff, 0xff, 0xff, 0xff}
)

// ParseNetworkAddress parses dotted decimal. Exactly four groups of decimal
// digits are accepted, nothing else.
func ParseNetworkAddress(s string) (NetworkAddress, error) {
	var a NetworkAddress
	groups := strings.Split(s, ".")
	if len(groups) != NetworkAddressLen {
		return a, &FormatError{Kind: "network address", Input: s, Reason: "expected 4 dot separated groups"}
	}
	for i, g := range groups {
		if len(g) == 0 || len(g) > 3 || !allDigits(g) {
			return a, &FormatError{Kind: "network address", Input: s, Reason: fmt.Sprintf("group %d is not a decimal number", i)}
		}
		v, _ := strconv.Atoi(g)
		if v > 255 {
			return a, &FormatError{Kind: "network address", Input: s, Reason: fmt.Sprintf("group %d out of range", i)}
		}
		a[i] = byte(v)
	}
	return a, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// NetworkAddressFromBytes copies exactly four bytes into a NetworkAddress.
func NetworkAddressFromBytes(b []byte) (NetworkAddress, error) {
	var a NetworkAddress
	if len(b) != NetworkAddressLen {
		return a, &FormatError{Kind: "network address", Reason: fmt.Sprintf("need %d bytes, got %d", NetworkAddressLen, len(b))}
	}
	copy(a[:], b)
	return a, nil
}

// MustParseNetworkAddress is ParseNetworkAddress for constants and tests.
func MustParseNetworkAddress(s string) NetworkAddress {
	a, err := ParseNetworkAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a NetworkAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

func (a NetworkAddress) Bytes() []byte {
	b := make([]byte, NetworkAddressLen)
	copy(b, a[:])
	return b
}

func (a NetworkAddress) Uint32() uint32 {
	return binary.BigEndian.Uint32(a[:])
}

// IsNetmask reports whether the address is a run of one bits followed by a run
// of zero bits. 0.0.0.0 and 255.255.255.255 both qualify.
func (a NetworkAddress) IsNetmask() bool {
	inv := ^a.Uint32()
	return inv&(inv+1) == 0
}

// ToNetwork applies mask with a bitwise AND.
func (a NetworkAddress) ToNetwork(mask NetworkAddress) NetworkAddress {
	var n NetworkAddress
	for i := range a {
		n[i] = a[i] & mask[i]
	}
	return n
}

func (a NetworkAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *NetworkAddress) UnmarshalText(text []byte) error {
	v, err := ParseNetworkAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (NetworkAddress) sealed() {}
