// Package route holds the static route table consulted by the forwarding
// layer.
package route

import (
	"fmt"
	"strings"

	"firestige.xyz/strouter/internal/addr"
)

// Flags is the set of route flags.
type Flags uint8

const (
	FlagUp Flags = 1 << iota
	FlagGateway
	FlagHost
)

// ParseFlags reads any combination of the letters U, G and H, in any case and
// order. An empty string yields no flags.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'U':
			f |= FlagUp
		case 'G':
			f |= FlagGateway
		case 'H':
			f |= FlagHost
		default:
			return 0, &addr.FormatError{Kind: "route flags", Input: s, Reason: fmt.Sprintf("unknown flag %q", c)}
		}
	}
	return f, nil
}

func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	var b strings.Builder
	if f.Has(FlagUp) {
		b.WriteByte('U')
	}
	if f.Has(FlagGateway) {
		b.WriteByte('G')
	}
	if f.Has(FlagHost) {
		b.WriteByte('H')
	}
	return b.String()
}

func (f Flags) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Flags) UnmarshalText(text []byte) error {
	v, err := ParseFlags(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Entry is one immutable route.
type Entry struct {
	Destination addr.NetworkAddress `json:"destination" yaml:"destination"`
	Netmask     addr.NetworkAddress `json:"netmask" yaml:"netmask"`
	Gateway     addr.NetworkAddress `json:"gateway" yaml:"gateway"`
	Flags       Flags               `json:"flags" yaml:"flags"`
	Interface   string              `json:"interface" yaml:"interface"`
	Metric      int                 `json:"metric" yaml:"metric"`
}

// NewEntry validates the netmask. The destination is stored as given; a
// destination with host bits set never matches.
func NewEntry(dest, mask, gateway addr.NetworkAddress, flags Flags, iface string, metric int) (Entry, error) {
	if !mask.IsNetmask() {
		return Entry{}, &addr.FormatError{Kind: "netmask", Input: mask.String(), Reason: "ones must be contiguous"}
	}
	if iface == "" {
		return Entry{}, &addr.FormatError{Kind: "route", Input: dest.String(), Reason: "interface is required"}
	}
	return Entry{
		Destination: dest,
		Netmask:     mask,
		Gateway:     gateway,
		Flags:       flags,
		Interface:   iface,
		Metric:      metric,
	}, nil
}

// Matches reports whether dst lies in the entry's network.
func (e Entry) Matches(dst addr.NetworkAddress) bool {
	return dst.ToNetwork(e.Netmask) == e.Destination
}

// NextHop applies the forwarding policy: an up route without gateway or host
// flags delivers directly to dst, an up gateway route without the host flag
// delivers to the gateway. Every other combination does not forward.
func (e Entry) NextHop(dst addr.NetworkAddress) (addr.NetworkAddress, bool) {
	switch e.Flags {
	case FlagUp:
		return dst, true
	case FlagUp | FlagGateway:
		return e.Gateway, true
	default:
		return addr.NetworkAddress{}, false
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s/%s via %s [%s] dev %s metric %d", e.Destination, e.Netmask, e.Gateway, e.Flags, e.Interface, e.Metric)
}

// ParseEntry builds an Entry from its textual fields. An empty gateway is the
// zero address.
func ParseEntry(dest, mask, gateway, flags, iface string, metric int) (Entry, error) {
	d, err := addr.ParseNetworkAddress(dest)
	if err != nil {
		return Entry{}, err
	}
	m, err := addr.ParseNetworkAddress(mask)
	if err != nil {
		return Entry{}, err
	}
	var g addr.NetworkAddress
	if gateway != "" {
		if g, err = addr.ParseNetworkAddress(gateway); err != nil {
			return Entry{}, err
		}
	}
	f, err := ParseFlags(flags)
	if err != nil {
		return Entry{}, err
	}
	return NewEntry(d, m, g, f, iface, metric)
}
