// Package iface holds the addresses each router interface answers for.
package iface

import (
	"errors"
	"fmt"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/layer"
)

var ErrNoAddress = errors.New("device has no ipv4 address")

// Identity is the Identity node of one interface stack.
type Identity struct {
	*layer.Base
	mac    addr.LinkAddress
	ip     addr.NetworkAddress
	device string
}

func New(number int, device string, mac addr.LinkAddress, ip addr.NetworkAddress) *Identity {
	return &Identity{
		Base:   layer.NewBase(layer.NameIdentity, number),
		mac:    mac,
		ip:     ip,
		device: device,
	}
}

func (i *Identity) MAC() addr.LinkAddress   { return i.mac }
func (i *Identity) IP() addr.NetworkAddress { return i.ip }

// Interface is the name of the bound device.
func (i *Identity) Interface() string { return i.device }

// DiscoverFunc reads the hardware address and first IPv4 address of a device.
type DiscoverFunc func(device string) (addr.LinkAddress, addr.NetworkAddress, error)

// FromConfig builds the identity for ic. Addresses left empty in the config
// are read from the device with discover.
func FromConfig(ic config.InterfaceConfig, discover DiscoverFunc) (*Identity, error) {
	var (
		mac addr.LinkAddress
		ip  addr.NetworkAddress
		err error
	)
	if ic.MAC == "" || ic.IP == "" {
		if discover == nil {
			return nil, fmt.Errorf("interface %s: mac and ip are required", ic.Device)
		}
		if mac, ip, err = discover(ic.Device); err != nil {
			return nil, fmt.Errorf("interface %s: %w", ic.Device, err)
		}
	}
	if ic.MAC != "" {
		if mac, err = addr.ParseLinkAddress(ic.MAC); err != nil {
			return nil, err
		}
	}
	if ic.IP != "" {
		if ip, err = addr.ParseNetworkAddress(ic.IP); err != nil {
			return nil, err
		}
	}
	return New(ic.Number, ic.Device, mac, ip), nil
}
