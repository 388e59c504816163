//go:build linux

package iface

import (
	"github.com/vishvananda/netlink"

	"firestige.xyz/strouter/internal/addr"
)

// Discover asks the kernel for the MAC and first IPv4 address of device.
func Discover(device string) (addr.LinkAddress, addr.NetworkAddress, error) {
	link, err := netlink.LinkByName(device)
	if err != nil {
		return addr.LinkAddress{}, addr.NetworkAddress{}, err
	}
	mac, err := addr.LinkAddressFromBytes(link.Attrs().HardwareAddr)
	if err != nil {
		return addr.LinkAddress{}, addr.NetworkAddress{}, err
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return addr.LinkAddress{}, addr.NetworkAddress{}, err
	}
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		if v4 := a.IP.To4(); v4 != nil {
			ip, err := addr.NetworkAddressFromBytes(v4)
			return mac, ip, err
		}
	}
	return mac, addr.NetworkAddress{}, ErrNoAddress
}
