//go:build !linux

package iface

import (
	"errors"

	"firestige.xyz/strouter/internal/addr"
)

func Discover(string) (addr.LinkAddress, addr.NetworkAddress, error) {
	return addr.LinkAddress{}, addr.NetworkAddress{}, errors.New("address discovery is only available on linux")
}
