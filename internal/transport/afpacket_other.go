//go:build !linux

package transport

import "errors"

func openAFPacket(string, Options) (Handle, error) {
	return nil, errors.New("afpacket transport is only available on linux")
}

func isRingTimeout(error) bool { return false }
