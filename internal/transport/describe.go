package transport

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Describe renders a one-line summary of an Ethernet frame for trace logs.
func Describe(frame []byte) string {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	var parts []string
	if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		parts = append(parts, fmt.Sprintf("%s > %s %s", eth.SrcMAC, eth.DstMAC, eth.EthernetType))
	}
	if a, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		op := "request"
		if a.Operation == layers.ARPReply {
			op = "reply"
		}
		parts = append(parts, fmt.Sprintf("arp %s %s > %s", op, net.IP(a.SourceProtAddress), net.IP(a.DstProtAddress)))
	}
	if ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		parts = append(parts, fmt.Sprintf("ip %s > %s %s ttl %d len %d", ip.SrcIP, ip.DstIP, ip.Protocol, ip.TTL, ip.Length))
	}
	if el := pkt.ErrorLayer(); el != nil {
		parts = append(parts, "error: "+el.Error().Error())
	}
	return strings.Join(parts, ", ")
}
