// Package ipv4 terminates packets addressed to the router and forwards the
// rest by route table lookup and next-hop ARP resolution.
package ipv4

import (
	"context"
	"errors"
	"strconv"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/arp"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/layer"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
	"firestige.xyz/strouter/internal/route"
)

var ErrNoLink = errors.New("no arp or ethernet layer for instance")

// RouteFinder is implemented by the forwarding node stacked above IP.
type RouteFinder interface {
	FindMatch(dst addr.NetworkAddress) (route.Entry, bool)
}

// Resolver is the part of the ARP engine used to find next-hop MACs.
type Resolver interface {
	Lookup(ip addr.NetworkAddress) (addr.LinkAddress, bool)
	Resolve(instance int, ip addr.NetworkAddress) (*arp.Attempt, error)
}

type FrameSender interface {
	Send(instance int, dst addr.LinkAddress, payload []byte, etherType codec.EtherType) error
}

type Layer struct {
	*layer.Base
	reg    *layer.Registry
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(number int, reg *layer.Registry) *Layer {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Layer{
		Base:   layer.NewBase(layer.NameIP, number),
		reg:    reg,
		ctx:    ctx,
		cancel: cancel,
	}
	l.logger = log.ForLayer(l.ID())
	return l
}

// Stop abandons packets still waiting for resolution.
func (l *Layer) Stop() {
	l.cancel()
}

// Send originates a packet from the instance's own address. dst must be
// on-link; it is resolved directly without a route lookup.
func (l *Layer) Send(instance int, dst addr.NetworkAddress, proto codec.IPProtocol, payload []byte) error {
	id, err := l.reg.Identity(instance)
	if err != nil {
		return err
	}
	pkt := codec.NewIPPacket(id.IP(), dst, proto, payload)
	pkt.UpdateChecksum()
	b, err := pkt.MarshalBinary()
	if err != nil {
		return err
	}
	return l.resolveAndSend(instance, dst, b)
}

// Receive handles an inbound IPv4 packet from the Ethernet layer.
func (l *Layer) Receive(instance int, data []byte) {
	pkt, err := codec.DecodeIPv4(data)
	if err != nil {
		l.drop("malformed")
		return
	}
	id, err := l.reg.Identity(instance)
	if err != nil {
		l.drop("no_identity")
		return
	}
	if pkt.Destination == id.IP() {
		metrics.PacketsDeliveredTotal.WithLabelValues(strconv.Itoa(instance)).Inc()
		if l.logger.IsTraceEnabled() {
			l.logger.Tracef("%s > %s %s delivered", pkt.Source, pkt.Destination, pkt.Protocol)
		}
		return
	}

	routes := l.routes()
	if routes == nil {
		l.drop("no_router")
		return
	}
	entry, ok := routes.FindMatch(pkt.Destination)
	if !ok {
		l.drop("no_route")
		return
	}
	hop, ok := entry.NextHop(pkt.Destination)
	if !ok {
		l.logger.Debugf("route %s does not forward %s", entry, pkt.Destination)
		l.drop("route_policy")
		return
	}

	b, err := pkt.MarshalBinary()
	if err != nil {
		l.logger.WithError(err).Error("failed to re-encode packet")
		return
	}
	forwarded := false
	for _, out := range l.reg.Identities() {
		if out.Interface() != entry.Interface {
			continue
		}
		forwarded = true
		if err := l.resolveAndSend(out.ID().Number, hop, b); err != nil {
			l.logger.WithError(err).Debugf("cannot forward %s via %s", pkt.Destination, out.ID())
			l.drop("no_link")
		}
	}
	if !forwarded {
		l.logger.Debugf("no interface bound to %s", entry.Interface)
		l.drop("no_interface")
	}
}

// resolveAndSend transmits b to hop through instance, waiting for ARP in the
// background when the cache misses.
func (l *Layer) resolveAndSend(instance int, hop addr.NetworkAddress, b []byte) error {
	res, link := l.resolver(instance), l.ethernet(instance)
	if res == nil || link == nil {
		return ErrNoLink
	}
	if mac, ok := res.Lookup(hop); ok {
		go l.transmit(link, instance, mac, b)
		return nil
	}
	attempt, err := res.Resolve(instance, hop)
	if err != nil {
		return err
	}
	go func() {
		if err := attempt.Wait(l.ctx); err != nil {
			return
		}
		mac, ok := res.Lookup(hop)
		if !ok {
			l.logger.Debugf("%s unresolved, dropping packet", hop)
			l.drop("unresolved")
			return
		}
		l.transmit(link, instance, mac, b)
	}()
	return nil
}

func (l *Layer) transmit(link FrameSender, instance int, mac addr.LinkAddress, b []byte) {
	if err := link.Send(instance, mac, b, codec.EtherTypeIPv4); err != nil {
		l.logger.WithError(err).Warnf("failed to send packet to %s", mac)
		return
	}
	metrics.PacketsForwardedTotal.WithLabelValues(strconv.Itoa(instance)).Inc()
}

func (l *Layer) routes() RouteFinder {
	for _, n := range l.Uppers() {
		if n.ID().Name != layer.NameRouter {
			continue
		}
		if rf, ok := n.(RouteFinder); ok {
			return rf
		}
	}
	return nil
}

func (l *Layer) resolver(instance int) Resolver {
	r, _ := l.reg.Get(layer.NameARP, instance).(Resolver)
	return r
}

func (l *Layer) ethernet(instance int) FrameSender {
	s, _ := l.reg.Get(layer.NameEthernet, instance).(FrameSender)
	return s
}

func (l *Layer) drop(reason string) {
	metrics.DropsTotal.WithLabelValues(layer.NameIP, reason).Inc()
}
