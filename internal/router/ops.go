package router

import (
	"fmt"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/arp"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/route"
)

// AllInstances selects every interface in the ARP operations.
const AllInstances = -1

type InterfaceStatus struct {
	Number    int                 `json:"number" yaml:"number"`
	Device    string              `json:"device" yaml:"device"`
	MAC       addr.LinkAddress    `json:"mac" yaml:"mac"`
	IP        addr.NetworkAddress `json:"ip" yaml:"ip"`
	Transport string              `json:"transport" yaml:"transport"`
}

func (r *Router) Interfaces() []InterfaceStatus {
	out := make([]InterfaceStatus, 0, len(r.stacks))
	for _, n := range r.instances() {
		s := r.stacks[n]
		out = append(out, InterfaceStatus{
			Number:    n,
			Device:    s.identity.Interface(),
			MAC:       s.identity.MAC(),
			IP:        s.identity.IP(),
			Transport: s.kind,
		})
	}
	return out
}

func (r *Router) Routes() []route.Entry { return r.table.Entries() }

// AddRoute appends e, replacing an entry with the same destination and
// netmask. The interface must be one of the router's.
func (r *Router) AddRoute(e route.Entry) error {
	if r.engineFor(e.Interface) == nil {
		return fmt.Errorf("%w %q", ErrUnknownInterface, e.Interface)
	}
	r.table.Add(e)
	return nil
}

func (r *Router) RemoveRoute(index int) (route.Entry, error) {
	return r.table.Remove(index)
}

func (r *Router) RemoveRouteMatching(dest, mask addr.NetworkAddress) (route.Entry, bool) {
	return r.table.RemoveMatching(dest, mask)
}

func (r *Router) engines(instance int) ([]*arp.Engine, error) {
	if instance == AllInstances {
		out := make([]*arp.Engine, 0, len(r.stacks))
		for _, n := range r.instances() {
			out = append(out, r.stacks[n].arp)
		}
		return out, nil
	}
	s, ok := r.stacks[instance]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownInstance, instance)
	}
	return []*arp.Engine{s.arp}, nil
}

func (r *Router) ARPTables(instance int) ([]arp.Snapshot, error) {
	engines, err := r.engines(instance)
	if err != nil {
		return nil, err
	}
	out := make([]arp.Snapshot, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Snapshot())
	}
	return out, nil
}

// RemoveCache forgets ip on the selected interfaces and reports whether any
// of them knew it.
func (r *Router) RemoveCache(instance int, ip addr.NetworkAddress) (bool, error) {
	engines, err := r.engines(instance)
	if err != nil {
		return false, err
	}
	removed := false
	for _, e := range engines {
		if e.RemoveCache(ip) {
			removed = true
		}
	}
	return removed, nil
}

func (r *Router) ClearCache(instance int) error {
	engines, err := r.engines(instance)
	if err != nil {
		return err
	}
	for _, e := range engines {
		e.ClearCache()
	}
	return nil
}

// Request starts resolving ip on instance.
func (r *Router) Request(instance int, ip addr.NetworkAddress) (*arp.Attempt, error) {
	s, ok := r.stacks[instance]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownInstance, instance)
	}
	return s.arp.Request(instance, ip)
}

// Announce broadcasts a gratuitous ARP on instance. A nil mac announces the
// interface's own address.
func (r *Router) Announce(instance int, mac *addr.LinkAddress) error {
	s, ok := r.stacks[instance]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownInstance, instance)
	}
	hw := s.identity.MAC()
	if mac != nil {
		hw = *mac
	}
	return s.arp.Send(instance, hw)
}

// SendIP originates a packet from instance's own address to the on-link
// host dst.
func (r *Router) SendIP(instance int, dst addr.NetworkAddress, proto codec.IPProtocol, payload []byte) error {
	s, ok := r.stacks[instance]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownInstance, instance)
	}
	return s.ip.Send(instance, dst, proto, payload)
}

// AddProxy answers ARP requests for ip with mac on the interface bound to
// device.
func (r *Router) AddProxy(ip addr.NetworkAddress, mac addr.LinkAddress, device string) error {
	e := r.engineFor(device)
	if e == nil {
		return fmt.Errorf("%w %q", ErrUnknownInterface, device)
	}
	e.AddProxy(ip, mac, device)
	return nil
}

func (r *Router) RemoveProxy(ip addr.NetworkAddress) bool {
	removed := false
	for _, s := range r.stacks {
		if s.arp.RemoveProxy(ip) {
			removed = true
		}
	}
	return removed
}

func (r *Router) Proxies() []arp.ProxyEntry {
	var out []arp.ProxyEntry
	for _, n := range r.instances() {
		out = append(out, r.stacks[n].arp.Snapshot().Proxies...)
	}
	return out
}

// Lookup returns the resolved MAC of ip on instance.
func (r *Router) Lookup(instance int, ip addr.NetworkAddress) (addr.LinkAddress, bool) {
	s, ok := r.stacks[instance]
	if !ok {
		return addr.LinkAddress{}, false
	}
	return s.arp.Lookup(ip)
}
