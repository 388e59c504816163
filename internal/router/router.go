// Package router assembles one protocol stack per configured interface around
// a shared forwarding node and exposes the operations of the control surface.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"k8s.io/utils/clock"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/arp"
	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/ethernet"
	"firestige.xyz/strouter/internal/eventbus"
	"firestige.xyz/strouter/internal/iface"
	"firestige.xyz/strouter/internal/ipv4"
	"firestige.xyz/strouter/internal/layer"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/route"
	"firestige.xyz/strouter/internal/transport"
)

var (
	ErrUnknownInstance  = errors.New("unknown interface instance")
	ErrUnknownInterface = errors.New("unknown interface")
)

// OpenFunc opens the transport of one interface.
type OpenFunc func(ic config.InterfaceConfig) (*transport.Port, error)

type Option func(*Router)

func WithPublisher(p eventbus.Publisher) Option { return func(r *Router) { r.events = p } }
func WithClock(c clock.Clock) Option            { return func(r *Router) { r.clock = c } }
func WithOpener(open OpenFunc) Option           { return func(r *Router) { r.open = open } }
func WithDiscover(fn iface.DiscoverFunc) Option { return func(r *Router) { r.discover = fn } }

type stack struct {
	identity *iface.Identity
	port     *transport.Port
	ethernet *ethernet.Layer
	arp      *arp.Engine
	ip       *ipv4.Layer
	kind     string
}

// Router is the forwarding node (Router0) shared by every IP layer. It owns
// the route table.
type Router struct {
	*layer.Base

	reg      *layer.Registry
	table    *route.Table
	stacks   map[int]*stack
	events   eventbus.Publisher
	clock    clock.Clock
	open     OpenFunc
	discover iface.DiscoverFunc
	logger   log.Logger
}

// New builds and wires every interface stack of cfg, then loads the routes
// and proxies. Transports are opened but not started.
func New(cfg *config.GlobalConfig, opts ...Option) (*Router, error) {
	r := &Router{
		Base:     layer.NewBase(layer.NameRouter, 0),
		reg:      layer.NewRegistry(),
		stacks:   make(map[int]*stack),
		clock:    clock.RealClock{},
		open:     transport.Open,
		discover: iface.Discover,
		logger:   log.ForComponent("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.table = route.NewTable(r.events)
	if err := r.reg.Put(r); err != nil {
		return nil, err
	}

	for _, ic := range cfg.Interfaces {
		if err := r.addStack(cfg, ic); err != nil {
			r.closePorts()
			return nil, err
		}
	}
	if err := r.wire(cfg); err != nil {
		r.closePorts()
		return nil, err
	}
	if err := r.Reload(cfg); err != nil {
		r.closePorts()
		return nil, err
	}
	return r, nil
}

func (r *Router) addStack(cfg *config.GlobalConfig, ic config.InterfaceConfig) error {
	id, err := iface.FromConfig(ic, r.discover)
	if err != nil {
		return err
	}
	port, err := r.open(ic)
	if err != nil {
		return err
	}
	n := ic.Number
	s := &stack{
		identity: id,
		port:     port,
		ethernet: ethernet.New(n, r.reg),
		arp: arp.NewEngine(n, r.reg,
			arp.WithClock(r.clock),
			arp.WithTimeouts(cfg.ARP.RequestTimeout, cfg.ARP.AgingTimeout),
			arp.WithEvents(r.events),
		),
		ip:   ipv4.New(n, r.reg),
		kind: ic.Transport.Type,
	}
	r.stacks[n] = s
	for _, node := range []layer.Node{s.identity, s.port, s.ethernet, s.arp, s.ip} {
		if err := r.reg.Put(node); err != nil {
			return err
		}
	}
	r.logger.Infof("interface %d on %s: %s %s", n, ic.Device, id.MAC(), id.IP())
	return nil
}

// StackWiring is the standard description of interface n.
func StackWiring(n int) []string {
	return []string{
		fmt.Sprintf("NI%d ( +Ethernet%d )", n, n),
		fmt.Sprintf("Ethernet%d ( +ARP%d +IP%d ( -ARP%d +Router0 ) )", n, n, n, n),
	}
}

func (r *Router) wire(cfg *config.GlobalConfig) error {
	lines := cfg.Wiring
	if len(lines) == 0 {
		for _, n := range r.instances() {
			lines = append(lines, StackWiring(n)...)
		}
	}
	for _, line := range lines {
		if err := r.reg.Connect(line); err != nil {
			return fmt.Errorf("wiring %q: %w", line, err)
		}
		r.logger.Debugf("wired %s", line)
	}
	return nil
}

// Reload replaces the route table and every proxy entry with those of cfg.
func (r *Router) Reload(cfg *config.GlobalConfig) error {
	entries := make([]route.Entry, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		e, err := route.ParseEntry(rc.Destination, rc.Netmask, rc.Gateway, rc.Flags, rc.Interface, rc.Metric)
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		entries = append(entries, e)
	}
	type proxy struct {
		ip    addr.NetworkAddress
		mac   addr.LinkAddress
		iface string
	}
	proxies := make([]proxy, 0, len(cfg.Proxies))
	for i, pc := range cfg.Proxies {
		ip, err := addr.ParseNetworkAddress(pc.IP)
		if err != nil {
			return fmt.Errorf("proxies[%d]: %w", i, err)
		}
		mac, err := addr.ParseLinkAddress(pc.MAC)
		if err != nil {
			return fmt.Errorf("proxies[%d]: %w", i, err)
		}
		if r.engineFor(pc.Interface) == nil {
			return fmt.Errorf("proxies[%d]: %w %q", i, ErrUnknownInterface, pc.Interface)
		}
		proxies = append(proxies, proxy{ip: ip, mac: mac, iface: pc.Interface})
	}

	r.table.Replace(entries)
	for _, s := range r.stacks {
		s.arp.ClearProxies()
	}
	for _, p := range proxies {
		r.engineFor(p.iface).AddProxy(p.ip, p.mac, p.iface)
	}
	return nil
}

// Start launches every transport and, when announce is set, broadcasts a
// gratuitous ARP for each interface.
func (r *Router) Start(ctx context.Context, announce bool) {
	for _, n := range r.instances() {
		s := r.stacks[n]
		s.port.Start(ctx)
		if !announce {
			continue
		}
		if err := s.arp.Send(n, s.identity.MAC()); err != nil {
			r.logger.WithError(err).Warnf("failed to announce interface %d", n)
		}
	}
}

// Stop halts the stacks and closes every transport.
func (r *Router) Stop() error {
	for _, s := range r.stacks {
		s.ip.Stop()
		s.arp.Stop()
	}
	return r.closePorts()
}

func (r *Router) closePorts() error {
	var errs error
	for _, n := range r.instances() {
		if err := r.stacks[n].port.Stop(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("interface %d: %w", n, err))
		}
	}
	return errs
}

// FindMatch makes the router the route source of the IP layers.
func (r *Router) FindMatch(dst addr.NetworkAddress) (route.Entry, bool) {
	return r.table.FindMatch(dst)
}

func (r *Router) Registry() *layer.Registry { return r.reg }
func (r *Router) Table() *route.Table        { return r.table }

func (r *Router) instances() []int {
	ns := make([]int, 0, len(r.stacks))
	for n := range r.stacks {
		ns = append(ns, n)
	}
	sort.Ints(ns)
	return ns
}

func (r *Router) engineFor(device string) *arp.Engine {
	for _, n := range r.instances() {
		if s := r.stacks[n]; s.identity.Interface() == device {
			return s.arp
		}
	}
	return nil
}
