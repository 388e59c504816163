// Package arp resolves next-hop link addresses. One Engine serves one router
// interface: it owns that interface's cache, proxy table and the workers that
// wait for replies or age entries out.
package arp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/eventbus"
	"firestige.xyz/strouter/internal/layer"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
)

const (
	DefaultRequestTimeout = 3 * time.Minute
	DefaultAgingTimeout   = 20 * time.Minute
)

var (
	ErrUnsupportedAddressType = errors.New("unsupported address type")
	ErrNoLink                 = errors.New("no ethernet layer below arp")
)

// FrameSender is the part of the Ethernet layer the engine transmits through.
type FrameSender interface {
	Send(instance int, dst addr.LinkAddress, payload []byte, etherType codec.EtherType) error
}

type Option func(*Engine)

// WithClock replaces the wall clock driving request and aging timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTimeouts overrides the request window and the aging period. Zero keeps
// the default.
func WithTimeouts(request, aging time.Duration) Option {
	return func(e *Engine) {
		if request > 0 {
			e.requestTimeout = request
		}
		if aging > 0 {
			e.agingTimeout = aging
		}
	}
}

// WithEvents publishes cache and proxy changes to p.
func WithEvents(p eventbus.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

type cacheEntry struct {
	mac      addr.LinkAddress
	resolved bool
	updated  time.Time
}

type workerKind int

const (
	kindRequest workerKind = iota
	kindAging
)

// worker is a request or aging wait. The engine map holds at most one live
// worker per IP; a worker that wakes up and no longer finds itself there
// exits without touching the cache.
type worker struct {
	kind   workerKind
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newWorker(kind workerKind) *worker {
	return &worker{kind: kind, cancel: make(chan struct{}), done: make(chan struct{})}
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.cancel) })
}

var finished = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Attempt tracks one resolution request.
type Attempt struct {
	IP   addr.NetworkAddress
	done <-chan struct{}
}

// Done is closed once the attempt has resolved, timed out or been
// superseded.
func (a *Attempt) Done() <-chan struct{} { return a.done }

func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Engine struct {
	*layer.Base

	reg            *layer.Registry
	clock          clock.Clock
	requestTimeout time.Duration
	agingTimeout   time.Duration
	events         eventbus.Publisher
	logger         log.Logger
	label          string

	mu          sync.Mutex
	cache       map[addr.NetworkAddress]*cacheEntry
	proxies     map[addr.NetworkAddress]addr.LinkAddress
	proxyIfaces map[addr.LinkAddress]string
	workers     map[addr.NetworkAddress]*worker
}

func NewEngine(number int, reg *layer.Registry, opts ...Option) *Engine {
	e := &Engine{
		Base:           layer.NewBase(layer.NameARP, number),
		reg:            reg,
		clock:          clock.RealClock{},
		requestTimeout: DefaultRequestTimeout,
		agingTimeout:   DefaultAgingTimeout,
		label:          strconv.Itoa(number),
		cache:          make(map[addr.NetworkAddress]*cacheEntry),
		proxies:        make(map[addr.NetworkAddress]addr.LinkAddress),
		proxyIfaces:    make(map[addr.LinkAddress]string),
		workers:        make(map[addr.NetworkAddress]*worker),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.ForLayer(e.ID())
	return e
}

// Request starts resolving ip on instance. Any worker already running for ip
// is superseded and ip becomes pending until a reply arrives or the request
// window closes.
func (e *Engine) Request(instance int, ip addr.NetworkAddress) (*Attempt, error) {
	return e.request(instance, ip, false)
}

// Resolve is Request for the forwarding path: it joins an attempt already in
// flight for ip and returns a finished attempt when ip is resolved.
func (e *Engine) Resolve(instance int, ip addr.NetworkAddress) (*Attempt, error) {
	return e.request(instance, ip, true)
}

func (e *Engine) request(instance int, ip addr.NetworkAddress, join bool) (*Attempt, error) {
	id, err := e.reg.Identity(instance)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	old := e.workers[ip]
	if join {
		if ent, ok := e.cache[ip]; ok && ent.resolved {
			e.mu.Unlock()
			return &Attempt{IP: ip, done: finished}, nil
		}
		if old != nil && old.kind == kindRequest {
			e.mu.Unlock()
			return &Attempt{IP: ip, done: old.done}, nil
		}
	}
	if old != nil {
		old.stop()
	}
	w := newWorker(kindRequest)
	e.workers[ip] = w
	e.cache[ip] = &cacheEntry{updated: e.clock.Now()}
	e.cacheChangedLocked(instance, ip, "pending")
	e.mu.Unlock()

	go e.runRequest(instance, id, ip, w)
	return &Attempt{IP: ip, done: w.done}, nil
}

func (e *Engine) runRequest(instance int, id layer.Identity, ip addr.NetworkAddress, w *worker) {
	defer close(w.done)

	select {
	case <-w.cancel:
	default:
		metrics.ARPRequestsTotal.WithLabelValues(e.label, "resolve").Inc()
		e.send(instance, addr.BroadcastLinkAddress, &codec.ARPPacket{
			Operation: codec.ARPRequest,
			SenderMAC: id.MAC(),
			SenderIP:  id.IP(),
			TargetMAC: addr.ZeroLinkAddress,
			TargetIP:  ip,
		})
	}

	timer := e.clock.NewTimer(e.requestTimeout)
	select {
	case <-timer.C():
	case <-w.cancel:
		timer.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workers[ip] != w {
		return
	}
	delete(e.workers, ip)

	ent, ok := e.cache[ip]
	if !ok || !ent.resolved {
		delete(e.cache, ip)
		metrics.ARPResolutionsTotal.WithLabelValues(e.label, "timeout").Inc()
		e.logger.Debugf("no reply for %s, evicted", ip)
		e.cacheChangedLocked(instance, ip, "evicted")
		return
	}

	metrics.ARPResolutionsTotal.WithLabelValues(e.label, "resolved").Inc()
	aw := newWorker(kindAging)
	e.workers[ip] = aw
	go e.runAging(instance, ip, aw)
}

func (e *Engine) runAging(instance int, ip addr.NetworkAddress, w *worker) {
	defer close(w.done)

	timer := e.clock.NewTimer(e.agingTimeout)
	select {
	case <-timer.C():
	case <-w.cancel:
		timer.Stop()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workers[ip] != w {
		return
	}
	delete(e.workers, ip)
	delete(e.cache, ip)
	e.logger.Debugf("%s aged out", ip)
	e.cacheChangedLocked(instance, ip, "evicted")
}

// Receive handles an ARP packet that arrived on instance.
func (e *Engine) Receive(instance int, data []byte) {
	pkt, err := codec.DecodeARP(data)
	if err != nil {
		metrics.DropsTotal.WithLabelValues(layer.NameARP, "malformed").Inc()
		e.logger.WithError(err).Debug("dropping malformed arp packet")
		return
	}
	id, err := e.reg.Identity(instance)
	if err != nil {
		metrics.DropsTotal.WithLabelValues(layer.NameARP, "no_identity").Inc()
		e.logger.WithError(err).Warn("dropping arp packet")
		return
	}

	switch pkt.Operation {
	case codec.ARPRequest:
		e.handleRequest(instance, id, pkt)
	case codec.ARPReply:
		e.handleReply(instance, id, pkt)
	default:
		metrics.DropsTotal.WithLabelValues(layer.NameARP, "bad_operation").Inc()
	}
}

func (e *Engine) handleRequest(instance int, id layer.Identity, pkt *codec.ARPPacket) {
	var (
		replyMAC addr.LinkAddress
		answer   bool
	)

	e.mu.Lock()
	// A request from a host we already track refreshes its MAC. This is how
	// gratuitous ARP announcements update the cache.
	if ent, ok := e.cache[pkt.SenderIP]; ok {
		ent.mac = pkt.SenderMAC
		ent.resolved = true
		ent.updated = e.clock.Now()
		if w := e.workers[pkt.SenderIP]; w != nil && w.kind == kindRequest {
			w.stop()
		}
		e.cacheChangedLocked(instance, pkt.SenderIP, "resolved")
	}
	if pkt.TargetIP == id.IP() {
		replyMAC, answer = id.MAC(), true
	} else if mac, ok := e.proxies[pkt.TargetIP]; ok {
		replyMAC, answer = mac, true
	}
	e.mu.Unlock()

	if !answer {
		return
	}
	metrics.ARPRepliesTotal.WithLabelValues(e.label, "tx").Inc()
	go e.send(instance, pkt.SenderMAC, &codec.ARPPacket{
		Operation: codec.ARPReply,
		SenderMAC: replyMAC,
		SenderIP:  pkt.TargetIP,
		TargetMAC: pkt.SenderMAC,
		TargetIP:  pkt.SenderIP,
	})
}

func (e *Engine) handleReply(instance int, id layer.Identity, pkt *codec.ARPPacket) {
	metrics.ARPRepliesTotal.WithLabelValues(e.label, "rx").Inc()
	if pkt.TargetIP != id.IP() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.workers[pkt.SenderIP]
	if w == nil || w.kind != kindRequest {
		return
	}
	// The cache write must precede the wake-up so the worker sees the MAC.
	e.cache[pkt.SenderIP] = &cacheEntry{mac: pkt.SenderMAC, resolved: true, updated: e.clock.Now()}
	w.stop()
	e.cacheChangedLocked(instance, pkt.SenderIP, "resolved")
}

// Announce broadcasts a gratuitous ARP advertising mac for the instance's IP.
func (e *Engine) Announce(instance int, mac addr.LinkAddress) error {
	id, err := e.reg.Identity(instance)
	if err != nil {
		return err
	}
	if e.ethernet(instance) == nil {
		return ErrNoLink
	}
	metrics.ARPRequestsTotal.WithLabelValues(e.label, "gratuitous").Inc()
	go e.send(instance, addr.BroadcastLinkAddress, &codec.ARPPacket{
		Operation: codec.ARPRequest,
		SenderMAC: mac,
		SenderIP:  id.IP(),
		TargetMAC: addr.BroadcastLinkAddress,
		TargetIP:  id.IP(),
	})
	return nil
}

// Send resolves a NetworkAddress or announces a LinkAddress.
func (e *Engine) Send(instance int, a addr.Address) error {
	switch v := a.(type) {
	case addr.NetworkAddress:
		_, err := e.Request(instance, v)
		return err
	case addr.LinkAddress:
		return e.Announce(instance, v)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAddressType, a)
	}
}

// Lookup returns the MAC of a resolved entry.
func (e *Engine) Lookup(ip addr.NetworkAddress) (addr.LinkAddress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.cache[ip]
	if !ok || !ent.resolved {
		return addr.LinkAddress{}, false
	}
	return ent.mac, true
}

// RemoveCache cancels any worker for ip and forgets the entry.
func (e *Engine) RemoveCache(ip addr.NetworkAddress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, hasWorker := e.workers[ip]
	if hasWorker {
		w.stop()
		delete(e.workers, ip)
	}
	_, hasEntry := e.cache[ip]
	delete(e.cache, ip)
	if hasEntry {
		e.cacheChangedLocked(e.ID().Number, ip, "removed")
	}
	return hasEntry || hasWorker
}

// ClearCache cancels every worker and empties the cache. Proxies are kept.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ip, w := range e.workers {
		w.stop()
		delete(e.workers, ip)
	}
	for ip := range e.cache {
		delete(e.cache, ip)
		e.cacheChangedLocked(e.ID().Number, ip, "removed")
	}
}

// AddProxy answers requests for ip with mac. iface records the interface the
// proxied host lives behind.
func (e *Engine) AddProxy(ip addr.NetworkAddress, mac addr.LinkAddress, iface string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxies[ip] = mac
	e.proxyIfaces[mac] = iface
	e.proxyChangedLocked("add", ip, mac, iface)
}

func (e *Engine) RemoveProxy(ip addr.NetworkAddress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	mac, ok := e.proxies[ip]
	if !ok {
		return false
	}
	delete(e.proxies, ip)
	iface := e.proxyIfaces[mac]
	inUse := false
	for _, m := range e.proxies {
		if m == mac {
			inUse = true
			break
		}
	}
	if !inUse {
		delete(e.proxyIfaces, mac)
	}
	e.proxyChangedLocked("remove", ip, mac, iface)
	return true
}

// ClearProxies removes every proxy entry.
func (e *Engine) ClearProxies() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ip, mac := range e.proxies {
		e.proxyChangedLocked("remove", ip, mac, e.proxyIfaces[mac])
	}
	e.proxies = make(map[addr.NetworkAddress]addr.LinkAddress)
	e.proxyIfaces = make(map[addr.LinkAddress]string)
}

// Stop cancels every worker. Cache contents are left in place.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ip, w := range e.workers {
		w.stop()
		delete(e.workers, ip)
	}
}

type CacheEntry struct {
	IP      addr.NetworkAddress `json:"ip" yaml:"ip"`
	MAC     *addr.LinkAddress   `json:"mac,omitempty" yaml:"mac,omitempty"`
	State   string              `json:"state" yaml:"state"`
	Updated time.Time           `json:"updated" yaml:"updated"`
}

type ProxyEntry struct {
	IP        addr.NetworkAddress `json:"ip" yaml:"ip"`
	MAC       addr.LinkAddress    `json:"mac" yaml:"mac"`
	Interface string              `json:"interface" yaml:"interface"`
}

// Snapshot is a consistent copy of the engine tables.
type Snapshot struct {
	Instance int          `json:"instance" yaml:"instance"`
	Cache    []CacheEntry `json:"cache" yaml:"cache"`
	Proxies  []ProxyEntry `json:"proxies" yaml:"proxies"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{
		Instance: e.ID().Number,
		Cache:    make([]CacheEntry, 0, len(e.cache)),
		Proxies:  make([]ProxyEntry, 0, len(e.proxies)),
	}
	for ip, ent := range e.cache {
		ce := CacheEntry{IP: ip, State: "pending", Updated: ent.updated}
		if ent.resolved {
			mac := ent.mac
			ce.MAC = &mac
			ce.State = "resolved"
		}
		s.Cache = append(s.Cache, ce)
	}
	for ip, mac := range e.proxies {
		s.Proxies = append(s.Proxies, ProxyEntry{IP: ip, MAC: mac, Interface: e.proxyIfaces[mac]})
	}
	e.mu.Unlock()

	sort.Slice(s.Cache, func(i, j int) bool { return s.Cache[i].IP.Uint32() < s.Cache[j].IP.Uint32() })
	sort.Slice(s.Proxies, func(i, j int) bool { return s.Proxies[i].IP.Uint32() < s.Proxies[j].IP.Uint32() })
	return s
}

func (e *Engine) ethernet(instance int) FrameSender {
	if fs, ok := e.Lower(layer.NameEthernet, instance).(FrameSender); ok {
		return fs
	}
	for _, n := range e.Lowers() {
		if n.ID().Name != layer.NameEthernet {
			continue
		}
		if fs, ok := n.(FrameSender); ok {
			return fs
		}
	}
	return nil
}

func (e *Engine) send(instance int, dst addr.LinkAddress, pkt *codec.ARPPacket) {
	link := e.ethernet(instance)
	if link == nil {
		e.logger.Warnf("cannot send arp %s for %s: %v", pkt.Operation, pkt.TargetIP, ErrNoLink)
		return
	}
	payload, err := pkt.MarshalBinary()
	if err != nil {
		e.logger.WithError(err).Error("failed to encode arp packet")
		return
	}
	if err := link.Send(instance, dst, payload, codec.EtherTypeARP); err != nil {
		e.logger.WithError(err).Warnf("failed to send arp %s for %s", pkt.Operation, pkt.TargetIP)
	}
}
