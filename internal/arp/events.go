package arp

import (
	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/eventbus"
	"firestige.xyz/strouter/internal/metrics"
)

// CacheEvent is published on eventbus.TopicARPCache.
type CacheEvent struct {
	Instance int    `json:"instance"`
	IP       string `json:"ip"`
	MAC      string `json:"mac,omitempty"`
	State    string `json:"state"`
}

// ProxyEvent is published on eventbus.TopicARPProxy.
type ProxyEvent struct {
	Instance  int    `json:"instance"`
	Action    string `json:"action"`
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Interface string `json:"interface,omitempty"`
}

// cacheChangedLocked must be called with e.mu held so events for one IP
// leave in the order the cache changed.
func (e *Engine) cacheChangedLocked(instance int, ip addr.NetworkAddress, state string) {
	metrics.ARPCacheEntries.WithLabelValues(e.label).Set(float64(len(e.cache)))
	if e.events == nil {
		return
	}
	ev := CacheEvent{Instance: instance, IP: ip.String(), State: state}
	if ent, ok := e.cache[ip]; ok && ent.resolved {
		ev.MAC = ent.mac.String()
	}
	if err := e.events.Publish(&eventbus.Event{Topic: eventbus.TopicARPCache, Key: ip.String(), Payload: ev}); err != nil {
		e.logger.WithError(err).Debug("failed to publish arp cache event")
	}
}

func (e *Engine) proxyChangedLocked(action string, ip addr.NetworkAddress, mac addr.LinkAddress, iface string) {
	e.logger.Infof("proxy %s: %s is-at %s (%s)", action, ip, mac, iface)
	if e.events == nil {
		return
	}
	ev := ProxyEvent{Instance: e.ID().Number, Action: action, IP: ip.String(), MAC: mac.String(), Interface: iface}
	if err := e.events.Publish(&eventbus.Event{Topic: eventbus.TopicARPProxy, Key: ip.String(), Payload: ev}); err != nil {
		e.logger.WithError(err).Debug("failed to publish arp proxy event")
	}
}
