// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames read from a transport.
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_frames_received_total",
			Help: "Total number of frames received from interface transports",
		},
		[]string{"interface"},
	)

	// FramesTransmittedTotal counts frames handed to a transport.
	FramesTransmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_frames_transmitted_total",
			Help: "Total number of frames written to interface transports",
		},
		[]string{"interface"},
	)

	// TransmitErrorsTotal counts failed transport writes. Failed frames are not retried.
	TransmitErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_transmit_errors_total",
			Help: "Total number of frames the transport failed to write",
		},
		[]string{"interface"},
	)

	// DropsTotal counts frames and packets discarded by a layer.
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_drops_total",
			Help: "Total number of frames or packets dropped, by layer and reason",
		},
		[]string{"layer", "reason"},
	)

	// ARPRequestsTotal counts ARP requests broadcast by the router.
	ARPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_arp_requests_total",
			Help: "Total number of ARP requests sent",
		},
		[]string{"instance", "kind"},
	)

	// ARPRepliesTotal counts ARP replies sent and received.
	ARPRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_arp_replies_total",
			Help: "Total number of ARP replies by direction",
		},
		[]string{"instance", "direction"},
	)

	// ARPResolutionsTotal counts finished resolution attempts.
	ARPResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_arp_resolutions_total",
			Help: "Total number of ARP resolution attempts by result",
		},
		[]string{"instance", "result"},
	)

	// ARPCacheEntries tracks the size of each ARP cache, pending entries included.
	ARPCacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strouter_arp_cache_entries",
			Help: "Current number of ARP cache entries",
		},
		[]string{"instance"},
	)

	// PacketsForwardedTotal counts IP packets sent towards a next hop.
	PacketsForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_packets_forwarded_total",
			Help: "Total number of IP packets forwarded",
		},
		[]string{"instance"},
	)

	// PacketsDeliveredTotal counts IP packets addressed to the router itself.
	PacketsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_packets_delivered_total",
			Help: "Total number of IP packets addressed to a local interface",
		},
		[]string{"instance"},
	)

	// RouteEntries tracks the route table size.
	RouteEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strouter_route_entries",
			Help: "Current number of route table entries",
		},
	)

	// EventsDroppedTotal counts change events lost to a full bus partition.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_events_dropped_total",
			Help: "Total number of change events dropped by the event bus",
		},
		[]string{"topic"},
	)

	// CommandsTotal counts control commands by method and outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strouter_commands_total",
			Help: "Total number of control commands handled",
		},
		[]string{"method", "result"},
	)
)
