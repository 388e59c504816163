package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// RouteParams describes one route in route_add.
type RouteParams struct {
	Destination string `json:"destination"`
	Netmask     string `json:"netmask"`
	Gateway     string `json:"gateway,omitempty"`
	Flags       string `json:"flags"`
	Interface   string `json:"interface"`
	Metric      int    `json:"metric,omitempty"`
}

// RouteRemoveParams selects a route by position or by destination and
// netmask.
type RouteRemoveParams struct {
	Index       *int   `json:"index,omitempty"`
	Destination string `json:"destination,omitempty"`
	Netmask     string `json:"netmask,omitempty"`
}

// ARPParams targets one interface, or all of them when Instance is nil.
type ARPParams struct {
	Instance *int   `json:"instance,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// Duration is a time.Duration on the wire: a string such as "1500ms" or
// "3s", or a bare number of seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(x * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// ARPRequestParams starts a resolution. A positive Wait blocks the call until
// the attempt finishes or Wait elapses.
type ARPRequestParams struct {
	Instance int      `json:"instance"`
	IP       string   `json:"ip"`
	Wait     Duration `json:"wait,omitempty"`
}

// ARPAnnounceParams sends a gratuitous ARP. An empty MAC announces the
// interface's own address.
type ARPAnnounceParams struct {
	Instance int    `json:"instance"`
	MAC      string `json:"mac,omitempty"`
}

// IPSendParams originates one packet. Payload is hex encoded; Protocol is a
// name or number and defaults to icmp.
type IPSendParams struct {
	Instance    int    `json:"instance"`
	Destination string `json:"destination"`
	Protocol    string `json:"protocol,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

type ProxyParams struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac,omitempty"`
	Interface string `json:"interface,omitempty"`
}
