// Package command implements the control plane: a JSON-RPC handler shared by
// the Unix socket server and the Kafka command channel.
package command

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"firestige.xyz/strouter/internal/addr"
	"firestige.xyz/strouter/internal/arp"
	"firestige.xyz/strouter/internal/codec"
	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
	"firestige.xyz/strouter/internal/route"
	"firestige.xyz/strouter/internal/router"
)

// Version is reported by daemon_status. Set at build time.
var Version = "0.1.0"

// Router is the surface of the router the handler drives.
type Router interface {
	Interfaces() []router.InterfaceStatus
	Routes() []route.Entry
	AddRoute(e route.Entry) error
	RemoveRoute(index int) (route.Entry, error)
	RemoveRouteMatching(dest, mask addr.NetworkAddress) (route.Entry, bool)
	ARPTables(instance int) ([]arp.Snapshot, error)
	Lookup(instance int, ip addr.NetworkAddress) (addr.LinkAddress, bool)
	RemoveCache(instance int, ip addr.NetworkAddress) (bool, error)
	ClearCache(instance int) error
	Request(instance int, ip addr.NetworkAddress) (*arp.Attempt, error)
	Announce(instance int, mac *addr.LinkAddress) error
	AddProxy(ip addr.NetworkAddress, mac addr.LinkAddress, device string) error
	RemoveProxy(ip addr.NetworkAddress) bool
	Proxies() []arp.ProxyEntry
	SendIP(instance int, dst addr.NetworkAddress, proto codec.IPProtocol, payload []byte) error
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	router         Router
	configReloader ConfigReloader
	shutdownFunc   func()
	startTime      time.Time
	logger         log.Logger
}

func NewCommandHandler(r Router, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		router:         r,
		configReloader: reloader,
		startTime:      time.Now(),
		logger:         log.ForComponent("command"),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// Decode converts a generic Result into v.
func (r *Response) Decode(v interface{}) error {
	b, err := json.Marshal(r.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

type handlerFunc func(ctx context.Context, cmd Command) Response

func (h *CommandHandler) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"route_add":       h.handleRouteAdd,
		"route_remove":    h.handleRouteRemove,
		"route_list":      h.handleRouteList,
		"arp_list":        h.handleARPList,
		"arp_remove":      h.handleARPRemove,
		"arp_clear":       h.handleARPClear,
		"arp_request":     h.handleARPRequest,
		"arp_announce":    h.handleARPAnnounce,
		"proxy_add":       h.handleProxyAdd,
		"proxy_remove":    h.handleProxyRemove,
		"proxy_list":      h.handleProxyList,
		"ip_send":         h.handleIPSend,
		"config_reload":   h.handleConfigReload,
		"daemon_status":   h.handleDaemonStatus,
		"daemon_shutdown": h.handleDaemonShutdown,
	}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	h.logger.WithFields(map[string]interface{}{"method": cmd.Method, "id": cmd.ID}).Info("handling command")

	fn, ok := h.methods()[cmd.Method]
	if !ok {
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
	resp := fn(ctx, cmd)
	result := "ok"
	if resp.Error != nil {
		result = "error"
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Method, result).Inc()
	return resp
}

func errorResponse(id string, code int, format string, args ...interface{}) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func okResponse(id string, result interface{}) Response {
	return Response{ID: id, Result: result}
}

// decodeParams unmarshals cmd.Params into v. Absent params leave v untouched.
func decodeParams(cmd Command, v interface{}) *Response {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
		return &resp
	}
	return nil
}

func instanceOf(p *int) int {
	if p == nil {
		return router.AllInstances
	}
	return *p
}

// ─── Routes ───

func (h *CommandHandler) handleRouteAdd(_ context.Context, cmd Command) Response {
	var p RouteParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	e, err := route.ParseEntry(p.Destination, p.Netmask, p.Gateway, p.Flags, p.Interface, p.Metric)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid route: %v", err)
	}
	if err := h.router.AddRoute(e); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "add route failed: %v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"status": "added", "route": e})
}

func (h *CommandHandler) handleRouteRemove(_ context.Context, cmd Command) Response {
	var p RouteRemoveParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	if p.Index != nil {
		e, err := h.router.RemoveRoute(*p.Index)
		if err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "remove route failed: %v", err)
		}
		return okResponse(cmd.ID, map[string]interface{}{"status": "removed", "route": e})
	}

	dest, err := addr.ParseNetworkAddress(p.Destination)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "index or destination required: %v", err)
	}
	mask, err := addr.ParseNetworkAddress(p.Netmask)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid netmask: %v", err)
	}
	e, ok := h.router.RemoveRouteMatching(dest, mask)
	if !ok {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "no route to %s/%s", dest, mask)
	}
	return okResponse(cmd.ID, map[string]interface{}{"status": "removed", "route": e})
}

func (h *CommandHandler) handleRouteList(_ context.Context, cmd Command) Response {
	routes := h.router.Routes()
	return okResponse(cmd.ID, map[string]interface{}{"routes": routes, "count": len(routes)})
}

// ─── ARP ───

func (h *CommandHandler) handleARPList(_ context.Context, cmd Command) Response {
	var p ARPParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	tables, err := h.router.ARPTables(instanceOf(p.Instance))
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"tables": tables})
}

func (h *CommandHandler) handleARPRemove(_ context.Context, cmd Command) Response {
	var p ARPParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	ip, err := addr.ParseNetworkAddress(p.IP)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid ip: %v", err)
	}
	removed, err := h.router.RemoveCache(instanceOf(p.Instance), ip)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"ip": ip, "removed": removed})
}

func (h *CommandHandler) handleARPClear(_ context.Context, cmd Command) Response {
	var p ARPParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	if err := h.router.ClearCache(instanceOf(p.Instance)); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"status": "cleared"})
}

func (h *CommandHandler) handleARPRequest(ctx context.Context, cmd Command) Response {
	var p ARPRequestParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	ip, err := addr.ParseNetworkAddress(p.IP)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid ip: %v", err)
	}
	attempt, err := h.router.Request(p.Instance, ip)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}

	result := map[string]interface{}{"instance": p.Instance, "ip": ip, "state": "pending"}
	if p.Wait <= 0 {
		return okResponse(cmd.ID, result)
	}
	wctx, cancel := context.WithTimeout(ctx, p.Wait.Duration())
	defer cancel()
	if err := attempt.Wait(wctx); err != nil {
		return okResponse(cmd.ID, result)
	}
	if mac, ok := h.router.Lookup(p.Instance, ip); ok {
		result["state"] = "resolved"
		result["mac"] = mac
	} else {
		result["state"] = "unresolved"
	}
	return okResponse(cmd.ID, result)
}

func (h *CommandHandler) handleARPAnnounce(_ context.Context, cmd Command) Response {
	var p ARPAnnounceParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	var mac *addr.LinkAddress
	if p.MAC != "" {
		m, err := addr.ParseLinkAddress(p.MAC)
		if err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid mac: %v", err)
		}
		mac = &m
	}
	if err := h.router.Announce(p.Instance, mac); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "announce failed: %v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"instance": p.Instance, "status": "announced"})
}

// ─── IP ───

func (h *CommandHandler) handleIPSend(_ context.Context, cmd Command) Response {
	var p IPSendParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	dst, err := addr.ParseNetworkAddress(p.Destination)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid destination: %v", err)
	}
	proto := codec.IPProtocolICMP
	if p.Protocol != "" {
		if proto, err = codec.ParseIPProtocol(p.Protocol); err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid protocol: %v", err)
		}
	}
	payload, err := hex.DecodeString(p.Payload)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid payload: %v", err)
	}
	if err := h.router.SendIP(p.Instance, dst, proto, payload); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "send failed: %v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{
		"instance":    p.Instance,
		"destination": dst,
		"protocol":    proto.String(),
		"bytes":       len(payload),
	})
}

// ─── Proxy ARP ───

func (h *CommandHandler) handleProxyAdd(_ context.Context, cmd Command) Response {
	var p ProxyParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	ip, err := addr.ParseNetworkAddress(p.IP)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid ip: %v", err)
	}
	mac, err := addr.ParseLinkAddress(p.MAC)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid mac: %v", err)
	}
	if err := h.router.AddProxy(ip, mac, p.Interface); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "%v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"ip": ip, "mac": mac, "interface": p.Interface, "status": "added"})
}

func (h *CommandHandler) handleProxyRemove(_ context.Context, cmd Command) Response {
	var p ProxyParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	ip, err := addr.ParseNetworkAddress(p.IP)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid ip: %v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"ip": ip, "removed": h.router.RemoveProxy(ip)})
}

func (h *CommandHandler) handleProxyList(_ context.Context, cmd Command) Response {
	proxies := h.router.Proxies()
	return okResponse(cmd.ID, map[string]interface{}{"proxies": proxies, "count": len(proxies)})
}

// ─── Daemon ───

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "reload config failed: %v", err)
	}
	return okResponse(cmd.ID, map[string]interface{}{"status": "reloaded"})
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}
	h.logger.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return okResponse(cmd.ID, map[string]interface{}{"status": "shutting_down"})
}

// StatusResult is the result of daemon_status.
type StatusResult struct {
	Version    string                   `json:"version" yaml:"version"`
	UptimeSec  int64                    `json:"uptime_sec" yaml:"uptime_sec"`
	Interfaces []router.InterfaceStatus `json:"interfaces" yaml:"interfaces"`
	Routes     int                      `json:"routes" yaml:"routes"`
	Proxies    int                      `json:"proxies" yaml:"proxies"`
	ARPEntries map[int]int              `json:"arp_entries" yaml:"arp_entries"`
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	st := StatusResult{
		Version:    Version,
		UptimeSec:  int64(time.Since(h.startTime).Seconds()),
		Interfaces: h.router.Interfaces(),
		Routes:     len(h.router.Routes()),
		Proxies:    len(h.router.Proxies()),
		ARPEntries: make(map[int]int),
	}
	if tables, err := h.router.ARPTables(router.AllInstances); err == nil {
		for _, t := range tables {
			st.ARPEntries[t.Instance] = len(t.Cache)
		}
	}
	return okResponse(cmd.ID, st)
}
