package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	// Create connection with timeout
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	// Create JSON-RPC request
	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano()) // Use string ID
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      json.RawMessage(strconv.Quote(reqID)),
	}

	// Send request
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	// Parse JSON-RPC response
	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if got := requestID(jsonrpcResp.ID); got != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %s, got %s", reqID, got)
	}

	resp := &Response{
		ID:     reqID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

func (c *UDSClient) RouteAdd(ctx context.Context, params RouteParams) (*Response, error) {
	return c.Call(ctx, "route_add", params)
}

func (c *UDSClient) RouteRemove(ctx context.Context, params RouteRemoveParams) (*Response, error) {
	return c.Call(ctx, "route_remove", params)
}

func (c *UDSClient) RouteList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "route_list", nil)
}

func (c *UDSClient) ARPList(ctx context.Context, instance *int) (*Response, error) {
	return c.Call(ctx, "arp_list", ARPParams{Instance: instance})
}

func (c *UDSClient) ARPRemove(ctx context.Context, instance *int, ip string) (*Response, error) {
	return c.Call(ctx, "arp_remove", ARPParams{Instance: instance, IP: ip})
}

func (c *UDSClient) ARPClear(ctx context.Context, instance *int) (*Response, error) {
	return c.Call(ctx, "arp_clear", ARPParams{Instance: instance})
}

// ARPRequest starts a resolution. A positive wait blocks the call until the
// attempt finishes or wait elapses, so the client timeout must exceed it.
func (c *UDSClient) ARPRequest(ctx context.Context, params ARPRequestParams) (*Response, error) {
	return c.Call(ctx, "arp_request", params)
}

func (c *UDSClient) ARPAnnounce(ctx context.Context, params ARPAnnounceParams) (*Response, error) {
	return c.Call(ctx, "arp_announce", params)
}

func (c *UDSClient) IPSend(ctx context.Context, params IPSendParams) (*Response, error) {
	return c.Call(ctx, "ip_send", params)
}

func (c *UDSClient) ProxyAdd(ctx context.Context, params ProxyParams) (*Response, error) {
	return c.Call(ctx, "proxy_add", params)
}

func (c *UDSClient) ProxyRemove(ctx context.Context, ip string) (*Response, error) {
	return c.Call(ctx, "proxy_remove", ProxyParams{IP: ip})
}

func (c *UDSClient) ProxyList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "proxy_list", nil)
}

// ConfigReload is a convenience method for config_reload command.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

func (c *UDSClient) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// Ping checks that the daemon answers on the socket.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
