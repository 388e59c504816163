package cmd

import (
	"context"
	"fmt"
	"time"

	"firestige.xyz/strouter/internal/command"
)

// Client is the part of the control socket client the commands use.
type Client interface {
	RouteAdd(ctx context.Context, params command.RouteParams) (*command.Response, error)
	RouteRemove(ctx context.Context, params command.RouteRemoveParams) (*command.Response, error)
	RouteList(ctx context.Context) (*command.Response, error)
	ARPList(ctx context.Context, instance *int) (*command.Response, error)
	ARPRemove(ctx context.Context, instance *int, ip string) (*command.Response, error)
	ARPClear(ctx context.Context, instance *int) (*command.Response, error)
	ARPRequest(ctx context.Context, params command.ARPRequestParams) (*command.Response, error)
	ARPAnnounce(ctx context.Context, params command.ARPAnnounceParams) (*command.Response, error)
	ProxyAdd(ctx context.Context, params command.ProxyParams) (*command.Response, error)
	ProxyRemove(ctx context.Context, ip string) (*command.Response, error)
	ProxyList(ctx context.Context) (*command.Response, error)
	IPSend(ctx context.Context, params command.IPSendParams) (*command.Response, error)
	ConfigReload(ctx context.Context) (*command.Response, error)
	Status(ctx context.Context) (*command.Response, error)
	Shutdown(ctx context.Context) (*command.Response, error)
}

// newClient is replaced in tests.
var newClient = func(timeout time.Duration) Client {
	return command.NewUDSClient(socketPath, timeout)
}

// result unwraps a call, turning transport and remote errors into one error.
func result(method string, resp *command.Response, err error) (*command.Response, error) {
	if err != nil {
		return nil, fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return resp, nil
}

// instanceFlag maps the negative "all interfaces" flag value to nil.
func instanceFlag(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}

// call runs fn under timeout and unwraps the response.
func call(ctx context.Context, method string, timeout time.Duration, fn func(context.Context) (*command.Response, error)) (*command.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := fn(ctx)
	return result(method, resp, err)
}
