package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/arp"
	"firestige.xyz/strouter/internal/command"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manage proxy ARP entries",
	Long: `Manage proxy ARP entries. The router answers ARP requests for a proxied
address with the configured MAC on the bound interface.`,
}

var proxyAddCmd = &cobra.Command{
	Use:   "add <ip> <mac>",
	Short: "Answer ARP requests for ip",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := command.ProxyParams{IP: args[0], MAC: args[1], Interface: proxyDevice}
		return runProxyAdd(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, params)
	},
}

var proxyDelCmd = &cobra.Command{
	Use:   "del <ip>",
	Short: "Stop answering for ip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProxyDel(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, args[0])
	},
}

var proxyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proxy ARP entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProxyList(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat})
	},
}

var proxyDevice string

func init() {
	proxyCmd.AddCommand(proxyAddCmd)
	proxyCmd.AddCommand(proxyDelCmd)
	proxyCmd.AddCommand(proxyListCmd)

	proxyAddCmd.Flags().StringVar(&proxyDevice, "dev", "", "interface answering for the address (required)")
	proxyAddCmd.MarkFlagRequired("dev")
}

func runProxyAdd(ctx context.Context, client Client, p printer, params command.ProxyParams) error {
	resp, err := call(ctx, "proxy_add", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.ProxyAdd(ctx, params)
	})
	if err != nil {
		return err
	}
	return p.message(resp.Result, "proxying %s as %s on %s", params.IP, params.MAC, params.Interface)
}

func runProxyDel(ctx context.Context, client Client, p printer, ip string) error {
	resp, err := call(ctx, "proxy_remove", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.ProxyRemove(ctx, ip)
	})
	if err != nil {
		return err
	}
	var out struct {
		Removed bool `json:"removed" yaml:"removed"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	if !out.Removed {
		return p.message(resp.Result, "%s was not proxied", ip)
	}
	return p.message(resp.Result, "removed proxy %s", ip)
}

func runProxyList(ctx context.Context, client Client, p printer) error {
	resp, err := call(ctx, "proxy_list", callTimeout, client.ProxyList)
	if err != nil {
		return err
	}
	var out struct {
		Proxies []arp.ProxyEntry `json:"proxies" yaml:"proxies"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	return p.render(out.Proxies, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ADDRESS\tHWADDRESS\tIFACE")
		for _, e := range out.Proxies {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.IP, e.MAC, e.Interface)
		}
	})
}
