package cmd

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/arp"
	"firestige.xyz/strouter/internal/command"
)

var arpCmd = &cobra.Command{
	Use:   "arp",
	Short: "Inspect and manage ARP caches",
	Long: `Inspect and manage the per-interface ARP caches of the running daemon.

Subcommands:
  list      - Show cache and proxy entries
  del       - Forget one cached address
  clear     - Forget every cached address
  request   - Resolve an address now
  announce  - Send a gratuitous ARP`,
}

var arpListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show ARP caches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runARPList(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, instanceFlag(arpInstance))
	},
}

var arpDelCmd = &cobra.Command{
	Use:   "del <ip>",
	Short: "Remove a cached address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runARPDel(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, instanceFlag(arpInstance), args[0])
	},
}

var arpClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear ARP caches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runARPClear(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, instanceFlag(arpInstance))
	},
}

var arpRequestCmd = &cobra.Command{
	Use:   "request <instance> <ip>",
	Short: "Broadcast an ARP request",
	Long: `Broadcast an ARP request for ip on interface instance. With --wait the
command blocks until the address resolves or the wait elapses.

Examples:
  strouter arp request 0 10.0.0.254
  strouter arp request 1 192.168.1.20 --wait 3s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid instance %q: %w", args[0], err)
		}
		params := command.ARPRequestParams{Instance: instance, IP: args[1], Wait: command.Duration(arpWait)}
		return runARPRequest(cmd.Context(), newClient(callTimeout+arpWait), printer{cmd.OutOrStdout(), outputFormat}, params)
	},
}

var arpAnnounceCmd = &cobra.Command{
	Use:   "announce <instance>",
	Short: "Broadcast a gratuitous ARP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid instance %q: %w", args[0], err)
		}
		params := command.ARPAnnounceParams{Instance: instance, MAC: arpAnnounceMAC}
		return runARPAnnounce(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, params)
	},
}

var (
	arpInstance    int
	arpWait        time.Duration
	arpAnnounceMAC string
)

func init() {
	arpCmd.AddCommand(arpListCmd)
	arpCmd.AddCommand(arpDelCmd)
	arpCmd.AddCommand(arpClearCmd)
	arpCmd.AddCommand(arpRequestCmd)
	arpCmd.AddCommand(arpAnnounceCmd)

	arpCmd.PersistentFlags().IntVarP(&arpInstance, "instance", "i", -1, "interface instance (default: all)")
	arpRequestCmd.Flags().DurationVarP(&arpWait, "wait", "w", 0, "wait for the resolution")
	arpAnnounceCmd.Flags().StringVar(&arpAnnounceMAC, "mac", "", "announced MAC (default: the interface's own)")
}

func runARPList(ctx context.Context, client Client, p printer, instance *int) error {
	resp, err := call(ctx, "arp_list", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.ARPList(ctx, instance)
	})
	if err != nil {
		return err
	}
	var out struct {
		Tables []arp.Snapshot `json:"tables" yaml:"tables"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	return p.render(out.Tables, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "IF\tADDRESS\tHWADDRESS\tSTATE\tUPDATED")
		for _, t := range out.Tables {
			for _, e := range t.Cache {
				mac := "(incomplete)"
				if e.MAC != nil {
					mac = e.MAC.String()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.Instance, e.IP, mac, e.State, e.Updated.Format(time.RFC3339))
			}
			for _, e := range t.Proxies {
				fmt.Fprintf(w, "%d\t%s\t%s\tproxy\t-\n", t.Instance, e.IP, e.MAC)
			}
		}
	})
}

func runARPDel(ctx context.Context, client Client, p printer, instance *int, ip string) error {
	resp, err := call(ctx, "arp_remove", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.ARPRemove(ctx, instance, ip)
	})
	if err != nil {
		return err
	}
	var out struct {
		IP      string `json:"ip" yaml:"ip"`
		Removed bool   `json:"removed" yaml:"removed"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	if !out.Removed {
		return p.message(out, "%s was not cached", out.IP)
	}
	return p.message(out, "removed %s", out.IP)
}

func runARPClear(ctx context.Context, client Client, p printer, instance *int) error {
	resp, err := call(ctx, "arp_clear", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.ARPClear(ctx, instance)
	})
	if err != nil {
		return err
	}
	return p.message(resp.Result, "ARP cache cleared")
}

type arpRequestResult struct {
	Instance int    `json:"instance" yaml:"instance"`
	IP       string `json:"ip" yaml:"ip"`
	State    string `json:"state" yaml:"state"`
	MAC      string `json:"mac,omitempty" yaml:"mac,omitempty"`
}

func runARPRequest(ctx context.Context, client Client, p printer, params command.ARPRequestParams) error {
	resp, err := call(ctx, "arp_request", callTimeout+params.Wait.Duration(), func(ctx context.Context) (*command.Response, error) {
		return client.ARPRequest(ctx, params)
	})
	if err != nil {
		return err
	}
	var out arpRequestResult
	if err := resp.Decode(&out); err != nil {
		return err
	}
	if out.MAC != "" {
		return p.message(out, "%s is at %s on %d", out.IP, out.MAC, out.Instance)
	}
	return p.message(out, "%s on %d: %s", out.IP, out.Instance, out.State)
}

func runARPAnnounce(ctx context.Context, client Client, p printer, params command.ARPAnnounceParams) error {
	resp, err := call(ctx, "arp_announce", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.ARPAnnounce(ctx, params)
	})
	if err != nil {
		return err
	}
	return p.message(resp.Result, "gratuitous ARP sent on %d", params.Instance)
}
