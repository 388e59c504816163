package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/command"
	"firestige.xyz/strouter/internal/route"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Manage the static route table",
	Long: `Manage the static route table of the running daemon.

Routes are matched first to last; the first entry whose network contains the
destination wins. Only up routes (U) and up gateway routes (UG) forward.

Subcommands:
  add   - Add a route, replacing one with the same destination and netmask
  del   - Delete a route by index or by destination and netmask
  list  - List routes in match order`,
}

var routeAddCmd = &cobra.Command{
	Use:   "add <destination> <netmask>",
	Short: "Add a route",
	Long: `Add a route to the end of the table. An existing route with the same
destination and netmask is removed first.

Examples:
  strouter route add 192.168.1.0 255.255.255.0 --flags U --dev eth1
  strouter route add 0.0.0.0 0.0.0.0 --gw 10.0.0.254 --flags UG --dev eth0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := routeAddParams
		params.Destination, params.Netmask = args[0], args[1]
		return runRouteAdd(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, params)
	},
}

var routeDelCmd = &cobra.Command{
	Use:   "del <index> | del <destination> <netmask>",
	Short: "Delete a route",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := routeRemoveParams(args)
		if err != nil {
			return err
		}
		return runRouteDel(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, params)
	},
}

var routeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRouteList(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat})
	},
}

var routeAddParams command.RouteParams

func init() {
	routeCmd.AddCommand(routeAddCmd)
	routeCmd.AddCommand(routeDelCmd)
	routeCmd.AddCommand(routeListCmd)

	routeAddCmd.Flags().StringVar(&routeAddParams.Gateway, "gw", "", "gateway address")
	routeAddCmd.Flags().StringVar(&routeAddParams.Flags, "flags", "U", "route flags (U, G, H)")
	routeAddCmd.Flags().StringVar(&routeAddParams.Interface, "dev", "", "outgoing interface (required)")
	routeAddCmd.Flags().IntVar(&routeAddParams.Metric, "metric", 0, "route metric")
	routeAddCmd.MarkFlagRequired("dev")
}

func routeRemoveParams(args []string) (command.RouteRemoveParams, error) {
	if len(args) == 2 {
		return command.RouteRemoveParams{Destination: args[0], Netmask: args[1]}, nil
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return command.RouteRemoveParams{}, fmt.Errorf("expected a route index or a destination and netmask: %w", err)
	}
	return command.RouteRemoveParams{Index: &index}, nil
}

func runRouteAdd(ctx context.Context, client Client, p printer, params command.RouteParams) error {
	resp, err := call(ctx, "route_add", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.RouteAdd(ctx, params)
	})
	if err != nil {
		return err
	}
	var out struct {
		Route route.Entry `json:"route" yaml:"route"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	return p.message(out, "added %s", out.Route)
}

func runRouteDel(ctx context.Context, client Client, p printer, params command.RouteRemoveParams) error {
	resp, err := call(ctx, "route_remove", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.RouteRemove(ctx, params)
	})
	if err != nil {
		return err
	}
	var out struct {
		Route route.Entry `json:"route" yaml:"route"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	return p.message(out, "removed %s", out.Route)
}

func runRouteList(ctx context.Context, client Client, p printer) error {
	resp, err := call(ctx, "route_list", callTimeout, client.RouteList)
	if err != nil {
		return err
	}
	var out struct {
		Routes []route.Entry `json:"routes" yaml:"routes"`
	}
	if err := resp.Decode(&out); err != nil {
		return err
	}
	return p.render(out.Routes, func(w *tabwriter.Writer) {
		printRoutes(w, out.Routes)
	})
}

func printRoutes(w io.Writer, routes []route.Entry) {
	fmt.Fprintln(w, "#\tDESTINATION\tNETMASK\tGATEWAY\tFLAGS\tIFACE\tMETRIC")
	for i, e := range routes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n", i, e.Destination, e.Netmask, e.Gateway, e.Flags, e.Interface, e.Metric)
	}
}
