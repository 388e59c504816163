package cmd

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the strouter daemon for its overall status.

Shows: version, uptime, interfaces, route and proxy counts, ARP cache sizes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat})
	},
}

func runStatus(ctx context.Context, client Client, p printer) error {
	resp, err := call(ctx, "daemon_status", callTimeout, client.Status)
	if err != nil {
		return err
	}
	var st command.StatusResult
	if err := resp.Decode(&st); err != nil {
		return err
	}
	return p.render(st, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "version:\t%s\n", st.Version)
		fmt.Fprintf(w, "uptime:\t%s\n", time.Duration(st.UptimeSec)*time.Second)
		fmt.Fprintf(w, "routes:\t%d\n", st.Routes)
		fmt.Fprintf(w, "proxies:\t%d\n", st.Proxies)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "IF\tDEVICE\tHWADDRESS\tADDRESS\tTRANSPORT\tARP")
		sort.Slice(st.Interfaces, func(i, j int) bool { return st.Interfaces[i].Number < st.Interfaces[j].Number })
		for _, i := range st.Interfaces {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", i.Number, i.Device, i.MAC, i.IP, i.Transport, st.ARPEntries[i.Number])
		}
	})
}
