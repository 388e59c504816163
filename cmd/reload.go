package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload routes and proxy ARP entries from the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), newClient(callTimeout), cmd.OutOrStdout())
	},
}

func runReload(ctx context.Context, client Client, out io.Writer) error {
	if _, err := call(ctx, "config_reload", callTimeout, client.ConfigReload); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
