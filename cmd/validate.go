package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/route"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file without starting the daemon.

Every address, netmask, route flag and interface reference is checked, the
same way the daemon does on start and on reload.

Examples:
  strouter validate -c /etc/strouter/config.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile)
	},
}

func runValidate(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	fmt.Fprintf(out, "VALID: %d interface(s), %d route(s), %d proxy ARP entries\n",
		len(cfg.Interfaces), len(cfg.Routes), len(cfg.Proxies))
	for _, rc := range cfg.Routes {
		e, err := route.ParseEntry(rc.Destination, rc.Netmask, rc.Gateway, rc.Flags, rc.Interface, rc.Metric)
		if err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}
		if _, ok := e.NextHop(e.Destination); !ok {
			fmt.Fprintf(out, "warning: %s never forwards (flags %q)\n", e, e.Flags.String())
		}
	}
	return nil
}
