package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/daemon"
	"firestige.xyz/strouter/internal/log"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the router in foreground",
	Long: `Run the strouter daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Open a transport per interface and wire the layer stacks
  4. Load static routes and proxy ARP entries
  5. Announce every interface with a gratuitous ARP
  6. Start UDS server for CLI control and the Kafka consumer (if configured)
  7. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// config values apply unless the flags were given
		socket := ""
		if f := cmd.Flag("socket"); f != nil && f.Changed {
			socket = socketPath
		}
		if err := runDaemon(socket, daemonPIDFile); err != nil {
			log.GetLogger().WithError(err).Error("daemon failed")
			return err
		}
		return nil
	},
}

var daemonPIDFile string

func init() {
	daemonCmd.Flags().StringVarP(&daemonPIDFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file)")
}

func runDaemon(socket, pidFile string) error {
	d, err := daemon.New(configFile, socket, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return d.Run()
}
