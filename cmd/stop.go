package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the strouter daemon",
	Long: `Stop the strouter daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket. The daemon
stops its transports, flushes captures and exits. With --force, a daemon
whose socket is unreachable is sent SIGTERM through its PID file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newClient(callTimeout), cmd.OutOrStdout(), stopForce, stopPIDFile)
	},
}

var (
	stopForce   bool
	stopPIDFile string
)

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "signal the process if the socket is unreachable")
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "/var/run/strouter.pid", "PID file path")
}

// terminate is replaced in tests.
var terminate = daemon.Terminate

func runStop(ctx context.Context, client Client, out io.Writer, force bool, pidFile string) error {
	_, err := call(ctx, "daemon_shutdown", callTimeout, client.Shutdown)
	if err == nil {
		fmt.Fprintln(out, "✓ Daemon is shutting down")
		return nil
	}
	if !force {
		return err
	}
	if terr := terminate(pidFile, 10*time.Second); terr != nil {
		return fmt.Errorf("%v; signal via %s: %w", err, pidFile, terr)
	}
	fmt.Fprintln(out, "✓ Daemon terminated")
	return nil
}
