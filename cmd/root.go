// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/command"
)

var (
	// Global flags
	configFile   string
	socketPath   string
	outputFormat string
	callTimeout  time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strouter",
	Short: "strouter - user-space static IPv4 router",
	Long: `strouter forwards IPv4 packets between network interfaces from user space.
It captures raw Ethernet frames, resolves next hops with ARP and forwards
according to a static route table.

Features:
  - AF_PACKET (TPACKET_V3) and libpcap transports
  - ARP cache with request timeout, aging and proxy ARP
  - Static routes with first-match lookup
  - Local control: CLI via Unix Domain Socket
  - Remote control: Kafka command subscription`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/strouter/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/strouter.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable,
		"output format: table, json or yaml")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second,
		"control socket call timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(arpCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
}
