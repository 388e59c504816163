package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/strouter/internal/command"
)

var sendCmd = &cobra.Command{
	Use:   "send <instance> <dest>",
	Short: "Originate one IPv4 packet from an interface",
	Long: `Originate one IPv4 packet from the interface's own address to an on-link
host. The destination is resolved with ARP first; the packet is dropped if
resolution fails.`,
	Example: `  strouter send 0 10.0.0.9 --proto udp --data 68656c6c6f`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid instance %q: %w", args[0], err)
		}
		params := command.IPSendParams{Instance: instance, Destination: args[1], Protocol: sendProto, Payload: sendData}
		return runSend(cmd.Context(), newClient(callTimeout), printer{cmd.OutOrStdout(), outputFormat}, params)
	},
}

var (
	sendProto string
	sendData  string
)

func init() {
	sendCmd.Flags().StringVarP(&sendProto, "proto", "p", "icmp", "protocol name or number")
	sendCmd.Flags().StringVarP(&sendData, "data", "d", "", "hex encoded payload")
}

func runSend(ctx context.Context, client Client, p printer, params command.IPSendParams) error {
	resp, err := call(ctx, "ip_send", callTimeout, func(ctx context.Context) (*command.Response, error) {
		return client.IPSend(ctx, params)
	})
	if err != nil {
		return err
	}
	return p.message(resp.Result, "sent %s packet to %s on interface %d", params.Protocol, params.Destination, params.Instance)
}
