package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// lifecycleCmd posts to /computers/{id}/<action> and prints the new state.
func lifecycleCmd(use, short, action string, query func() url.Values) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <computer_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var q url.Values
			if query != nil {
				q = query()
			}
			info, err := client.Action(cmd.Context(), args[0], action, q)
			if err != nil {
				return fmt.Errorf("%s computer %s: %w", use, args[0], err)
			}
			printSummary(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newOnCmd() *cobra.Command {
	return lifecycleCmd("on", "Turn a computer on", "on", nil)
}

func newOffCmd() *cobra.Command {
	var force bool
	cmd := lifecycleCmd("off", "Turn a computer off", "off", func() url.Values {
		if force {
			return url.Values{"force": {"true"}}
		}
		return nil
	})
	cmd.Flags().BoolVar(&force, "force", false, "Kill immediately instead of sending terminate")
	return cmd
}

func newRebootCmd() *cobra.Command {
	return lifecycleCmd("reboot", "Turn a computer off gracefully and on again", "reboot", nil)
}

func newKeepAliveCmd() *cobra.Command {
	return lifecycleCmd("keepalive", "Reset a computer's keep-alive counter", "keepalive", nil)
}
