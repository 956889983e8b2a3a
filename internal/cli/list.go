package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List computers",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client.ListComputers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list computers: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(data) == 0 {
				fmt.Fprintln(out, "No computers found.")
				return nil
			}

			fmt.Fprintf(out, "%-6s  %-10s  %-20s  %-6s  %s\n", "ID", "STATE", "LABEL", "QUEUE", "CRASH")
			fmt.Fprintf(out, "%-6s  %-10s  %-20s  %-6s  %s\n", "--", "-----", "-----", "-----", "-----")
			for _, c := range data {
				state := string(c.State)
				if c.PendingOn {
					state += "*"
				}
				crash := ""
				if c.Crash != nil {
					crash = string(c.Crash.Code)
				}
				fmt.Fprintf(out, "%-6d  %-10s  %-20s  %-6d  %s\n", c.ID, state, c.Label, c.QueueLen, crash)
			}
			return nil
		},
	}
}
