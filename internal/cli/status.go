package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/computerd/pkg/model"
)

func newStatusCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "status <computer_id>",
		Short: "Show the state of a computer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client.Computer(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get computer: %w", err)
			}
			printStatus(cmd.OutOrStdout(), info, lines)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Terminal lines to show")
	return cmd
}

// printSummary writes the one-line form used after lifecycle commands.
func printSummary(out io.Writer, info model.ComputerInfo) {
	name := fmt.Sprintf("Computer %d", info.ID)
	if info.Label != "" {
		name += fmt.Sprintf(" (%s)", info.Label)
	}
	state := string(info.State)
	if info.PendingOn {
		state += ", waiting for a worker slot"
	}
	fmt.Fprintf(out, "%s: %s\n", name, state)
}

func printStatus(out io.Writer, info model.ComputerInfo, lines int) {
	fmt.Fprintf(out, "Computer: %d\n", info.ID)
	if info.Label != "" {
		fmt.Fprintf(out, "  Label:    %s\n", info.Label)
	}
	fmt.Fprintf(out, "  Instance: %s\n", info.InstanceID)
	fmt.Fprintf(out, "  State:    %s\n", info.State)
	if info.PendingOn {
		fmt.Fprintln(out, "  Pending:  waiting for a worker slot")
	}
	if info.Crash != nil {
		fmt.Fprintf(out, "  Crash:    %s (%s)\n", info.Crash.Code, info.Crash.Message)
	}
	queue := fmt.Sprintf("%d queued, %d dropped", info.QueueLen, info.Dropped)
	if info.QueueCap > 0 {
		queue += fmt.Sprintf(", capacity %d", info.QueueCap)
	}
	fmt.Fprintf(out, "  Queue:    %s\n", queue)
	if u := info.Usage; u.Tasks > 0 {
		fmt.Fprintf(out, "  Usage:    %d tasks, %.1f ms total, %.1f ms avg, %.1f ms max, %d peripheral calls\n",
			u.Tasks, u.TotalMs, u.AverageMs, u.MaxMs, u.PeripheralOps)
	}

	if len(info.Redstone) > 0 {
		var parts []string
		for _, side := range model.Sides {
			if level, ok := info.Redstone[side]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", side, level))
			}
		}
		fmt.Fprintf(out, "  Redstone: %s\n", strings.Join(parts, " "))
	}
	if len(info.Peripheral) > 0 {
		fmt.Fprintln(out, "  Peripherals:")
		for _, side := range model.Sides {
			if kind, ok := info.Peripheral[side]; ok {
				fmt.Fprintf(out, "    - %s: %s\n", side, kind)
			}
		}
	}

	term := info.Terminal
	if lines >= 0 && len(term) > lines {
		term = term[len(term)-lines:]
	}
	if len(term) > 0 {
		fmt.Fprintln(out, "  Terminal:")
		for _, line := range term {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
}
