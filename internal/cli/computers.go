package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/computerd/pkg/model"
)

func newCreateCmd() *cobra.Command {
	var req model.CreateComputerRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a computer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client.CreateComputer(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("create computer: %w", err)
			}
			printSummary(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().IntVar(&req.ID, "id", 0, "Computer id (default: next free id)")
	cmd.Flags().StringVar(&req.Label, "label", "", "Computer label")
	cmd.Flags().BoolVar(&req.On, "on", false, "Turn the computer on after creating it")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <computer_id>",
		Aliases: []string{"remove"},
		Short:   "Stop and remove a computer",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.RemoveComputer(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("remove computer: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Computer %s removed\n", args[0])
			return nil
		},
	}
}

// putInfo updates a computer sub-resource and prints the returned computer.
func putInfo(cmd *cobra.Command, id string, body any, parts ...string) error {
	info, err := client.Update(cmd.Context(), id, body, parts...)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), info)
	return nil
}

func newLabelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "label <computer_id> [label]",
		Short: "Set or clear a computer's label",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := ""
			if len(args) > 1 {
				label = args[1]
			}
			if err := putInfo(cmd, args[0], model.SetLabelRequest{Label: label}, "label"); err != nil {
				return fmt.Errorf("set label: %w", err)
			}
			return nil
		},
	}
}

func newRedstoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redstone <computer_id> <side> <level>",
		Short: "Set a redstone input level (0-15)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid level %q: %w", args[2], err)
			}
			body := model.RedstoneInputRequest{Side: model.Side(args[1]), Level: level}
			if err := putInfo(cmd, args[0], body, "redstone"); err != nil {
				return fmt.Errorf("set redstone: %w", err)
			}
			return nil
		},
	}
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <computer_id> <side> <type>",
		Short: "Attach a peripheral to one side of a computer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := model.AttachPeripheralRequest{Type: args[2]}
			if err := putInfo(cmd, args[0], body, "peripherals", args[1]); err != nil {
				return fmt.Errorf("attach peripheral: %w", err)
			}
			return nil
		},
	}
}

func newDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <computer_id> <side>",
		Short: "Detach the peripheral on one side of a computer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client.DetachPeripheral(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("detach peripheral: %w", err)
			}
			printSummary(cmd.OutOrStdout(), info)
			return nil
		},
	}
}
