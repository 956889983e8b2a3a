package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/computerd/pkg/model"
)

// sendEvent queues ev on a computer through the events endpoint.
func sendEvent(cmd *cobra.Command, id string, ev model.Event) error {
	if err := client.QueueEvent(cmd.Context(), id, ev); err != nil {
		return fmt.Errorf("queue %s: %w", ev.Name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s on computer %s\n", ev.Name, id)
	return nil
}

func atoiArgs(names []string, raw []string) ([]int, error) {
	out := make([]int, len(raw))
	for i, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", names[i], s)
		}
		out[i] = n
	}
	return out, nil
}

func newKeyCmd() *cobra.Command {
	var up, repeat bool
	cmd := &cobra.Command{
		Use:   "key <computer_id> <code>",
		Short: "Send a key press or release",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := atoiArgs([]string{"key code"}, args[1:])
			if err != nil {
				return err
			}
			ev := model.KeyDown(n[0], repeat)
			if up {
				ev = model.KeyUp(n[0])
			}
			return sendEvent(cmd, args[0], ev)
		},
	}
	cmd.Flags().BoolVar(&up, "up", false, "Send key_up instead of key")
	cmd.Flags().BoolVar(&repeat, "repeat", false, "Mark the press as a key repeat")
	return cmd
}

func newTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type <computer_id> <text>",
		Short: "Send one char event per character",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, r := range args[1] {
				if err := sendEvent(cmd, args[0], model.CharTyped(string(r))); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newPasteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paste <computer_id> <text...>",
		Short: "Send a paste event",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, args[0], model.Paste(strings.Join(args[1:], " ")))
		},
	}
}

var mouseEvents = map[string]string{
	"click":  model.EventMouseClick,
	"up":     model.EventMouseUp,
	"drag":   model.EventMouseDrag,
	"scroll": model.EventMouseScroll,
}

func newMouseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mouse <computer_id> <click|up|drag|scroll> <button> <x> <y>",
		Short: "Send a mouse event",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, ok := mouseEvents[args[1]]
			if !ok {
				return fmt.Errorf("unknown mouse action %q (want click, up, drag or scroll)", args[1])
			}
			n, err := atoiArgs([]string{"button", "x", "y"}, args[2:])
			if err != nil {
				return err
			}
			return sendEvent(cmd, args[0], model.Mouse(name, n[0], n[1], n[2]))
		},
	}
}
