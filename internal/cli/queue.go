package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/me/computerd/pkg/model"
)

// parseEventArgs decodes each argument as JSON, falling back to a plain
// string, so `queue 1 key 28 false` sends a number and a bool.
func parseEventArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args = append(args, v)
	}
	return args
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <computer_id> <event> [args...]",
		Short: "Queue an event on a computer",
		Long: `Queue an event on a computer. Arguments that parse as JSON are sent as
JSON values; anything else is sent as a string.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd, args[0], model.NewEvent(args[1], parseEventArgs(args[2:])...))
		},
	}
}
