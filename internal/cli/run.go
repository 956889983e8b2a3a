package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/computerd/internal/config"
	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/pkg/model"
)

func newRunCmd() *cobra.Command {
	var (
		id      int
		timeout time.Duration
		events  []string
	)
	cmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run one program on a local computer and print its output",
		Long: `Boots a single computer with the given program, without a server or a
database. Output goes to stdout. The run ends when the program exits, when
it crashes, when --timeout passes or on Ctrl-C; the last two send terminate
first. Each --event is "name arg..." and is queued once the computer is up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read program: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var queued []model.Event
			for _, raw := range events {
				fields := strings.Fields(raw)
				if len(fields) == 0 {
					continue
				}
				queued = append(queued, model.NewEvent(fields[0], parseEventArgs(fields[1:])...))
			}

			loader := engine.StaticLoader{Name: filepath.Base(args[0]), Source: string(src)}
			info, err := runProgram(ctx, cfg, cmd.OutOrStdout(), loader, id, queued)
			if err != nil {
				return err
			}
			if info.Crash != nil {
				return fmt.Errorf("computer %d crashed: %w", info.ID, info.Crash)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 1, "Computer id reported to the program")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop the computer after this long (0 = no limit)")
	cmd.Flags().StringArrayVar(&events, "event", nil, `Event to queue after boot, e.g. --event "key 28 false"`)
	return cmd
}

var errStillRunning = errors.New("still running")

// runProgram boots one computer and waits until it stops or ctx ends.
func runProgram(ctx context.Context, cfg config.Config, out io.Writer, loader engine.Loader, id int, events []model.Event) (model.ComputerInfo, error) {
	loop, _ := newLoop(cfg, loader, nil, out, logging.NewLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format))
	mgr := loop.Manager()
	if _, err := mgr.Create(model.ComputerRecord{ID: id, On: true}); err != nil {
		return model.ComputerInfo{}, err
	}
	go loop.Start(context.Background())
	defer loop.Stop()

	sent := false
	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()
	for {
		var info model.ComputerInfo
		err := loop.Call(ctx, func() error {
			w, ok := mgr.Lookup(id)
			if !ok {
				return model.ErrUnknownComputer
			}
			info = w.Info()
			switch info.State {
			case model.ComputerStateRunning:
				if !sent {
					for _, ev := range events {
						w.QueueEvent(ev)
					}
					sent = true
				}
				return errStillRunning
			case model.ComputerStateStarting, model.ComputerStateStopping:
				return errStillRunning
			}
			// Flush what the program printed before it stopped.
			if mgr.PendingWork(id) > 0 {
				return errStillRunning
			}
			return nil
		})
		switch {
		case err == nil:
			return info, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Stop sends terminate and waits out the grace period.
			loop.Stop()
			return mgr.Info(id)
		case !errors.Is(err, errStillRunning):
			return info, err
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}
