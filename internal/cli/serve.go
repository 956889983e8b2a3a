package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/computerd/internal/config"
	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/internal/scheduler"
	"github.com/me/computerd/internal/server"
	"github.com/me/computerd/internal/store"
	"github.com/me/computerd/internal/watcher"
)

// loadConfig reads --config and applies the logging flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") || flagDebug {
		cfg.Logging.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = flagLogFormat
	}
	return cfg, nil
}

// newLoop wires an engine, loader and optional store into a tick loop.
// out, when set, receives everything the computers print.
func newLoop(cfg config.Config, loader engine.Loader, st store.Store, out io.Writer, logger *slog.Logger) (*scheduler.Loop, engine.Engine) {
	eng := engine.NewGojaEngine()
	mcfg := cfg.ManagerConfig()
	mcfg.Worker.Output = out
	mgr := manager.New(eng, loader, mcfg, logger)
	loop := scheduler.NewLoop(mgr, st, scheduler.Config{
		TickInterval:  cfg.TickInterval(),
		AutosaveTicks: cfg.Store.AutosaveTicks,
	}, logger)
	return loop, eng
}

func openStore(ctx context.Context, path string, logger *slog.Logger) (*store.SQLiteStore, error) {
	if path == "" {
		dir := config.DefaultDataDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		path = filepath.Join(dir, "computerd.db")
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "path", path)
	return st, nil
}

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dbPath     string
		scriptsDir string
		noWatch    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the computer host and its REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("db") {
				cfg.Store.Path = dbPath
			}
			if flags.Changed("scripts") {
				cfg.Scripts.Dir = scriptsDir
			}
			if noWatch {
				cfg.Scripts.Watch = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logging.NewLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default ~/.computerd/computerd.db)")
	cmd.Flags().StringVar(&scriptsDir, "scripts", "", "Script directory (overrides scripts.dir)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reboot computers when their scripts change")
	return cmd
}

// serve runs the host until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Scripts.Dir, 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}

	st, err := openStore(ctx, cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	loop, eng := newLoop(cfg, engine.DirLoader{Dir: cfg.Scripts.Dir}, st, nil, logger)
	if err := loop.Restore(ctx); err != nil {
		logger.Error("restore computers", "error", err)
	}
	go func() {
		if err := loop.Start(context.Background()); err != nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	if cfg.Scripts.Watch {
		w := watcher.New(cfg.Scripts.Dir, time.Duration(cfg.Scripts.DebounceMs)*time.Millisecond, loop, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Warn("script watcher disabled", "error", err)
			}
		}()
	}

	var httpServer *http.Server
	httpErr := make(chan error, 1)
	if cfg.Server.Addr != "" {
		srv := server.New(cfg.Server, loop, logger, server.WithEngineName(eng.Name()))
		httpServer = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("server starting", "addr", cfg.Server.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-httpErr:
		logger.Error("server failed", "error", runErr)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}

	// Stop the scheduler after HTTP so in-flight calls finish first.
	if err := loop.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	logger.Info("server stopped")
	return runErr
}
