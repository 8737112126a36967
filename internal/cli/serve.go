// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/pinac/internal/config"
	"github.com/jeranaias/pinac/internal/server"
)

// shutdownTimeout bounds graceful shutdown of the API server.
const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback HTTP API for the desktop shell",
		Long: `Serve the chat API on a loopback address. Generated text is delivered
on the server-sent event stream at /api/events.

Edits to the config file are picked up while running; offline mode can
be toggled without a restart.`,
		Example: `  $ pinac serve
  $ pinac serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The server always logs; it has no interactive output to protect.
			configureLogging(true, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			app, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			log.Printf("[cli] %s", app.describe())

			hub := server.NewHub(0)
			svc := app.NewService(hub)
			defer svc.Manager().Close()

			srv := server.New(cfg.Server, svc, hub,
				server.WithHealthChecker(app.Local),
				server.WithOfflinePolicy(app.Policy))

			go watchConfig(ctx, path, opts, app)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			fmt.Fprintf(cmd.ErrOrStderr(), "%s listening on http://%s %s\n",
				TitleStyle.Render("pinac"), cfg.Server.Addr, app.Policy.StatusBadge())

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// watchConfig applies config edits that are safe to change at runtime.
// The --offline flag pins offline mode on.
func watchConfig(ctx context.Context, path string, opts *globalOptions, app *App) {
	err := config.Watch(ctx, path, config.DefaultDebounce, func(cfg *config.Config) {
		enabled := cfg.Offline || opts.offline
		if enabled != app.Policy.Enabled() {
			app.Policy.SetEnabled(enabled)
			log.Printf("[cli] config reloaded: offline=%v", enabled)
		}
	})
	if err != nil {
		log.Printf("[cli] config watch disabled: %v", err)
	}
}
