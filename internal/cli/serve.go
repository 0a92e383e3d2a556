// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/server"
)

// shutdownTimeout bounds the wait for open streams on exit.
const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference chat backend",
		Long: `Run the reference chat backend.

Sessions are kept in the configured storage backend and replies are
synthesized locally. Set auth.jwt_secret or auth.static_token to require
credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			cfg.Log.Console = true

			logger, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return errors.Wrap(err, "failed to set up logging")
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, closeGW, err := buildLocalGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeGW()

			srv := server.New(gw, cfg.Server, cfg.Auth, logger)
			if cfg.Auth.JWTSecret == "" && cfg.Auth.StaticToken == "" {
				logger.Warn("Authentication is disabled")
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", cfg.Server.Addr)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return errors.Wrap(err, "server stopped")
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
