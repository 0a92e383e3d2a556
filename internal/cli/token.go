// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/server"
)

func newTokenCommand(opts *globalOptions) *cobra.Command {
	var ttlHours int

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the reference backend",
		Long: `Mint an HS256 bearer token signed with auth.jwt_secret.

The token is printed on stdout so it can be captured:
  export STREAMCHAT_TOKEN=$(streamchat token alice)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set (or STREAMCHAT_JWT_SECRET)")
			}
			authCfg := cfg.Auth
			if ttlHours > 0 {
				authCfg.TokenTTLHours = ttlHours
			}

			token, expires, err := server.NewAuthenticator(authCfg, zap.NewNop()).Mint(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("expires "+expires.Local().Format(time.RFC1123)))
			return nil
		},
	}

	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "token lifetime (overrides auth.token_ttl_hours)")
	return cmd
}
