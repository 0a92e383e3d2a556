// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/gateway/local"
	"github.com/jeranaias/streamchat/internal/gateway/remote"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/storage"
)

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig loads the config file named by --config, or the default search
// path, and applies the --mode and --verbose overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.mode != "" {
		cfg.Mode = strings.ToLower(o.mode)
		if err := cfg.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid config")
		}
	}
	if o.verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Console = true
	}
	return cfg, nil
}

// resolvedConfigPath returns the file the config was read from, or "" when
// only defaults were used.
func (o *globalOptions) resolvedConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	for _, ext := range []string{"toml", "yaml", "json"} {
		path, err := config.ConfigPath(ext)
		if err != nil {
			return ""
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// =============================================================================
// APPLICATION GRAPH
// =============================================================================

// App is the wired application shared by the front ends.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Gateway gateway.Gateway
	Store   *session.Store

	closers []func()
}

// appOptions tunes openApp for a particular front end.
type appOptions struct {
	// console allows log output on stderr; the TUI owns the terminal
	console bool
	// notify receives reconciliation errors from the session store
	notify func(error)
}

// openApp builds the application graph. The session store is not loaded.
func openApp(ctx context.Context, opts *globalOptions, ao appOptions) (*App, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, ao)
}

func newApp(ctx context.Context, cfg *config.Config, ao appOptions) (*App, error) {
	logCfg := cfg.Log
	if !ao.console {
		logCfg.Console = false
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up logging")
	}
	app := &App{Config: cfg, Logger: logger, closers: []func(){closeLog}}

	gw, closeGW, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Gateway = gw
	app.closers = append(app.closers, closeGW)

	notify := ao.notify
	if notify == nil {
		notify = func(error) {}
	}
	app.Store = session.New(gw,
		session.WithLogger(logger),
		session.WithDefaults(cfg.DefaultTitle, cfg.DefaultModel),
		session.WithNotifier(notify),
	)
	logger.Debug("Application ready", zap.String("mode", cfg.Mode), zap.String("storage", cfg.Storage.Backend))
	return app, nil
}

// NewOrchestrator returns an orchestrator over the app's store and gateway.
func (a *App) NewOrchestrator(observer func(chat.Update)) *chat.Orchestrator {
	return chat.New(a.Store, a.Gateway, chat.WithLogger(a.Logger), chat.WithObserver(observer))
}

// Close releases the gateway and flushes the logger, in reverse order of
// creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildGateway selects the gateway for cfg.Mode.
func buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gateway.Gateway, func(), error) {
	if cfg.Mode == config.ModeRemote {
		client := remote.New(cfg.Remote.BaseURL).
			WithTimeout(cfg.RemoteTimeout()).
			WithRateLimit(cfg.Remote.RateLimit, cfg.Remote.RateBurst).
			WithUserAgent(fmt.Sprintf("streamchat/%s", Version)).
			WithLogger(logger)
		switch {
		case cfg.Remote.Token != "":
			client = client.WithBearerToken(cfg.Remote.Token)
		case cfg.Remote.CookieValue != "":
			client = client.WithCookie(cfg.Remote.CookieName, cfg.Remote.CookieValue)
		}
		return client, func() {}, nil
	}
	return buildLocalGateway(ctx, cfg, logger)
}

// buildLocalGateway opens the configured KV backend and wraps it in the
// local gateway.
func buildLocalGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*local.Gateway, func(), error) {
	kv, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open storage")
	}
	gw := local.New(kv,
		local.WithPacing(local.Pacing{
			Min: time.Duration(cfg.Standalone.MinDelayMs) * time.Millisecond,
			Max: time.Duration(cfg.Standalone.MaxDelayMs) * time.Millisecond,
		}),
		local.WithLogger(logger),
	)
	closeKV := func() {
		if err := kv.Close(); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}
	return gw, closeKV, nil
}

// printNotice writes a reconciliation error as a one-line warning.
func printNotice(w io.Writer, err error) {
	fmt.Fprintln(w, WarningStyle.Render("[Warning]"), err)
}
