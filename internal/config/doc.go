// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for streamchat.
//
// Supports TOML, YAML and JSON configuration formats, with sensible defaults,
// .env files, environment variable overrides, validation and live reload.
//
// Configuration file locations (in order of precedence):
//   - ~/.streamchat/config.toml
//   - ~/.streamchat/config.yaml
//   - ~/.streamchat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	go config.Watch(ctx, path, func(c *config.Config, err error) { ... })
package config
