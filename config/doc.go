// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for streamchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServiceConfig: Chat service endpoint settings
//   - SessionConfig: Streaming session behavior
//   - StoreConfig: Credential persistence backend selection
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (STREAMCHAT_*), with a local .env file folded
//     into the environment first
//   - ~/.streamchat/config.toml
//   - ~/.streamchat/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	base := cfg.Service.BaseURL
//	timeout := cfg.TurnTimeout()
package config
