// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// # Key Types
//
//   - Config: main configuration structure with all settings
//   - OllamaConfig: model server URL, bearer key, default model
//   - ChatConfig: reasoning effort, context size, prompts
//   - ReasoningEffort: fast, standard or deep, mapped to num_ctx
//
// # Configuration Precedence
//
//   - Environment variables (STUDIO_*)
//   - ~/.studio/config.toml (STUDIO_HOME relocates the directory)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	numCtx := cfg.Effort().NumCtx()
package config
