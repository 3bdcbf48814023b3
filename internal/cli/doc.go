// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the studio command line.
//
// The command tree is built with cobra. Every command is created by a
// factory taking the shared *app, which carries the global flags and the
// configuration loaded in PersistentPreRunE:
//
//	studio chat [--resume id]        interactive chat (liner REPL)
//	studio ask "question"            one-shot question, stdin with "-"
//	studio models                    models installed on Ollama
//	studio files ls|cat|write|...    direct sandbox access
//	studio history ls|show|rm|export saved conversations
//	studio serve [--port n]          HTTP file proxy
//	studio config show|get|set|...   configuration
//	studio signin                    ollama.com sign-in link
//
// All commands accept --json and then print a JSONResponse envelope
// instead of styled text. Execute maps errors onto the exit codes in
// errors.go.
package cli
