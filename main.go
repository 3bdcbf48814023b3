// studio - chat with a local Ollama model over a sandboxed work folder.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/studio/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
