// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements the local file proxy: an HTTP API over the
// sandbox plus a pass-through to the model server, used by browser front
// ends that cannot touch the filesystem themselves.
//
// # Endpoints
//
//   - GET    /api/config/directory       - sandbox name and absolute path
//   - GET    /api/files/list?path=        - directory listing
//   - GET    /api/files/read?path=        - file content
//   - POST   /api/files/write             - write or append
//   - DELETE /api/files/delete?path=      - remove a file
//   - POST   /api/files/create-directory  - mkdir -p
//   - POST   /api/files/import            - multipart upload into the sandbox
//   - POST   /api/files/import-folder     - copy a host folder into the sandbox
//   - GET    /api/files/find?pattern=     - doublestar glob
//   - POST   /api/chat, GET /api/tags     - streamed model server pass-through
//   - POST   /api/ollama/signin           - runs `ollama signin`
//   - GET    /health                      - liveness
//
// Errors are JSON objects of the form {"error": "..."}. Paths that escape
// the sandbox are reported as 404 by reading endpoints and 403 by writing
// endpoints.
//
// # Usage
//
//	srv := server.New(store, client, server.OptionsFromConfig(cfg))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
