// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// It covers the parts of the API the studio needs: model listing, streamed
// chat completions, and raw pass-through for the file proxy server.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Decoder: incremental decoder for newline-delimited chat responses
//   - Stream: pulls StreamEvents from an open response body
//   - StreamEvent: one content delta or the final statistics
//   - ClientError: typed error with sentinel values for errors.Is
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://localhost:11434",
//	})
//	stream, err := client.OpenChatStream(ctx, ollama.ChatRequest{
//	    Model:    "deepseek-r1:14b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    ev, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(ev.Content)
//	}
package ollama
