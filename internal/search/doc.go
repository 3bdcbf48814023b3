// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search queries web search engines and formats the results as
// context for a chat request.
//
// DuckDuckGo needs no key. Tavily and Bing require an API key; Google is
// recognised but reports that it needs a custom search engine ID.
package search
