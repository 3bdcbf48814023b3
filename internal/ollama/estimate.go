// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate prompt size for a message list.
// Local models use their own vocabularies, so cl100k_base is only a rough
// guide; it is logged before a request to show how full num_ctx will be.
// When the codec cannot be loaded it falls back to four characters per token.
func EstimateTokens(messages []Message) int {
	c, err := getCodec()
	total := 0
	for _, m := range messages {
		// role marker and separators
		total += 4
		if err != nil {
			total += utf8.RuneCountInString(m.Content) / 4
			continue
		}
		ids, _, encErr := c.Encode(m.Content)
		if encErr != nil {
			total += len(m.Content) / 4
			continue
		}
		total += len(ids)
	}
	return total
}
