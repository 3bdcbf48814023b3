// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports the complete conversation and its command results.
// Options are ignored so the output always carries every field.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(*Options) *JSONExporter {
	return &JSONExporter{}
}

type jsonDocument struct {
	Conversation   *model.Conversation     `json:"conversation"`
	CommandResults []storage.CommandRecord `json:"command_results"`
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(doc Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}
	results := doc.Results
	if results == nil {
		results = []storage.CommandRecord{}
	}
	data, err := json.MarshalIndent(jsonDocument{Conversation: doc.Conversation, CommandResults: results}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
