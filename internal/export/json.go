// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/streamchat/internal/model"
)

// JSONExporter renders the full transcript, placeholders included, so the
// file mirrors what the gateway stores.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export renders t as indented JSON.
func (e *JSONExporter) Export(t Transcript) ([]byte, error) {
	if t.Messages == nil {
		t.Messages = []model.Message{}
	}
	return json.MarshalIndent(t, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
