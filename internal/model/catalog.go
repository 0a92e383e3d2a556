// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// ModelOption is one selectable reply model.
type ModelOption struct {
	ID    string `toml:"id" json:"id" yaml:"id"`
	Label string `toml:"label" json:"label" yaml:"label"`
}

// DefaultCatalog returns the built-in model list.
func DefaultCatalog() []ModelOption {
	return []ModelOption{
		{ID: "gpt-4o", Label: "GPT-4o"},
		{ID: "gpt-4o-mini", Label: "GPT-4o mini"},
		{ID: "o3-mini", Label: "o3-mini"},
	}
}

// LabelFor returns the label of id in catalog, or id itself if unknown.
func LabelFor(catalog []ModelOption, id string) string {
	for _, opt := range catalog {
		if opt.ID == id {
			return opt.Label
		}
	}
	return id
}

// NextModel returns the model after current in catalog, wrapping around.
// An unknown current yields the first entry.
func NextModel(catalog []ModelOption, current string) string {
	if len(catalog) == 0 {
		return current
	}
	for i, opt := range catalog {
		if opt.ID == current {
			return catalog[(i+1)%len(catalog)].ID
		}
	}
	return catalog[0].ID
}
