// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling of the streamchat TUI.
//
// Colors are lipgloss AdaptiveColor values, so light and dark terminals both
// get a readable palette. NewTheme builds every style once; with NoColor the
// color profile is forced to ASCII and only bold, italic and borders remain.
package styles
