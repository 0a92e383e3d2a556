// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package local

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CANNED REPLIES
// =============================================================================

// CannedReplies are the openings a synthesized reply is built from.
var CannedReplies = []string{
	"Certo! Ti aiuto volentieri. Ecco una spiegazione semplice e diretta.",
	"Ottima domanda. Possiamo affrontarla passo dopo passo.",
	"Ecco un esempio pratico che puoi copiare e provare subito.",
	"Riassumendo in pochi punti: 1) comprendi il problema, 2) applica la soluzione, 3) verifica i risultati.",
	"Posso anche generare una versione più concisa o più dettagliata se preferisci.",
}

const (
	// topicRunes is how much of the prompt is echoed back.
	topicRunes = 60

	defaultTopic = "la tua richiesta"
	replyNote    = "Nota: questa è una risposta mock (solo frontend) per la demo locale."
)

// Synthesize builds the full reply for prompt using the canned opening at
// index pick (wrapped into range).
func Synthesize(prompt string, pick int) string {
	if pick < 0 {
		pick = -pick
	}
	base := CannedReplies[pick%len(CannedReplies)]

	topic := defaultTopic
	if runes := []rune(prompt); len(runes) > 0 {
		if len(runes) > topicRunes {
			runes = runes[:topicRunes]
		}
		topic = string(runes)
	}
	return fmt.Sprintf("%s\n\nRiferimento al tema: \"%s\".\n\n%s", base, topic, replyNote)
}

// SplitDeltas splits a reply on single spaces. Every word after the first
// keeps its leading space so the deltas concatenate back to reply.
func SplitDeltas(reply string) []string {
	if reply == "" {
		return nil
	}
	words := strings.Split(reply, " ")
	out := make([]string, len(words))
	for i, w := range words {
		if i == 0 {
			out[i] = w
			continue
		}
		out[i] = " " + w
	}
	return out
}

// =============================================================================
// PACING
// =============================================================================

// Pacing is the range of the delay inserted before each delta.
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

// DefaultPacing matches the feel of a hosted model.
func DefaultPacing() Pacing {
	return Pacing{Min: 30 * time.Millisecond, Max: 100 * time.Millisecond}
}

// NoPacing emits every delta immediately.
func NoPacing() Pacing {
	return Pacing{}
}
