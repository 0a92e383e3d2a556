// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType discriminates the payload of a record.
type EventType string

const (
	// TypeChunk carries an incremental fragment of the reply.
	TypeChunk EventType = "chunk"
	// TypeEnd marks the end of the reply.
	TypeEnd EventType = "end"
	// TypeError is sent by the backend when generation fails mid-stream.
	TypeError EventType = "error"
)

// Event is one decoded stream record.
type Event struct {
	Type      EventType `json:"type"`
	Delta     string    `json:"delta,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Chunk returns a chunk event carrying delta.
func Chunk(delta string) Event {
	return Event{Type: TypeChunk, Delta: delta}
}

// End returns an end event. messageID may be empty.
func End(messageID string) Event {
	return Event{Type: TypeEnd, MessageID: messageID}
}

// Failure returns an error event with the given message.
func Failure(msg string) Event {
	return Event{Type: TypeError, Error: msg}
}

func (t EventType) valid() bool {
	switch t {
	case TypeChunk, TypeEnd, TypeError:
		return true
	}
	return false
}

// =============================================================================
// DECODER
// =============================================================================

const (
	// dataPrefix is the only record prefix that carries a payload.
	dataPrefix = "data:"
	// recordDelimiter separates records.
	recordDelimiter = "\n\n"
)

// Decoder turns raw stream bytes into events. It owns its buffer, so any
// number of decoders can run side by side. A Decoder is not safe for
// concurrent use and is not restartable once Finish has been called.
type Decoder struct {
	buf      string
	carry    []byte
	utf8     transform.Transformer
	dropped  int
	finished bool
}

// NewDecoder creates a decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Feed appends p to the buffer and returns every record completed by it, in
// order. p may end in the middle of a record or a rune; the remainder is kept
// for the next call.
func (d *Decoder) Feed(p []byte) []Event {
	if d.finished || len(p) == 0 {
		return nil
	}
	d.buf += d.decodeText(p)

	var events []Event
	for {
		idx := strings.Index(d.buf, recordDelimiter)
		if idx < 0 {
			break
		}
		raw := strings.TrimSpace(d.buf[:idx])
		d.buf = d.buf[idx+len(recordDelimiter):]

		if ev, ok := d.parseRecord(raw); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Finish ends the decode session. Bytes still buffered without a trailing
// delimiter are discarded, so Finish never yields events; the return value
// keeps call sites symmetric with Feed.
func (d *Decoder) Finish() []Event {
	d.finished = true
	d.buf = ""
	d.carry = nil
	return nil
}

// Buffered returns the number of text bytes waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf) + len(d.carry)
}

// Dropped returns how many data records were discarded as malformed.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// decodeText converts p (plus any carried partial rune) to text. An incomplete
// trailing UTF-8 sequence is held back; invalid bytes become U+FFFD.
func (d *Decoder) decodeText(p []byte) string {
	src := p
	if len(d.carry) > 0 {
		src = append(d.carry, p...)
		d.carry = nil
	}

	// Every invalid byte expands to at most three bytes of U+FFFD.
	dst := make([]byte, 3*len(src)+4)
	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := d.utf8.Transform(dst, src, false)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		if err == transform.ErrShortSrc {
			d.carry = append([]byte(nil), src...)
			break
		}
		if err != nil && nSrc == 0 {
			break
		}
	}
	return out.String()
}

func (d *Decoder) parseRecord(raw string) (Event, bool) {
	if !strings.HasPrefix(raw, dataPrefix) {
		return Event{}, false
	}
	payload := strings.TrimSpace(raw[len(dataPrefix):])

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || !ev.Type.valid() {
		d.dropped++
		return Event{}, false
	}
	return ev, true
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode renders ev as a single wire record, delimiter included.
func Encode(ev Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		// Event holds only strings; Marshal cannot fail on it.
		payload = []byte(`{"type":"error"}`)
	}
	out := make([]byte, 0, len(payload)+len(dataPrefix)+3)
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, payload...)
	return append(out, recordDelimiter...)
}
