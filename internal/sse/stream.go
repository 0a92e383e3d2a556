// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"context"
	"io"
	"sync"
)

// ReadSize is the default number of bytes requested per read.
const ReadSize = 4 * 1024

// Stream is a lazy, in-order, finite iterator of events read from a byte
// source. It is not restartable; build a new Stream for a new source.
//
// Cancellation is observed at every read boundary and before each buffered
// event is handed out, so nothing is returned after the context is done. A
// Read that is already blocked is only interrupted if the source itself
// honours the context (an HTTP body bound to the request context does).
type Stream struct {
	src   io.ReadCloser
	dec   *Decoder
	buf   []byte
	queue []Event
	eof   bool
	err   error

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps src. The caller must Close the stream.
func NewStream(src io.ReadCloser) *Stream {
	return NewStreamSize(src, ReadSize)
}

// NewStreamSize wraps src using reads of at most size bytes.
func NewStreamSize(src io.ReadCloser, size int) *Stream {
	if size <= 0 {
		size = ReadSize
	}
	return &Stream{
		src: src,
		dec: NewDecoder(),
		buf: make([]byte, size),
	}
}

// Next returns the next event. It returns io.EOF once the source is exhausted
// and every complete record has been delivered, or ctx.Err() once the context
// is done. Read errors are sticky.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.err != nil {
			return Event{}, s.err
		}
		if s.eof {
			return Event{}, io.EOF
		}

		n, err := s.src.Read(s.buf)
		if n > 0 {
			s.queue = append(s.queue, s.dec.Feed(s.buf[:n])...)
		}
		switch {
		case err == io.EOF:
			s.queue = append(s.queue, s.dec.Finish()...)
			s.eof = true
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, ctxErr
			}
			s.err = err
		}
	}
}

// Dropped reports how many malformed records were skipped so far.
func (s *Stream) Dropped() int {
	return s.dec.Dropped()
}

// Close releases the underlying source. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}
