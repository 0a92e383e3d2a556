// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/sse"
)

// Stream implements gateway.Streamer. The returned source reads the response
// body incrementally; closing it releases the connection. ctx must stay alive
// for as long as the source is read.
func (c *Client) Stream(ctx context.Context, req gateway.ChatRequest) (gateway.EventSource, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/stream", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "chat stream request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, rerr := readResponse(resp)
		if rerr != nil {
			return nil, rerr
		}
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	c.logger.Debug("Chat stream opened",
		zap.String("session_id", req.SessionID),
		zap.String("model", req.Model),
		zap.Duration("ttfb", time.Since(start)))

	return &eventSource{Stream: sse.NewStream(resp.Body), logger: c.logger}, nil
}

// eventSource logs what the decoder dropped once the stream is closed.
type eventSource struct {
	*sse.Stream
	logger *zap.Logger
}

func (s *eventSource) Close() error {
	if n := s.Dropped(); n > 0 {
		s.logger.Debug("Dropped malformed stream records", zap.Int("count", n))
	}
	return s.Stream.Close()
}
