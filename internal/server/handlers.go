// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/sse"
)

// ============================================================================
// REQUEST TYPES
// ============================================================================

type createSessionRequest struct {
	Title string `json:"title" validate:"omitempty,max=200"`
	Model string `json:"model" validate:"omitempty,max=100"`
}

type updateSessionRequest struct {
	Title *string `json:"title" validate:"omitempty,min=1,max=200"`
	Model *string `json:"model" validate:"omitempty,min=1,max=100"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(healthResponse{Status: "ok"})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	list, err := s.gw.ListSessions(c.UserContext())
	if err != nil {
		return err
	}
	if list == nil {
		list = []model.Session{}
	}
	return c.JSON(list)
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	rec, err := s.gw.CreateSession(c.UserContext(), model.NewSession(req.Title, req.Model, s.now()))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleUpdateSession(c *fiber.Ctx) error {
	var req updateSessionRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	patch := model.Patch{Title: req.Title, Model: req.Model}
	if patch.IsEmpty() {
		return fiber.NewError(fiber.StatusBadRequest, "nothing to update")
	}
	rec, err := s.gw.UpdateSession(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if err := s.gw.DeleteSession(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	msgs, err := s.gw.ListMessages(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.JSON(msgs)
}

// ============================================================================
// CHAT STREAM
// ============================================================================

// handleChatStream opens the reply and writes it as SSE records. Errors that
// happen before the first byte get a normal status; later ones are sent as an
// error event. A client that disconnects stops the reply, which the gateway
// persists as far as it got.
func (s *Server) handleChatStream(c *fiber.Ctx) error {
	var req gateway.ChatRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	// The writer runs after the handler returns, so the reply gets its own
	// context, canceled when a write to the client fails.
	ctx, cancel := context.WithCancel(context.Background())
	src, err := s.gw.Stream(ctx, req)
	if err != nil {
		cancel()
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sessionID := req.SessionID
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer func() {
			if err := src.Close(); err != nil {
				s.logger.Warn("Failed to close reply", zap.String("session_id", sessionID), zap.Error(err))
			}
		}()

		for {
			ev, err := src.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Reply failed", zap.String("session_id", sessionID), zap.Error(err))
					_, werr := w.Write(sse.Encode(sse.Failure(err.Error())))
					if werr == nil {
						werr = w.Flush()
					}
					if werr != nil {
						s.logger.Debug("Client went away", zap.String("session_id", sessionID), zap.Error(werr))
					}
				}
				return
			}
			if _, err := w.Write(sse.Encode(ev)); err != nil {
				cancel()
				return
			}
			if err := w.Flush(); err != nil {
				s.logger.Debug("Client went away", zap.String("session_id", sessionID))
				cancel()
				return
			}
			if ev.Type == sse.TypeEnd {
				return
			}
		}
	})
	return nil
}
