// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/gateway"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the reference chat API backend.
type Server struct {
	app      *fiber.App
	gw       gateway.Gateway
	auth     *Authenticator
	validate *validator.Validate
	logger   *zap.Logger
	addr     string
	now      func() time.Time
}

// New builds the server and registers its routes.
func New(gw gateway.Gateway, srvCfg config.ServerConfig, authCfg config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	bodyLimit := srvCfg.BodyLimitKB * 1024
	if bodyLimit <= 0 {
		bodyLimit = 1024 * 1024
	}
	origins := srvCfg.CORSOrigins
	if origins == "" {
		origins = "*"
	}

	s := &Server{
		gw:       gw,
		auth:     NewAuthenticator(authCfg, logger),
		validate: validator.New(),
		logger:   logger,
		addr:     srvCfg.Addr,
		now:      time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "streamchat",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recovery(logger))
	s.app.Use(requestLogger(logger))
	s.app.Use(securityHeaders())
	s.app.Use(corsMiddleware(origins))

	s.setupRoutes()
	return s
}

// App returns the underlying fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Server listening", zap.String("addr", s.addr), zap.Bool("auth", s.auth.Enabled()))
	return s.app.Listen(s.addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()), zap.Bool("auth", s.auth.Enabled()))
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for open requests until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	api.Get("/health", s.handleHealth)
	if s.auth.CanMint() {
		api.Post("/auth/token", s.handleMint)
	}

	protected := api.Group("", s.auth.Middleware())
	protected.Get("/auth/me", s.handleMe)

	protected.Get("/sessions", s.handleListSessions)
	protected.Post("/sessions", s.handleCreateSession)
	protected.Put("/sessions/:id", s.handleUpdateSession)
	protected.Delete("/sessions/:id", s.handleDeleteSession)
	protected.Get("/sessions/:id/messages", s.handleListMessages)

	protected.Post("/chat/stream", s.handleChatStream)
}

// ============================================================================
// ERRORS
// ============================================================================

// errorResponse is the body of every error answer.
type errorResponse struct {
	Error string `json:"error"`
}

// validationError marks a request body that failed validation.
type validationError struct {
	err error
}

func (e *validationError) Error() string { return e.err.Error() }

// handleError maps handler errors to status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal error"

	var fe *fiber.Error
	var ve *validationError
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &fe):
		status, msg = fe.Code, fe.Message
	case errors.As(err, &ve):
		status, msg = fiber.StatusBadRequest, ve.Error()
	case errors.Is(err, gateway.ErrNotFound):
		status, msg = fiber.StatusNotFound, "session not found"
	case errors.Is(err, gateway.ErrUnauthorized):
		status, msg = fiber.StatusUnauthorized, "unauthorized"
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		status, msg = apiErr.Status, apiErr.Message
	default:
		s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(errorResponse{Error: msg})
}

// bind parses a JSON body into dst and validates it.
func (s *Server) bind(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		return &validationError{err: err}
	}
	return nil
}
