// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeranaias/streamchat/internal/config"
)

// subjectKey is the fiber local holding the authenticated subject.
const subjectKey = "subject"

// staticSubject is the subject of requests authenticated by static token.
const staticSubject = "static"

// tokenIssuer is the iss claim of minted tokens.
const tokenIssuer = "streamchat"

// ErrTokenInvalid is returned for a token that fails validation.
var ErrTokenInvalid = errors.New("invalid token")

// ============================================================================
// AUTHENTICATOR
// ============================================================================

// Authenticator validates request credentials and mints development tokens.
type Authenticator struct {
	secret     []byte
	static     string
	cookieName string
	ttl        time.Duration
	allowMint  bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthenticator builds an authenticator from cfg.
func NewAuthenticator(cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	ttl := time.Duration(cfg.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cookie := cfg.CookieName
	if cookie == "" {
		cookie = "session"
	}
	return &Authenticator{
		secret:     []byte(cfg.JWTSecret),
		static:     cfg.StaticToken,
		cookieName: cookie,
		ttl:        ttl,
		allowMint:  cfg.AllowMint && cfg.JWTSecret != "",
		logger:     logger,
		now:        time.Now,
	}
}

// Enabled reports whether requests must be authenticated.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0 || a.static != ""
}

// CanMint reports whether the token endpoint is exposed.
func (a *Authenticator) CanMint() bool {
	return a.allowMint
}

// Mint signs an HS256 token for subject.
func (a *Authenticator) Mint(subject string) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, errors.New("no signing secret configured")
	}
	now := a.now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "failed to sign token")
	}
	return signed, expires, nil
}

// Verify checks a token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrTokenInvalid
	}
	if len(a.secret) > 0 {
		var claims jwt.RegisteredClaims
		parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithTimeFunc(a.now),
		)
		if err == nil && parsed.Valid && claims.Subject != "" {
			return claims.Subject, nil
		}
	}
	if ValidateBearerToken(token, a.static) {
		return staticSubject, nil
	}
	return "", ErrTokenInvalid
}

// Middleware rejects unauthenticated requests with 401. It passes everything
// through when no credentials are configured.
func (a *Authenticator) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !a.Enabled() {
			return c.Next()
		}
		subject, err := a.Verify(a.tokenFrom(c))
		if err != nil {
			a.logger.Warn("Authentication denied",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "unauthorized"})
		}
		c.Locals(subjectKey, subject)
		return c.Next()
	}
}

// tokenFrom reads the bearer token, falling back to the session cookie.
func (a *Authenticator) tokenFrom(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return c.Cookies(a.cookieName)
}

// ============================================================================
// HANDLERS
// ============================================================================

type mintRequest struct {
	Subject string `json:"subject" validate:"required,max=128"`
}

type mintResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type meResponse struct {
	Subject string `json:"subject"`
}

// handleMint issues a token and sets it as an HttpOnly cookie.
func (s *Server) handleMint(c *fiber.Ctx) error {
	var req mintRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	token, expires, err := s.auth.Mint(req.Subject)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     s.auth.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(fiber.StatusCreated).JSON(mintResponse{Token: token, ExpiresAt: expires})
}

// handleMe returns the authenticated subject.
func (s *Server) handleMe(c *fiber.Ctx) error {
	subject, _ := c.Locals(subjectKey).(string)
	if subject == "" {
		subject = "anonymous"
	}
	return c.JSON(meResponse{Subject: subject})
}
