// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/gateway"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// Configuration constants for the chat API.
const (
	// DefaultTimeout bounds JSON calls. Streams are bounded by their context.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps JSON response bodies.
	MaxResponseSize = 4 * 1024 * 1024

	// DefaultUserAgent identifies the client.
	DefaultUserAgent = "streamchat/1.0"

	apiPrefix = "/api"

	// maxErrorMessage caps error text lifted from a response body.
	maxErrorMessage = 200
)

// =============================================================================
// CLIENT
// =============================================================================

// Client is the remote gateway. Configure it before first use; it is safe
// for concurrent use afterwards.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	token        string
	cookieName   string
	cookieValue  string
	userAgent    string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

var _ gateway.Gateway = (*Client)(nil)

// New creates a client for the API at baseURL (without the /api prefix).
func New(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
		userAgent:    DefaultUserAgent,
		logger:       zap.NewNop(),
	}
}

// WithHTTPClient replaces the HTTP client used for every call. Its Timeout is
// applied to JSON calls only.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	stream := *hc
	stream.Timeout = 0
	c.streamClient = &stream
	return c
}

// WithTimeout sets the timeout of JSON calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	hc := *c.httpClient
	hc.Timeout = timeout
	c.httpClient = &hc
	return c
}

// WithBearerToken authenticates with Authorization: Bearer.
func (c *Client) WithBearerToken(token string) *Client {
	c.token = strings.TrimSpace(token)
	return c
}

// WithCookie authenticates with a session cookie when no token is set.
func (c *Client) WithCookie(name, value string) *Client {
	c.cookieName = name
	c.cookieValue = value
	return c
}

// WithRateLimit allows rps requests per second with the given burst. A
// non-positive rps disables limiting.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithUserAgent sets the User-Agent header.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	c.logger = l
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// SESSIONS
// =============================================================================

// createSessionRequest is the body of POST /sessions. The server assigns the
// id and timestamps.
type createSessionRequest struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// ListSessions implements gateway.Sessions.
func (c *Client) ListSessions(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	if err := c.doJSON(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession implements gateway.Sessions.
func (c *Client) CreateSession(ctx context.Context, s model.Session) (model.Session, error) {
	var out model.Session
	body := createSessionRequest{Title: s.Title, Model: s.Model}
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return model.Session{}, err
	}
	return out, nil
}

// UpdateSession implements gateway.Sessions.
func (c *Client) UpdateSession(ctx context.Context, id string, p model.Patch) (model.Session, error) {
	var out model.Session
	if err := c.doJSON(ctx, http.MethodPut, "/sessions/"+url.PathEscape(id), p, &out); err != nil {
		return model.Session{}, err
	}
	return out, nil
}

// DeleteSession implements gateway.Sessions.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// ListMessages implements gateway.Sessions.
func (c *Client) ListMessages(ctx context.Context, id string) ([]model.Message, error) {
	var out []model.Message
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports whether the API answers.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// =============================================================================
// TRANSPORT
// =============================================================================

// newRequest builds an authenticated request for path under /api.
func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	c.setHeaders(req, body != nil)
	return req, nil
}

// setHeaders sets authentication and content headers.
func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.cookieName != "" && c.cookieValue != "":
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.cookieValue})
	}
}

// wait blocks on the rate limiter.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// doJSON performs one JSON call and decodes a successful body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	c.logger.Debug("API call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "failed to parse %s %s response", method, path)
	}
	return nil
}

// readResponse reads the body through the size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if len(body) > MaxResponseSize {
		return nil, errors.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorBody covers the error shapes the API and common proxies produce.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// handleErrorResponse converts a non-success response to a gateway error.
func handleErrorResponse(status int, body []byte) error {
	msg := errorMessage(body)
	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = gateway.ErrUnauthorized
	case http.StatusNotFound:
		sentinel = gateway.ErrNotFound
	case http.StatusTooManyRequests:
		sentinel = gateway.ErrRateLimited
	default:
		return &gateway.APIError{Status: status, Message: msg}
	}
	if msg == "" {
		return sentinel
	}
	return errors.Wrap(sentinel, msg)
}

// errorMessage extracts the message of an error body, falling back to the
// raw text.
func errorMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, raw := range []json.RawMessage{eb.Error, eb.Detail} {
			if msg := rawMessage(raw); msg != "" {
				return util.TruncateRunes(msg, maxErrorMessage)
			}
		}
		if eb.Message != "" {
			return util.TruncateRunes(eb.Message, maxErrorMessage)
		}
		return ""
	}
	return util.TruncateRunes(util.OneLine(string(body)), maxErrorMessage)
}

// rawMessage reads either a string or an object with a message field.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}
