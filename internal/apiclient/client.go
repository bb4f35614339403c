package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"schoolbus-tracker/internal/logging"
	"schoolbus-tracker/internal/metrics"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrMissingToken = errors.New("missing token, please log in again")
)

const maxBodyBytes = 10 << 20

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// TokenSource provides the bearer token and forgets it when the API
// rejects it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ClearToken(ctx context.Context) error
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewClient(baseURL string, httpClient *http.Client, m *metrics.Collector, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		metrics: m,
		logger:  logger,
	}, nil
}

// SetTokenSource wires the session that owns the bearer token.
func (c *Client) SetTokenSource(ts TokenSource) { c.tokens = ts }

func (c *Client) BaseURL() string { return c.baseURL }

// do sends one JSON request. When auth is set the bearer token is required.
func (c *Client) do(ctx context.Context, method, path string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(method, "network_error")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.observe(method, fmt.Sprintf("%dxx", resp.StatusCode/100))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
		if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
			if err := c.tokens.ClearToken(ctx); err != nil {
				logging.LogError(c.logger, "failed to clear rejected token", err)
			}
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrMissingToken
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

func (c *Client) observe(method, class string) {
	if c.metrics != nil {
		c.metrics.APIRequests.WithLabelValues(method, class).Inc()
	}
}

// errorMessage prefers the JSON "message" field, then the raw body.
func errorMessage(data []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" && !strings.HasPrefix(s, "{") {
		return s
	}
	return fmt.Sprintf("HTTP error %d", status)
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, true, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, true, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPut, path, true, in, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, true, nil, nil)
}

// Credentials are posted to the session endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

type SessionResponse struct {
	Token     string `json:"token"`
	User      User   `json:"user"`
	ExpiresIn int    `json:"expiresIn,omitempty"` // seconds
}

// CreateSession logs in. It does not need a token.
func (c *Client) CreateSession(ctx context.Context, creds Credentials) (SessionResponse, error) {
	var out SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", false, creds, &out); err != nil {
		return SessionResponse{}, err
	}
	if out.Token == "" {
		return SessionResponse{}, fmt.Errorf("session response carries no token")
	}
	return out, nil
}

// ForgotPassword asks the API to send a reset link; returns its message.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", &ValidationError{Entity: "forgot password", Missing: []string{"email"}}
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/forgot-password", false, map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
