// Package remote is the HTTP client of the external tree service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"petri/pkg/domain"
)

const (
	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// MaxResponseSize is the maximum response body size (10MB).
	MaxResponseSize = 10 * 1024 * 1024
)

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; 0 disables limiting
	HTTPClient *http.Client
}

// Client calls the tree service REST API.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// StatusError is a non-2xx response; Detail carries the service's `detail` field.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// New builds a client for cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.InvalidArgumentf("invalid base url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &Client{base: base, http: hc, logger: logger}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
	ID          int64  `json:"id"`
	Username    string `json:"username"`
}

func (r authResponse) normalize() domain.LoginResponse {
	id := r.UserID
	if id == 0 {
		id = r.ID
	}
	return domain.LoginResponse{AccessToken: r.AccessToken, TokenType: r.TokenType, UserID: id, Username: r.Username}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (domain.LoginResponse, error) {
	var out authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Username: username, Password: password}, &out); err != nil {
		return domain.LoginResponse{}, domain.RemoteFailure(err, "login")
	}
	return out.normalize(), nil
}

// Register creates an account and returns its session token.
func (c *Client) Register(ctx context.Context, email, password, username string) (domain.LoginResponse, error) {
	var out authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", registerRequest{Email: email, Password: password, Username: username}, &out); err != nil {
		return domain.LoginResponse{}, domain.RemoteFailure(err, "register")
	}
	return out.normalize(), nil
}

// ListTrees fetches the caller's trees. The service answers with either a bare
// array or an object wrapping it under "trees".
func (c *Client) ListTrees(ctx context.Context, token string) ([]domain.TreeRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/trees", token, nil, &raw); err != nil {
		return nil, domain.RemoteFailure(err, "list trees")
	}
	wire, err := decodeTreeList(raw)
	if err != nil {
		return nil, domain.RemoteFailure(err, "list trees")
	}
	out := make([]domain.TreeRecord, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.record())
	}
	return out, nil
}

// CreateTree plants a tree remotely and returns the authoritative record.
func (c *Client) CreateTree(ctx context.Context, token string, req domain.PlantRequest) (domain.TreeRecord, error) {
	var out wireTree
	if err := c.do(ctx, http.MethodPost, "/trees", token, req, &out); err != nil {
		return domain.TreeRecord{}, domain.RemoteFailure(err, "create tree")
	}
	rec := out.record()
	if err := rec.Validate(); err != nil {
		return domain.TreeRecord{}, domain.RemoteFailure(err, "create tree")
	}
	return rec, nil
}

// MintToken mints the NFT token of a tree.
func (c *Client) MintToken(ctx context.Context, token string, id domain.TreeID) (domain.MintResult, error) {
	var out domain.MintResult
	if err := c.do(ctx, http.MethodPost, "/trees/"+id.Key()+"/mint", token, struct{}{}, &out); err != nil {
		return domain.MintResult{}, domain.RemoteFailure(err, "mint token")
	}
	if out.TreeID == 0 {
		out.TreeID = id
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if len(payload) > MaxResponseSize {
		return errors.Newf("response body too large: %d bytes (max %d)", len(payload), MaxResponseSize)
	}
	c.logger.Debug("request complete",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.Unauthenticated(method + " " + path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Detail: errorDetail(payload)}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// errorDetail extracts the `detail` field; FastAPI validation errors carry a list there.
func errorDetail(payload []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(body.Detail)
}
