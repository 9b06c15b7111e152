// Package backend talks to the optional Daily Brief account API: login with
// an API key, then bearer-token reads of the user's brief, countdowns and
// nameday.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/kjstillabower/daily-brief/internal/models"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/storage"
)

// TokenKey is the key-value key holding the session token.
const TokenKey = "jwt_token"

var (
	ErrNotConfigured = errors.New("backend not configured")
	ErrInvalidURL    = errors.New("invalid backend url")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("backend rate limited")
	ErrNetwork       = errors.New("network error")
	ErrDecode        = errors.New("failed to parse data")
)

// ServerError is a well-formed response with success set to false.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// envelope wraps every /api/v2 response.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Success   bool        `json:"success"`
	User      models.User `json:"user"`
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int         `json:"expires_in"`
}

// RemoteBrief is the server-side brief. Weather is left raw since the local
// service computes its own.
type RemoteBrief struct {
	User           models.User           `json:"user"`
	ModulesEnabled models.ModulesEnabled `json:"modules_enabled"`
	Weather        json.RawMessage       `json:"weather,omitempty"`
	Countdowns     []models.Countdown    `json:"countdowns,omitempty"`
	Nameday        *models.Nameday       `json:"nameday,omitempty"`
	GeneratedAt    string                `json:"generated_at"`
}

type Client struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	kv      storage.Store
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string
	user  *models.User
}

// New returns a client with any token saved by an earlier session.
func New(ctx context.Context, baseURL, apiKey string, timeout time.Duration, kv storage.Store, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: u,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		kv:      kv,
		logger:  logger,
		now:     time.Now,
	}

	raw, err := kv.Get(ctx, TokenKey)
	switch {
	case err == nil:
		c.token = string(raw)
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("load session token failed", zap.Error(err))
	}
	return c, nil
}

// IsAuthenticated reports whether a token is held and, when it carries an
// exp claim, has not expired. The signature is not checked; the server does.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return false
	}
	return !tokenExpired(token, c.now())
}

func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens are accepted until the server rejects them.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

// CurrentUser is the user returned by the last Login in this process, or nil.
func (c *Client) CurrentUser() *models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Login authenticates and stores the session token.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	body, err := json.Marshal(authRequest{Email: email, Password: password})
	if err != nil {
		return models.User{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/users/authenticate"), bytes.NewReader(body))
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	raw, err := c.do(req, "authenticate")
	if err != nil {
		return models.User{}, err
	}
	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !resp.Success || resp.Token == "" {
		return models.User{}, &ServerError{Message: "Authentication failed"}
	}

	if err := c.kv.Put(ctx, TokenKey, []byte(resp.Token)); err != nil {
		return models.User{}, fmt.Errorf("save session token: %w", err)
	}
	c.mu.Lock()
	c.token = resp.Token
	user := resp.User
	c.user = &user
	c.mu.Unlock()
	c.logger.Info("backend login succeeded", zap.String("username", resp.User.Username))
	return resp.User, nil
}

// Logout forgets the token locally.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.user = nil
	c.mu.Unlock()
	if err := c.kv.Delete(ctx, TokenKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete session token: %w", err)
	}
	return nil
}

func (c *Client) DailyBrief(ctx context.Context) (RemoteBrief, error) {
	var env envelope[*RemoteBrief]
	if err := c.get(ctx, "/api/v2/daily-brief", "daily_brief", &env); err != nil {
		return RemoteBrief{}, err
	}
	if !env.Success || env.Data == nil {
		return RemoteBrief{}, &ServerError{Message: orDefault(env.Error, "Unknown error")}
	}
	return *env.Data, nil
}

func (c *Client) Countdowns(ctx context.Context) ([]models.Countdown, error) {
	var env envelope[[]models.Countdown]
	if err := c.get(ctx, "/api/v2/countdowns", "countdowns", &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &ServerError{Message: orDefault(env.Error, "Failed to fetch countdowns")}
	}
	if env.Data == nil {
		return []models.Countdown{}, nil
	}
	return env.Data, nil
}

// Nameday returns today's nameday, or nil when the server has none.
func (c *Client) Nameday(ctx context.Context) (*models.Nameday, error) {
	var env envelope[*models.Nameday]
	if err := c.get(ctx, "/api/v2/nameday", "nameday", &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) get(ctx context.Context, path, endpoint string, out any) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req, endpoint)
	if errors.Is(err, ErrUnauthorized) {
		if logoutErr := c.Logout(ctx); logoutErr != nil {
			c.logger.Warn("clear rejected token failed", zap.Error(logoutErr))
		}
		return err
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// do sends req and maps transport and status failures. The body is returned
// for any other status so the envelope can carry the server's message.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	if corrID := observability.CorrelationID(req.Context()); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		observability.BackendCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()
	observability.BackendCallsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	return raw, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
