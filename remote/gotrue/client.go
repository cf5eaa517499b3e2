// Package gotrue implements reviewcache.Auth against a GoTrue-compatible
// authentication service.
package gotrue

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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

// refreshMargin is how long before expiry an access token is refreshed.
const refreshMargin = 30 * time.Second

// APIError is a non-2xx response from the auth service.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"error_description"`
	Msg     string `json:"msg"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Msg
	}
	return fmt.Sprintf("auth: status %d: %s %s", e.Status, e.Code, msg)
}

// Is lets rejected credentials match reviewcache.ErrNoSession.
func (e *APIError) Is(target error) bool {
	return target == reviewcache.ErrNoSession && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

type Config struct {
	// URL is the auth service base, e.g. https://project.example.com/auth/v1.
	URL    string
	APIKey string

	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Client holds the current session in memory and refreshes it on demand.
type Client struct {
	base   *url.URL
	apiKey string
	hc     *http.Client
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	session *reviewcache.Session
}

var _ reviewcache.Auth = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, caches.ValidationError{Reason: "auth url required"}
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, caches.ValidationError{Reason: fmt.Sprintf("auth url: %v", err)}
	}

	c := &Client{
		base:   base,
		apiKey: cfg.APIKey,
		hc:     cfg.HTTPClient,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: 10 * time.Second}
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	} `json:"user"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.clock.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.DebugContext(ctx, "auth request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", c.clock.Since(start))

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// toSession converts a token response, filling gaps from the access token's claims.
func (c *Client) toSession(tr tokenResponse) (*reviewcache.Session, error) {
	if tr.AccessToken == "" {
		return nil, nil
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, &claims); err != nil {
		return nil, fmt.Errorf("auth: parse access token: %w", err)
	}

	s := &reviewcache.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = c.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	}

	if tr.User != nil {
		s.User = reviewcache.User{ID: tr.User.ID, Email: tr.User.Email}
	} else {
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("auth: token subject: %w", err)
		}
		s.User = reviewcache.User{ID: id}
	}
	return s, nil
}

func (c *Client) grant(ctx context.Context, grantType string, body any) (*reviewcache.Session, error) {
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {grantType}}, "", body, &tr); err != nil {
		return nil, err
	}
	return c.toSession(tr)
}

func (c *Client) setSession(s *reviewcache.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func copySession(s *reviewcache.Session) *reviewcache.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Session returns the current session, refreshing it when the access token
// is about to expire. A rejected refresh signs the client out.
func (c *Client) Session(ctx context.Context) (*reviewcache.Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return nil, nil
	}
	if s.ExpiresAt.IsZero() || c.clock.Now().Add(refreshMargin).Before(s.ExpiresAt) {
		return copySession(s), nil
	}
	if s.RefreshToken == "" {
		c.setSession(nil)
		return nil, nil
	}

	refreshed, err := c.grant(ctx, "refresh_token", map[string]string{"refresh_token": s.RefreshToken})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		c.logger.InfoContext(ctx, "refresh rejected, signing out", "status", apiErr.Status)
		c.setSession(nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.setSession(refreshed)
	return copySession(refreshed), nil
}

// RestoreSession installs a persisted session unless the client already
// holds one. An expired access token is refreshed on the next Session call.
func (c *Client) RestoreSession(s *reviewcache.Session) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.session = copySession(s)
	}
}

// User asks the server who owns accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (*reviewcache.User, error) {
	var u struct {
		ID    uuid.UUID `json:"id"`
		Email string    `json:"email"`
	}
	if err := c.do(ctx, http.MethodGet, "user", nil, accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &reviewcache.User{ID: u.ID, Email: u.Email}, nil
}

// SignOut revokes the session server-side and always forgets it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "logout", nil, s.AccessToken, nil, nil)
	if errors.Is(err, reviewcache.ErrNoSession) {
		return nil
	}
	return err
}

func (c *Client) signIn(ctx context.Context, grantType string, body any) (*reviewcache.Session, error) {
	s, err := c.grant(ctx, grantType, body)
	if err != nil {
		return nil, err
	}
	c.setSession(s)
	return copySession(s), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*reviewcache.Session, error) {
	return c.signIn(ctx, "password", map[string]string{"email": email, "password": password})
}

func (c *Client) SignInWithIDToken(ctx context.Context, provider, idToken string) (*reviewcache.Session, error) {
	return c.signIn(ctx, "id_token", map[string]string{"provider": provider, "id_token": idToken})
}

// SignUp registers a user. The returned session is nil when the service
// requires email confirmation before issuing tokens.
func (c *Client) SignUp(ctx context.Context, email, password string) (*reviewcache.Session, error) {
	var tr tokenResponse
	if err := c.do(ctx, http.MethodPost, "signup", nil, "", map[string]string{"email": email, "password": password}, &tr); err != nil {
		return nil, err
	}
	s, err := c.toSession(tr)
	if err != nil {
		return nil, err
	}
	if s != nil {
		c.setSession(s)
	}
	return copySession(s), nil
}
