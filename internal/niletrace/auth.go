package niletrace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

// ErrNoToken is returned by TokenExpiry when the client holds no token.
var ErrNoToken = errors.New("no token")

// Signup registers a new account and stores the issued token.
func (c *Client) Signup(ctx context.Context, req models.SignupRequest) (*models.AuthResponse, error) {
	return c.authenticate(ctx, "/auth/signup", req)
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	return c.authenticate(ctx, "/auth/login", req)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%s: response carried no token", path)
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout forgets the stored token. There is no server-side session to end.
func (c *Client) Logout() { c.clearToken() }

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) IsAuthenticated() bool { return c.Token() != "" }

func (c *Client) clearToken() { c.SetToken("") }

// TokenExpiry reads the exp claim of the stored token without verifying its
// signature. ok is false when the token has no exp claim.
func (c *Client) TokenExpiry() (exp time.Time, ok bool, err error) {
	token := c.Token()
	if token == "" {
		return time.Time{}, false, ErrNoToken
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parsing token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}
