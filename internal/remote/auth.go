package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/runnerr0/procedura/internal/types"
)

// User is the signed-in user's profile.
type User struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Name             *string `json:"name"`
	AvatarURL        *string `json:"avatar_url"`
	Plan             string  `json:"plan"`
	CreditsRemaining int     `json:"credits_remaining"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignIn exchanges email and password for a session and persists it.
func (c *Client) SignIn(ctx context.Context, email, password string) (*types.AuthSession, error) {
	body, err := jsonBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	var tok tokenResponse
	err = c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/auth/v1/token",
		query:   url.Values{"grant_type": {"password"}},
		body:    body,
		headers: map[string]string{"Content-Type": "application/json"},
		anon:    true,
	}, &tok)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	session := types.AuthSession{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UserID:       tok.User.ID,
		Email:        tok.User.Email,
		ExpiresAt:    expiry(time.Now(), tok.ExpiresIn),
	}
	if c.sessions != nil {
		if err := c.sessions.SaveSession(ctx, session); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()
	c.logger.Info("signed in", slog.String("userId", session.UserID))
	return &session, nil
}

// SignOut revokes the session remotely (best effort) and forgets it locally.
func (c *Client) SignOut(ctx context.Context) error {
	s, err := c.currentSession(ctx)
	if err != nil {
		return err
	}
	if s != nil {
		if err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout"}, nil); err != nil {
			c.logger.Warn("remote sign out failed", slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	if c.sessions != nil {
		if err := c.sessions.ClearSession(ctx); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}
	return nil
}

// UserID resolves the id of the signed-in user.
func (c *Client) UserID(ctx context.Context) (string, error) {
	s, err := c.currentSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", ErrNotAuthenticated
	}
	var u struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, request{path: "/auth/v1/user"}, &u); err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	if u.ID == "" {
		return "", ErrNotAuthenticated
	}
	return u.ID, nil
}

// CurrentUser returns the profile of the signed-in user, or nil when
// nobody is signed in.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	id, err := c.UserID(ctx)
	if errors.Is(err, ErrNotAuthenticated) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []User
	err = c.get(ctx, request{
		path: "/rest/v1/users",
		query: url.Values{
			"select": {"id,email,name,avatar_url,plan,credits_remaining"},
			"id":     {"eq." + id},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
