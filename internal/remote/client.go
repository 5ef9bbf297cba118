// Package remote talks to the hosted record store, object storage and
// auth endpoints over their REST interfaces.
package remote

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
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/runnerr0/procedura/internal/config"
	"github.com/runnerr0/procedura/internal/types"
)

// ErrNotAuthenticated is returned when an operation needs a signed-in user.
var ErrNotAuthenticated = errors.New("user not authenticated")

// SessionStore persists the auth session between runs.
type SessionStore interface {
	LoadSession(ctx context.Context) (*types.AuthSession, error)
	SaveSession(ctx context.Context, session types.AuthSession) error
	ClearSession(ctx context.Context) error
}

// Client is a REST client for one hosted project.
type Client struct {
	baseURL  string
	anonKey  string
	bucket   string
	http     *http.Client
	sessions SessionStore
	logger   *slog.Logger

	// reads are retried on transient failures
	readAttempts uint
	readDelay    time.Duration

	mu      sync.Mutex
	session *types.AuthSession
}

// New builds a client from the remote config section. sessions may be nil,
// in which case the session lives only in memory.
func New(cfg config.RemoteConfig, bucket string, sessions SessionStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		anonKey:  cfg.AnonKey,
		bucket:   bucket,
		http:     &http.Client{Timeout: cfg.Timeout()},
		sessions: sessions,
		logger:   logger.With(slog.String("component", "remote")),

		readAttempts: 3,
		readDelay:    200 * time.Millisecond,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	msg := e.Body
	var parsed struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal([]byte(e.Body), &parsed) == nil {
		for _, m := range []string{parsed.Message, parsed.Msg, parsed.ErrorDescription} {
			if m != "" {
				msg = m
				break
			}
		}
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, msg)
}

func (c *Client) currentSession(ctx context.Context) (*types.AuthSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	if c.sessions == nil {
		return nil, nil
	}
	s, err := c.sessions.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	c.session = s
	return s, nil
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    io.Reader
	headers map[string]string
	// anon skips the bearer token of the signed-in user
	anon bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	token := c.anonKey
	if !r.anon {
		s, err := c.currentSession(ctx)
		if err != nil {
			return err
		}
		if s != nil {
			token = s.AccessToken
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Method: r.method, Path: r.path, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.path, err)
	}
	return nil
}

// get performs an idempotent GET, retrying with backoff while the failure
// looks transient.
func (c *Client) get(ctx context.Context, r request, out any) error {
	r.method = http.MethodGet
	return retry.Do(
		func() error { return c.do(ctx, r, out) },
		retry.Attempts(c.readAttempts),
		retry.Context(ctx),
		retry.Delay(c.readDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying read", slog.String("path", r.path), slog.Uint64("attempt", uint64(n+1)), slog.Any("error", err))
		}),
	)
}

// transient reports whether err is worth another attempt: gateway and
// rate-limit statuses or a transport failure.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Ping checks that the project is reachable. Any HTTP answer counts.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/health", anon: true}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return nil
	}
	return err
}

func expiry(now time.Time, expiresIn int64) int64 {
	return now.Add(time.Duration(expiresIn) * time.Second).Unix()
}
