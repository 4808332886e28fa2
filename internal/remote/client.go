// Package remote talks to the HTTP+JSON store that holds users and feedback.
package remote

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
	"time"

	"go.uber.org/zap"

	"labportal/client/internal/apperr"
	"labportal/client/internal/logging"
	"labportal/client/internal/util"
)

const requestIDHeader = "X-Request-ID"

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "remote"))
	return c
}

// FindUsersByCredentials is the login lookup. An empty slice means no match.
func (c *Client) FindUsersByCredentials(ctx context.Context, name, password string) ([]User, error) {
	var users []User
	q := url.Values{"name": {name}, "password": {password}}
	if err := c.do(ctx, http.MethodGet, "/users", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) FindUsersByName(ctx context.Context, name string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", url.Values{"name": {name}}, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) FindUsersByEmail(ctx context.Context, email string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", url.Values{"email": {email}}, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) CreateUser(ctx context.Context, u NewUser) (User, error) {
	var created User
	if err := c.do(ctx, http.MethodPost, "/users", nil, u, &created); err != nil {
		return User{}, err
	}
	return created, nil
}

func (c *Client) PatchUser(ctx context.Context, id ID, patch UserPatch) (User, error) {
	var updated User
	if err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(id.String()), nil, patch, &updated); err != nil {
		return User{}, err
	}
	return updated, nil
}

func (c *Client) DeleteUser(ctx context.Context, id ID) error {
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(id.String()), nil, nil, nil)
}

// ListFeedback asks the store for newest-first order; callers still sort.
func (c *Client) ListFeedback(ctx context.Context) ([]Feedback, error) {
	var items []Feedback
	q := url.Values{"_sort": {"date"}, "_order": {"desc"}}
	if err := c.do(ctx, http.MethodGet, "/feedbacks", q, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) CreateFeedback(ctx context.Context, f NewFeedback) (Feedback, error) {
	var created Feedback
	if err := c.do(ctx, http.MethodPost, "/feedbacks", nil, f, &created); err != nil {
		return Feedback{}, err
	}
	return created, nil
}

func (c *Client) DeleteFeedback(ctx context.Context, id ID) error {
	return c.do(ctx, http.MethodDelete, "/feedbacks/"+url.PathEscape(id.String()), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	requestID := util.NewID("")
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := c.logger.With(zap.String("request_id", requestID), zap.String("op", op))
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Debug("request cancelled", zap.Duration("elapsed", time.Since(start)))
			return apperr.Cancelled(ctxErr)
		}
		logger.Warn("request failed", zap.Error(err))
		return apperr.Network(op, 0, err)
	}
	defer resp.Body.Close()

	logger.Debug("response", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Network(fmt.Sprintf("%s: status %d", op, resp.StatusCode), resp.StatusCode,
			errors.New(strings.TrimSpace(string(snippet))))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperr.Cancelled(ctxErr)
		}
		return apperr.Network("decode "+op, resp.StatusCode, err)
	}
	return nil
}
