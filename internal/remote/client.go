// Package remote is the HTTP client for the submit-answer endpoint of the
// learning platform API.
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
	"sync"
	"time"
)

const defaultTimeout = 30 * time.Second

// answerRequest is the body of the submit call.
type answerRequest struct {
	Answer        json.RawMessage `json:"answer"`
	GraphLessonID string          `json:"graph_lesson_id"`
}

// TokenSource resolves the API token. secrets.ParamStore satisfies it.
type TokenSource interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client submits answers to the remote API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	token       string
	tokenSource TokenSource
	tokenParam  string
	tokenOnce   sync.Once
	tokenErr    error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithToken sets a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTokenParameter resolves the bearer token from a parameter store on
// first use and caches it for the process lifetime.
func WithTokenParameter(src TokenSource, name string) Option {
	return func(c *Client) {
		c.tokenSource = src
		c.tokenParam = strings.TrimSpace(name)
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote: base url must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokenSource != nil && c.tokenParam == "" {
		return nil, errors.New("remote: token parameter name must not be empty")
	}
	return c, nil
}

func (c *Client) answerURL(elementID string) string {
	return c.baseURL + "/elements/" + url.PathEscape(elementID) + "/answers"
}

// SubmitAnswer posts {answer, graph_lesson_id} for elementID. submissionID
// is sent as the Idempotency-Key so a retried answer is recorded once.
//
// The response body of a 2xx reply is returned unchanged. Other replies
// yield a *StatusError.
func (c *Client) SubmitAnswer(ctx context.Context, elementID, graphLessonID, submissionID string, payload json.RawMessage) (json.RawMessage, error) {
	if strings.TrimSpace(elementID) == "" {
		return nil, errors.New("remote: element id must not be empty")
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(answerRequest{Answer: payload, GraphLessonID: graphLessonID})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	target := c.answerURL(elementID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if submissionID != "" {
		req.Header.Set("Idempotency-Key", submissionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: submit answer: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &StatusError{
			StatusCode: res.StatusCode,
			URL:        target,
			Body:       strings.TrimSpace(string(buf)),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read response body: %w", err)
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, nil
	}
	if !json.Valid(buf) {
		return nil, fmt.Errorf("remote: response is not JSON")
	}
	return json.RawMessage(buf), nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if c.tokenSource == nil {
		return c.token, nil
	}
	c.tokenOnce.Do(func() {
		v, err := c.tokenSource.GetParameter(ctx, c.tokenParam)
		if err != nil {
			c.tokenErr = fmt.Errorf("remote: fetch api token: %w", err)
			return
		}
		c.token = strings.TrimSpace(v)
		if c.token == "" {
			c.tokenErr = errors.New("remote: api token is empty")
		}
	})
	return c.token, c.tokenErr
}
