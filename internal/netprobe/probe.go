// Package netprobe performs live connectivity checks.
//
// A passive "online" flag is not enough to decide whether a submission can
// reach the server: captive portals and dead LANs report a link without a
// route. The probe issues a lightweight HEAD request and treats any HTTP
// response within the timeout as reachable.
package netprobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// Result describes a successful probe.
type Result struct {
	RTT time.Duration
}

// HTTPProbe checks connectivity with a HEAD request to a health endpoint.
type HTTPProbe struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*HTTPProbe)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProbe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProbe) {
		p.httpClient = c
	}
}

// NewHTTPProbe creates a probe against url.
func NewHTTPProbe(url string, opts ...Option) (*HTTPProbe, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("netprobe: url must not be empty")
	}
	p := &HTTPProbe{
		url:        url,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Check returns an error when the endpoint cannot be reached within the
// timeout. The HTTP status is irrelevant: a 503 still proves a route.
func (p *HTTPProbe) Check(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("netprobe: create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	res, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("netprobe: %s unreachable: %w", p.url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	_ = res.Body.Close()

	return Result{RTT: time.Since(start)}, nil
}

// EffectiveType maps a round-trip time onto the Network Information API
// connection classes. It is diagnostic only.
func EffectiveType(rtt time.Duration) string {
	switch {
	case rtt >= 2000*time.Millisecond:
		return "slow-2g"
	case rtt >= 1400*time.Millisecond:
		return "2g"
	case rtt >= 270*time.Millisecond:
		return "3g"
	default:
		return "4g"
	}
}
