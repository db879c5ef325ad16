// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// The webclient package provides the outbound HTTP plumbing shared by every
// backend client: an HSTS-enabled secure client that refuses downgraded
// redirects, a per-client request rate gate, and exponential-backoff retries
// for transient failures.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/StalkR/hsts"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// retry policy for transient failures (network errors, 429s, 5xx statuses)
const (
	defaultMaxRetries      = 3
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 16 * time.Second
	backoffMultiplier      = 2.0
)

// Client wraps an HTTP client with the etiquette required by the public APIs
// this pipeline talks to. A single Client is shared by all of a backend's
// workers; the rate gate is safe for concurrent use.
type Client struct {
	http            http.Client
	limiter         *rate.Limiter
	userAgent       string
	contactEmail    string
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(*Client)

// WithRateLimit enforces a minimum interval of 1/requestsPerSecond between
// outbound requests.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		}
	}
}

// WithUserAgent sets the User-Agent header applied to requests that don't
// carry their own.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

// WithContactEmail records the operator's contact address. It is appended to
// the User-Agent (mailto form); backends that need it as a query parameter
// read it back via ContactEmail.
func WithContactEmail(email string) Option {
	return func(c *Client) { c.contactEmail = email }
}

func WithMaxRetries(retries uint64) Option {
	return func(c *Client) { c.maxRetries = retries }
}

// New creates a secure client with the given timeout. The client enables
// HTTP Strict Transport Security and follows redirects only as long as they
// stay on https.
func New(timeout time.Duration, options ...Option) *Client {
	client := Client{
		http: http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.URL.Scheme == "http" {
					return &DowngradedRedirectError{
						Endpoint: fmt.Sprintf("%s%s", req.URL.Host, req.URL.Path),
					}
				}
				return nil
			},
		},
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	client.http.Transport = hsts.New(client.http.Transport) // enable HSTS
	for _, option := range options {
		option(&client)
	}
	return &client
}

func (c *Client) ContactEmail() string {
	return c.contactEmail
}

// Do performs a request, waiting on the rate gate first, then retrying
// transient failures with exponential backoff. Responses with status below
// 500 (other than 429) are returned to the caller unexamined.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if req.Header.Get("User-Agent") == "" {
		if agent := c.agentString(); agent != "" {
			req.Header.Set("User-Agent", agent)
		}
	}

	var response *http.Response
	attempt := func() error {
		if req.Body != nil {
			if req.GetBody == nil {
				return backoff.Permanent(errors.New("request body is not replayable"))
			}
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Body = body
		}
		resp, err := c.http.Do(req)
		if err != nil {
			var downgraded *DowngradedRedirectError
			if errors.As(err, &downgraded) {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return &TransientStatusError{Url: req.URL.String(), StatusCode: resp.StatusCode}
		}
		response = resp
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = c.maxInterval
	policy.Multiplier = backoffMultiplier
	err := backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), req.Context()))
	if err != nil {
		return nil, err
	}
	return response, nil
}

// Get issues a GET for the given URL with the client's etiquette applied.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *Client) agentString() string {
	switch {
	case c.userAgent != "" && c.contactEmail != "":
		return fmt.Sprintf("%s (mailto:%s)", c.userAgent, c.contactEmail)
	case c.userAgent != "":
		return c.userAgent
	case c.contactEmail != "":
		return fmt.Sprintf("nsingest (mailto:%s)", c.contactEmail)
	}
	return ""
}
