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

// The llm package wraps the generative model that parses coordinate tables.
// The client is rate gated and retries transient failures; responses are
// requested as JSON so callers can decode them directly.
package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/neurostuff/nsingest/config"
)

// retry policy for transient failures (quota errors, service hiccups)
const (
	initialRetryInterval = 2 * time.Second
	maxRetryInterval     = 30 * time.Second
)

// Client is what the create-analyses stage depends on: a model that answers
// one prompt with one JSON document.
type Client interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeminiClient talks to the Gemini API. A single client is shared by all
// analysis workers; the rate gate is safe for concurrent use.
type GeminiClient struct {
	client          *genai.Client
	model           string
	limiter         *rate.Limiter
	maxRetries      uint64
	maxOutputTokens int32
}

// NewGeminiClient builds the client from the llm configuration, resolving
// the API key from its environment variable or the credentials file.
func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	apiKey, err := config.LlmApiKey()
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	maxRps := config.LLM.MaxRps
	if maxRps <= 0 {
		maxRps = 1
	}
	return &GeminiClient{
		client:          client,
		model:           config.LLM.Model,
		limiter:         rate.NewLimiter(rate.Limit(maxRps), 1),
		maxRetries:      uint64(config.LLM.MaxRetries),
		maxOutputTokens: int32(config.LLM.MaxOutputTokens),
	}, nil
}

func (c *GeminiClient) Name() string {
	return c.model
}

// Complete sends one prompt and returns the model's JSON answer, waiting on
// the rate gate first and retrying transient failures with exponential
// backoff.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	generateConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}
	if c.maxOutputTokens > 0 {
		generateConfig.MaxOutputTokens = c.maxOutputTokens
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var text string
	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		response, err := c.client.Models.GenerateContent(ctx, c.model, contents, generateConfig)
		if err != nil {
			return err
		}
		if text = response.Text(); text == "" {
			return &EmptyResponseError{Model: c.model}
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialRetryInterval
	policy.MaxInterval = maxRetryInterval
	err := backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		return "", err
	}
	return text, nil
}
