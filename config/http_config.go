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

package config

import (
	"fmt"
	"time"
)

// etiquette settings shared by all outbound HTTP clients
type httpConfig struct {
	ContactEmail   string `yaml:"contact_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

func (c *httpConfig) applyDefaults() {
	c.TimeoutSeconds = 60
	c.MaxRetries = 3
}

func (c httpConfig) validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid http timeout_seconds: %d (must be positive)", c.TimeoutSeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid http max_retries: %d", c.MaxRetries)
	}
	return nil
}

func (c httpConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
