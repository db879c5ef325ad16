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

import "fmt"

// settings for the table-parsing language model client
type llmConfig struct {
	Model           string  `yaml:"model"`
	ApiKeyEnv       string  `yaml:"api_key_env"`
	MaxRps          float64 `yaml:"max_rps"`
	MaxRetries      int     `yaml:"max_retries"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

func (c *llmConfig) applyDefaults() {
	c.Model = "gemini-2.0-flash"
	c.ApiKeyEnv = "NSINGEST_LLM_API_KEY"
	c.MaxRps = 1
	c.MaxRetries = 3
	c.MaxOutputTokens = 8192
}

func (c llmConfig) validate() error {
	if c.Model == "" {
		return fmt.Errorf("no llm model was provided")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid llm max_retries: %d", c.MaxRetries)
	}
	return nil
}
