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

package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/config"
)

func initLlmConfig(t *testing.T, extraYaml string) {
	root := t.TempDir()
	yaml := fmt.Sprintf(`
dirs:
  data_root: %s/data
  cache_root: %s/cache
  ns_pond_root: %s/pond
%s`, root, root, root, extraYaml)
	if err := config.Init([]byte(yaml)); err != nil {
		t.Fatalf("couldn't initialize configuration: %s", err.Error())
	}
}

func TestNewGeminiClientNeedsApiKey(t *testing.T) {
	assert := assert.New(t)
	initLlmConfig(t, "")
	t.Setenv("NSINGEST_LLM_API_KEY", "")

	_, err := NewGeminiClient(context.Background())
	assert.Error(err, "Without a key the client should not be created")
}

func TestNewGeminiClientReadsConfiguration(t *testing.T) {
	assert := assert.New(t)
	initLlmConfig(t, `
llm:
  model: gemini-2.0-flash
  max_rps: 2
  max_retries: 1`)
	t.Setenv("NSINGEST_LLM_API_KEY", "k-test")

	client, err := NewGeminiClient(context.Background())
	assert.NoError(err, "The client should be created")
	assert.Equal("gemini-2.0-flash", client.Name(), "The client should report its model")
	assert.Equal(uint64(1), client.maxRetries, "The retry bound should come from configuration")
}
