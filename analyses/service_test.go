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

package analyses

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// a model client that answers from a script and records every prompt
type scriptedClient struct {
	answer string
	err    error

	mutex   sync.Mutex
	prompts []string
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Complete(_ context.Context, prompt string) (string, error) {
	c.mutex.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mutex.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

func (c *scriptedClient) calls() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.prompts)
}

func (c *scriptedClient) lastPrompt() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

// one coordinate-bearing table the way the extractors shape them
func coordinateTable(id string) extraction.Table {
	stat := 5.1
	return extraction.Table{
		TableID:     id,
		TableNumber: "1",
		Caption:     "Peak activations during the task",
		Footer:      "FWE corrected p < .05",
		Space:       extraction.SpaceMni,
		Coordinates: []extraction.Coordinate{
			{X: -44, Y: 12, Z: 8, Space: extraction.SpaceMni,
				StatisticValue: &stat, StatisticType: "t-statistic"},
		},
		Metadata: map[string]any{
			"n_rows": 1, "n_columns": 5,
			"text": "Region | x | y | z | t\nM1 | -44 | 12 | 8 | 5.1",
		},
	}
}

// a table with nothing to analyze
func textTable(id string) extraction.Table {
	return extraction.Table{
		TableID:  id,
		Caption:  "Participant demographics",
		Metadata: map[string]any{"n_rows": 2, "n_columns": 2, "text": "Group | N"},
	}
}

func analysisBundle(pmid string, tables ...extraction.Table) *extraction.Bundle {
	id := identifiers.New(pmid, "", "")
	return &extraction.Bundle{
		Content: &extraction.Content{
			Slug:        id.Slug(),
			Source:      config.SourcePubget,
			Identifier:  id,
			Tables:      tables,
			ExtractedAt: time.Now().UTC(),
		},
		Metadata: &metadata.ArticleMetadata{
			Title:    "Mapping the motor cortex",
			Abstract: "We mapped the motor cortex with fMRI.",
			Source:   config.ProviderPubmed,
		},
	}
}

const motorAnswer = `{"analyses": [{"name": "motor task", "description": "finger tapping",
	"points": [{"coordinates": [-44, 12, 8], "space": "MNI", "values": [{"value": 5.1, "kind": "t-statistic"}]}]}]}`

func TestServicePromptCarriesArticleContext(t *testing.T) {
	assert := assert.New(t)
	client := &scriptedClient{answer: `{"analyses": []}`}
	bundle := analysisBundle("11111", coordinateTable("Table 1"))

	_, err := NewService(client).Analyze(context.Background(), bundle, &bundle.Content.Tables[0])
	assert.Nil(err)

	prompt := client.lastPrompt()
	assert.Contains(prompt, `{"analyses": [`, "the prompt should open with the response contract")
	assert.Contains(prompt, "Mapping the motor cortex")
	assert.Contains(prompt, "We mapped the motor cortex with fMRI.")
	assert.Contains(prompt, "Peak activations during the task")
	assert.Contains(prompt, "FWE corrected p < .05")
	assert.Contains(prompt, "M1 | -44 | 12 | 8 | 5.1")
	assert.Contains(prompt, `"n_rows":1`)
}

func TestServiceDecodesAnswer(t *testing.T) {
	assert := assert.New(t)
	client := &scriptedClient{answer: motorAnswer}
	bundle := analysisBundle("11111", coordinateTable("Table 1"))

	analyses, err := NewService(client).Analyze(context.Background(), bundle, &bundle.Content.Tables[0])
	assert.Nil(err)
	assert.Len(analyses, 1)
	assert.Equal("motor task", analyses[0].Name)
	assert.Equal("Table 1", analyses[0].TableID)
	assert.Equal("1", analyses[0].TableNumber)
	assert.Len(analyses[0].Coordinates, 1)
	assert.Equal(-44.0, analyses[0].Coordinates[0].X)
}

func TestServicePassesTransportErrorsThrough(t *testing.T) {
	assert := assert.New(t)
	client := &scriptedClient{err: errors.New("quota exhausted")}
	bundle := analysisBundle("11111", coordinateTable("Table 1"))

	_, err := NewService(client).Analyze(context.Background(), bundle, &bundle.Content.Tables[0])
	assert.NotNil(err)
	var formatErr *ResponseFormatError
	assert.False(errors.As(err, &formatErr), "transport failures should keep their own type")
}
