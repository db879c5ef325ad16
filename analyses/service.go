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
	"encoding/json"
	"strings"

	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/llm"
	"github.com/neurostuff/nsingest/metadata"
)

// the response contract every per-table prompt opens with
const promptContract = `You extract brain activation analyses from a table in a neuroimaging article.
Respond with a single JSON object and nothing else, shaped as:
{"analyses": [{"name": "...", "description": "...", "points": [{"coordinates": [x, y, z], "space": "MNI" | "TAL" | null, "values": [{"value": 4.2, "kind": "t-statistic"}]}]}]}
Rules:
- group rows that report the same contrast or condition into one analysis
- every point needs exactly three numeric stereotactic coordinates
- "kind" is one of: z-statistic, t-statistic, f-statistic, correlation, p-value, beta, other
- if the table reports no stereotactic coordinates, respond {"analyses": []}`

// Service prompts the model with one table at a time and decodes its
// structured answers.
type Service struct {
	client llm.Client
}

func NewService(client llm.Client) *Service {
	return &Service{client: client}
}

// Analyze reads the analyses out of one of the bundle's tables.
func (s *Service) Analyze(ctx context.Context, bundle *extraction.Bundle,
	table *extraction.Table) ([]Analysis, error) {
	answer, err := s.client.Complete(ctx, buildPrompt(bundle.Metadata, table))
	if err != nil {
		return nil, err
	}
	return decodeAnalyses(bundle.Content.Slug, answer, table)
}

// buildPrompt lays out the article context and the table itself under the
// response contract. Empty sections are left out.
func buildPrompt(meta *metadata.ArticleMetadata, table *extraction.Table) string {
	var b strings.Builder
	b.WriteString(promptContract)
	b.WriteString("\n")
	if meta != nil {
		writeSection(&b, "Article title", meta.Title)
		writeSection(&b, "Abstract", meta.Abstract)
	}
	writeSection(&b, "Table id", table.TableID)
	writeSection(&b, "Table number", table.TableNumber)
	writeSection(&b, "Caption", table.Caption)
	writeSection(&b, "Footer", table.Footer)
	writeSection(&b, "Table details", encodeTableMetadata(table.Metadata))
	writeSection(&b, "Table", tableText(table))
	return b.String()
}

func writeSection(b *strings.Builder, heading, body string) {
	if body == "" {
		return
	}
	b.WriteString("\n")
	b.WriteString(heading)
	b.WriteString(":\n")
	b.WriteString(body)
	b.WriteString("\n")
}

// tableText returns the flattened grid the extractor stored with the table.
func tableText(table *extraction.Table) string {
	if text, ok := table.Metadata["text"].(string); ok {
		return text
	}
	return ""
}

// encodeTableMetadata renders the table's remaining metadata as JSON; the
// grid text gets its own prompt section.
func encodeTableMetadata(metadata map[string]any) string {
	trimmed := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if key != "text" {
			trimmed[key] = value
		}
	}
	if len(trimmed) == 0 {
		return ""
	}
	encoded, err := json.Marshal(trimmed)
	if err != nil {
		return ""
	}
	return string(encoded)
}
