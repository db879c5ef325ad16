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

// The extraction package implements the pipeline's third stage: it turns
// downloaded article files into structured content, pulling stereotactic
// coordinate tables out of JATS XML, Elsevier full-text XML, and article
// HTML, and pairs every article with its enriched metadata.
package extraction

import (
	"time"

	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// Space names the stereotactic reference space of a coordinate.
type Space string

const (
	SpaceMni   Space = "MNI"
	SpaceTal   Space = "TAL"
	SpaceOther Space = "OTHER"
)

// Coordinate is one activation peak reported by a table row.
type Coordinate struct {
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Z              float64  `json:"z"`
	Space          Space    `json:"space,omitempty"`
	StatisticValue *float64 `json:"statistic_value,omitempty"`
	StatisticType  string   `json:"statistic_type,omitempty"`
	ClusterSize    *int     `json:"cluster_size,omitempty"`
	IsSubpeak      bool     `json:"is_subpeak"`
	IsDeactivation bool     `json:"is_deactivation"`
}

// Table is one table pulled out of an article, with any stereotactic
// coordinates its rows report.
type Table struct {
	TableID        string         `json:"table_id"`
	RawContentPath string         `json:"raw_content_path,omitempty"`
	TableNumber    string         `json:"table_number,omitempty"`
	Caption        string         `json:"caption,omitempty"`
	Footer         string         `json:"footer,omitempty"`
	Coordinates    []Coordinate   `json:"coordinates"`
	Space          Space          `json:"space,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ContainsCoordinates reports whether any rows parsed as coordinates.
func (t *Table) ContainsCoordinates() bool {
	return len(t.Coordinates) > 0
}

// Content is everything extracted from one article's downloaded files.
type Content struct {
	Slug         string                  `json:"slug"`
	Source       string                  `json:"source"`
	Identifier   *identifiers.Identifier `json:"identifier,omitempty"`
	FullTextPath string                  `json:"full_text_path,omitempty"`
	Tables       []Table                 `json:"tables"`
	ExtractedAt  time.Time               `json:"extracted_at"`
	ErrorMessage string                  `json:"error_message,omitempty"`
}

// HasCoordinates reports whether any table holds coordinates.
func (c *Content) HasCoordinates() bool {
	for i := range c.Tables {
		if c.Tables[i].ContainsCoordinates() {
			return true
		}
	}
	return false
}

// Failed reports whether extraction (or the download before it) went wrong.
func (c *Content) Failed() bool {
	return c.ErrorMessage != ""
}

// Bundle pairs an article's extracted content with its metadata; it is the
// unit of work handed to the create-analyses stage.
type Bundle struct {
	Content  *Content                  `json:"content"`
	Metadata *metadata.ArticleMetadata `json:"metadata"`
}
