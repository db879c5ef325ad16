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

// Package analyses reads statistical analyses out of extracted article
// tables. Each coordinate-bearing table is an independent cache unit: a
// language model turns the table into named analyses once, and every later
// run reuses the cached collection.
package analyses

import (
	"fmt"
	"strings"

	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/identifiers"
)

// Collection groups the analyses one table produced for an article.
type Collection struct {
	Slug            string                  `json:"slug"`
	CoordinateSpace extraction.Space        `json:"coordinate_space,omitempty"`
	Identifier      *identifiers.Identifier `json:"identifier,omitempty"`
	Analyses        []Analysis              `json:"analyses"`
}

// Analysis is one statistical contrast the model read out of a table, with
// enough provenance to trace it back to its source.
type Analysis struct {
	Name         string                  `json:"name,omitempty"`
	Description  string                  `json:"description,omitempty"`
	Coordinates  []extraction.Coordinate `json:"coordinates"`
	TableID      string                  `json:"table_id"`
	TableNumber  string                  `json:"table_number,omitempty"`
	TableCaption string                  `json:"table_caption,omitempty"`
	TableFooter  string                  `json:"table_footer,omitempty"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
}

// Result is the cache unit for one table. Its slug is the cache key
// "<article slug>::<sanitized table id>", so two articles can both report a
// "Table 1" without colliding.
type Result struct {
	Slug             string         `json:"slug"`
	ArticleSlug      string         `json:"article_slug"`
	TableID          string         `json:"table_id"`
	SanitizedTableID string         `json:"sanitized_table_id"`
	Collection       *Collection    `json:"analysis_collection"`
	AnalysisPaths    []string       `json:"analysis_paths,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// Failed reports whether the model run behind this result did not complete.
func (r *Result) Failed() bool {
	return r.ErrorMessage != ""
}

// ArticleAnalyses pairs a bundle with the collections its tables produced,
// keyed by each table's id (disambiguated when an article repeats one).
type ArticleAnalyses struct {
	Bundle      *extraction.Bundle     `json:"bundle"`
	Collections map[string]*Collection `json:"collections"`
}

// SanitizeTableID folds a table id into a lowercase slug of letters, digits
// and single dashes. Ids that sanitize to nothing fall back to the table's
// position. The fold is idempotent: sanitizing a sanitized id is a no-op.
func SanitizeTableID(raw string, index int) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("table-%d", index+1)
	}
	return b.String()
}

// fileSafeSlug makes a cache key usable as a file or package name: lowercase,
// with anything outside letters, digits, dot, dash and underscore folded to a
// dash. Identifier slugs keep their shape since "/" is already "_" there.
func fileSafeSlug(slug string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(slug) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
