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

// The pond package implements the pipeline's final stage: it mirrors every
// uploaded article into the ns-pond tree, one directory per base study, with
// the processed artifacts under processed/<source>/ and the raw files they
// came from under source/<source>/. The mirror is additive: files are written
// one at a time, existing files survive unless overwriting is configured, and
// an article missing some of its inputs is mirrored as far as they go.
package pond

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/neurostore"
)

// Inputs carries what the run produced for the uploaded articles, keyed by
// article slug. Entries may be missing or nil; the stage hydrates gaps from
// the download, extract and create-analyses caches.
type Inputs struct {
	Outcomes  []*neurostore.UploadOutcome
	Articles  map[string]*analyses.ArticleAnalyses
	Downloads map[string]*downloads.Result
}

// syncItem is one uploaded article paired with whatever upstream artifacts
// are on hand for mirroring. Any field but the outcome may be nil.
type syncItem struct {
	Outcome     *neurostore.UploadOutcome
	Bundle      *extraction.Bundle
	Collections map[string]*analyses.Collection
	Download    *downloads.Result
}

func (item *syncItem) content() *extraction.Content {
	if item.Bundle == nil {
		return nil
	}
	return item.Bundle.Content
}

// analysisLine is one analyses.jsonl record: the analysis as the model
// produced it, tagged with its collection's coordinate space.
type analysisLine struct {
	analyses.Analysis
	CoordinateSpace extraction.Space `json:"coordinate_space,omitempty"`
}

// sortedCollections flattens the per-table map in key order so the mirror is
// stable across runs.
func sortedCollections(collections map[string]*analyses.Collection) []*analyses.Collection {
	keys := make([]string, 0, len(collections))
	for key := range collections {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	sorted := make([]*analyses.Collection, 0, len(keys))
	for _, key := range keys {
		if collections[key] != nil {
			sorted = append(sorted, collections[key])
		}
	}
	return sorted
}

// rawRelativePath places a downloaded file inside the mirror the way the
// source laid it out on disk. Files outside the article's artifact directory
// keep just their name.
func rawRelativePath(result *downloads.Result, file *downloads.DownloadedFile) string {
	if result.Identifier != nil {
		base := downloads.ArtifactDir(result.Identifier, result.Source)
		if rel, err := filepath.Rel(base, file.Path); err == nil &&
			rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rel
		}
	}
	return filepath.Base(file.Path)
}

// textFileName names the mirrored full text, keeping the original extension.
func textFileName(fullTextPath string) string {
	return "text" + strings.ToLower(filepath.Ext(fullTextPath))
}
