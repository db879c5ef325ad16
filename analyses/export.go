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
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"
)

// Exporter mirrors finished articles into a browsable tree: one directory
// per article with the bibliographic metadata, the extracted tables, the
// analyses, the full text when on disk, and a frictionless manifest tying
// them together.
type Exporter struct {
	root      string
	overwrite bool
}

func NewExporter(root string, overwrite bool) *Exporter {
	return &Exporter{root: root, overwrite: overwrite}
}

// Export writes one article's mirror under the export root. An already
// exported article is left alone unless overwriting is on.
func (e *Exporter) Export(article *ArticleAnalyses) error {
	content := article.Bundle.Content
	dir := filepath.Join(e.root, fileSafeSlug(content.Slug))
	manifestPath := filepath.Join(dir, "datapackage.json")
	if !e.overwrite {
		if _, err := os.Stat(manifestPath); err == nil {
			return nil
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	resources := []any{}
	if article.Bundle.Metadata != nil {
		encoded, err := json.MarshalIndent(article.Bundle.Metadata, "", "  ")
		if err != nil {
			return err
		}
		if err = os.WriteFile(filepath.Join(dir, "metadata.json"), encoded, 0644); err != nil {
			return err
		}
		resources = append(resources, resourceDescriptor("metadata", "metadata.json", "json", len(encoded)))
	}

	size, err := writeJsonLines(filepath.Join(dir, "tables.jsonl"), content.Tables)
	if err != nil {
		return err
	}
	resources = append(resources, resourceDescriptor("tables", "tables.jsonl", "jsonl", size))

	size, err = writeJsonLines(filepath.Join(dir, "analyses.jsonl"), sortedCollections(article.Collections))
	if err != nil {
		return err
	}
	resources = append(resources, resourceDescriptor("analyses", "analyses.jsonl", "jsonl", size))

	if content.FullTextPath != "" {
		if resource := e.copyFullText(dir, content.FullTextPath); resource != nil {
			resources = append(resources, resource)
		}
	}

	descriptor := map[string]any{
		"name":      fileSafeSlug(content.Slug),
		"resources": resources,
		"created":   time.Now().Format(time.RFC3339),
		"profile":   "data-package",
		"keywords":  []any{"neurostore", "analyses"},
	}
	if article.Bundle.Metadata != nil && article.Bundle.Metadata.Title != "" {
		descriptor["title"] = article.Bundle.Metadata.Title
	}

	manifest, err := datapackage.New(descriptor, dir, validator.InMemoryLoader())
	if err != nil {
		return err
	}
	return manifest.SaveDescriptor(manifestPath)
}

// copyFullText mirrors the article's full text file, keeping its extension.
// An unreadable source drops out of the mirror rather than failing it.
func (e *Exporter) copyFullText(dir, path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("couldn't read full text for export", "path", path, "error", err.Error())
		return nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	name := "fulltext" + ext
	if err = os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("couldn't mirror full text", "path", path, "error", err.Error())
		return nil
	}
	resource := resourceDescriptor("fulltext", name, strings.TrimPrefix(ext, "."), len(data))
	if resource["format"] == "" {
		delete(resource, "format")
	}
	return resource
}

func resourceDescriptor(name, path, format string, size int) map[string]any {
	return map[string]any{
		"name":   name,
		"path":   path,
		"format": format,
		"bytes":  size,
	}
}

func sortedCollections(collections map[string]*Collection) []*Collection {
	keys := make([]string, 0, len(collections))
	for key := range collections {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	sorted := make([]*Collection, len(keys))
	for i, key := range keys {
		sorted[i] = collections[key]
	}
	return sorted
}

func writeJsonLines[T any](path string, values []T) (int, error) {
	var b bytes.Buffer
	for i := range values {
		encoded, err := json.Marshal(values[i])
		if err != nil {
			return 0, err
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		return 0, err
	}
	return b.Len(), nil
}
