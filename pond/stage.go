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

package pond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/extraction"
)

// Stage mirrors uploaded articles under the pond root.
type Stage struct {
	root      string
	overwrite bool
}

// NewStage builds the stage from the sync configuration.
func NewStage() *Stage {
	return &Stage{root: config.Dirs.NsPondRoot, overwrite: config.Sync.Overwrite}
}

// Run mirrors every successful outcome that landed a base study. Articles
// that fail to mirror are logged and skipped; the stage itself only fails on
// cancellation.
func (s *Stage) Run(ctx context.Context, inputs *Inputs) error {
	items := resolveItems(inputs)
	synced, failed := 0, 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.syncArticle(item); err != nil {
			slog.Error("couldn't sync article", "slug", item.Outcome.Slug,
				"base_study", item.Outcome.BaseStudyID, "error", err.Error())
			failed++
			continue
		}
		synced++
	}
	slog.Info("sync complete", "outcomes", len(inputs.Outcomes),
		"synced", synced, "failed", failed)
	return nil
}

// resolveItems pairs each eligible outcome with its artifacts, hydrating
// anything the run state didn't carry from the stage caches.
func resolveItems(inputs *Inputs) []*syncItem {
	hydration := newHydrator()
	defer hydration.Close()

	items := []*syncItem{}
	var pendingCollections []*syncItem
	for _, outcome := range inputs.Outcomes {
		if outcome == nil || !outcome.Success || outcome.BaseStudyID == "" {
			continue
		}
		item := &syncItem{Outcome: outcome}
		if article := inputs.Articles[outcome.Slug]; article != nil {
			item.Bundle = article.Bundle
			item.Collections = article.Collections
		}
		if item.Download = inputs.Downloads[outcome.Slug]; item.Download == nil {
			item.Download = hydration.download(outcome.Slug)
		}
		if item.Bundle == nil {
			item.Bundle = hydration.bundle(outcome)
			if item.Bundle != nil {
				pendingCollections = append(pendingCollections, item)
			}
		}
		items = append(items, item)
	}

	if len(pendingCollections) > 0 {
		bundles := make([]*extraction.Bundle, len(pendingCollections))
		for i, item := range pendingCollections {
			bundles[i] = item.Bundle
		}
		articles, err := analyses.FromCache(bundles)
		if err != nil {
			slog.Warn("couldn't read cached analyses for sync", "error", err.Error())
		} else {
			for i, item := range pendingCollections {
				item.Collections = articles[i].Collections
			}
		}
	}
	return items
}

// syncArticle writes one article's mirror. The identifiers always land;
// everything else follows the artifacts on hand.
func (s *Stage) syncArticle(item *syncItem) error {
	dir := filepath.Join(s.root, item.Outcome.BaseStudyID)
	if err := s.writeIdentifiers(dir, item); err != nil {
		return err
	}
	content := item.content()
	if content != nil && content.Source != "" {
		if err := s.syncProcessed(filepath.Join(dir, "processed", content.Source), item); err != nil {
			return err
		}
		s.syncRawTables(filepath.Join(dir, "source", content.Source, "tables"), content)
	}
	if item.Download != nil && item.Download.Success {
		s.syncRawFiles(filepath.Join(dir, "source", item.Download.Source), item.Download)
	}
	return nil
}

func (s *Stage) writeIdentifiers(dir string, item *syncItem) error {
	if item.Outcome.Identifier == nil {
		return nil
	}
	encoded, err := json.MarshalIndent(item.Outcome.Identifier, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(filepath.Join(dir, "identifiers.json"), encoded)
}

// syncProcessed mirrors the structured artifacts: bibliographic metadata, the
// full text, the extracted tables, the analyses, and a flat coordinate CSV.
func (s *Stage) syncProcessed(dir string, item *syncItem) error {
	content := item.content()
	if item.Bundle.Metadata != nil {
		encoded, err := json.MarshalIndent(item.Bundle.Metadata, "", "  ")
		if err != nil {
			return err
		}
		if err = s.writeFile(filepath.Join(dir, "metadata.json"), encoded); err != nil {
			return err
		}
	}
	if content.FullTextPath != "" {
		s.copyFile(filepath.Join(dir, textFileName(content.FullTextPath)), content.FullTextPath)
	}

	if err := writeJsonLines(s, filepath.Join(dir, "tables.jsonl"), content.Tables); err != nil {
		return err
	}

	collections := sortedCollections(item.Collections)
	lines := []analysisLine{}
	for _, collection := range collections {
		for _, analysis := range collection.Analyses {
			lines = append(lines, analysisLine{
				Analysis:        analysis,
				CoordinateSpace: collection.CoordinateSpace,
			})
		}
	}
	if err := writeJsonLines(s, filepath.Join(dir, "analyses.jsonl"), lines); err != nil {
		return err
	}

	csvData, err := coordinatesCsv(content, collections)
	if err != nil {
		return err
	}
	if csvData != nil {
		return s.writeFile(filepath.Join(dir, "coordinates.csv"), csvData)
	}
	return nil
}

// syncRawTables mirrors each table's raw content under tables/, named by its
// sanitized id. Repeats within the article pick up -2, -3, … like the
// analysis cache keys do.
func (s *Stage) syncRawTables(dir string, content *extraction.Content) {
	seen := map[string]bool{}
	for ti := range content.Tables {
		table := &content.Tables[ti]
		if table.RawContentPath == "" {
			continue
		}
		base := analyses.SanitizeTableID(table.TableID, ti)
		sanitized := base
		for n := 2; seen[sanitized]; n++ {
			sanitized = fmt.Sprintf("%s-%d", base, n)
		}
		seen[sanitized] = true
		name := sanitized + filepath.Ext(table.RawContentPath)
		s.copyFile(filepath.Join(dir, name), table.RawContentPath)
	}
}

// syncRawFiles mirrors the source's downloaded files, keeping their layout
// relative to the article's artifact directory.
func (s *Stage) syncRawFiles(dir string, result *downloads.Result) {
	for fi := range result.Files {
		file := &result.Files[fi]
		if file.Path == "" {
			continue
		}
		s.copyFile(filepath.Join(dir, rawRelativePath(result, file)), file.Path)
	}
}

// writeFile writes data to path, creating directories as needed. An existing
// file is left alone unless overwriting is on.
func (s *Stage) writeFile(path string, data []byte) error {
	if !s.overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// copyFile mirrors src to dst under the same replacement policy. A source
// that went missing since its stage ran drops out of the mirror rather than
// failing it.
func (s *Stage) copyFile(dst, src string) {
	if !s.overwrite {
		if _, err := os.Stat(dst); err == nil {
			return
		}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		slog.Warn("couldn't read artifact for sync", "path", src, "error", err.Error())
		return
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		slog.Warn("couldn't mirror artifact", "path", dst, "error", err.Error())
		return
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		slog.Warn("couldn't mirror artifact", "path", dst, "error", err.Error())
	}
}

func writeJsonLines[T any](s *Stage, path string, values []T) error {
	var b bytes.Buffer
	for i := range values {
		encoded, err := json.Marshal(values[i])
		if err != nil {
			return err
		}
		b.Write(encoded)
		b.WriteByte('\n')
	}
	return s.writeFile(path, b.Bytes())
}
