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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deliveryhero/pipeline/v2"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/llm"
)

// Stage runs the model over every uncached coordinate table and assembles
// per-article analysis collections.
type Stage struct {
	service  *Service
	exporter *Exporter
}

// NewStage wires the stage around a model client. When exporting is
// configured, finished articles are mirrored under the data root as well.
func NewStage(client llm.Client) *Stage {
	stage := &Stage{service: NewService(client)}
	if config.Pipeline.Export {
		stage.exporter = NewExporter(
			filepath.Join(config.Dirs.DataRoot, "export"), config.Pipeline.ExportOverwrite)
	}
	return stage
}

// tableRef pins one coordinate table to its place in the stage input and to
// its cache identity.
type tableRef struct {
	BundleIndex int
	TableIndex  int
	TableKey    string
	Sanitized   string
	CacheKey    string
}

// analysisJob carries one article's uncached tables through the model pool.
// The bundle is pruned to just those tables, aligned with Pending.
type analysisJob struct {
	Index   int
	Bundle  *extraction.Bundle
	Pending []tableRef
	Results []*Result
}

// Run produces one ArticleAnalyses per input bundle, in input order. Tables
// without coordinates are skipped, cached tables are served without a model
// call, and per-table failures leave an empty collection rather than failing
// the article.
func (s *Stage) Run(ctx context.Context, bundles []*extraction.Bundle) ([]*ArticleAnalyses, error) {
	outputs := make([]*ArticleAnalyses, len(bundles))
	refs := []tableRef{}
	for i, bundle := range bundles {
		outputs[i] = &ArticleAnalyses{Bundle: bundle, Collections: map[string]*Collection{}}
		if bundle == nil || bundle.Content == nil || bundle.Content.Failed() {
			continue
		}
		refs = append(refs, enumerateTables(i, bundle.Content)...)
	}
	if len(bundles) == 0 {
		return outputs, nil
	}

	cache, err := OpenCache()
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	keys := make([]string, len(refs))
	for i := range refs {
		keys[i] = refs[i].CacheKey
	}
	partition := &caches.Partition[*Result]{}
	if config.IgnoreCacheFor(config.StageCreateAnalyses) {
		for i := range refs {
			partition.Misses = append(partition.Misses, &caches.Miss{Index: i, Slug: keys[i]})
		}
	} else if partition, err = cache.PartitionSlugs(keys); err != nil {
		return nil, err
	}

	for _, hit := range partition.Hits {
		ref := refs[hit.Index]
		outputs[ref.BundleIndex].Collections[ref.TableKey] = hit.Envelope.Payload.Collection
	}

	// one job per article that still has unanalyzed tables
	missed := map[int][]tableRef{}
	jobOrder := []int{}
	for _, miss := range partition.Misses {
		ref := refs[miss.Index]
		if _, seen := missed[ref.BundleIndex]; !seen {
			jobOrder = append(jobOrder, ref.BundleIndex)
		}
		missed[ref.BundleIndex] = append(missed[ref.BundleIndex], ref)
	}

	jobs := make(chan analysisJob, len(jobOrder))
	for _, i := range jobOrder {
		jobs <- analysisJob{
			Index:   i,
			Bundle:  prunedBundle(bundles[i], missed[i]),
			Pending: missed[i],
			Results: make([]*Result, len(missed[i])),
		}
	}
	close(jobs)

	process := func(ctx context.Context, job analysisJob) (analysisJob, error) {
		s.analyzeBundle(ctx, job)
		return job, nil
	}
	cancel := func(job analysisJob, err error) {
		// tables dropped on cancellation never reach the output maps
	}

	workers := config.Pipeline.NLlmWorkers
	if workers < 1 {
		workers = 1
	}
	generated, failed := 0, 0
	var fresh []*caches.Envelope[*Result]
	output := pipeline.ProcessConcurrently(ctx, workers, pipeline.NewProcessor(process, cancel), jobs)
	for job := range output {
		for k, result := range job.Results {
			if result == nil {
				continue
			}
			outputs[job.Index].Collections[job.Pending[k].TableKey] = result.Collection
			if result.Failed() {
				failed++
				continue
			}
			generated++
			s.materialize(cache, result)
			fresh = append(fresh, caches.NewEnvelope(result.Slug, result))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(fresh) > 0 {
		if err := cache.AddEntries(fresh); err != nil {
			slog.Error("couldn't cache analysis results", "error", err.Error())
		}
	}
	if s.exporter != nil {
		for _, article := range outputs {
			if article.Bundle == nil || article.Bundle.Content == nil || article.Bundle.Content.Failed() {
				continue
			}
			if err := s.exporter.Export(article); err != nil {
				slog.Error("couldn't export article",
					"slug", article.Bundle.Content.Slug, "error", err.Error())
			}
		}
	}

	slog.Info("create analyses complete", "articles", len(bundles), "tables", len(refs),
		"cache_hits", len(partition.Hits), "generated", generated, "failed", failed)
	return outputs, nil
}

// FromCache assembles per-article collections from the cache alone, without
// a model client. Tables with no cached result are simply absent, which suits
// runs that pick up after an earlier create-analyses pass.
func FromCache(bundles []*extraction.Bundle) ([]*ArticleAnalyses, error) {
	outputs := make([]*ArticleAnalyses, len(bundles))
	refs := []tableRef{}
	for i, bundle := range bundles {
		outputs[i] = &ArticleAnalyses{Bundle: bundle, Collections: map[string]*Collection{}}
		if bundle == nil || bundle.Content == nil || bundle.Content.Failed() {
			continue
		}
		refs = append(refs, enumerateTables(i, bundle.Content)...)
	}
	if len(refs) == 0 {
		return outputs, nil
	}

	cache, err := OpenCache()
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	keys := make([]string, len(refs))
	for i := range refs {
		keys[i] = refs[i].CacheKey
	}
	partition, err := cache.PartitionSlugs(keys)
	if err != nil {
		return nil, err
	}
	for _, hit := range partition.Hits {
		ref := refs[hit.Index]
		outputs[ref.BundleIndex].Collections[ref.TableKey] = hit.Envelope.Payload.Collection
	}
	return outputs, nil
}

// analyzeBundle runs the model over each of the job's tables. A transport
// failure marks the result so it is retried next run; an answer that fails
// validation keeps its empty collection, since asking again buys nothing.
func (s *Stage) analyzeBundle(ctx context.Context, job analysisJob) {
	content := job.Bundle.Content
	for k := range job.Bundle.Content.Tables {
		table := &job.Bundle.Content.Tables[k]
		ref := job.Pending[k]
		collection := &Collection{
			Slug:            content.Slug,
			CoordinateSpace: table.Space,
			Analyses:        []Analysis{},
		}
		if content.Identifier != nil {
			collection.Identifier = content.Identifier.Clone()
		}
		result := &Result{
			Slug:             ref.CacheKey,
			ArticleSlug:      content.Slug,
			TableID:          table.TableID,
			SanitizedTableID: ref.Sanitized,
			Collection:       collection,
		}

		analyses, err := s.service.Analyze(ctx, job.Bundle, table)
		var formatErr *ResponseFormatError
		switch {
		case errors.As(err, &formatErr):
			slog.Warn("model response failed validation", "slug", content.Slug,
				"table", table.TableID, "error", err.Error())
			result.Metadata = map[string]any{"decode_error": err.Error()}
		case err != nil:
			slog.Error("create analyses failed", "slug", content.Slug,
				"table", table.TableID, "error", err.Error())
			result.ErrorMessage = err.Error()
		default:
			collection.Analyses = analyses
			if collection.CoordinateSpace == "" {
				collection.CoordinateSpace = analysesSpace(analyses)
			}
		}
		job.Results[k] = result
	}
}

// materialize writes the collection's JSONL artifact next to the cache index
// and records its path on the result.
func (s *Stage) materialize(cache *caches.Cache[*Result], result *Result) {
	dir, err := cache.ArtifactsDir()
	if err == nil {
		path := filepath.Join(dir, fileSafeSlug(result.Slug)+".jsonl")
		if err = writeArtifact(path, result.Collection); err == nil {
			result.AnalysisPaths = []string{path}
			return
		}
	}
	slog.Error("couldn't write analysis artifact", "slug", result.Slug, "error", err.Error())
}

// enumerateTables lists a bundle's coordinate tables with their cache
// identities. Sanitized ids repeat across articles but never within one;
// duplicates pick up a positional suffix, and their map keys follow.
func enumerateTables(bundleIndex int, content *extraction.Content) []tableRef {
	refs := []tableRef{}
	seenSanitized := map[string]bool{}
	seenKeys := map[string]bool{}
	for ti := range content.Tables {
		table := &content.Tables[ti]
		if !table.ContainsCoordinates() {
			continue
		}
		base := SanitizeTableID(table.TableID, ti)
		sanitized := base
		for n := 2; seenSanitized[sanitized]; n++ {
			sanitized = fmt.Sprintf("%s-%d", base, n)
		}
		seenSanitized[sanitized] = true
		key := table.TableID
		if seenKeys[key] {
			key = sanitized
		}
		seenKeys[key] = true
		refs = append(refs, tableRef{
			BundleIndex: bundleIndex,
			TableIndex:  ti,
			TableKey:    key,
			Sanitized:   sanitized,
			CacheKey:    content.Slug + "::" + sanitized,
		})
	}
	return refs
}

// prunedBundle copies the bundle down to the listed tables, the unit of work
// one model worker sees.
func prunedBundle(bundle *extraction.Bundle, refs []tableRef) *extraction.Bundle {
	content := *bundle.Content
	content.Tables = make([]extraction.Table, len(refs))
	for k := range refs {
		content.Tables[k] = bundle.Content.Tables[refs[k].TableIndex]
	}
	return &extraction.Bundle{Content: &content, Metadata: bundle.Metadata}
}

// analysesSpace returns the first coordinate space the model reported.
func analysesSpace(analyses []Analysis) extraction.Space {
	for i := range analyses {
		for j := range analyses[i].Coordinates {
			if space := analyses[i].Coordinates[j].Space; space != "" {
				return space
			}
		}
	}
	return ""
}

func writeArtifact(path string, collection *Collection) error {
	encoded, err := json.Marshal(collection)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(encoded, '\n'), 0644)
}

// OpenCache opens the per-table analysis cache.
func OpenCache() (*caches.Cache[*Result], error) {
	return caches.Open(caches.Spec[*Result]{
		Dir:          filepath.Join(config.Dirs.CacheRoot, config.StageCreateAnalyses),
		Table:        config.StageCreateAnalyses,
		ExtraColumns: []string{"article_slug", "table_id"},
		Aliases: func(result *Result) caches.AliasValues {
			if result == nil {
				return caches.AliasValues{}
			}
			values := caches.AliasValues{
				Extra: map[string]string{
					"article_slug": result.ArticleSlug,
					"table_id":     result.SanitizedTableID,
				},
			}
			if result.Collection != nil && result.Collection.Identifier != nil {
				id := result.Collection.Identifier
				values.Pmid, values.Doi, values.Pmcid = id.Pmid(), id.Doi(), id.Pmcid()
			}
			return values
		},
	})
}
