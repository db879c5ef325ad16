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

package extraction

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/deliveryhero/pipeline/v2"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// Stage turns downloaded articles into extraction bundles: parsed tables
// with detected coordinates, paired with bibliographic metadata.
type Stage struct {
	service *metadata.Service
}

// NewStage wires the stage and its metadata enrichment service.
func NewStage() (*Stage, error) {
	service, err := metadata.NewService(config.Gather.MetadataProviders)
	if err != nil {
		return nil, err
	}
	return &Stage{service: service}, nil
}

// Run extracts every downloaded article and enriches it with metadata. The
// returned slice aligns with the input: articles that can't be extracted
// carry a failed Content, never a nil bundle.
func (s *Stage) Run(ctx context.Context, results []*downloads.Result) ([]*Bundle, error) {
	if len(results) == 0 {
		return []*Bundle{}, nil
	}

	contents := make([]*Content, len(results))

	// fail the entries no extractor should see, and group the rest by source
	var sourceOrder []string
	groups := make(map[string][]int)
	for i, result := range results {
		if !result.Success {
			contents[i] = failedContent(result, "download failed: "+result.ErrorMessage)
			continue
		}
		if len(result.Files) == 0 {
			contents[i] = failedContent(result, "download produced no files")
			continue
		}
		if _, seen := groups[result.Source]; !seen {
			sourceOrder = append(sourceOrder, result.Source)
		}
		groups[result.Source] = append(groups[result.Source], i)
	}

	cacheHits := 0
	for _, source := range sourceOrder {
		hits, err := s.runSource(ctx, source, groups[source], results, contents)
		if err != nil {
			return nil, err
		}
		cacheHits += hits
	}

	// enrichment consults remote providers first, then what the articles'
	// own files say about themselves
	bySlug := make(map[string]*Content, len(contents))
	ids := make([]*identifiers.Identifier, len(results))
	for i, result := range results {
		ids[i] = result.Identifier
		if contents[i] != nil && contents[i].Slug != "" {
			bySlug[contents[i].Slug] = contents[i]
		}
	}
	records := s.service.EnrichAll(ctx, ids, NewLocalFallback(bySlug))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundles := make([]*Bundle, len(results))
	extracted, tables := 0, 0
	for i := range results {
		bundles[i] = &Bundle{Content: contents[i], Metadata: records[i]}
		if !contents[i].Failed() {
			extracted++
			tables += len(contents[i].Tables)
		}
	}
	slog.Info("extract complete", "articles", len(results), "extracted", extracted,
		"failed", len(results)-extracted, "tables", tables, "cache_hits", cacheHits)
	return bundles, nil
}

// runSource extracts one source's articles, filling their slots in the
// shared contents slice. Cached outputs are reused; fresh clean outputs are
// cached; failed outputs are cheap to recompute and are not.
func (s *Stage) runSource(ctx context.Context, source string, indices []int,
	results []*downloads.Result, contents []*Content) (int, error) {
	extractor, err := NewExtractor(source)
	if err != nil {
		slog.Error("no extractor for download source", "source", source, "articles", len(indices))
		for _, i := range indices {
			contents[i] = failedContent(results[i], err.Error())
		}
		return 0, nil
	}

	valid := make([]int, 0, len(indices))
	for _, i := range indices {
		if err := extractor.Validate(results[i]); err != nil {
			contents[i] = failedContent(results[i], err.Error())
			continue
		}
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	cache, err := OpenCache(source)
	if err != nil {
		return 0, err
	}
	defer cache.Close()

	ids := make([]*identifiers.Identifier, len(valid))
	for j, i := range valid {
		ids[j] = results[i].Identifier
	}

	partition := &caches.Partition[*Content]{}
	if config.IgnoreCacheFor(config.StageExtract) {
		for j, id := range ids {
			partition.Misses = append(partition.Misses,
				&caches.Miss{Index: j, Identifier: id, Slug: id.Slug()})
		}
	} else if partition, err = cache.PartitionCached(ids); err != nil {
		return 0, err
	}

	for _, hit := range partition.Hits {
		contents[valid[hit.Index]] = hit.Envelope.Payload
	}

	jobs := make(chan extractJob, len(partition.Misses))
	for _, miss := range partition.Misses {
		i := valid[miss.Index]
		jobs <- extractJob{Index: i, Result: results[i]}
	}
	close(jobs)

	process := func(ctx context.Context, job extractJob) (extractJob, error) {
		content, err := extractor.Extract(ctx, job.Result)
		if err != nil {
			slog.Error("extraction failed", "source", source,
				"slug", job.Result.Identifier.Slug(), "error", err.Error())
			content = failedContent(job.Result, err.Error())
		}
		job.Content = content
		return job, nil
	}
	cancel := func(job extractJob, err error) {
		// jobs dropped on cancellation surface as gaps below
	}

	workers := config.Pipeline.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	var fresh []*caches.Envelope[*Content]
	output := pipeline.ProcessConcurrently(ctx, workers, pipeline.NewProcessor(process, cancel), jobs)
	for job := range output {
		contents[job.Index] = job.Content
		if job.Content != nil && !job.Content.Failed() {
			fresh = append(fresh, caches.NewEnvelope(job.Content.Slug, job.Content))
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, miss := range partition.Misses {
		if i := valid[miss.Index]; contents[i] == nil {
			contents[i] = failedContent(results[i], "extraction did not complete")
		}
	}

	if len(fresh) > 0 {
		if err := cache.AddEntries(fresh); err != nil {
			slog.Error("couldn't cache extraction outputs", "source", source, "error", err.Error())
		}
	}
	return len(partition.Hits), nil
}

// extractJob carries one article through the extractor pool, tagged with its
// position in the stage input.
type extractJob struct {
	Index   int
	Result  *downloads.Result
	Content *Content
}

func failedContent(result *downloads.Result, message string) *Content {
	content := Content{Source: result.Source, ErrorMessage: message}
	if result.Identifier != nil {
		content.Slug = result.Identifier.Slug()
		content.Identifier = result.Identifier.Clone()
	}
	return &content
}

// OpenCache opens the extraction cache for one download source. Later stages
// use it to rehydrate article content without rerunning the extractors.
func OpenCache(source string) (*caches.Cache[*Content], error) {
	return caches.Open(caches.Spec[*Content]{
		Dir:   filepath.Join(config.Dirs.CacheRoot, config.StageExtract, source),
		Table: config.StageExtract,
		Aliases: func(content *Content) caches.AliasValues {
			if content == nil || content.Identifier == nil {
				return caches.AliasValues{}
			}
			return caches.AliasValues{
				Pmid:  content.Identifier.Pmid(),
				Doi:   content.Identifier.Doi(),
				Pmcid: content.Identifier.Pmcid(),
			}
		},
	})
}
