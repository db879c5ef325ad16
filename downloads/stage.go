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

package downloads

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/deliveryhero/pipeline/v2"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/sources"
)

// Stage holds the download stage's sources, in fallback order.
type Stage struct {
	sources []Source
}

// NewStage wires the sources named in the download configuration.
func NewStage() (*Stage, error) {
	stageSources := make([]Source, 0, len(config.Download.Sources))
	for _, name := range config.Download.Sources {
		source, err := NewSource(name)
		if err != nil {
			return nil, err
		}
		stageSources = append(stageSources, source)
	}
	return &Stage{sources: stageSources}, nil
}

// Run retrieves every article in the set, consulting the sources in
// configured order until one succeeds. The returned slice aligns with the
// set: articles no source could provide get a failed Result.
func (s *Stage) Run(ctx context.Context, set *identifiers.Set) ([]*Result, error) {
	ids := set.Items()
	if len(ids) == 0 {
		return []*Result{}, nil
	}

	cacheMap, err := openCaches(s.sources)
	if err != nil {
		return nil, err
	}
	defer closeCaches(cacheMap)

	backends := make([]sources.Backend[*Result], len(s.sources))
	for i, source := range s.sources {
		backends[i] = &sourceBackend{source: source}
	}

	outcome, err := sources.RunFallback(ctx, ids, sources.FallbackOptions[*Result]{
		Backends:    backends,
		CacheFor:    func(name string) *caches.Cache[*Result] { return cacheMap[name] },
		CacheOnly:   config.Pipeline.CacheOnlyMode,
		IgnoreCache: config.IgnoreCacheFor(config.StageDownload),
		Satisfied: func(_ *identifiers.Identifier, result *Result) bool {
			return result != nil && result.Success
		},
		Persist: func(_ *identifiers.Identifier, result *Result) bool {
			return result != nil && result.Success
		},
	})
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(ids))
	downloaded := 0
	for i, id := range ids {
		if outcome.Produced[i] && outcome.Results[i] != nil {
			results[i] = outcome.Results[i]
		} else {
			results[i] = &Result{
				Identifier:   id.Clone(),
				ErrorMessage: "no configured source could provide this article",
			}
		}
		if results[i].Success {
			downloaded++
		}
	}
	slog.Info("download complete", "identifiers", len(ids), "downloaded", downloaded,
		"failed", len(ids)-downloaded, "cache_hits", outcome.CacheHits, "fetched", outcome.Fresh)
	return results, nil
}

// fetchJob carries one article through a source's worker pool, tagged with
// its position so results can be reassembled in input order.
type fetchJob struct {
	Index  int
	Id     *identifiers.Identifier
	Result *Result
}

// sourceBackend adapts a Source to the fallback scheduler, fanning Fetch
// calls out over a bounded worker pool.
type sourceBackend struct {
	source Source
}

func (b *sourceBackend) Name() string {
	return b.source.Name()
}

func (b *sourceBackend) Supports(id *identifiers.Identifier) bool {
	return b.source.Supports(id)
}

func (b *sourceBackend) Run(ctx context.Context, ids []*identifiers.Identifier) ([]*Result, error) {
	jobs := make(chan fetchJob, len(ids))
	for i, id := range ids {
		jobs <- fetchJob{Index: i, Id: id}
	}
	close(jobs)

	process := func(ctx context.Context, job fetchJob) (fetchJob, error) {
		result, err := b.source.Fetch(ctx, job.Id)
		if err != nil {
			result = &Result{
				Identifier:   job.Id.Clone(),
				Source:       b.source.Name(),
				ErrorMessage: err.Error(),
			}
		}
		job.Result = result
		return job, nil
	}
	cancel := func(job fetchJob, err error) {
		// jobs dropped on cancellation surface as gaps below
	}

	results := make([]*Result, len(ids))
	output := pipeline.ProcessConcurrently(ctx, workersFor(b.source.Name()),
		pipeline.NewProcessor(process, cancel), jobs)
	for job := range output {
		results[job.Index] = job.Result
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, result := range results {
		if result == nil {
			results[i] = &Result{
				Identifier:   ids[i].Clone(),
				Source:       b.source.Name(),
				ErrorMessage: "download did not complete",
			}
		}
	}
	return results, nil
}

// ACE scrapes publisher sites, so it gets its own pool bound.
func workersFor(sourceName string) int {
	workers := config.Pipeline.MaxWorkers
	if sourceName == config.SourceAce {
		workers = config.Pipeline.AceMaxWorkers
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// OpenCache opens the download cache for one source. Later stages use it to
// look up raw artifact locations without redownloading anything.
func OpenCache(sourceName string) (*caches.Cache[*Result], error) {
	return caches.Open(caches.Spec[*Result]{
		Dir:          filepath.Join(config.Dirs.CacheRoot, config.StageDownload, sourceName),
		Table:        config.StageDownload,
		ExtraColumns: []string{"source"},
		Aliases: func(result *Result) caches.AliasValues {
			if result == nil || result.Identifier == nil {
				return caches.AliasValues{}
			}
			return caches.AliasValues{
				Pmid:  result.Identifier.Pmid(),
				Doi:   result.Identifier.Doi(),
				Pmcid: result.Identifier.Pmcid(),
				Extra: map[string]string{"source": result.Source},
			}
		},
	})
}

func openCaches(stageSources []Source) (map[string]*caches.Cache[*Result], error) {
	cacheMap := make(map[string]*caches.Cache[*Result], len(stageSources))
	for _, source := range stageSources {
		cache, err := OpenCache(source.Name())
		if err != nil {
			closeCaches(cacheMap)
			return nil, err
		}
		cacheMap[source.Name()] = cache
	}
	return cacheMap, nil
}

func closeCaches(cacheMap map[string]*caches.Cache[*Result]) {
	for _, cache := range cacheMap {
		cache.Close()
	}
}
