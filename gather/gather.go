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

// The gather package implements the pipeline's first stage: it seeds an
// identifier set from a manifest and/or bibliographic searches, enriches
// every identifier through the configured metadata providers until its
// primary triple is complete, deduplicates, and writes the run's manifest.
package gather

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
	"github.com/neurostuff/nsingest/metadata/pubmed"
	"github.com/neurostuff/nsingest/sources"
)

// Searcher runs one bibliographic query, returning matching PMIDs.
type Searcher interface {
	Search(ctx context.Context, query string, startYear, endYear int) ([]string, error)
}

// Stage holds the gather stage's collaborators.
type Stage struct {
	providers []metadata.Provider
	searcher  Searcher
}

// NewStage wires the configured metadata providers and the PubMed search
// backend. The extractor pseudo-provider is skipped: before the download
// stage there is nothing local to read.
func NewStage() (*Stage, error) {
	providers := make([]metadata.Provider, 0, len(config.Gather.MetadataProviders))
	for _, name := range config.Gather.MetadataProviders {
		if name == config.ProviderExtractor {
			continue
		}
		provider, err := metadata.NewProvider(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	searcher, err := pubmed.New()
	if err != nil {
		return nil, err
	}
	return &Stage{providers: providers, searcher: searcher}, nil
}

// Run assembles the run's identifier set: manifest seeds plus search
// results, enriched by every provider in order and deduplicated by slug.
// The resulting set is written to data_root/manifests/ and returned.
func (s *Stage) Run(ctx context.Context) (*identifiers.Set, error) {
	set, err := s.seeds()
	if err != nil {
		return nil, err
	}
	set.SetIndex("pmid", "doi", "pmcid")

	if err := s.search(ctx, set); err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, set); err != nil {
		return nil, err
	}
	set.Deduplicate()

	path := manifestPath()
	if err := identifiers.WriteManifest(path, set); err != nil {
		return nil, err
	}
	slog.Info("gather complete", "identifiers", set.Len(), "manifest", path)
	return set, nil
}

// loads the seed manifest, if one is configured
func (s *Stage) seeds() (*identifiers.Set, error) {
	if config.Pipeline.ManifestPath == "" {
		return identifiers.NewSet(), nil
	}
	return identifiers.ReadManifest(config.Pipeline.ManifestPath)
}

// runs every configured search query, adding ids the set doesn't hold yet
func (s *Stage) search(ctx context.Context, set *identifiers.Set) error {
	for _, query := range config.Gather.SearchQueries {
		pmids, err := s.searcher.Search(ctx, query.Query, query.StartYear, query.EndYear)
		if err != nil {
			return err
		}
		added := 0
		for _, pmid := range pmids {
			if set.LookupBy("pmid", pmid) != nil {
				continue
			}
			set.Add(identifiers.New(pmid, "", ""))
			added++
		}
		slog.Info("search query finished", "query", query.Query,
			"results", len(pmids), "added", added)
	}
	return nil
}

// consults the providers in order through the fallback scheduler; an
// identifier is satisfied once its primary triple is complete
func (s *Stage) enrich(ctx context.Context, set *identifiers.Set) error {
	if set.Len() == 0 || len(s.providers) == 0 {
		return nil
	}
	cacheMap, err := openCaches(s.providers)
	if err != nil {
		return err
	}
	defer closeCaches(cacheMap)

	backends := make([]sources.Backend[*metadata.Record], len(s.providers))
	for i, provider := range s.providers {
		backends[i] = &providerBackend{provider: provider}
	}

	outcome, err := sources.RunFallback(ctx, set.Items(), sources.FallbackOptions[*metadata.Record]{
		Backends:    backends,
		CacheFor:    func(name string) *caches.Cache[*metadata.Record] { return cacheMap[name] },
		IgnoreCache: config.IgnoreCacheFor(config.StageGather),
		Apply: func(id *identifiers.Identifier, record *metadata.Record) {
			record.ApplyTo(id)
		},
		Satisfied: func(id *identifiers.Identifier, _ *metadata.Record) bool {
			return id.IsComplete()
		},
		Persist: func(_ *identifiers.Identifier, record *metadata.Record) bool {
			return record != nil
		},
	})
	if err != nil {
		return err
	}
	set.Reindex()

	incomplete := 0
	for _, satisfied := range outcome.Satisfied {
		if !satisfied {
			incomplete++
		}
	}
	slog.Info("identifier enrichment finished", "identifiers", set.Len(),
		"cache_hits", outcome.CacheHits, "lookups", outcome.Fresh, "incomplete", incomplete)
	return nil
}

// providerBackend adapts a metadata provider to the fallback scheduler.
// Lookup failures surface as missing records so the remaining inputs still
// reach later providers.
type providerBackend struct {
	provider metadata.Provider
}

func (b *providerBackend) Name() string {
	return b.provider.Name()
}

func (b *providerBackend) Supports(id *identifiers.Identifier) bool {
	return b.provider.Supports(id)
}

func (b *providerBackend) Run(ctx context.Context, ids []*identifiers.Identifier) ([]*metadata.Record, error) {
	records := make([]*metadata.Record, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := b.provider.Lookup(ctx, id)
		if err != nil {
			slog.Error("identifier lookup failed", "provider", b.provider.Name(),
				"slug", id.Slug(), "error", err.Error())
			continue
		}
		records[i] = record
	}
	return records, nil
}

func openCaches(providers []metadata.Provider) (map[string]*caches.Cache[*metadata.Record], error) {
	cacheMap := make(map[string]*caches.Cache[*metadata.Record], len(providers))
	for _, provider := range providers {
		cache, err := caches.Open(caches.Spec[*metadata.Record]{
			Dir:   filepath.Join(config.Dirs.CacheRoot, config.StageGather, provider.Name()),
			Table: config.StageGather,
			Aliases: func(record *metadata.Record) caches.AliasValues {
				if record == nil {
					return caches.AliasValues{}
				}
				return caches.AliasValues{Pmid: record.Pmid, Doi: record.Doi, Pmcid: record.Pmcid}
			},
		})
		if err != nil {
			closeCaches(cacheMap)
			return nil, err
		}
		cacheMap[provider.Name()] = cache
	}
	return cacheMap, nil
}

func closeCaches(cacheMap map[string]*caches.Cache[*metadata.Record]) {
	for _, cache := range cacheMap {
		cache.Close()
	}
}

// names the output manifest after the configured label, or the start time
func manifestPath() string {
	label := config.Gather.ManifestLabel
	if label == "" {
		label = time.Now().UTC().Format("20060102-150405")
	}
	return filepath.Join(config.Dirs.DataRoot, "manifests", label+".jsonl")
}
