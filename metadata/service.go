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

package metadata

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
)

// LocalFallback supplies metadata parsed from an article's downloaded
// content, consulted after every remote provider has had its turn.
type LocalFallback func(id *identifiers.Identifier) *ArticleMetadata

// Service enriches articles with bibliographic metadata by consulting its
// providers in order and merging what each one knows. Remote lookups are
// cached on disk per provider, one JSON file per article slug.
type Service struct {
	providers []Provider
	cacheDir  string
	workers   int
}

// NewService assembles the enrichment service from the configured provider
// names. The extractor pseudo-provider is skipped here: its lookup comes
// from the extract stage as a LocalFallback.
func NewService(providerNames []string) (*Service, error) {
	providers := make([]Provider, 0, len(providerNames))
	for _, name := range providerNames {
		if name == config.ProviderExtractor {
			continue
		}
		provider, err := NewProvider(name)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return &Service{
		providers: providers,
		cacheDir:  filepath.Join(config.Dirs.CacheRoot, "metadata"),
		workers:   config.Pipeline.MaxWorkers,
	}, nil
}

// EnrichAll resolves metadata for every identifier, fanning lookups out to a
// bounded pool. Outputs align with inputs and are never nil: articles no
// provider (or fallback) knows get a placeholder record.
func (s *Service) EnrichAll(ctx context.Context, ids []*identifiers.Identifier, local LocalFallback) []*ArticleMetadata {
	results := make([]*ArticleMetadata, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for i, id := range ids {
		group.Go(func() error {
			results[i] = s.enrichOne(groupCtx, id, local)
			return nil
		})
	}
	group.Wait() // workers report per-item failures in their results
	return results
}

func (s *Service) enrichOne(ctx context.Context, id *identifiers.Identifier, local LocalFallback) *ArticleMetadata {
	var merged *ArticleMetadata
	if id != nil {
		for _, provider := range s.providers {
			if !provider.Supports(id) {
				continue
			}
			record, err := s.cachedLookup(ctx, provider, id)
			if err != nil {
				slog.Error("metadata lookup failed",
					"provider", provider.Name(), "slug", id.Slug(), "error", err.Error())
				continue
			}
			if record == nil || record.Metadata == nil {
				continue
			}
			if merged == nil {
				merged = record.Metadata.Clone()
			} else {
				merged.MergeFrom(record.Metadata)
			}
		}
	}
	if local != nil {
		if fallback := local(id); fallback != nil {
			if merged == nil {
				merged = fallback
			} else {
				merged.MergeFrom(fallback)
			}
		}
	}
	if merged == nil {
		merged = Placeholder(id)
	}
	return merged
}

// CachedMetadata assembles an article's metadata from the provider disk
// caches alone, merging records in the given provider order. It returns nil
// when no provider has a cached record, so callers can tell "nothing known"
// apart from a placeholder.
func CachedMetadata(providerNames []string, id *identifiers.Identifier) *ArticleMetadata {
	if id == nil {
		return nil
	}
	cacheDir := filepath.Join(config.Dirs.CacheRoot, "metadata")
	var merged *ArticleMetadata
	for _, name := range providerNames {
		if name == config.ProviderExtractor {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cacheDir, name, id.Slug()+".json"))
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil || record.Metadata == nil {
			continue
		}
		if merged == nil {
			merged = record.Metadata.Clone()
		} else {
			merged.MergeFrom(record.Metadata)
		}
	}
	return merged
}

// consults the provider's disk cache before its service; fresh records are
// written back, and a corrupt cache file decodes to a logged miss
func (s *Service) cachedLookup(ctx context.Context, provider Provider, id *identifiers.Identifier) (*Record, error) {
	path := filepath.Join(s.cacheDir, provider.Name(), id.Slug()+".json")
	if data, err := os.ReadFile(path); err == nil {
		var record Record
		if err := json.Unmarshal(data, &record); err == nil {
			return &record, nil
		}
		slog.Error("corrupt metadata cache file; treating it as a miss", "path", path)
	}

	record, err := provider.Lookup(ctx, id)
	if err != nil || record == nil {
		return record, err
	}
	if err := writeCacheFile(path, record); err != nil {
		slog.Error("couldn't cache metadata", "path", path, "error", err.Error())
	}
	return record, nil
}

func writeCacheFile(path string, record *Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
