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

package pipelines

import (
	"log/slog"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
	"github.com/neurostuff/nsingest/neurostore"
)

// manifestIdentifiers reads the run's input identifiers from the configured
// manifest, for runs that skip the gather stage.
func manifestIdentifiers(stage string) (*identifiers.Set, error) {
	if config.Pipeline.ManifestPath == "" {
		return nil, &MissingInputError{Stage: stage}
	}
	set, err := identifiers.ReadManifest(config.Pipeline.ManifestPath)
	if err != nil {
		return nil, err
	}
	set.Deduplicate()
	slog.Info("loaded the identifier manifest",
		"path", config.Pipeline.ManifestPath, "identifiers", set.Len())
	return set, nil
}

// ensureIdentifiers fills the run's identifier set from the manifest, for
// stages that hydrate their inputs from cache.
func ensureIdentifiers(stage string, state *State) error {
	if state.Identifiers != nil {
		return nil
	}
	set, err := manifestIdentifiers(stage)
	if err != nil {
		return err
	}
	state.Identifiers = set
	return nil
}

// cacheSet lazily opens per-source cache namespaces and closes whatever got
// opened. A namespace that won't open is warned about once and treated as
// empty.
type cacheSet[P any] struct {
	open   func(name string) (*caches.Cache[P], error)
	opened map[string]*caches.Cache[P]
}

func newCacheSet[P any](open func(string) (*caches.Cache[P], error)) *cacheSet[P] {
	return &cacheSet[P]{open: open, opened: map[string]*caches.Cache[P]{}}
}

func (cs *cacheSet[P]) get(name string) *caches.Cache[P] {
	if cache, tried := cs.opened[name]; tried {
		return cache
	}
	cache, err := cs.open(name)
	if err != nil {
		slog.Warn("couldn't open stage cache", "source", name, "error", err.Error())
		cache = nil
	}
	cs.opened[name] = cache
	return cache
}

func (cs *cacheSet[P]) Close() {
	for _, cache := range cs.opened {
		if cache != nil {
			cache.Close()
		}
	}
}

// hydrateDownloads reassembles download results from the per-source caches,
// taking the first cached success in configured source order. Articles with
// no cached success get a failed placeholder so downstream accounting still
// sees them.
func hydrateDownloads(set *identifiers.Set) []*downloads.Result {
	downloadCaches := newCacheSet(downloads.OpenCache)
	defer downloadCaches.Close()

	ids := set.Items()
	results := make([]*downloads.Result, len(ids))
	cached := 0
	for i, id := range ids {
		for _, name := range config.Download.Sources {
			cache := downloadCaches.get(name)
			if cache == nil {
				continue
			}
			envelope, found, err := cache.Get(id.Slug())
			if err != nil || !found {
				continue
			}
			if result := envelope.Payload; result != nil && result.Success {
				results[i] = result
				cached++
				break
			}
		}
		if results[i] == nil {
			results[i] = &downloads.Result{
				Identifier:   id,
				Success:      false,
				ErrorMessage: "no cached download",
			}
		}
	}
	slog.Info("hydrated downloads from cache", "identifiers", len(ids), "cached", cached)
	return results
}

// hydrateBundles reassembles extraction bundles from the per-source caches:
// content from the first non-failed cached extraction in source order,
// metadata from the provider caches. Articles with no cached extraction are
// left out.
func hydrateBundles(set *identifiers.Set) []*extraction.Bundle {
	extractCaches := newCacheSet(extraction.OpenCache)
	defer extractCaches.Close()

	ids := set.Items()
	bundles := []*extraction.Bundle{}
	for _, id := range ids {
		var content *extraction.Content
		for _, name := range config.Download.Sources {
			cache := extractCaches.get(name)
			if cache == nil {
				continue
			}
			envelope, found, err := cache.Get(id.Slug())
			if err != nil || !found {
				continue
			}
			if envelope.Payload != nil && !envelope.Payload.Failed() {
				content = envelope.Payload
				break
			}
		}
		if content == nil {
			continue
		}
		bundles = append(bundles, &extraction.Bundle{
			Content:  content,
			Metadata: metadata.CachedMetadata(config.Gather.MetadataProviders, id),
		})
	}
	slog.Info("hydrated extractions from cache",
		"identifiers", len(ids), "bundles", len(bundles))
	return bundles
}

// hydrateOutcomes reads upload outcomes back from the upload cache. With an
// identifier set (from the run or the manifest) only those articles are
// considered; without one, every cached outcome syncs.
func hydrateOutcomes(set *identifiers.Set) ([]*neurostore.UploadOutcome, error) {
	if set == nil && config.Pipeline.ManifestPath != "" {
		manifest, err := manifestIdentifiers(config.StageSync)
		if err != nil {
			return nil, err
		}
		set = manifest
	}

	cache, err := neurostore.OpenCache()
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	if set == nil {
		envelopes, err := cache.Entries()
		if err != nil {
			return nil, err
		}
		outcomes := make([]*neurostore.UploadOutcome, 0, len(envelopes))
		for _, envelope := range envelopes {
			if envelope.Payload != nil {
				outcomes = append(outcomes, envelope.Payload)
			}
		}
		slog.Info("hydrated upload outcomes from cache", "outcomes", len(outcomes))
		return outcomes, nil
	}

	outcomes := []*neurostore.UploadOutcome{}
	for _, id := range set.Items() {
		envelope, found, err := cache.Get(id.Slug())
		if err != nil || !found {
			continue
		}
		if envelope.Payload != nil {
			outcomes = append(outcomes, envelope.Payload)
		}
	}
	slog.Info("hydrated upload outcomes from cache",
		"identifiers", set.Len(), "outcomes", len(outcomes))
	return outcomes, nil
}
