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
	"log/slog"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/metadata"
	"github.com/neurostuff/nsingest/neurostore"
)

// hydrator reads the stage caches for artifacts the run state didn't carry
// here, following the same source order the stages used. Each cache opens at
// most once, lazily, and a cache that won't open is warned about once.
type hydrator struct {
	downloadCaches map[string]*caches.Cache[*downloads.Result]
	extractCaches  map[string]*caches.Cache[*extraction.Content]
}

func newHydrator() *hydrator {
	return &hydrator{
		downloadCaches: map[string]*caches.Cache[*downloads.Result]{},
		extractCaches:  map[string]*caches.Cache[*extraction.Content]{},
	}
}

func (h *hydrator) Close() {
	for _, cache := range h.downloadCaches {
		if cache != nil {
			cache.Close()
		}
	}
	for _, cache := range h.extractCaches {
		if cache != nil {
			cache.Close()
		}
	}
}

// download finds the article's winning download: the first cached success in
// configured source order, mirroring the fallback the download stage ran.
func (h *hydrator) download(slug string) *downloads.Result {
	for _, name := range config.Download.Sources {
		cache := h.downloadCache(name)
		if cache == nil {
			continue
		}
		envelope, found, err := cache.Get(slug)
		if err != nil || !found {
			continue
		}
		if result := envelope.Payload; result != nil && result.Success {
			return result
		}
	}
	return nil
}

// bundle reassembles the article's extraction bundle: content from the first
// extract cache that has it, metadata from the provider caches.
func (h *hydrator) bundle(outcome *neurostore.UploadOutcome) *extraction.Bundle {
	var content *extraction.Content
	for _, name := range config.Download.Sources {
		cache := h.extractCache(name)
		if cache == nil {
			continue
		}
		envelope, found, err := cache.Get(outcome.Slug)
		if err != nil || !found {
			continue
		}
		if envelope.Payload != nil && !envelope.Payload.Failed() {
			content = envelope.Payload
			break
		}
	}
	if content == nil {
		return nil
	}
	return &extraction.Bundle{
		Content:  content,
		Metadata: metadata.CachedMetadata(config.Gather.MetadataProviders, outcome.Identifier),
	}
}

func (h *hydrator) downloadCache(name string) *caches.Cache[*downloads.Result] {
	if cache, tried := h.downloadCaches[name]; tried {
		return cache
	}
	cache, err := downloads.OpenCache(name)
	if err != nil {
		slog.Warn("couldn't open download cache for sync", "source", name, "error", err.Error())
		cache = nil
	}
	h.downloadCaches[name] = cache
	return cache
}

func (h *hydrator) extractCache(name string) *caches.Cache[*extraction.Content] {
	if cache, tried := h.extractCaches[name]; tried {
		return cache
	}
	cache, err := extraction.OpenCache(name)
	if err != nil {
		slog.Warn("couldn't open extract cache for sync", "source", name, "error", err.Error())
		cache = nil
	}
	h.extractCaches[name] = cache
	return cache
}
