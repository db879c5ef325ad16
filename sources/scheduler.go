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

package sources

import (
	"context"
	"log/slog"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/identifiers"
)

// FallbackOptions configure one run of the fallback scheduler.
type FallbackOptions[R any] struct {
	Backends []Backend[R]

	// CacheFor returns the cache namespace for the named backend; nil (or a
	// nil return) disables caching for that backend.
	CacheFor func(backendName string) *caches.Cache[R]

	// CacheOnly stops backends from running; only cached results are used.
	CacheOnly bool

	// IgnoreCache treats every cache as empty (fresh results still persist).
	IgnoreCache bool

	// Satisfied reports whether an input needs no further backends, judged
	// after Apply has folded the result in. Downloads are satisfied by any
	// success; identifier lookup is satisfied only by a complete primary
	// triple.
	Satisfied func(input *identifiers.Identifier, result R) bool

	// Apply folds a cached or fresh result into the input record (used by
	// identifier lookup for in-place enrichment); may be nil.
	Apply func(input *identifiers.Identifier, result R)

	// Persist reports whether a fresh result is worth caching; nil persists
	// everything a backend produces.
	Persist func(input *identifiers.Identifier, result R) bool

	// Slug names the cache row for a fresh result; nil uses the input's slug
	// (after Apply).
	Slug func(input *identifiers.Identifier, result R) string
}

// Outcome records the scheduler's per-input results: Results[i] is the
// winning (or last) result produced for input i, Produced[i] says whether any
// backend produced one, and Satisfied[i] whether the input finished
// satisfied. Output positions correspond to input positions.
type Outcome[R any] struct {
	Results   []R
	Produced  []bool
	Satisfied []bool
	CacheHits int
	Fresh     int
}

// RunFallback consults the backends in priority order. Each backend sees
// only the inputs every earlier backend left unsatisfied, filtered by its
// Supports predicate and partitioned against its cache namespace first.
// Backend-level failures are logged and treated as "produced nothing" so the
// remaining backends still get their turn; the only error returned is
// context cancellation.
func RunFallback[R any](ctx context.Context, inputs []*identifiers.Identifier, opts FallbackOptions[R]) (*Outcome[R], error) {
	outcome := &Outcome[R]{
		Results:   make([]R, len(inputs)),
		Produced:  make([]bool, len(inputs)),
		Satisfied: make([]bool, len(inputs)),
	}

	for _, backend := range opts.Backends {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		// this backend sees only unsatisfied inputs it supports
		indices := make([]int, 0, len(inputs))
		supported := make([]*identifiers.Identifier, 0, len(inputs))
		for i, input := range inputs {
			if !outcome.Satisfied[i] && backend.Supports(input) {
				indices = append(indices, i)
				supported = append(supported, input)
			}
		}
		if len(supported) == 0 {
			continue
		}

		cache := opts.cacheFor(backend.Name())
		missIndices, misses := indices, supported
		if cache != nil && !opts.IgnoreCache {
			partition, err := cache.PartitionCached(supported)
			if err != nil {
				slog.Error("cache partition failed; treating namespace as empty",
					"backend", backend.Name(), "error", err.Error())
			} else {
				for _, hit := range partition.Hits {
					index := indices[hit.Index]
					outcome.record(index, inputs[index], hit.Envelope.Payload, opts)
					outcome.CacheHits++
				}
				missIndices = make([]int, len(partition.Misses))
				misses = make([]*identifiers.Identifier, len(partition.Misses))
				for i, miss := range partition.Misses {
					missIndices[i] = indices[miss.Index]
					misses[i] = miss.Identifier
				}
			}
		}

		if opts.CacheOnly || len(misses) == 0 {
			continue
		}

		results, err := backend.Run(ctx, misses)
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			slog.Error("backend failed; falling through to the next source",
				"backend", backend.Name(), "error", err.Error())
			continue
		}
		if len(results) != len(misses) {
			slog.Error("backend broke its contract: result count != input count",
				"backend", backend.Name(), "inputs", len(misses), "results", len(results))
			continue
		}

		entries := make([]*caches.Envelope[R], 0, len(results))
		for i, result := range results {
			index := missIndices[i]
			outcome.record(index, inputs[index], result, opts)
			outcome.Fresh++
			if opts.persistWorthy(inputs[index], result) {
				entries = append(entries,
					caches.NewEnvelope(opts.slugFor(inputs[index], result), result))
			}
		}
		if cache != nil && len(entries) > 0 {
			if err := cache.AddEntries(entries); err != nil {
				slog.Error("couldn't persist backend results",
					"backend", backend.Name(), "error", err.Error())
			}
		}
	}
	return outcome, nil
}

// folds one result into the outcome, applying enrichment and re-judging
// satisfaction
func (o *Outcome[R]) record(index int, input *identifiers.Identifier, result R, opts FallbackOptions[R]) {
	if opts.Apply != nil {
		opts.Apply(input, result)
	}
	o.Results[index] = result
	o.Produced[index] = true
	if opts.Satisfied != nil && opts.Satisfied(input, result) {
		o.Satisfied[index] = true
	}
}

func (opts FallbackOptions[R]) cacheFor(name string) *caches.Cache[R] {
	if opts.CacheFor == nil {
		return nil
	}
	return opts.CacheFor(name)
}

func (opts FallbackOptions[R]) persistWorthy(input *identifiers.Identifier, result R) bool {
	if opts.Persist == nil {
		return true
	}
	return opts.Persist(input, result)
}

func (opts FallbackOptions[R]) slugFor(input *identifiers.Identifier, result R) string {
	if opts.Slug != nil {
		return opts.Slug(input, result)
	}
	return input.Slug()
}
