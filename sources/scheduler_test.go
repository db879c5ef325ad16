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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/identifiers"
)

// the result type used by these tests, shaped like a download result
type fetchResult struct {
	Pmid    string `json:"pmid,omitempty"`
	Source  string `json:"source,omitempty"`
	Success bool   `json:"success"`
}

// a scriptable backend that records what it was asked to fetch
type fakeBackend struct {
	name     string
	supports func(*identifiers.Identifier) bool
	run      func([]*identifiers.Identifier) []*fetchResult
	err      error
	seen     [][]string // pmids per Run call
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Supports(id *identifiers.Identifier) bool {
	if b.supports == nil {
		return true
	}
	return b.supports(id)
}

func (b *fakeBackend) Run(ctx context.Context, ids []*identifiers.Identifier) ([]*fetchResult, error) {
	pmids := make([]string, len(ids))
	for i, id := range ids {
		pmids[i] = id.Pmid()
	}
	b.seen = append(b.seen, pmids)
	if b.err != nil {
		return nil, b.err
	}
	return b.run(ids), nil
}

// a backend that succeeds for the given pmids and fails for the rest
func succeedsFor(name string, pmids ...string) *fakeBackend {
	wanted := make(map[string]bool, len(pmids))
	for _, pmid := range pmids {
		wanted[pmid] = true
	}
	return &fakeBackend{
		name: name,
		run: func(ids []*identifiers.Identifier) []*fetchResult {
			results := make([]*fetchResult, len(ids))
			for i, id := range ids {
				results[i] = &fetchResult{Pmid: id.Pmid(), Source: name, Success: wanted[id.Pmid()]}
			}
			return results
		},
	}
}

func openSchedulerCaches(t *testing.T, names ...string) map[string]*caches.Cache[*fetchResult] {
	root := t.TempDir()
	out := make(map[string]*caches.Cache[*fetchResult], len(names))
	for _, name := range names {
		cache, err := caches.Open(caches.Spec[*fetchResult]{
			Dir:   filepath.Join(root, "download", name),
			Table: "download",
			Aliases: func(r *fetchResult) caches.AliasValues {
				return caches.AliasValues{Pmid: r.Pmid}
			},
		})
		if err != nil {
			t.Fatalf("couldn't open cache for %s: %s", name, err.Error())
		}
		t.Cleanup(func() { cache.Close() })
		out[name] = cache
	}
	return out
}

func downloadOptions(backends []Backend[*fetchResult], cacheMap map[string]*caches.Cache[*fetchResult]) FallbackOptions[*fetchResult] {
	return FallbackOptions[*fetchResult]{
		Backends: backends,
		CacheFor: func(name string) *caches.Cache[*fetchResult] { return cacheMap[name] },
		Satisfied: func(_ *identifiers.Identifier, r *fetchResult) bool {
			return r != nil && r.Success
		},
		Persist: func(_ *identifiers.Identifier, r *fetchResult) bool {
			return r != nil && r.Success
		},
	}
}

func TestFallbackConsultsBackendsInOrder(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "first", "second", "third")
	first := succeedsFor("first", "1")
	second := succeedsFor("second", "2")
	third := succeedsFor("third")

	inputs := []*identifiers.Identifier{
		identifiers.New("1", "", ""),
		identifiers.New("2", "", ""),
	}
	outcome, err := RunFallback(context.Background(),
		inputs, downloadOptions([]Backend[*fetchResult]{first, second, third}, cacheMap))
	assert.Nil(err)

	assert.True(outcome.Satisfied[0] && outcome.Satisfied[1], "both inputs should end satisfied")
	assert.Equal("first", outcome.Results[0].Source, "the first satisfying backend should win")
	assert.Equal("second", outcome.Results[1].Source)

	assert.Equal([][]string{{"1", "2"}}, first.seen, "the first backend should see everything")
	assert.Equal([][]string{{"2"}}, second.seen, "later backends should only see unsatisfied inputs")
	assert.Empty(third.seen, "a backend after full satisfaction should never be invoked")
}

func TestFallbackHonorsSupports(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "picky", "second")
	picky := succeedsFor("picky", "1")
	picky.supports = func(id *identifiers.Identifier) bool { return id.Pmcid() != "" }
	second := succeedsFor("second", "1", "2")

	inputs := []*identifiers.Identifier{
		identifiers.New("1", "", "PMC1"),
		identifiers.New("2", "", ""), // not supported by picky
	}
	outcome, err := RunFallback(context.Background(),
		inputs, downloadOptions([]Backend[*fetchResult]{picky, second}, cacheMap))
	assert.Nil(err)

	assert.Equal([][]string{{"1"}}, picky.seen, "unsupported inputs should never reach a backend")
	assert.Equal([][]string{{"2"}}, second.seen)
	assert.True(outcome.Satisfied[0] && outcome.Satisfied[1])
}

func TestFallbackUsesCacheBeforeNetwork(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "only")
	backend := succeedsFor("only", "1", "2")

	cached := identifiers.New("1", "", "")
	assert.Nil(cacheMap["only"].AddEntries([]*caches.Envelope[*fetchResult]{
		caches.NewEnvelope(cached.Slug(), &fetchResult{Pmid: "1", Source: "only", Success: true}),
	}))

	inputs := []*identifiers.Identifier{cached, identifiers.New("2", "", "")}
	outcome, err := RunFallback(context.Background(),
		inputs, downloadOptions([]Backend[*fetchResult]{backend}, cacheMap))
	assert.Nil(err)

	assert.Equal(1, outcome.CacheHits)
	assert.Equal(1, outcome.Fresh)
	assert.Equal([][]string{{"2"}}, backend.seen, "cached inputs should not hit the network")
	assert.True(outcome.Satisfied[0], "a cached success satisfies the input")
}

func TestFallbackCacheOnlyMode(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "only")
	backend := succeedsFor("only", "1")

	options := downloadOptions([]Backend[*fetchResult]{backend}, cacheMap)
	options.CacheOnly = true
	inputs := []*identifiers.Identifier{identifiers.New("1", "", "")}
	outcome, err := RunFallback(context.Background(), inputs, options)
	assert.Nil(err)

	assert.Empty(backend.seen, "cache-only mode should never run a backend")
	assert.False(outcome.Produced[0])
	assert.False(outcome.Satisfied[0])
}

func TestFallbackIgnoreCache(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "only")
	backend := succeedsFor("only", "1")

	cached := identifiers.New("1", "", "")
	assert.Nil(cacheMap["only"].AddEntries([]*caches.Envelope[*fetchResult]{
		caches.NewEnvelope(cached.Slug(), &fetchResult{Pmid: "1", Source: "stale", Success: true}),
	}))

	options := downloadOptions([]Backend[*fetchResult]{backend}, cacheMap)
	options.IgnoreCache = true
	outcome, err := RunFallback(context.Background(), []*identifiers.Identifier{cached}, options)
	assert.Nil(err)

	assert.Equal([][]string{{"1"}}, backend.seen, "ignore-cache should force a fresh run")
	assert.Equal("only", outcome.Results[0].Source, "the fresh result should replace the stale one")
}

func TestFallbackPersistsOnlySuccesses(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "mixed")
	backend := succeedsFor("mixed", "1") // succeeds for 1, fails for 2

	inputs := []*identifiers.Identifier{
		identifiers.New("1", "", ""),
		identifiers.New("2", "", ""),
	}
	_, err := RunFallback(context.Background(),
		inputs, downloadOptions([]Backend[*fetchResult]{backend}, cacheMap))
	assert.Nil(err)

	found, err := cacheMap["mixed"].Has(inputs[0].Slug())
	assert.Nil(err)
	assert.True(found, "the success should be cached")
	found, err = cacheMap["mixed"].Has(inputs[1].Slug())
	assert.Nil(err)
	assert.False(found, "the failure should not be cached")
}

func TestFallbackEnrichmentAcrossProviders(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "doi-provider", "pmcid-provider")

	// the first provider knows the DOI, the second the PMCID
	doiProvider := &fakeBackend{
		name: "doi-provider",
		run: func(ids []*identifiers.Identifier) []*fetchResult {
			results := make([]*fetchResult, len(ids))
			for i := range ids {
				results[i] = &fetchResult{Pmid: "doi:10.1/a", Success: true}
			}
			return results
		},
	}
	pmcidProvider := &fakeBackend{
		name: "pmcid-provider",
		run: func(ids []*identifiers.Identifier) []*fetchResult {
			results := make([]*fetchResult, len(ids))
			for i := range ids {
				results[i] = &fetchResult{Pmid: "pmcid:PMC1", Success: true}
			}
			return results
		},
	}

	input := identifiers.New("1", "", "")
	options := FallbackOptions[*fetchResult]{
		Backends: []Backend[*fetchResult]{doiProvider, pmcidProvider},
		CacheFor: func(name string) *caches.Cache[*fetchResult] { return cacheMap[name] },
		Apply: func(id *identifiers.Identifier, r *fetchResult) {
			switch r.Pmid {
			case "doi:10.1/a":
				id.SetDoi("10.1/a")
			case "pmcid:PMC1":
				id.SetPmcid("PMC1")
			}
		},
		// lookup-style satisfaction: the full primary triple
		Satisfied: func(id *identifiers.Identifier, _ *fetchResult) bool {
			return id.IsComplete()
		},
	}
	outcome, err := RunFallback(context.Background(), []*identifiers.Identifier{input}, options)
	assert.Nil(err)

	assert.True(input.IsComplete(), "both providers should have enriched the input in place")
	assert.True(outcome.Satisfied[0])
	assert.Equal([][]string{{"1"}}, doiProvider.seen)
	assert.Equal([][]string{{"1"}}, pmcidProvider.seen,
		"a partially enriched input should fall through to the next provider")

	// each provider's namespace holds what that provider produced
	count, err := cacheMap["doi-provider"].Count()
	assert.Nil(err)
	assert.Equal(1, count)
	count, err = cacheMap["pmcid-provider"].Count()
	assert.Nil(err)
	assert.Equal(1, count)
}

func TestFallbackSurvivesBackendFailures(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "broken", "mismatched", "working")
	broken := &fakeBackend{name: "broken", err: errors.New("service down")}
	mismatched := &fakeBackend{
		name: "mismatched",
		run:  func(ids []*identifiers.Identifier) []*fetchResult { return nil },
	}
	working := succeedsFor("working", "1")

	inputs := []*identifiers.Identifier{identifiers.New("1", "", "")}
	outcome, err := RunFallback(context.Background(),
		inputs, downloadOptions([]Backend[*fetchResult]{broken, mismatched, working}, cacheMap))
	assert.Nil(err, "backend failures should not abort the scheduler")
	assert.True(outcome.Satisfied[0], "a later backend should still satisfy the input")
	assert.Equal("working", outcome.Results[0].Source)
}

func TestFallbackResultsAlignWithInputs(t *testing.T) {
	assert := assert.New(t)
	cacheMap := openSchedulerCaches(t, "only")
	backend := succeedsFor("only", "1", "2", "3")

	inputs := []*identifiers.Identifier{
		identifiers.New("3", "", ""),
		identifiers.New("1", "", ""),
		identifiers.New("2", "", ""),
	}
	outcome, err := RunFallback(context.Background(),
		inputs, downloadOptions([]Backend[*fetchResult]{backend}, cacheMap))
	assert.Nil(err)
	for i, input := range inputs {
		assert.Equal(input.Pmid(), outcome.Results[i].Pmid,
			"output position %d should correspond to input position %d", i, i)
	}
}
