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
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
)

// a source that records fetches and answers from a scripted function
type fakeSource struct {
	name     string
	supports func(id *identifiers.Identifier) bool
	fetch    func(id *identifiers.Identifier) (*Result, error)

	mutex   sync.Mutex
	fetched []string
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Supports(id *identifiers.Identifier) bool {
	if s.supports == nil {
		return true
	}
	return s.supports(id)
}

func (s *fakeSource) Fetch(_ context.Context, id *identifiers.Identifier) (*Result, error) {
	s.mutex.Lock()
	s.fetched = append(s.fetched, id.Slug())
	s.mutex.Unlock()
	if s.fetch == nil {
		return &Result{Identifier: id.Clone(), Source: s.name, Success: true}, nil
	}
	return s.fetch(id)
}

func (s *fakeSource) fetchCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.fetched)
}

// initializes the configuration with roots under the given directory
func initDownloadConfigAt(t *testing.T, root, extraYaml string) {
	yaml := fmt.Sprintf(`
dirs:
  data_root: %s/data
  cache_root: %s/cache
  ns_pond_root: %s/pond
%s`, root, root, root, extraYaml)
	if err := config.Init([]byte(yaml)); err != nil {
		t.Fatalf("couldn't initialize configuration: %s", err.Error())
	}
}

func initDownloadConfig(t *testing.T, extraYaml string) {
	initDownloadConfigAt(t, t.TempDir(), extraYaml)
}

func TestDownloadFallsBackAcrossSources(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, "")
	pmc := &fakeSource{name: "pubget",
		supports: func(id *identifiers.Identifier) bool { return id.Pmcid() != "" }}
	publisher := &fakeSource{name: "elsevier",
		supports: func(id *identifiers.Identifier) bool { return id.Doi() != "" }}
	scraper := &fakeSource{name: "ace"}
	stage := &Stage{sources: []Source{pmc, publisher, scraper}}

	set := identifiers.NewSet(
		identifiers.New("", "", "PMC11111"),
		identifiers.New("", "10.1016/x", ""),
	)
	results, err := stage.Run(context.Background(), set)
	assert.NoError(err, "the stage should run")
	assert.Len(results, 2, "every identifier gets a result")

	assert.True(results[0].Success, "the PMC article downloads")
	assert.Equal("pubget", results[0].Source, "the PMCID goes to the first source")
	assert.True(results[1].Success, "the DOI-only article downloads")
	assert.Equal("elsevier", results[1].Source,
		"an article skips sources that can't serve its identifiers")

	assert.Equal(1, pmc.fetchCount(), "the first source sees only the PMCID article")
	assert.Equal(1, publisher.fetchCount(), "the second source sees only the leftover")
	assert.Equal(0, scraper.fetchCount(), "satisfied articles never reach the last source")
}

func TestDownloadSynthesizesFailures(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, "")
	flaky := &fakeSource{name: "flaky",
		supports: func(id *identifiers.Identifier) bool { return id.Pmcid() != "" },
		fetch: func(id *identifiers.Identifier) (*Result, error) {
			return &Result{Identifier: id.Clone(), Source: "flaky", ErrorMessage: "boom"}, nil
		}}
	stage := &Stage{sources: []Source{flaky}}

	set := identifiers.NewSet(
		identifiers.New("", "", "PMC11111"),
		identifiers.New("", "10.1016/x", ""),
	)
	results, err := stage.Run(context.Background(), set)
	assert.NoError(err, "failures don't abort the stage")

	assert.False(results[0].Success, "the failed fetch stays failed")
	assert.Equal("boom", results[0].ErrorMessage, "the source's error message survives")
	assert.False(results[1].Success, "an unsupported article fails")
	assert.Equal("no configured source could provide this article",
		results[1].ErrorMessage, "articles nobody tried get a synthesized failure")
	assert.Equal("10.1016/x", results[1].Identifier.Doi(),
		"the synthesized failure carries the article's identifier")
}

func TestDownloadFoldsFetchErrorsIntoResults(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, "")
	broken := &fakeSource{name: "broken",
		fetch: func(id *identifiers.Identifier) (*Result, error) {
			return nil, fmt.Errorf("connection refused")
		}}
	fallback := &fakeSource{name: "fallback"}
	stage := &Stage{sources: []Source{broken, fallback}}

	set := identifiers.NewSet(identifiers.New("11111", "", ""))
	results, err := stage.Run(context.Background(), set)
	assert.NoError(err, "fetch errors don't abort the stage")
	assert.True(results[0].Success, "the next source still gets its turn")
	assert.Equal("fallback", results[0].Source, "the fallback provided the article")
}

func TestDownloadServesRepeatRunsFromCache(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	initDownloadConfigAt(t, root, "")
	source := &fakeSource{name: "pubget"}
	set := identifiers.NewSet(identifiers.New("11111", "", "PMC11111"))

	stage := &Stage{sources: []Source{source}}
	results, err := stage.Run(context.Background(), set)
	assert.NoError(err, "the first run should work")
	assert.True(results[0].Success, "the first run downloads the article")
	assert.Equal(1, source.fetchCount(), "the first run hits the network")

	results, err = (&Stage{sources: []Source{source}}).Run(context.Background(), set)
	assert.NoError(err, "the second run should work")
	assert.True(results[0].Success, "the cached result satisfies the second run")
	assert.Equal(1, source.fetchCount(), "the second run never hits the network")
}

func TestDownloadCacheOnlyMode(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, `
pipeline:
  cache_only_mode: true
`)
	source := &fakeSource{name: "pubget"}
	stage := &Stage{sources: []Source{source}}

	set := identifiers.NewSet(identifiers.New("11111", "", ""))
	results, err := stage.Run(context.Background(), set)
	assert.NoError(err, "cache-only mode should run")
	assert.False(results[0].Success, "an uncached article can't download in cache-only mode")
	assert.Equal(0, source.fetchCount(), "cache-only mode never hits the network")
}

func TestDownloadForceRedownloadIgnoresCache(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	initDownloadConfigAt(t, root, "")
	source := &fakeSource{name: "pubget"}
	set := identifiers.NewSet(identifiers.New("11111", "", ""))

	_, err := (&Stage{sources: []Source{source}}).Run(context.Background(), set)
	assert.NoError(err, "the first run should work")
	assert.Equal(1, source.fetchCount(), "the first run hits the network")

	initDownloadConfigAt(t, root, `
pipeline:
  force_redownload: true
`)
	_, err = (&Stage{sources: []Source{source}}).Run(context.Background(), set)
	assert.NoError(err, "the forced run should work")
	assert.Equal(2, source.fetchCount(), "force_redownload treats the cache as empty")
}

func TestDownloadPoolPreservesInputOrder(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, `
pipeline:
  max_workers: 5
`)
	source := &fakeSource{name: "pubget"}
	stage := &Stage{sources: []Source{source}}

	ids := make([]*identifiers.Identifier, 25)
	for i := 0; i < len(ids); i++ {
		ids[i] = identifiers.New(strconv.Itoa(10000+i), "", "")
	}
	results, err := stage.Run(context.Background(), identifiers.NewSet(ids...))
	assert.NoError(err, "the stage should run")
	assert.Len(results, len(ids), "every identifier gets a result")
	for i := 0; i < len(ids); i++ {
		assert.Equal(ids[i].Slug(), results[i].Identifier.Slug(),
			"results line up with inputs regardless of completion order")
	}
}

func TestWorkersForBounds(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, `
pipeline:
  max_workers: 7
  ace_max_workers: 2
`)
	assert.Equal(7, workersFor("pubget"), "most sources share the general pool bound")
	assert.Equal(2, workersFor("ace"), "ace gets its own pool bound")
}

func TestSourceRegistry(t *testing.T) {
	assert := assert.New(t)
	initDownloadConfig(t, "")
	err := RegisterSource("registry-test", func() (Source, error) {
		return &fakeSource{name: "registry-test"}, nil
	})
	assert.NoError(err, "registering a named source should work")

	first, err := NewSource("registry-test")
	assert.NoError(err, "creating a registered source should work")
	second, err := NewSource("registry-test")
	assert.NoError(err, "asking again should work")
	assert.Same(first, second, "sources are created once and reused")

	_, err = NewSource("never-registered")
	var unknownErr *UnknownSourceError
	assert.ErrorAs(err, &unknownErr, "unregistered names are rejected")
}
