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
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/identifiers"
)

// an extractor that records extractions and answers from scripted functions
type fakeExtractor struct {
	name     string
	validate func(result *downloads.Result) error
	extract  func(result *downloads.Result) (*Content, error)

	mutex     sync.Mutex
	extracted []string
}

func (e *fakeExtractor) Name() string { return e.name }

func (e *fakeExtractor) Validate(result *downloads.Result) error {
	if e.validate == nil {
		return nil
	}
	return e.validate(result)
}

func (e *fakeExtractor) Extract(_ context.Context, result *downloads.Result) (*Content, error) {
	e.mutex.Lock()
	e.extracted = append(e.extracted, result.Identifier.Slug())
	e.mutex.Unlock()
	if e.extract == nil {
		return &Content{
			Slug:        result.Identifier.Slug(),
			Source:      e.name,
			Identifier:  result.Identifier.Clone(),
			ExtractedAt: time.Now().UTC(),
		}, nil
	}
	return e.extract(result)
}

func (e *fakeExtractor) extractCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.extracted)
}

// registers a fake under the given source name; names must be unique across
// the test binary because the registry caches instances
func registerFakeExtractor(t *testing.T, name string) *fakeExtractor {
	fake := &fakeExtractor{name: name}
	if err := RegisterExtractor(name, func() (Extractor, error) { return fake, nil }); err != nil {
		t.Fatalf("couldn't register the fake extractor: %s", err.Error())
	}
	return fake
}

// initializes the configuration with roots under the given directory; the
// extractor pseudo-provider keeps enrichment off the network
func initExtractionConfigAt(t *testing.T, root, extraYaml string) {
	yaml := fmt.Sprintf(`
dirs:
  data_root: %s/data
  cache_root: %s/cache
  ns_pond_root: %s/pond
gather:
  metadata_providers: [extractor]
%s`, root, root, root, extraYaml)
	if err := config.Init([]byte(yaml)); err != nil {
		t.Fatalf("couldn't initialize configuration: %s", err.Error())
	}
}

func initExtractionConfig(t *testing.T, extraYaml string) {
	initExtractionConfigAt(t, t.TempDir(), extraYaml)
}

// a successful download with one (possibly fictitious) file
func downloadedResult(source string, id *identifiers.Identifier) *downloads.Result {
	return &downloads.Result{
		Identifier: id,
		Source:     source,
		Success:    true,
		Files:      []downloads.DownloadedFile{{Path: "/articles/article.xml", FileType: downloads.FileTypeXml}},
	}
}

func TestExtractFailsUnsuccessfulDownloads(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")

	results := []*downloads.Result{{
		Identifier:   identifiers.New("11111", "", ""),
		Source:       "pubget",
		ErrorMessage: "boom",
	}}

	stage, err := NewStage()
	assert.NoError(err, "The stage should be created")
	bundles, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The stage should not abort on failed downloads")
	assert.Len(bundles, 1, "Outputs should align with inputs")
	assert.True(bundles[0].Content.Failed(), "The content should be failed")
	assert.Equal("download failed: boom", bundles[0].Content.ErrorMessage,
		"The download's error should be carried forward")
	if assert.NotNil(bundles[0].Metadata, "Failed articles still get metadata") {
		assert.Equal("placeholder", bundles[0].Metadata.Source,
			"With no provider the metadata is a placeholder")
		assert.Equal("11111", bundles[0].Metadata.Title,
			"The placeholder title is the strongest identifier")
	}
}

func TestExtractValidationSkipsExtractor(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")
	fake := registerFakeExtractor(t, "gatekeeper")
	fake.validate = func(result *downloads.Result) error {
		if result.Identifier.Pmid() == "22222" {
			return &InvalidInputError{Source: "gatekeeper", Reason: "no tables file"}
		}
		return nil
	}

	results := []*downloads.Result{
		downloadedResult("gatekeeper", identifiers.New("11111", "", "")),
		downloadedResult("gatekeeper", identifiers.New("22222", "", "")),
	}

	stage, _ := NewStage()
	bundles, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The stage should not abort on invalid inputs")
	assert.Equal(1, fake.extractCount(), "Only the valid input should reach the extractor")
	assert.False(bundles[0].Content.Failed(), "The valid input should extract")
	assert.True(bundles[1].Content.Failed(), "The invalid input should fail")
	assert.Equal("gatekeeper extraction input invalid: no tables file",
		bundles[1].Content.ErrorMessage, "The validation error should be carried")
}

func TestExtractServesRepeatRunsFromCache(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")
	fake := registerFakeExtractor(t, "counter")

	results := []*downloads.Result{
		downloadedResult("counter", identifiers.New("11111", "", "PMC11111")),
	}

	stage, _ := NewStage()
	first, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The first run should succeed")
	assert.Equal(1, fake.extractCount(), "The first run should extract")

	second, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The second run should succeed")
	assert.Equal(1, fake.extractCount(), "The second run should be served from the cache")
	assert.Equal(first[0].Content.Slug, second[0].Content.Slug, "The cached content should match")
	assert.Equal("counter", second[0].Content.Source, "The cached content keeps its source")
}

func TestExtractDoesNotCacheFailures(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")
	fake := registerFakeExtractor(t, "flaky")
	fake.extract = func(result *downloads.Result) (*Content, error) {
		return nil, errors.New("the article XML does not parse")
	}

	results := []*downloads.Result{
		downloadedResult("flaky", identifiers.New("33333", "", "")),
	}

	stage, _ := NewStage()
	bundles, err := stage.Run(context.Background(), results)
	assert.NoError(err, "Extractor errors become failed contents, not stage errors")
	assert.True(bundles[0].Content.Failed(), "The content should be failed")
	assert.Equal("the article XML does not parse", bundles[0].Content.ErrorMessage,
		"The extractor's error should be carried")

	_, err = stage.Run(context.Background(), results)
	assert.NoError(err, "The second run should succeed")
	assert.Equal(2, fake.extractCount(), "Failures should be retried, not cached")
}

func TestExtractAlignsOutputsWithInputs(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")
	registerFakeExtractor(t, "north")
	registerFakeExtractor(t, "south")

	results := make([]*downloads.Result, 7)
	for i := 0; i < 7; i++ {
		id := identifiers.New(strconv.Itoa(40000+i), "", "")
		source := "north"
		if i%2 == 1 {
			source = "south"
		}
		results[i] = downloadedResult(source, id)
	}
	results[3].Success = false
	results[3].ErrorMessage = "connection reset"

	stage, _ := NewStage()
	bundles, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The stage should succeed")
	assert.Len(bundles, 7, "Outputs should align with inputs")
	for i, bundle := range bundles {
		assert.Equal(results[i].Identifier.Slug(), bundle.Content.Slug,
			"Bundle %d should describe input %d", i, i)
		assert.NotNil(bundle.Metadata, "Every bundle should carry metadata")
	}
	assert.True(bundles[3].Content.Failed(), "The failed download should stay failed")
	assert.Equal("north", bundles[0].Content.Source, "Sources should be preserved")
	assert.Equal("south", bundles[1].Content.Source, "Sources should be preserved")
}

func TestExtractForceReextractIgnoresCache(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	initExtractionConfigAt(t, root, "")
	fake := registerFakeExtractor(t, "refresher")

	results := []*downloads.Result{
		downloadedResult("refresher", identifiers.New("55555", "", "")),
	}

	stage, _ := NewStage()
	_, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The first run should succeed")
	assert.Equal(1, fake.extractCount(), "The first run should extract")

	initExtractionConfigAt(t, root, `
pipeline:
  force_reextract: true`)
	stage, _ = NewStage()
	_, err = stage.Run(context.Background(), results)
	assert.NoError(err, "The forced run should succeed")
	assert.Equal(2, fake.extractCount(), "force_reextract should bypass the cache")
}

func TestExtractReportsUnknownSources(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")

	results := []*downloads.Result{
		downloadedResult("never-registered", identifiers.New("66666", "", "")),
	}

	stage, _ := NewStage()
	bundles, err := stage.Run(context.Background(), results)
	assert.NoError(err, "An unknown source fails its articles, not the stage")
	assert.True(bundles[0].Content.Failed(), "The content should be failed")
	assert.Contains(bundles[0].Content.ErrorMessage, "never-registered",
		"The error should name the unknown source")
}

func TestExtractFeedsLocalMetadataFallback(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")
	fake := registerFakeExtractor(t, "scribe")
	path := writeFullText(t, "article.xml", jatsArticleXml)
	fake.extract = func(result *downloads.Result) (*Content, error) {
		return &Content{
			Slug:         result.Identifier.Slug(),
			Source:       "scribe",
			Identifier:   result.Identifier.Clone(),
			FullTextPath: path,
			ExtractedAt:  time.Now().UTC(),
		}, nil
	}

	results := []*downloads.Result{
		downloadedResult("scribe", identifiers.New("77777", "", "")),
	}

	stage, _ := NewStage()
	bundles, err := stage.Run(context.Background(), results)
	assert.NoError(err, "The stage should succeed")
	if assert.NotNil(bundles[0].Metadata, "The bundle should carry metadata") {
		assert.Equal("Mapping the motor cortex", bundles[0].Metadata.Title,
			"The title should come from the article's own front matter")
		assert.Equal("extractor", bundles[0].Metadata.Source,
			"The record should name the extractor fallback")
	}
}

func TestExtractEmptyInput(t *testing.T) {
	assert := assert.New(t)
	initExtractionConfig(t, "")

	stage, _ := NewStage()
	bundles, err := stage.Run(context.Background(), nil)
	assert.NoError(err, "An empty input should succeed")
	assert.NotNil(bundles, "An empty input should yield an empty slice")
	assert.Empty(bundles, "An empty input should yield no bundles")
}
