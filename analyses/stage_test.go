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

package analyses

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// initializes the configuration with roots under the given directory
func initAnalysesConfigAt(t *testing.T, root, extraYaml string) {
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

func initAnalysesConfig(t *testing.T, extraYaml string) {
	initAnalysesConfigAt(t, t.TempDir(), extraYaml)
}

func cachedResultCount(t *testing.T) int {
	cache, err := OpenCache()
	if err != nil {
		t.Fatalf("couldn't open the analysis cache: %s", err.Error())
	}
	defer cache.Close()
	count, err := cache.Count()
	if err != nil {
		t.Fatalf("couldn't count cached results: %s", err.Error())
	}
	return count
}

func TestCreateAnalysesGeneratesCollections(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	initAnalysesConfigAt(t, root, "")
	client := &scriptedClient{answer: motorAnswer}
	bundle := analysisBundle("11111", coordinateTable("Table 1"), textTable("Table 2"))

	outputs, err := NewStage(client).Run(context.Background(), []*extraction.Bundle{bundle})
	assert.Nil(err)
	assert.Len(outputs, 1)
	assert.Equal(1, client.calls(), "only the coordinate table should reach the model")

	collection := outputs[0].Collections["Table 1"]
	assert.NotNil(collection)
	assert.Len(outputs[0].Collections, 1)
	assert.Equal(bundle.Content.Slug, collection.Slug)
	assert.Equal(extraction.SpaceMni, collection.CoordinateSpace)
	assert.Equal("11111", collection.Identifier.Pmid())
	assert.Len(collection.Analyses, 1)
	assert.Equal("motor task", collection.Analyses[0].Name)
	assert.Equal("Table 1", collection.Analyses[0].TableID)

	artifact := filepath.Join(root, "cache", config.StageCreateAnalyses, "artifacts",
		fileSafeSlug(bundle.Content.Slug+"::table-1")+".jsonl")
	data, err := os.ReadFile(artifact)
	assert.Nil(err, "the collection should be materialized next to the cache index")
	assert.Contains(string(data), "motor task")
}

func TestCreateAnalysesServesRepeatRunsFromCache(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	first := &scriptedClient{answer: motorAnswer}

	_, err := NewStage(first).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("11111", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Equal(1, first.calls())

	// the second run must not reach the model at all
	second := &scriptedClient{err: errors.New("should never be called")}
	outputs, err := NewStage(second).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("11111", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Zero(second.calls())

	collection := outputs[0].Collections["Table 1"]
	assert.NotNil(collection)
	assert.Len(collection.Analyses, 1)
	assert.Equal("motor task", collection.Analyses[0].Name)
	assert.Equal("11111", collection.Identifier.Pmid())
}

func TestCreateAnalysesSkipsTablesWithoutCoordinates(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	client := &scriptedClient{answer: motorAnswer}
	bundle := analysisBundle("22222", textTable("Table 1"))

	outputs, err := NewStage(client).Run(context.Background(), []*extraction.Bundle{bundle})
	assert.Nil(err)
	assert.Empty(outputs[0].Collections)
	assert.Zero(client.calls())
	assert.Zero(cachedResultCount(t), "skipped tables should leave no cache entries")
}

func TestCreateAnalysesPrunesCachedTablesFromJobs(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	first := &scriptedClient{answer: motorAnswer}

	_, err := NewStage(first).Run(context.Background(), []*extraction.Bundle{
		analysisBundle("33333", coordinateTable("Table 1"), coordinateTable("Table 2"))})
	assert.Nil(err)
	assert.Equal(2, first.calls())

	second := &scriptedClient{answer: motorAnswer}
	outputs, err := NewStage(second).Run(context.Background(), []*extraction.Bundle{
		analysisBundle("33333", coordinateTable("Table 1"), coordinateTable("Table 2"), coordinateTable("Table 3"))})
	assert.Nil(err)
	assert.Equal(1, second.calls(), "cached tables should be pruned from the model's work")
	assert.Len(outputs[0].Collections, 3)
}

func TestCreateAnalysesDisambiguatesRepeatedTableIds(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	client := &scriptedClient{answer: motorAnswer}
	bundle := analysisBundle("44444", coordinateTable("Table 1"), coordinateTable("Table 1"))

	outputs, err := NewStage(client).Run(context.Background(), []*extraction.Bundle{bundle})
	assert.Nil(err)
	assert.Equal(2, client.calls())

	collections := outputs[0].Collections
	assert.Len(collections, 2)
	assert.NotNil(collections["Table 1"])
	assert.NotNil(collections["table-1-2"], "the repeated id should pick up its disambiguated key")
	assert.Equal(2, cachedResultCount(t), "both tables should cache under distinct keys")
}

func TestCreateAnalysesKeepsEmptyCollectionForUndecodableAnswers(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	garbled := &scriptedClient{answer: "activations were observed in M1"}

	outputs, err := NewStage(garbled).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("55555", coordinateTable("Table 1"))})
	assert.Nil(err)
	collection := outputs[0].Collections["Table 1"]
	assert.NotNil(collection)
	assert.Empty(collection.Analyses)

	// asking again would buy the same answer, so the empty collection sticks
	fixed := &scriptedClient{answer: motorAnswer}
	outputs, err = NewStage(fixed).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("55555", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Zero(fixed.calls())
	assert.Empty(outputs[0].Collections["Table 1"].Analyses)
}

func TestCreateAnalysesRetriesTransportFailuresNextRun(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	down := &scriptedClient{err: errors.New("model unavailable")}

	outputs, err := NewStage(down).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("66666", coordinateTable("Table 1"))})
	assert.Nil(err, "a model outage should not fail the stage")
	collection := outputs[0].Collections["Table 1"]
	assert.NotNil(collection)
	assert.Empty(collection.Analyses)

	recovered := &scriptedClient{answer: motorAnswer}
	outputs, err = NewStage(recovered).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("66666", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Equal(1, recovered.calls(), "a transport failure should not be cached")
	assert.Len(outputs[0].Collections["Table 1"].Analyses, 1)
}

func TestCreateAnalysesPassesFailedArticlesThrough(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	client := &scriptedClient{answer: motorAnswer}
	failed := &extraction.Bundle{
		Content: &extraction.Content{
			Slug:         "77777||",
			Source:       config.SourceAce,
			ErrorMessage: "download failed: no full text",
		},
		Metadata: metadata.Placeholder(identifiers.New("77777", "", "")),
	}

	outputs, err := NewStage(client).Run(context.Background(), []*extraction.Bundle{
		failed, analysisBundle("88888", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Len(outputs, 2)
	assert.Empty(outputs[0].Collections)
	assert.Equal("77777||", outputs[0].Bundle.Content.Slug)
	assert.Len(outputs[1].Collections, 1)
	assert.Equal(1, client.calls())
}

func TestCreateAnalysesEmptyInput(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "")
	outputs, err := NewStage(&scriptedClient{}).Run(context.Background(), nil)
	assert.Nil(err)
	assert.NotNil(outputs)
	assert.Empty(outputs)
}

func TestCreateAnalysesIgnoreCacheRegenerates(t *testing.T) {
	assert := assert.New(t)
	initAnalysesConfig(t, "pipeline:\n  ignore_cache_stages: [create_analyses]")
	first := &scriptedClient{answer: motorAnswer}

	_, err := NewStage(first).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("99999", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Equal(1, first.calls())

	second := &scriptedClient{answer: motorAnswer}
	_, err = NewStage(second).Run(context.Background(),
		[]*extraction.Bundle{analysisBundle("99999", coordinateTable("Table 1"))})
	assert.Nil(err)
	assert.Equal(1, second.calls(), "ignoring the cache should re-run the model")
}

func TestCreateAnalysesExportsWhenEnabled(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	initAnalysesConfigAt(t, root, "pipeline:\n  export: true")
	client := &scriptedClient{answer: motorAnswer}
	bundle := analysisBundle("10101", coordinateTable("Table 1"))

	_, err := NewStage(client).Run(context.Background(), []*extraction.Bundle{bundle})
	assert.Nil(err)

	dir := filepath.Join(root, "data", "export", fileSafeSlug(bundle.Content.Slug))
	for _, name := range []string{"datapackage.json", "metadata.json", "tables.jsonl", "analyses.jsonl"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.Nil(err, "export should write %s", name)
	}
}
