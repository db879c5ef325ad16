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

package caches

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/neurostuff/nsingest/identifiers"
)

// the payload type used throughout these tests
type article struct {
	Pmid   string `json:"pmid,omitempty"`
	Doi    string `json:"doi,omitempty"`
	Pmcid  string `json:"pmcid,omitempty"`
	Source string `json:"source,omitempty"`
	Pages  int    `json:"pages,omitempty"`
}

func articleAliases(a article) AliasValues {
	return AliasValues{
		Pmid:  a.Pmid,
		Doi:   a.Doi,
		Pmcid: a.Pmcid,
		Extra: map[string]string{"source": a.Source},
	}
}

func openTestCache(t *testing.T) *Cache[article] {
	cache, err := Open(Spec[article]{
		Dir:          filepath.Join(t.TempDir(), "download", "pubget"),
		Table:        "download",
		ExtraColumns: []string{"source"},
		Aliases:      articleAliases,
	})
	if err != nil {
		t.Fatalf("couldn't open test cache: %s", err.Error())
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestOpenCreatesIndexAndLockSiblings(t *testing.T) {
	assert := assert.New(t)
	dir := filepath.Join(t.TempDir(), "extract", "ace")
	cache, err := Open(Spec[article]{Dir: dir, Table: "extract", Aliases: articleAliases})
	assert.Nil(err, "opening a fresh namespace shouldn't fail")
	defer cache.Close()

	_, err = os.Stat(filepath.Join(dir, IndexFileName))
	assert.Nil(err, "the index file should exist")
	assert.Equal(dir, cache.Dir())
}

func TestOpenRejectsUnsafeTableNames(t *testing.T) {
	assert := assert.New(t)
	_, err := Open(Spec[article]{Dir: t.TempDir(), Table: "bad name;"})
	assert.NotNil(err, "an unsafe table name should be rejected")
	var invalid *InvalidTableNameError
	assert.ErrorAs(err, &invalid)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	entry := NewEnvelope("1|10.1_a|PMC1", article{
		Pmid: "1", Doi: "10.1/a", Pmcid: "PMC1", Source: "pubget", Pages: 12,
	})
	entry.Metadata = map[string]any{"attempt": "first"}
	assert.Nil(cache.AddEntries([]*Envelope[article]{entry}))

	got, found, err := cache.Get(entry.Slug)
	assert.Nil(err)
	assert.True(found, "a stored envelope should be found by slug")
	assert.Equal(entry.Payload, got.Payload, "the payload should survive the round trip structurally")
	assert.Equal("first", got.Metadata["attempt"], "envelope metadata should survive the round trip")
	assert.False(got.CachedAt.IsZero(), "the cached_at stamp should be preserved")
}

func TestAddEntriesUpsertsBySlug(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	first := NewEnvelope("slug-1", article{Pmid: "1", Pages: 1})
	assert.Nil(cache.AddEntries([]*Envelope[article]{first}))
	second := NewEnvelope("slug-1", article{Pmid: "1", Pages: 2})
	assert.Nil(cache.AddEntries([]*Envelope[article]{second}))

	count, err := cache.Count()
	assert.Nil(err)
	assert.Equal(1, count, "upserting the same slug should not add a row")

	got, found, _ := cache.Get("slug-1")
	assert.True(found)
	assert.Equal(2, got.Payload.Pages, "the later write should win")
}

func TestGetByIdentifierFallsBackToAliases(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	// cached when only the PMID was known, so the slug differs from the one
	// a fully-populated identifier derives
	partial := identifiers.New("26507433", "", "")
	entry := NewEnvelope(partial.Slug(), article{Pmid: "26507433"})
	assert.Nil(cache.AddEntries([]*Envelope[article]{entry}))

	full := identifiers.New("26507433", "10.1016/j.dcn.2015.10.001", "PMC4691364")
	got, found, err := cache.GetByIdentifier(full)
	assert.Nil(err)
	assert.True(found, "the alias column should recover the legacy entry")
	assert.Equal("26507433", got.Payload.Pmid)

	missing := identifiers.New("999", "", "")
	_, found, err = cache.GetByIdentifier(missing)
	assert.Nil(err)
	assert.False(found, "an unknown identifier should miss")
}

func TestRemoveAndHas(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	entry := NewEnvelope("slug-1", article{Pmid: "1"})
	assert.Nil(cache.AddEntries([]*Envelope[article]{entry}))

	found, err := cache.Has("slug-1")
	assert.Nil(err)
	assert.True(found)

	assert.Nil(cache.Remove("slug-1"))
	found, err = cache.Has("slug-1")
	assert.Nil(err)
	assert.False(found, "a removed entry should be gone")
	assert.Nil(cache.Remove("slug-1"), "removing an absent slug is a no-op")
}

func TestEntriesListsEverything(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	assert.Nil(cache.AddEntries([]*Envelope[article]{
		NewEnvelope("a", article{Pmid: "1"}),
		NewEnvelope("b", article{Pmid: "2"}),
	}))
	entries, err := cache.Entries()
	assert.Nil(err)
	assert.Len(entries, 2)
}

func TestCorruptPayloadIsAMiss(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	entry := NewEnvelope("slug-1", article{Pmid: "1"})
	assert.Nil(cache.AddEntries([]*Envelope[article]{entry}))

	// vandalize the stored payload directly
	conn, err := sqlite.OpenConn(filepath.Join(cache.Dir(), IndexFileName))
	assert.Nil(err)
	err = sqlitex.ExecuteTransient(conn,
		"UPDATE download SET payload_json = 'not json' WHERE slug = ?;",
		&sqlitex.ExecOptions{Args: []any{"slug-1"}})
	assert.Nil(err)
	conn.Close()

	_, found, err := cache.Get("slug-1")
	assert.Nil(err, "a corrupt row is not an error")
	assert.False(found, "a corrupt row should be treated as a miss")
}

func TestIdentifierSets(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)

	assert.Nil(cache.AddEntries([]*Envelope[article]{
		NewEnvelope("a", article{Pmid: "1", Doi: "10.1/a", Pmcid: "PMC1"}),
		NewEnvelope("b", article{Pmid: "2"}),
	}))
	sets, err := cache.IdentifierSets()
	assert.Nil(err)
	assert.True(sets.Slugs["a"] && sets.Slugs["b"])
	assert.True(sets.Pmids["1"] && sets.Pmids["2"])
	assert.True(sets.Dois["10.1/a"])
	assert.True(sets.Pmcids["PMC1"])
	assert.Len(sets.Dois, 1, "absent alias values should not appear in the sets")
}

func TestAdditiveMigrationKeepsOldRows(t *testing.T) {
	assert := assert.New(t)
	dir := filepath.Join(t.TempDir(), "upload")

	// first generation: no extra columns
	cache, err := Open(Spec[article]{Dir: dir, Table: "upload", Aliases: articleAliases})
	assert.Nil(err)
	assert.Nil(cache.AddEntries([]*Envelope[article]{NewEnvelope("a", article{Pmid: "1"})}))
	assert.Nil(cache.Close())

	// second generation adds alias columns; old rows must survive
	cache, err = Open(Spec[article]{
		Dir:          dir,
		Table:        "upload",
		ExtraColumns: []string{"base_study_id", "study_id"},
		Aliases:      articleAliases,
	})
	assert.Nil(err, "an additive migration shouldn't fail")
	defer cache.Close()

	_, found, err := cache.Get("a")
	assert.Nil(err)
	assert.True(found, "rows written before the migration should still resolve")
	assert.Nil(cache.AddEntries([]*Envelope[article]{NewEnvelope("b", article{Pmid: "2"})}),
		"writes with the new columns should succeed")
}

func TestArtifactsDir(t *testing.T) {
	assert := assert.New(t)
	cache := openTestCache(t)
	dir, err := cache.ArtifactsDir()
	assert.Nil(err)
	info, err := os.Stat(dir)
	assert.Nil(err, "the artifacts directory should be created on demand")
	assert.True(info.IsDir())
	assert.Equal(filepath.Join(cache.Dir(), ArtifactsDirName), dir)
}
