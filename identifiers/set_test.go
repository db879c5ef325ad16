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

package identifiers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFileForTest(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func TestSetPreservesInsertionOrder(t *testing.T) {
	assert := assert.New(t)
	set := NewSet(New("1", "", ""), New("2", "", ""), New("3", "", ""))
	assert.Equal(3, set.Len())
	assert.Equal("1", set.At(0).Pmid())
	assert.Equal("2", set.At(1).Pmid())
	assert.Equal("3", set.At(2).Pmid())
}

func TestSetIndexLookup(t *testing.T) {
	assert := assert.New(t)
	set := NewSet(
		New("1", "10.1/a", "PMC1"),
		New("2", "10.1/b", "PMC2"),
	)
	set.SetIndex(KeyPmid, KeyDoi, KeyPmcid)

	assert.Equal("10.1/b", set.LookupBy(KeyPmid, "2").Doi(), "lookup by PMID should find the record")
	assert.Equal("1", set.LookupBy(KeyDoi, "10.1/a").Pmid(), "lookup by DOI should find the record")
	assert.Nil(set.LookupBy(KeyPmcid, "PMC999"), "lookup of an absent value should return nil")
	assert.Nil(set.LookupBy(KeyNeurostore, "x"), "lookup on an unindexed field should return nil")
}

func TestSetIndexTracksInsertionAndRemoval(t *testing.T) {
	assert := assert.New(t)
	set := NewSet()
	set.SetIndex(KeyPmid)

	set.Add(New("42", "", ""))
	assert.NotNil(set.LookupBy(KeyPmid, "42"), "index should see an inserted record")

	set.Remove(New("42", "", "").Slug())
	assert.Equal(0, set.Len())
	assert.Nil(set.LookupBy(KeyPmid, "42"), "index should forget a removed record")
}

func TestDeduplicatePreservesFirstOccurrence(t *testing.T) {
	assert := assert.New(t)
	first := New("1", "10.1/a", "")
	duplicate := New("1", "10.1/a", "")
	duplicate.SetNeurostore("ns-id")
	set := NewSet(first, New("2", "", ""), duplicate)

	set.Deduplicate()
	assert.Equal(2, set.Len(), "duplicates should collapse by slug")
	assert.Equal("1", set.At(0).Pmid(), "first occurrence should survive in place")
	assert.Equal("ns-id", set.At(0).Neurostore(), "later duplicates should fill missing fields")
}

func TestReindexAfterEnrichment(t *testing.T) {
	assert := assert.New(t)
	record := New("7", "", "")
	set := NewSet(record)
	set.SetIndex(KeyDoi)

	record.SetDoi("10.9/z")
	assert.Nil(set.LookupBy(KeyDoi, "10.9/z"), "index should be stale before a reindex")
	set.Reindex()
	assert.Equal("7", set.LookupBy(KeyDoi, "10.9/z").Pmid(), "reindex should pick up new fields")
}

func TestCloneIsIndependent(t *testing.T) {
	assert := assert.New(t)
	set := NewSet(New("1", "", ""))
	clone := set.Clone()
	clone.At(0).SetPmid("changed")
	assert.Equal("1", set.At(0).Pmid(), "mutating a clone should not affect the original")
}

func TestManifestRoundTrip(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")

	set := NewSet(
		New("26507433", "10.1016/j.dcn.2015.10.001", "PMC4691364"),
		New("", "10.1016/x", ""),
	)
	err := WriteManifest(path, set)
	assert.Nil(err, "writing a manifest shouldn't fail")

	loaded, err := ReadManifest(path)
	assert.Nil(err, "reading a manifest shouldn't fail")
	assert.Equal(2, loaded.Len())
	assert.Equal(set.At(0).Slug(), loaded.At(0).Slug(), "slugs should survive the round trip in order")
	assert.Equal(set.At(1).Slug(), loaded.At(1).Slug())
}

func TestManifestSkipsEmptyLinesAndCoercesNumbers(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")
	content := "{\"pmid\": 26507433}\n\n{\"doi\": \"https://doi.org/10.1016/x\"}\n"
	assert.Nil(writeFileForTest(path, content))

	loaded, err := ReadManifest(path)
	assert.Nil(err, "reading a manifest with blank lines shouldn't fail")
	assert.Equal(2, loaded.Len(), "blank lines should be skipped")
	assert.Equal("26507433", loaded.At(0).Pmid(), "numeric PMIDs should be coerced to strings")
	assert.Equal("10.1016/x", loaded.At(1).Doi(), "DOI URLs should be normalized on load")
}

func TestManifestRejectsMalformedLines(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")
	assert.Nil(writeFileForTest(path, "{\"pmid\": \"1\"}\nnot json\n"))

	_, err := ReadManifest(path)
	assert.NotNil(err, "malformed JSON should be rejected")
	var manifestErr *InvalidManifestError
	assert.ErrorAs(err, &manifestErr, "the error should identify the manifest")
	assert.Equal(2, manifestErr.Line, "the error should carry the offending line number")
}
