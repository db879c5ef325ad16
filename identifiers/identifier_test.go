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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePmid(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("26507433", NormalizePmid("26507433"), "bare PMID should pass through")
	assert.Equal("26507433", NormalizePmid("https://pubmed.ncbi.nlm.nih.gov/26507433/"),
		"PubMed URL should reduce to the bare PMID")
	assert.Equal("26507433", NormalizePmid("https://pubmed.ncbi.nlm.nih.gov/26507433"),
		"PubMed URL without trailing slash should reduce to the bare PMID")
	assert.Equal("", NormalizePmid("   "), "blank input should normalize to empty")
}

func TestNormalizeDoi(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("10.1016/j.dcn.2015.10.001", NormalizeDoi("10.1016/j.dcn.2015.10.001"),
		"bare DOI should pass through")
	assert.Equal("10.1016/j.dcn.2015.10.001", NormalizeDoi("https://doi.org/10.1016/j.dcn.2015.10.001"),
		"DOI URL should reduce to the 10.xxxx segment")
	assert.Equal("10.3389/fnins.2012.00149", NormalizeDoi("doi:10.3389/fnins.2012.00149"),
		"doi: prefix should be stripped")
	assert.Equal("10.3389/fnins.2012.00149", NormalizeDoi("DOI: 10.3389/fnins.2012.00149"),
		"uppercase doi: prefix should be stripped")
	assert.Equal("", NormalizeDoi(""), "blank input should normalize to empty")
}

func TestNormalizePmcid(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("PMC4691364", NormalizePmcid("PMC4691364"), "prefixed PMCID should pass through")
	assert.Equal("PMC4691364", NormalizePmcid("4691364"), "bare PMCID should gain the PMC prefix")
	assert.Equal("PMC4691364", NormalizePmcid("pmc4691364"), "lowercase prefix should be canonicalized")
	assert.Equal("", NormalizePmcid(""), "blank input should normalize to empty")
}

func TestNormalizationIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	pmids := []string{"26507433", "https://pubmed.ncbi.nlm.nih.gov/26507433/", ""}
	for _, raw := range pmids {
		once := NormalizePmid(raw)
		assert.Equal(once, NormalizePmid(once), "PMID normalization should be idempotent for %q", raw)
	}
	dois := []string{"10.1016/x", "https://doi.org/10.1016/x", "doi:10.1016/x", ""}
	for _, raw := range dois {
		once := NormalizeDoi(raw)
		assert.Equal(once, NormalizeDoi(once), "DOI normalization should be idempotent for %q", raw)
	}
	pmcids := []string{"PMC123", "123", "pmc123", ""}
	for _, raw := range pmcids {
		once := NormalizePmcid(raw)
		assert.Equal(once, NormalizePmcid(once), "PMCID normalization should be idempotent for %q", raw)
	}
}

func TestSlugDerivation(t *testing.T) {
	assert := assert.New(t)
	id := New("26507433", "10.1016/j.dcn.2015.10.001", "PMC4691364")
	assert.Equal("26507433|10.1016_j.dcn.2015.10.001|PMC4691364", id.Slug(),
		"slashes in the DOI should become underscores")

	partial := New("", "10.1016/x", "")
	assert.Equal("|10.1016_x|", partial.Slug(), "missing fields should leave empty slug segments")
}

func TestSlugIgnoresOtherIds(t *testing.T) {
	assert := assert.New(t)
	first := New("1", "10.1/a", "PMC1")
	second := New("1", "10.1/a", "PMC1")
	second.SetOther("scopus", "2-s2.0-1234")
	assert.Equal(first.Slug(), second.Slug(), "other ids should not affect the slug")
	assert.True(first.Equal(second), "identifiers with the same primary triple should be equal")
}

func TestSlugStableThroughMapRoundTrip(t *testing.T) {
	assert := assert.New(t)
	id := New("https://pubmed.ncbi.nlm.nih.gov/26507433/", "doi:10.1016/j.dcn.2015.10.001", "4691364")
	id.SetNeurostore("abc123def456")
	id.SetOther("scopus", "2-s2.0-1234")

	rebuilt := FromMap(id.ToMap())
	assert.Equal(id.Slug(), rebuilt.Slug(), "slug should survive a ToMap/FromMap round trip")
	assert.Equal(id.Neurostore(), rebuilt.Neurostore(), "neurostore id should survive the round trip")
	scopus, found := rebuilt.Other("scopus")
	assert.True(found, "other ids should survive the round trip")
	assert.Equal("2-s2.0-1234", scopus)
}

func TestSlugStableThroughMutation(t *testing.T) {
	assert := assert.New(t)
	id := New("26507433", "", "")
	id.SetDoi("https://doi.org/10.1016/j.dcn.2015.10.001")
	id.SetPmcid("4691364")
	assert.Equal("26507433|10.1016_j.dcn.2015.10.001|PMC4691364", id.Slug(),
		"setters should normalize before the slug is derived")
}

func TestJsonRoundTrip(t *testing.T) {
	assert := assert.New(t)
	id := New("123", "10.1/x", "PMC9")
	id.SetOther("scopus", "s-1")

	data, err := json.Marshal(id)
	assert.Nil(err, "marshaling an identifier shouldn't fail")

	var decoded Identifier
	err = json.Unmarshal(data, &decoded)
	assert.Nil(err, "unmarshaling an identifier shouldn't fail")
	assert.Equal(id.Slug(), decoded.Slug(), "slug should survive a JSON round trip")
}

func TestIsCompleteAndEmpty(t *testing.T) {
	assert := assert.New(t)
	assert.True(New("1", "10.1/a", "PMC1").IsComplete(), "full triple should be complete")
	assert.False(New("1", "", "PMC1").IsComplete(), "missing DOI should be incomplete")
	assert.True(New("", "", "").IsEmpty(), "no fields should be empty")
	assert.False(New("1", "", "").IsEmpty(), "any field should make the identifier non-empty")
}

func TestFillFrom(t *testing.T) {
	assert := assert.New(t)
	target := New("1", "", "")
	donor := New("999", "10.1/a", "PMC1")
	target.FillFrom(donor)
	assert.Equal("1", target.Pmid(), "populated fields should not be overwritten")
	assert.Equal("10.1/a", target.Doi(), "missing DOI should be filled")
	assert.Equal("PMC1", target.Pmcid(), "missing PMCID should be filled")
}
