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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/extraction"
)

// an article with one analyzed table and its full text on disk
func exportedArticle(t *testing.T) *ArticleAnalyses {
	textPath := filepath.Join(t.TempDir(), "article.xml")
	if err := os.WriteFile(textPath, []byte("<article/>"), 0644); err != nil {
		t.Fatalf("couldn't write the article text: %s", err.Error())
	}
	bundle := analysisBundle("12121", coordinateTable("Table 1"))
	bundle.Content.FullTextPath = textPath
	collection := &Collection{
		Slug:            bundle.Content.Slug,
		CoordinateSpace: extraction.SpaceMni,
		Identifier:      bundle.Content.Identifier.Clone(),
		Analyses: []Analysis{{
			Name:        "motor task",
			Coordinates: bundle.Content.Tables[0].Coordinates,
			TableID:     "Table 1",
		}},
	}
	return &ArticleAnalyses{
		Bundle:      bundle,
		Collections: map[string]*Collection{"Table 1": collection},
	}
}

func TestExporterMirrorsArticle(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	article := exportedArticle(t)

	assert.Nil(NewExporter(root, false).Export(article))

	dir := filepath.Join(root, fileSafeSlug(article.Bundle.Content.Slug))
	manifest, err := os.ReadFile(filepath.Join(dir, "datapackage.json"))
	assert.Nil(err)
	assert.Contains(string(manifest), "tables.jsonl")
	assert.Contains(string(manifest), "fulltext.xml")
	assert.Contains(string(manifest), "Mapping the motor cortex")

	analyses, err := os.ReadFile(filepath.Join(dir, "analyses.jsonl"))
	assert.Nil(err)
	assert.Contains(string(analyses), "motor task")

	text, err := os.ReadFile(filepath.Join(dir, "fulltext.xml"))
	assert.Nil(err)
	assert.Equal("<article/>", string(text))

	meta, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	assert.Nil(err)
	assert.Contains(string(meta), "Mapping the motor cortex")
}

func TestExporterHonorsOverwriteFlag(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	article := exportedArticle(t)
	exporter := NewExporter(root, false)
	assert.Nil(exporter.Export(article))

	// a repeated export without overwrite must leave the mirror alone
	metaPath := filepath.Join(root, fileSafeSlug(article.Bundle.Content.Slug), "metadata.json")
	assert.Nil(os.WriteFile(metaPath, []byte("sentinel"), 0644))
	assert.Nil(exporter.Export(article))
	data, err := os.ReadFile(metaPath)
	assert.Nil(err)
	assert.Equal("sentinel", string(data))

	assert.Nil(NewExporter(root, true).Export(article))
	data, err = os.ReadFile(metaPath)
	assert.Nil(err)
	assert.Contains(string(data), "Mapping the motor cortex", "overwrite should refresh the mirror")
}
