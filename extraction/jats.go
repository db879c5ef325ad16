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
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
)

// jatsExtractor reads the JATS files pubget downloads: article.xml for the
// full text and tables/tables.xml for the table-wrap subtrees.
type jatsExtractor struct{}

// NewJatsExtractor creates the pubget extractor for the registry.
func NewJatsExtractor() (Extractor, error) {
	return &jatsExtractor{}, nil
}

func (e *jatsExtractor) Name() string {
	return config.SourcePubget
}

func (e *jatsExtractor) Validate(result *downloads.Result) error {
	if _, found := fileNamed(result, "article.xml"); !found {
		return &InvalidInputError{Source: e.Name(), Reason: "missing article.xml"}
	}
	if _, found := fileNamed(result, "tables.xml"); !found {
		return &InvalidInputError{Source: e.Name(), Reason: "missing tables/tables.xml"}
	}
	return nil
}

func (e *jatsExtractor) Extract(_ context.Context, result *downloads.Result) (*Content, error) {
	article, _ := fileNamed(result, "article.xml")
	tablesFile, _ := fileNamed(result, "tables.xml")

	tables, err := parseJatsTables(tablesFile.Path)
	if err != nil {
		return nil, err
	}
	return &Content{
		Slug:         result.Identifier.Slug(),
		Source:       e.Name(),
		Identifier:   result.Identifier.Clone(),
		FullTextPath: article.Path,
		Tables:       tables,
		ExtractedAt:  time.Now().UTC(),
	}, nil
}

type jatsTablesDoc struct {
	Wraps []jatsWrap `xml:"table-wrap"`
}

type jatsWrap struct {
	Id      string  `xml:"id,attr"`
	Label   xmlText `xml:"label"`
	Caption xmlText `xml:"caption"`
	Grid    xmlGrid `xml:"table"`
	Foot    xmlText `xml:"table-wrap-foot"`
}

func parseJatsTables(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc jatsTablesDoc
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}

	tables := make([]Table, len(doc.Wraps))
	for i, wrap := range doc.Wraps {
		id := string(wrap.Label)
		if id == "" {
			id = wrap.Id
		}
		if id == "" {
			id = fmt.Sprintf("Table %d", i+1)
		}
		tables[i] = buildTable(id, tableNumber(string(wrap.Label), i),
			string(wrap.Caption), string(wrap.Foot), path, wrap.Grid.grid)
	}
	return tables, nil
}

var tableNumberPattern = regexp.MustCompile(`(?i)S?\d+`)

// tableNumber pulls the number out of a table label ("Table 2" → "2",
// "Table S1" → "S1"), falling back to the table's position.
func tableNumber(label string, index int) string {
	if match := tableNumberPattern.FindString(label); match != "" {
		return match
	}
	return strconv.Itoa(index + 1)
}
