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
	"io"
	"os"
	"strings"
	"time"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
)

// elsevierExtractor reads the full-text XML the Elsevier article API
// returns. Tables are CALS-style: a table element wrapping a tgroup with
// row/entry cells.
type elsevierExtractor struct{}

// NewElsevierExtractor creates the elsevier extractor for the registry.
func NewElsevierExtractor() (Extractor, error) {
	return &elsevierExtractor{}, nil
}

func (e *elsevierExtractor) Name() string {
	return config.SourceElsevier
}

func (e *elsevierExtractor) Validate(result *downloads.Result) error {
	if _, found := onDiskFile(result, downloads.FileTypeXml); !found {
		return &InvalidInputError{Source: e.Name(), Reason: "missing article XML"}
	}
	if _, found := fileNamed(result, "metadata.json"); !found {
		return &InvalidInputError{Source: e.Name(), Reason: "missing metadata.json"}
	}
	return nil
}

func (e *elsevierExtractor) Extract(_ context.Context, result *downloads.Result) (*Content, error) {
	article, _ := onDiskFile(result, downloads.FileTypeXml)

	tables, err := parseElsevierTables(article.Path)
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

type elsevierTable struct {
	Id        string    `xml:"id,attr"`
	Label     xmlText   `xml:"label"`
	Caption   xmlText   `xml:"caption"`
	Grid      xmlGrid   `xml:"tgroup"`
	Legend    xmlText   `xml:"legend"`
	Footnotes []xmlText `xml:"table-footnote"`
}

// parseElsevierTables walks the full-text XML and decodes every table
// element it finds. Namespace prefixes (ce:, cals:) resolve to local names,
// so the walk matches any dialect Elsevier serves.
func parseElsevierTables(path string) ([]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false

	var tables []Table
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "table" {
			continue
		}
		var parsed elsevierTable
		if err := decoder.DecodeElement(&parsed, &start); err != nil {
			return nil, err
		}

		index := len(tables)
		id := string(parsed.Label)
		if id == "" {
			id = parsed.Id
		}
		if id == "" {
			id = fmt.Sprintf("Table %d", index+1)
		}
		footer := string(parsed.Legend)
		for _, note := range parsed.Footnotes {
			if note != "" {
				footer = strings.TrimSpace(footer + "\n" + string(note))
			}
		}
		tables = append(tables, buildTable(id, tableNumber(string(parsed.Label), index),
			string(parsed.Caption), footer, path, parsed.Grid.grid))
	}
	return tables, nil
}
