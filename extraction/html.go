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
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
)

// htmlExtractor reads the publisher pages the ace scraper saves. Publisher
// markup varies a lot, so it leans on the HTML5 parser to normalize the
// tree before looking for tables.
type htmlExtractor struct{}

// NewHtmlExtractor creates the ace extractor for the registry.
func NewHtmlExtractor() (Extractor, error) {
	return &htmlExtractor{}, nil
}

func (e *htmlExtractor) Name() string {
	return config.SourceAce
}

func (e *htmlExtractor) Validate(result *downloads.Result) error {
	if _, found := onDiskFile(result, downloads.FileTypeHtml); !found {
		return &InvalidInputError{Source: e.Name(), Reason: "missing article HTML"}
	}
	return nil
}

func (e *htmlExtractor) Extract(_ context.Context, result *downloads.Result) (*Content, error) {
	article, _ := onDiskFile(result, downloads.FileTypeHtml)

	tables, err := parseHtmlTables(article.Path)
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

var htmlTableLabelPattern = regexp.MustCompile(`(?i)^\s*table\s+\w+`)

func parseHtmlTables(path string) ([]Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	doc, err := html.Parse(file)
	if err != nil {
		return nil, err
	}

	var tables []Table
	var walk func(node *html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "table" {
			// nested tables flatten into the outer grid's cells
			caption, footer, g := parseHtmlTable(node)
			index := len(tables)
			id := strings.TrimSpace(htmlTableLabelPattern.FindString(caption))
			if id == "" {
				id = fmt.Sprintf("Table %d", index+1)
			}
			tables = append(tables, buildTable(id, tableNumber(id, index),
				caption, footer, path, g))
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return tables, nil
}

// parseHtmlTable reads one table element. The HTML5 parser has already
// moved stray tr elements into an implied tbody.
func parseHtmlTable(table *html.Node) (caption, footer string, g grid) {
	for section := table.FirstChild; section != nil; section = section.NextSibling {
		if section.Type != html.ElementNode {
			continue
		}
		switch section.Data {
		case "caption":
			caption = nodeText(section)
		case "tfoot":
			footer = nodeText(section)
		case "thead":
			for row := section.FirstChild; row != nil; row = row.NextSibling {
				if row.Type == html.ElementNode && row.Data == "tr" {
					cells, _ := rowCells(row)
					g.headerRows = append(g.headerRows, cells)
				}
			}
		case "tbody":
			for row := section.FirstChild; row != nil; row = row.NextSibling {
				if row.Type == html.ElementNode && row.Data == "tr" {
					appendHtmlRow(&g, row)
				}
			}
		case "tr":
			appendHtmlRow(&g, section)
		}
	}
	if len(g.headerRows) == 0 && len(g.rows) > 1 {
		g.headerRows = append(g.headerRows, g.rows[0])
		g.rows = g.rows[1:]
	}
	return caption, footer, g
}

// appendHtmlRow treats leading all-th rows as header rows even when the
// page skips thead.
func appendHtmlRow(g *grid, row *html.Node) {
	cells, headerOnly := rowCells(row)
	if headerOnly && len(g.rows) == 0 {
		g.headerRows = append(g.headerRows, cells)
		return
	}
	g.rows = append(g.rows, cells)
}

func rowCells(row *html.Node) (cells []string, headerOnly bool) {
	headerOnly = true
	for cell := row.FirstChild; cell != nil; cell = cell.NextSibling {
		if cell.Type != html.ElementNode {
			continue
		}
		switch cell.Data {
		case "th":
			cells = append(cells, nodeText(cell))
		case "td":
			cells = append(cells, nodeText(cell))
			headerOnly = false
		}
	}
	if len(cells) == 0 {
		headerOnly = false
	}
	return cells, headerOnly
}

// nodeText collects the text beneath a node with whitespace collapsed.
func nodeText(node *html.Node) string {
	var parts []string
	var collect func(node *html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.TextNode {
			parts = append(parts, node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(node)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
