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
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// NewLocalFallback builds the metadata fallback the enrichment service
// consults after its remote providers: bibliographic fields parsed straight
// out of the downloaded full text. Contents are keyed by article slug.
func NewLocalFallback(contents map[string]*Content) metadata.LocalFallback {
	return func(id *identifiers.Identifier) *metadata.ArticleMetadata {
		if id == nil {
			return nil
		}
		content := contents[id.Slug()]
		if content == nil || content.FullTextPath == "" {
			return nil
		}
		return readLocalMetadata(content)
	}
}

// readLocalMetadata parses whatever bibliographic fields the article's own
// files carry. A metadata.json sidecar wins; otherwise the full text itself
// is read, JATS front matter for XML and citation meta tags for HTML.
func readLocalMetadata(content *Content) *metadata.ArticleMetadata {
	if sidecar := readSidecarMetadata(content.FullTextPath); sidecar != nil {
		return sidecar
	}
	switch strings.ToLower(filepath.Ext(content.FullTextPath)) {
	case ".xml":
		return readJatsFront(content.FullTextPath)
	case ".html":
		return readHtmlMetadata(content.FullTextPath)
	}
	return nil
}

type sidecarMetadata struct {
	Title      string `json:"title"`
	Journal    string `json:"journal"`
	CoverDate  string `json:"cover_date"`
	OpenAccess bool   `json:"open_access"`
}

func readSidecarMetadata(fullTextPath string) *metadata.ArticleMetadata {
	path := filepath.Join(filepath.Dir(fullTextPath), "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var sidecar sidecarMetadata
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil
	}
	isOpen := sidecar.OpenAccess
	record := metadata.ArticleMetadata{
		Title:      sidecar.Title,
		Journal:    sidecar.Journal,
		OpenAccess: &isOpen,
		Source:     config.ProviderExtractor,
	}
	if len(sidecar.CoverDate) >= 4 {
		if year, err := strconv.Atoi(sidecar.CoverDate[:4]); err == nil {
			record.PublicationYear = year
		}
	}
	return &record
}

type jatsName struct {
	Surname    string `xml:"surname"`
	GivenNames string `xml:"given-names"`
}

// xmlText fields keep text nested inside formatting markup, which plain
// string fields would drop.
type jatsFront struct {
	Title    xmlText    `xml:"front>article-meta>title-group>article-title"`
	Abstract xmlText    `xml:"front>article-meta>abstract"`
	Journal  xmlText    `xml:"front>journal-meta>journal-title-group>journal-title"`
	Year     int        `xml:"front>article-meta>pub-date>year"`
	Names    []jatsName `xml:"front>article-meta>contrib-group>contrib>name"`
}

func readJatsFront(path string) *metadata.ArticleMetadata {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var front jatsFront
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	if err := decoder.Decode(&front); err != nil {
		return nil
	}
	if front.Title == "" && front.Journal == "" && len(front.Names) == 0 {
		return nil
	}
	record := metadata.ArticleMetadata{
		Title:           string(front.Title),
		Abstract:        string(front.Abstract),
		Journal:         string(front.Journal),
		PublicationYear: front.Year,
		Source:          config.ProviderExtractor,
	}
	for _, name := range front.Names {
		full := strings.TrimSpace(strings.TrimSpace(name.GivenNames) + " " + strings.TrimSpace(name.Surname))
		if full != "" {
			record.Authors = append(record.Authors, metadata.Author{Name: full})
		}
	}
	return &record
}

// readHtmlMetadata scrapes the Highwire citation meta tags most publisher
// pages carry, with the page title as a last resort.
func readHtmlMetadata(path string) *metadata.ArticleMetadata {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	doc, err := html.Parse(file)
	if err != nil {
		return nil
	}

	record := metadata.ArticleMetadata{Source: config.ProviderExtractor}
	var pageTitle string
	var walk func(node *html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.Data {
			case "title":
				pageTitle = nodeText(node)
			case "meta":
				applyCitationMeta(&record, node)
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if record.Title == "" {
		record.Title = pageTitle
	}
	if record.Title == "" && record.Journal == "" && len(record.Authors) == 0 {
		return nil
	}
	return &record
}

func applyCitationMeta(record *metadata.ArticleMetadata, node *html.Node) {
	var name, value string
	for _, attr := range node.Attr {
		switch attr.Key {
		case "name":
			name = attr.Val
		case "content":
			value = strings.TrimSpace(attr.Val)
		}
	}
	if value == "" {
		return
	}
	switch name {
	case "citation_title":
		record.Title = value
	case "citation_journal_title":
		record.Journal = value
	case "citation_author":
		record.Authors = append(record.Authors, metadata.Author{Name: value})
	case "citation_publication_date", "citation_date":
		if len(value) >= 4 {
			if year, err := strconv.Atoi(value[:4]); err == nil {
				record.PublicationYear = year
			}
		}
	case "citation_abstract":
		record.Abstract = value
	}
}
