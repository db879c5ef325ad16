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

// The pubget package retrieves open-access articles from PubMed Central as
// JATS XML, keyed by PMCID. Alongside the article it writes a standalone
// tables document holding every table-wrap subtree, the input for table
// extraction.
package pubget

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/webclient"
)

const defaultBaseUrl = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// Source fetches JATS XML from the PMC open-access subset via efetch.
type Source struct {
	client  *webclient.Client
	baseUrl string
}

// New creates a PMC source configured from the pubget sources entry.
func New() (*Source, error) {
	conf := config.SourceFor(config.SourcePubget)
	baseUrl := conf.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	return &Source{
		client: webclient.New(config.HTTP.Timeout(),
			webclient.WithRateLimit(conf.MaxRps),
			webclient.WithContactEmail(config.HTTP.ContactEmail),
			webclient.WithMaxRetries(uint64(config.HTTP.MaxRetries))),
		baseUrl: baseUrl,
	}, nil
}

// NewSource creates the source for the download registry.
func NewSource() (downloads.Source, error) {
	return New()
}

func (s *Source) Name() string {
	return config.SourcePubget
}

// PMC is keyed by PMCID; nothing else helps here.
func (s *Source) Supports(id *identifiers.Identifier) bool {
	return id.Pmcid() != ""
}

// Fetch retrieves the article's JATS XML and writes article.xml and
// tables/tables.xml under the article's pubget directory. Articles outside
// the open-access subset come back as failed results.
func (s *Source) Fetch(ctx context.Context, id *identifiers.Identifier) (*downloads.Result, error) {
	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("id", strings.TrimPrefix(id.Pmcid(), "PMC"))
	params.Set("retmode", "xml")
	params.Set("tool", "nsingest")
	if email := s.client.ContactEmail(); email != "" {
		params.Set("email", email)
	}

	resp, err := s.client.Get(ctx, fmt.Sprintf("%s/efetch.fcgi?%s", s.baseUrl, params.Encode()))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return s.failure(id, downloads.UnexpectedStatusError{
			Source: s.Name(), StatusCode: resp.StatusCode}.Error()), nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// efetch answers 200 even when it has nothing useful: an <ERROR> stub
	// for unknown ids, front matter without a <body> outside the OA subset
	if bytes.Contains(body, []byte("<ERROR")) || !bytes.Contains(body, []byte("<article")) {
		return s.failure(id, downloads.UnusableContentError{
			Source: s.Name(), Reason: "PMC returned no article record"}.Error()), nil
	}
	if !bytes.Contains(body, []byte("<body")) {
		return s.failure(id, downloads.UnusableContentError{
			Source: s.Name(), Reason: "article is not in the PMC open-access subset"}.Error()), nil
	}

	tablesXml, err := extractTables(body)
	if err != nil {
		return s.failure(id, downloads.UnusableContentError{
			Source: s.Name(), Reason: "article XML does not parse: " + err.Error()}.Error()), nil
	}

	dir := downloads.ArtifactDir(id, s.Name())
	contentType := resp.Header.Get("Content-Type")
	articleFile, err := downloads.WriteArtifact(dir, "article.xml", body,
		downloads.FileTypeXml, contentType, s.Name())
	if err != nil {
		return nil, err
	}
	tablesFile, err := downloads.WriteArtifact(dir, "tables/tables.xml", tablesXml,
		downloads.FileTypeXml, "application/xml", s.Name())
	if err != nil {
		return nil, err
	}

	return &downloads.Result{
		Identifier: id.Clone(),
		Source:     s.Name(),
		Success:    true,
		Files:      []downloads.DownloadedFile{articleFile, tablesFile},
	}, nil
}

func (s *Source) failure(id *identifiers.Identifier, message string) *downloads.Result {
	return &downloads.Result{
		Identifier:   id.Clone(),
		Source:       s.Name(),
		ErrorMessage: message,
	}
}

// extractTables rewrites every table-wrap subtree of a JATS article into a
// standalone tables document.
func extractTables(articleXml []byte) ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteString(xml.Header)
	buffer.WriteString("<tables>")

	decoder := xml.NewDecoder(bytes.NewReader(articleXml))
	decoder.Strict = false
	encoder := xml.NewEncoder(&buffer)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "table-wrap" {
			continue
		}
		if err := copySubtree(decoder, encoder, start); err != nil {
			return nil, err
		}
	}
	if err := encoder.Flush(); err != nil {
		return nil, err
	}
	buffer.WriteString("</tables>")
	return buffer.Bytes(), nil
}

// copies one element and everything under it from the decoder to the encoder
func copySubtree(decoder *xml.Decoder, encoder *xml.Encoder, start xml.StartElement) error {
	if err := encoder.EncodeToken(start); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch token.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		if err := encoder.EncodeToken(token); err != nil {
			return err
		}
	}
	return nil
}
