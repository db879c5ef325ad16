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

// The ace package retrieves article pages as rendered HTML, the input for
// coordinate extraction from publisher markup. It prefers the PMC article
// page when a PMCID is known and falls back to resolving the DOI.
package ace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/webclient"
)

const (
	defaultPmcBaseUrl = "https://www.ncbi.nlm.nih.gov/pmc/articles"
	defaultDoiBaseUrl = "https://doi.org"
)

// Source fetches article HTML from PMC or the publisher behind a DOI.
type Source struct {
	client     *webclient.Client
	pmcBaseUrl string
	doiBaseUrl string
}

// New creates an HTML source configured from the ace sources entry. The
// base_url setting overrides the PMC article page base.
func New() (*Source, error) {
	conf := config.SourceFor(config.SourceAce)
	pmcBaseUrl := conf.BaseUrl
	if pmcBaseUrl == "" {
		pmcBaseUrl = defaultPmcBaseUrl
	}
	return &Source{
		client: webclient.New(config.HTTP.Timeout(),
			webclient.WithRateLimit(conf.MaxRps),
			webclient.WithContactEmail(config.HTTP.ContactEmail),
			webclient.WithMaxRetries(uint64(config.HTTP.MaxRetries))),
		pmcBaseUrl: pmcBaseUrl,
		doiBaseUrl: defaultDoiBaseUrl,
	}, nil
}

// NewSource creates the source for the download registry.
func NewSource() (downloads.Source, error) {
	return New()
}

func (s *Source) Name() string {
	return config.SourceAce
}

// a PMCID gives us a PMC page, a DOI gives us a publisher page
func (s *Source) Supports(id *identifiers.Identifier) bool {
	return id.Pmcid() != "" || id.Doi() != ""
}

// Fetch retrieves the article page and writes article.html under the
// article's ace directory. Responses that aren't HTML come back as failed
// results.
func (s *Source) Fetch(ctx context.Context, id *identifiers.Identifier) (*downloads.Result, error) {
	resp, err := s.client.Get(ctx, s.pageUrl(id))
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

	contentType := resp.Header.Get("Content-Type")
	if !isHtml(contentType, body) {
		return s.failure(id, downloads.UnusableContentError{
			Source: s.Name(), Reason: "response is not an HTML page"}.Error()), nil
	}

	file, err := downloads.WriteArtifact(downloads.ArtifactDir(id, s.Name()),
		"article.html", body, downloads.FileTypeHtml, contentType, s.Name())
	if err != nil {
		return nil, err
	}
	return &downloads.Result{
		Identifier: id.Clone(),
		Source:     s.Name(),
		Success:    true,
		Files:      []downloads.DownloadedFile{file},
	}, nil
}

func (s *Source) failure(id *identifiers.Identifier, message string) *downloads.Result {
	return &downloads.Result{
		Identifier:   id.Clone(),
		Source:       s.Name(),
		ErrorMessage: message,
	}
}

func (s *Source) pageUrl(id *identifiers.Identifier) string {
	if id.Pmcid() != "" {
		return fmt.Sprintf("%s/%s/", s.pmcBaseUrl, id.Pmcid())
	}
	return fmt.Sprintf("%s/%s", s.doiBaseUrl, id.Doi())
}

func isHtml(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<html"))
}
