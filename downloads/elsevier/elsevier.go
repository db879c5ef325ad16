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

// The elsevier package retrieves full-text article XML from the Elsevier
// Article Retrieval API, keyed by DOI. Access requires an API key sent as
// the X-ELS-APIKey header.
package elsevier

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/webclient"
)

const defaultBaseUrl = "https://api.elsevier.com/content"

// Source fetches full-text XML through the Elsevier Article Retrieval API.
type Source struct {
	client  *webclient.Client
	baseUrl string
	apiKey  string
}

// New creates an Elsevier source configured from the elsevier sources entry.
// A missing API key is not fatal here; every fetch will fail with a clear
// message until one is configured.
func New() (*Source, error) {
	conf := config.SourceFor(config.SourceElsevier)
	baseUrl := conf.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	apiKey, err := config.SourceApiKey(config.SourceElsevier)
	if err != nil {
		slog.Warn("no Elsevier API key configured; elsevier downloads will fail",
			"error", err.Error())
		apiKey = ""
	}
	return &Source{
		client: webclient.New(config.HTTP.Timeout(),
			webclient.WithRateLimit(conf.MaxRps),
			webclient.WithContactEmail(config.HTTP.ContactEmail),
			webclient.WithMaxRetries(uint64(config.HTTP.MaxRetries))),
		baseUrl: baseUrl,
		apiKey:  apiKey,
	}, nil
}

// NewSource creates the source for the download registry.
func NewSource() (downloads.Source, error) {
	return New()
}

func (s *Source) Name() string {
	return config.SourceElsevier
}

// the Article Retrieval API is keyed by DOI
func (s *Source) Supports(id *identifiers.Identifier) bool {
	return id.Doi() != ""
}

// Fetch retrieves the article's full-text XML and writes article.xml and
// metadata.json under the article's elsevier directory.
func (s *Source) Fetch(ctx context.Context, id *identifiers.Identifier) (*downloads.Result, error) {
	if s.apiKey == "" {
		return s.failure(id, "no Elsevier API key configured"), nil
	}

	endpoint := fmt.Sprintf("%s/article/doi/%s?httpAccept=%s",
		s.baseUrl, url.PathEscape(id.Doi()), url.QueryEscape("text/xml"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-ELS-APIKey", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.failure(id, downloads.UnexpectedStatusError{
			Source: s.Name(), StatusCode: resp.StatusCode}.Error()), nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(body, []byte("<full-text-retrieval-response")) {
		return s.failure(id, downloads.UnusableContentError{
			Source: s.Name(), Reason: "response is not a full-text retrieval document"}.Error()), nil
	}

	dir := downloads.ArtifactDir(id, s.Name())
	articleFile, err := downloads.WriteArtifact(dir, "article.xml", body,
		downloads.FileTypeXml, resp.Header.Get("Content-Type"), s.Name())
	if err != nil {
		return nil, err
	}
	metadataJson, err := coredataJson(body, id)
	if err != nil {
		return nil, err
	}
	metadataFile, err := downloads.WriteArtifact(dir, "metadata.json", metadataJson,
		downloads.FileTypeJson, "application/json", s.Name())
	if err != nil {
		return nil, err
	}

	return &downloads.Result{
		Identifier: id.Clone(),
		Source:     s.Name(),
		Success:    true,
		Files:      []downloads.DownloadedFile{articleFile, metadataFile},
	}, nil
}

func (s *Source) failure(id *identifiers.Identifier, message string) *downloads.Result {
	return &downloads.Result{
		Identifier:   id.Clone(),
		Source:       s.Name(),
		ErrorMessage: message,
	}
}

type retrievalResponse struct {
	Coredata coredata `xml:"coredata"`
}

type coredata struct {
	Title           string `xml:"title"`
	Doi             string `xml:"doi"`
	PublicationName string `xml:"publicationName"`
	CoverDate       string `xml:"coverDate"`
	OpenAccess      string `xml:"openaccess"`
}

// articleMetadata is the shape of the metadata.json sidecar the extractor's
// local metadata fallback reads.
type articleMetadata struct {
	Doi         string    `json:"doi"`
	Title       string    `json:"title,omitempty"`
	Journal     string    `json:"journal,omitempty"`
	CoverDate   string    `json:"cover_date,omitempty"`
	OpenAccess  bool      `json:"open_access"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// coredataJson distills the retrieval response's coredata into the
// metadata.json sidecar.
func coredataJson(body []byte, id *identifiers.Identifier) ([]byte, error) {
	var response retrievalResponse
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false
	if err := decoder.Decode(&response); err != nil {
		return nil, err
	}
	doi := response.Coredata.Doi
	if doi == "" {
		doi = id.Doi()
	}
	return json.MarshalIndent(articleMetadata{
		Doi:         doi,
		Title:       response.Coredata.Title,
		Journal:     response.Coredata.PublicationName,
		CoverDate:   response.Coredata.CoverDate,
		OpenAccess:  response.Coredata.OpenAccess == "1" || response.Coredata.OpenAccess == "true",
		RetrievedAt: time.Now().UTC(),
	}, "", "  ")
}
