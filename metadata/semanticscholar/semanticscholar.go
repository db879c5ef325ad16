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

// The semanticscholar package implements the metadata provider backed by the
// Semantic Scholar Academic Graph API
// (https://api.semanticscholar.org/api-docs/graph).
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
	"github.com/neurostuff/nsingest/webclient"
)

const defaultBaseUrl = "https://api.semanticscholar.org/graph/v1"

// the paper fields requested on every lookup
const paperFields = "title,abstract,venue,year,authors,externalIds,isOpenAccess"

// Provider looks papers up by DOI, PMID, or PMCID. An API key raises the
// permitted request rate but is not required.
type Provider struct {
	client  *webclient.Client
	baseUrl string
	apiKey  string
}

// New creates a Semantic Scholar client with the configured rate limit and
// optional API key.
func New() (*Provider, error) {
	conf := config.SourceFor(config.ProviderSemanticScholar)
	baseUrl := conf.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	apiKey, err := config.SourceApiKey(config.ProviderSemanticScholar)
	if err != nil {
		apiKey = "" // the graph API accepts unauthenticated requests at a lower rate
	}
	return &Provider{
		client: webclient.New(config.HTTP.Timeout(),
			webclient.WithRateLimit(conf.MaxRps),
			webclient.WithContactEmail(config.HTTP.ContactEmail),
			webclient.WithMaxRetries(uint64(config.HTTP.MaxRetries))),
		baseUrl: baseUrl,
		apiKey:  apiKey,
	}, nil
}

// NewProvider adapts New to the provider registry's factory signature.
func NewProvider() (metadata.Provider, error) {
	return New()
}

func (p *Provider) Name() string {
	return config.ProviderSemanticScholar
}

// any primary identifier maps to a paper locator
func (p *Provider) Supports(id *identifiers.Identifier) bool {
	return paperLocator(id) != ""
}

func (p *Provider) Lookup(ctx context.Context, id *identifiers.Identifier) (*metadata.Record, error) {
	locator := paperLocator(id)
	if locator == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/paper/%s?fields=%s",
		p.baseUrl, url.PathEscape(locator), paperFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &metadata.LookupError{Provider: p.Name(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var paper paperResponse
	if err := json.Unmarshal(body, &paper); err != nil {
		return nil, err
	}
	var raw map[string]any
	json.Unmarshal(body, &raw)

	authors := make([]metadata.Author, len(paper.Authors))
	for i, author := range paper.Authors {
		authors[i] = metadata.Author{Name: author.Name}
	}
	return &metadata.Record{
		Pmid:  externalId(paper.ExternalIds, "PubMed"),
		Doi:   externalId(paper.ExternalIds, "DOI"),
		Pmcid: externalId(paper.ExternalIds, "PubMedCentral"),
		Metadata: &metadata.ArticleMetadata{
			Title:           paper.Title,
			Authors:         authors,
			Abstract:        paper.Abstract,
			Journal:         paper.Venue,
			PublicationYear: paper.Year,
			Source:          p.Name(),
			OpenAccess:      paper.IsOpenAccess,
			RawMetadata:     raw,
		},
	}, nil
}

// the JSON shape of a graph API paper lookup
type paperResponse struct {
	PaperId      string         `json:"paperId"`
	Title        string         `json:"title"`
	Abstract     string         `json:"abstract"`
	Venue        string         `json:"venue"`
	Year         int            `json:"year"`
	IsOpenAccess *bool          `json:"isOpenAccess"`
	ExternalIds  map[string]any `json:"externalIds"`
	Authors      []paperAuthor  `json:"authors"`
}

type paperAuthor struct {
	Name string `json:"name"`
}

// builds the API's paper locator from the strongest identifier present; the
// PMCID form takes the bare number, without the PMC prefix
func paperLocator(id *identifiers.Identifier) string {
	switch {
	case id.Doi() != "":
		return "DOI:" + id.Doi()
	case id.Pmid() != "":
		return "PMID:" + id.Pmid()
	case id.Pmcid() != "":
		return "PMCID:" + strings.TrimPrefix(id.Pmcid(), "PMC")
	}
	return ""
}

// pulls a string value out of the externalIds map, which mixes string and
// numeric values (CorpusId is a number)
func externalId(ids map[string]any, key string) string {
	switch value := ids[key].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return ""
}
