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

// The pubmed package implements the metadata provider and bibliographic
// search backed by the NCBI Entrez E-utilities
// (https://www.ncbi.nlm.nih.gov/books/NBK25501/).
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
	"github.com/neurostuff/nsingest/webclient"
)

const defaultBaseUrl = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// esearch refuses to page past this many results for a single query
const esearchCap = 10000

// ids fetched per esearch page
const pageSize = 500

// Provider looks articles up through esummary and searches through esearch.
// Articles known only by DOI resolve to a PMID first.
type Provider struct {
	client  *webclient.Client
	baseUrl string
}

// New creates an E-utilities client with the configured rate limit and the
// operator's contact address attached to every request.
func New() (*Provider, error) {
	conf := config.SourceFor(config.ProviderPubmed)
	baseUrl := conf.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}
	return &Provider{
		client: webclient.New(config.HTTP.Timeout(),
			webclient.WithRateLimit(conf.MaxRps),
			webclient.WithContactEmail(config.HTTP.ContactEmail),
			webclient.WithMaxRetries(uint64(config.HTTP.MaxRetries))),
		baseUrl: baseUrl,
	}, nil
}

// NewProvider adapts New to the provider registry's factory signature.
func NewProvider() (metadata.Provider, error) {
	return New()
}

func (p *Provider) Name() string {
	return config.ProviderPubmed
}

func (p *Provider) Supports(id *identifiers.Identifier) bool {
	return id.Pmid() != "" || id.Doi() != ""
}

func (p *Provider) Lookup(ctx context.Context, id *identifiers.Identifier) (*metadata.Record, error) {
	pmid := id.Pmid()
	if pmid == "" {
		var err error
		pmid, err = p.findPmid(ctx, id.Doi())
		if err != nil {
			return nil, err
		}
		if pmid == "" {
			return nil, nil
		}
	}
	return p.fetchSummary(ctx, pmid)
}

// Search runs an esearch for the query and returns the matching PMIDs. When
// the result count exceeds the esearch cap, the search falls back to one
// query per publication year in the configured window, which keeps each
// window under the cap.
func (p *Provider) Search(ctx context.Context, query string, startYear, endYear int) ([]string, error) {
	count, err := p.searchCount(ctx, query, 0, 0)
	if err != nil {
		return nil, err
	}
	if count <= esearchCap {
		return p.searchPaged(ctx, query, 0, 0, count)
	}
	if startYear == 0 || endYear == 0 {
		slog.Warn("search exceeds the esearch cap with no year window configured; results are truncated",
			"query", query, "count", count, "cap", esearchCap)
		return p.searchPaged(ctx, query, 0, 0, esearchCap)
	}

	var ids []string
	for year := startYear; year <= endYear; year++ {
		yearCount, err := p.searchCount(ctx, query, year, year)
		if err != nil {
			return nil, err
		}
		if yearCount > esearchCap {
			slog.Warn("single-year search still exceeds the esearch cap; results are truncated",
				"query", query, "year", year, "count", yearCount)
			yearCount = esearchCap
		}
		yearIds, err := p.searchPaged(ctx, query, year, year, yearCount)
		if err != nil {
			return nil, err
		}
		ids = append(ids, yearIds...)
	}
	return ids, nil
}

// resolves a DOI to a PMID through esearch
func (p *Provider) findPmid(ctx context.Context, doi string) (string, error) {
	if doi == "" {
		return "", nil
	}
	params := url.Values{}
	params.Set("term", fmt.Sprintf("%s[DOI]", doi))
	params.Set("retmax", "1")
	result, err := p.esearch(ctx, params)
	if err != nil {
		return "", err
	}
	if len(result.IdList) == 0 {
		return "", nil
	}
	return result.IdList[0], nil
}

func (p *Provider) fetchSummary(ctx context.Context, pmid string) (*metadata.Record, error) {
	params := url.Values{}
	params.Set("id", pmid)
	resp, err := p.client.Get(ctx, p.eutilsUrl("esummary", params))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &metadata.LookupError{Provider: p.Name(), StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded esummaryResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}
	rawDoc, found := decoded.Result[pmid]
	if !found {
		return nil, nil
	}
	var doc docSummary
	if err := json.Unmarshal(rawDoc, &doc); err != nil {
		return nil, err
	}

	record := metadata.Record{Pmid: pmid}
	for _, articleId := range doc.ArticleIds {
		switch articleId.IdType {
		case "doi":
			record.Doi = articleId.Value
		case "pmc":
			record.Pmcid = articleId.Value
		}
	}
	authors := make([]metadata.Author, len(doc.Authors))
	for i, author := range doc.Authors {
		authors[i] = metadata.Author{Name: author.Name}
	}
	var raw map[string]any
	json.Unmarshal(rawDoc, &raw)
	record.Metadata = &metadata.ArticleMetadata{
		Title:           doc.Title,
		Authors:         authors,
		Journal:         doc.FullJournalName,
		PublicationYear: yearOf(doc.PubDate),
		Source:          p.Name(),
		RawMetadata:     raw,
	}
	return &record, nil
}

func (p *Provider) searchCount(ctx context.Context, query string, minYear, maxYear int) (int, error) {
	params := searchParams(query, minYear, maxYear)
	params.Set("retmax", "0")
	result, err := p.esearch(ctx, params)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(result.Count)
	if err != nil {
		return 0, fmt.Errorf("unexpected esearch count %q: %w", result.Count, err)
	}
	return count, nil
}

func (p *Provider) searchPaged(ctx context.Context, query string, minYear, maxYear, total int) ([]string, error) {
	ids := make([]string, 0, total)
	for start := 0; start < total; start += pageSize {
		params := searchParams(query, minYear, maxYear)
		params.Set("retstart", strconv.Itoa(start))
		params.Set("retmax", strconv.Itoa(pageSize))
		result, err := p.esearch(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(result.IdList) == 0 {
			break
		}
		ids = append(ids, result.IdList...)
	}
	if len(ids) > total {
		ids = ids[:total]
	}
	return ids, nil
}

func (p *Provider) esearch(ctx context.Context, params url.Values) (*esearchResult, error) {
	resp, err := p.client.Get(ctx, p.eutilsUrl("esearch", params))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &metadata.LookupError{Provider: p.Name(), StatusCode: resp.StatusCode}
	}
	var decoded esearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return &decoded.Result, nil
}

// assembles an E-utilities URL with the etiquette parameters NCBI asks for
func (p *Provider) eutilsUrl(endpoint string, params url.Values) string {
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("tool", "nsingest")
	if email := p.client.ContactEmail(); email != "" {
		params.Set("email", email)
	}
	return fmt.Sprintf("%s/%s.fcgi?%s", p.baseUrl, endpoint, params.Encode())
}

func searchParams(query string, minYear, maxYear int) url.Values {
	params := url.Values{}
	params.Set("term", query)
	if minYear != 0 && maxYear != 0 {
		params.Set("datetype", "pdat")
		params.Set("mindate", strconv.Itoa(minYear))
		params.Set("maxdate", strconv.Itoa(maxYear))
	}
	return params
}

// the JSON shapes of the E-utilities responses this provider reads
type esearchResponse struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string   `json:"count"`
	IdList []string `json:"idlist"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type docSummary struct {
	Title           string      `json:"title"`
	FullJournalName string      `json:"fulljournalname"`
	PubDate         string      `json:"pubdate"`
	Authors         []docAuthor `json:"authors"`
	ArticleIds      []articleId `json:"articleids"`
}

type docAuthor struct {
	Name string `json:"name"`
}

type articleId struct {
	IdType string `json:"idtype"`
	Value  string `json:"value"`
}

// extracts the leading year from an entrez pubdate like "2016 Feb 15"
func yearOf(pubdate string) int {
	fields := strings.Fields(pubdate)
	if len(fields) == 0 {
		return 0
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return year
}
