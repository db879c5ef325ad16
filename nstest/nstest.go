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

// This package contains testing utilities for the ingestion pipeline: fake
// backends for the source, provider, and extractor registries, a scripted
// model client, and an in-memory destination store. Fixtures registered by
// name must use names unique across the test binary, because the registries
// cache instances.
package nstest

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// Enables DEBUG log messages for the pipeline's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// CannedIdentifier returns a complete identifier triple for a real article,
// matching the fixtures sprinkled through the package tests.
func CannedIdentifier() *identifiers.Identifier {
	return identifiers.New("26507433", "10.1016/j.dcn.2015.10.001", "PMC4691364")
}

//----------------------
// Source Test Fixtures
//----------------------

// Source implements a downloads.Source test fixture: it writes one canned
// file per fetched article into the article's artifact directory and records
// the slugs it saw. Scripted failures come back as failed results, the way
// real sources report per-article trouble.
type Source struct {
	SourceName  string
	FileName    string
	FileData    []byte
	FileType    downloads.FileType
	ContentType string
	Failures    map[string]string // error message by article slug

	mutex   sync.Mutex
	fetched []string
}

// NewSource creates a source fixture serving a minimal XML article.
func NewSource(name string) *Source {
	return &Source{
		SourceName:  name,
		FileName:    "article.xml",
		FileData:    []byte("<article/>"),
		FileType:    downloads.FileTypeXml,
		ContentType: "application/xml",
		Failures:    map[string]string{},
	}
}

// RegisterSource registers the fixture with the source registry under its
// name.
func RegisterSource(source *Source) error {
	return downloads.RegisterSource(source.SourceName,
		func() (downloads.Source, error) { return source, nil })
}

func (s *Source) Name() string {
	return s.SourceName
}

func (s *Source) Supports(id *identifiers.Identifier) bool {
	return true
}

func (s *Source) Fetch(_ context.Context, id *identifiers.Identifier) (*downloads.Result, error) {
	s.mutex.Lock()
	s.fetched = append(s.fetched, id.Slug())
	s.mutex.Unlock()

	if message, found := s.Failures[id.Slug()]; found {
		return &downloads.Result{
			Identifier:   id.Clone(),
			Source:       s.SourceName,
			ErrorMessage: message,
		}, nil
	}
	file, err := downloads.WriteArtifact(downloads.ArtifactDir(id, s.SourceName),
		s.FileName, s.FileData, s.FileType, s.ContentType, s.SourceName)
	if err != nil {
		return nil, err
	}
	return &downloads.Result{
		Identifier: id.Clone(),
		Source:     s.SourceName,
		Success:    true,
		Files:      []downloads.DownloadedFile{file},
	}, nil
}

// Fetched returns the slugs of the articles fetched so far.
func (s *Source) Fetched() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string{}, s.fetched...)
}

//------------------------
// Provider Test Fixtures
//------------------------

// Provider implements a metadata.Provider test fixture serving canned
// records. Records are keyed by the slug of the identifier as the lookup
// sees it; articles without an entry yield (nil, nil), like a real miss.
type Provider struct {
	ProviderName string
	Records      map[string]*metadata.Record

	mutex   sync.Mutex
	lookups []string
}

// NewProvider creates a provider fixture that knows nothing until records
// are added.
func NewProvider(name string) *Provider {
	return &Provider{ProviderName: name, Records: map[string]*metadata.Record{}}
}

// RegisterProvider registers the fixture with the provider registry under
// its name.
func RegisterProvider(provider *Provider) error {
	return metadata.RegisterProvider(provider.ProviderName,
		func() (metadata.Provider, error) { return provider, nil })
}

func (p *Provider) Name() string {
	return p.ProviderName
}

func (p *Provider) Supports(id *identifiers.Identifier) bool {
	return true
}

func (p *Provider) Lookup(_ context.Context, id *identifiers.Identifier) (*metadata.Record, error) {
	p.mutex.Lock()
	p.lookups = append(p.lookups, id.Slug())
	p.mutex.Unlock()
	return p.Records[id.Slug()], nil
}

// Lookups returns the slugs looked up so far.
func (p *Provider) Lookups() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string{}, p.lookups...)
}

//-------------------------
// Extractor Test Fixtures
//-------------------------

// Extractor implements an extraction.Extractor test fixture serving canned
// content by article slug. Articles without an entry get minimal successful
// content, so a pipeline test can run end to end without scripting every
// article.
type Extractor struct {
	SourceName string
	Contents   map[string]*extraction.Content

	mutex     sync.Mutex
	extracted []string
}

// NewExtractor creates an extractor fixture for the named source.
func NewExtractor(sourceName string) *Extractor {
	return &Extractor{SourceName: sourceName, Contents: map[string]*extraction.Content{}}
}

// RegisterExtractor registers the fixture with the extractor registry under
// its source name.
func RegisterExtractor(extractor *Extractor) error {
	return extraction.RegisterExtractor(extractor.SourceName,
		func() (extraction.Extractor, error) { return extractor, nil })
}

func (e *Extractor) Name() string {
	return e.SourceName
}

func (e *Extractor) Validate(result *downloads.Result) error {
	return nil
}

func (e *Extractor) Extract(_ context.Context, result *downloads.Result) (*extraction.Content, error) {
	slug := result.Identifier.Slug()
	e.mutex.Lock()
	e.extracted = append(e.extracted, slug)
	e.mutex.Unlock()

	canned := e.Contents[slug]
	if canned == nil {
		return &extraction.Content{
			Slug:        slug,
			Source:      e.SourceName,
			Identifier:  result.Identifier.Clone(),
			ExtractedAt: time.Now().UTC(),
		}, nil
	}
	content := *canned
	if content.Slug == "" {
		content.Slug = slug
	}
	if content.Source == "" {
		content.Source = e.SourceName
	}
	if content.Identifier == nil {
		content.Identifier = result.Identifier.Clone()
	}
	if content.ExtractedAt.IsZero() {
		content.ExtractedAt = time.Now().UTC()
	}
	return &content, nil
}

// Extracted returns the slugs extracted so far.
func (e *Extractor) Extracted() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]string{}, e.extracted...)
}

//---------------------------
// Model Client Test Fixture
//---------------------------

// ScriptedLLM implements an llm.Client that replays scripted responses.
// ByNeedle answers take precedence when the prompt contains their key;
// otherwise Responses are consumed front to back, and an exhausted script
// answers with an empty analysis list.
type ScriptedLLM struct {
	ClientName string
	Responses  []string
	ByNeedle   map[string]string
	Err        error // returned for every call when set

	mutex sync.Mutex
	calls []string
}

// NewScriptedLLM creates a model client fixture with an empty script.
func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{ClientName: "scripted", ByNeedle: map[string]string{}}
}

func (c *ScriptedLLM) Name() string {
	return c.ClientName
}

func (c *ScriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.calls = append(c.calls, prompt)
	if c.Err != nil {
		return "", c.Err
	}
	for needle, response := range c.ByNeedle {
		if strings.Contains(prompt, needle) {
			return response, nil
		}
	}
	if len(c.Responses) == 0 {
		return `{"analyses": []}`, nil
	}
	response := c.Responses[0]
	c.Responses = c.Responses[1:]
	return response, nil
}

// Calls returns the prompts the client has answered so far.
func (c *ScriptedLLM) Calls() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string{}, c.calls...)
}
