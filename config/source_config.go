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

package config

import "fmt"

// canonical source and provider names
const (
	SourcePubget   = "pubget"
	SourceElsevier = "elsevier"
	SourceAce      = "ace"

	ProviderSemanticScholar = "semantic_scholar"
	ProviderPubmed          = "pubmed"
	ProviderExtractor       = "extractor"
)

// settings for the download stage
type downloadConfig struct {
	Sources []string `yaml:"sources"`
}

func (c *downloadConfig) applyDefaults() {
	c.Sources = []string{SourcePubget, SourceElsevier, SourceAce}
}

func (c downloadConfig) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("no download sources were provided")
	}
	return nil
}

// per-backend client settings, keyed by source or provider name
type sourceConfig struct {
	BaseUrl   string  `yaml:"base_url"`
	MaxRps    float64 `yaml:"max_rps"`
	ApiKeyEnv string  `yaml:"api_key_env"`
}

// polite defaults for the public APIs each backend talks to
func defaultSourceConfigs() map[string]sourceConfig {
	return map[string]sourceConfig{
		SourcePubget: {
			MaxRps: 3, // NCBI allows 3 rps without an API key
		},
		SourceElsevier: {
			MaxRps:    6,
			ApiKeyEnv: "NSINGEST_ELSEVIER_API_KEY",
		},
		SourceAce: {
			MaxRps: 1, // scraping publisher pages warrants extra restraint
		},
		ProviderSemanticScholar: {
			MaxRps:    1,
			ApiKeyEnv: "NSINGEST_S2_API_KEY",
		},
		ProviderPubmed: {
			MaxRps: 3,
		},
	}
}

// SourceFor returns the client settings for the named source or provider,
// falling back to conservative defaults for names without a section.
func SourceFor(name string) sourceConfig {
	if conf, found := Sources[name]; found {
		return conf
	}
	return sourceConfig{MaxRps: 1}
}

// settings for the gather stage
type gatherConfig struct {
	MetadataProviders []string            `yaml:"metadata_providers"`
	SearchQueries     []searchQueryConfig `yaml:"search_queries"`
	ManifestLabel     string              `yaml:"manifest_label"`
}

// one bibliographic search: a query expression plus an optional publication
// year window used when results exceed the per-query cap
type searchQueryConfig struct {
	Query     string `yaml:"query"`
	StartYear int    `yaml:"start_year"`
	EndYear   int    `yaml:"end_year"`
}

func (c *gatherConfig) applyDefaults() {
	c.MetadataProviders = []string{ProviderSemanticScholar, ProviderPubmed}
}

func (c gatherConfig) validate() error {
	if len(c.MetadataProviders) == 0 {
		return fmt.Errorf("no metadata providers were provided")
	}
	for _, query := range c.SearchQueries {
		if query.Query == "" {
			return fmt.Errorf("empty search query")
		}
	}
	return nil
}
