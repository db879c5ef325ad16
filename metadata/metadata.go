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

// The metadata package holds the bibliographic metadata model and the
// provider clients that populate it. Providers are registered by name at
// startup and consulted in configured order, with per-provider disk caching.
package metadata

import (
	"github.com/neurostuff/nsingest/identifiers"
)

// Author identifies one article author.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	Orcid       string `json:"orcid,omitempty"`
}

// ArticleMetadata holds the bibliographic fields the pipeline tracks for one
// article. Source names the provider that produced the record.
type ArticleMetadata struct {
	Title           string         `json:"title,omitempty"`
	Authors         []Author       `json:"authors,omitempty"`
	Abstract        string         `json:"abstract,omitempty"`
	Journal         string         `json:"journal,omitempty"`
	PublicationYear int            `json:"publication_year,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	License         string         `json:"license,omitempty"`
	Source          string         `json:"source,omitempty"`
	OpenAccess      *bool          `json:"open_access,omitempty"`
	RawMetadata     map[string]any `json:"raw_metadata,omitempty"`
}

// MergeFrom fills this record's missing fields from another record. Two
// fields merge by preference rather than absence: the longer abstract and
// the longer author list win regardless of which record holds them.
func (m *ArticleMetadata) MergeFrom(other *ArticleMetadata) {
	if other == nil {
		return
	}
	if m.Title == "" {
		m.Title = other.Title
	}
	if len(other.Authors) > len(m.Authors) {
		m.Authors = append([]Author{}, other.Authors...)
	}
	if len(other.Abstract) > len(m.Abstract) {
		m.Abstract = other.Abstract
	}
	if m.Journal == "" {
		m.Journal = other.Journal
	}
	if m.PublicationYear == 0 {
		m.PublicationYear = other.PublicationYear
	}
	if len(m.Keywords) == 0 && len(other.Keywords) > 0 {
		m.Keywords = append([]string{}, other.Keywords...)
	}
	if m.License == "" {
		m.License = other.License
	}
	if m.Source == "" {
		m.Source = other.Source
	}
	if m.OpenAccess == nil && other.OpenAccess != nil {
		isOpen := *other.OpenAccess
		m.OpenAccess = &isOpen
	}
	if len(other.RawMetadata) > 0 {
		if m.RawMetadata == nil {
			m.RawMetadata = make(map[string]any, len(other.RawMetadata))
		}
		for key, value := range other.RawMetadata {
			if _, found := m.RawMetadata[key]; !found {
				m.RawMetadata[key] = value
			}
		}
	}
}

// Clone returns a deep-enough copy: slices and the raw map are copied, their
// elements shared.
func (m *ArticleMetadata) Clone() *ArticleMetadata {
	clone := *m
	if m.Authors != nil {
		clone.Authors = append([]Author{}, m.Authors...)
	}
	if m.Keywords != nil {
		clone.Keywords = append([]string{}, m.Keywords...)
	}
	if m.OpenAccess != nil {
		isOpen := *m.OpenAccess
		clone.OpenAccess = &isOpen
	}
	if m.RawMetadata != nil {
		clone.RawMetadata = make(map[string]any, len(m.RawMetadata))
		for key, value := range m.RawMetadata {
			clone.RawMetadata[key] = value
		}
	}
	return &clone
}

// Placeholder builds a minimal record from the strongest identifier field
// (DOI, then PMID, then PMCID) for articles no provider knows about.
func Placeholder(id *identifiers.Identifier) *ArticleMetadata {
	placeholder := ArticleMetadata{Source: "placeholder"}
	if id == nil {
		return &placeholder
	}
	switch {
	case id.Doi() != "":
		placeholder.Title = id.Doi()
	case id.Pmid() != "":
		placeholder.Title = id.Pmid()
	case id.Pmcid() != "":
		placeholder.Title = id.Pmcid()
	}
	return &placeholder
}

// Record is what a provider lookup returns: any primary identifiers the
// service knows for the article plus the metadata it keeps. A nil record
// means the provider knows nothing about the article.
type Record struct {
	Pmid     string           `json:"pmid,omitempty"`
	Doi      string           `json:"doi,omitempty"`
	Pmcid    string           `json:"pmcid,omitempty"`
	Metadata *ArticleMetadata `json:"metadata,omitempty"`
}

// ApplyTo fills the identifier's missing primary fields from this record.
// Populated fields are never replaced.
func (r *Record) ApplyTo(id *identifiers.Identifier) {
	if r == nil || id == nil {
		return
	}
	if id.Pmid() == "" && r.Pmid != "" {
		id.SetPmid(r.Pmid)
	}
	if id.Doi() == "" && r.Doi != "" {
		id.SetDoi(r.Doi)
	}
	if id.Pmcid() == "" && r.Pmcid != "" {
		id.SetPmcid(r.Pmcid)
	}
}
