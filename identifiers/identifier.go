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

// The identifiers package holds the canonical article identifier model: a
// normalized (pmid, doi, pmcid, neurostore) record, its filesystem-safe slug,
// and an ordered, index-backed collection of such records.
package identifiers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// names of the primary identifier fields, in slug order
const (
	KeyPmid       = "pmid"
	KeyDoi        = "doi"
	KeyPmcid      = "pmcid"
	KeyNeurostore = "neurostore"
)

// an article identifier record -- all fields are kept normalized, so the
// slug derived from the primary triple is stable across mutations
type Identifier struct {
	pmid       string
	doi        string
	pmcid      string
	neurostore string
	otherIds   map[string]string
}

// creates an Identifier from raw identifier strings, normalizing each
func New(pmid, doi, pmcid string) *Identifier {
	return &Identifier{
		pmid:  NormalizePmid(pmid),
		doi:   NormalizeDoi(doi),
		pmcid: NormalizePmcid(pmcid),
	}
}

// creates an Identifier from a string mapping; the four primary keys are
// recognized by name and every other key lands in the open sub-mapping
func FromMap(fields map[string]string) *Identifier {
	id := &Identifier{}
	for key, value := range fields {
		switch key {
		case KeyPmid:
			id.SetPmid(value)
		case KeyDoi:
			id.SetDoi(value)
		case KeyPmcid:
			id.SetPmcid(value)
		case KeyNeurostore:
			id.SetNeurostore(value)
		default:
			id.SetOther(key, value)
		}
	}
	return id
}

func (id *Identifier) Pmid() string       { return id.pmid }
func (id *Identifier) Doi() string        { return id.doi }
func (id *Identifier) Pmcid() string      { return id.pmcid }
func (id *Identifier) Neurostore() string { return id.neurostore }

func (id *Identifier) SetPmid(value string)  { id.pmid = NormalizePmid(value) }
func (id *Identifier) SetDoi(value string)   { id.doi = NormalizeDoi(value) }
func (id *Identifier) SetPmcid(value string) { id.pmcid = NormalizePmcid(value) }

func (id *Identifier) SetNeurostore(value string) {
	id.neurostore = strings.TrimSpace(value)
}

// fetches a non-primary identifier by name
func (id *Identifier) Other(key string) (string, bool) {
	value, found := id.otherIds[key]
	return value, found
}

// records a non-primary identifier (blank values are dropped)
func (id *Identifier) SetOther(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if id.otherIds == nil {
		id.otherIds = make(map[string]string)
	}
	id.otherIds[key] = value
}

// returns the primary field with the given name
func (id *Identifier) Get(key string) string {
	switch key {
	case KeyPmid:
		return id.pmid
	case KeyDoi:
		return id.doi
	case KeyPmcid:
		return id.pmcid
	case KeyNeurostore:
		return id.neurostore
	}
	return ""
}

// Slug returns the stable cache / filesystem key for this identifier:
// "{pmid}|{doi}|{pmcid}" with any '/' replaced by '_'. Two identifiers with
// the same primary triple share a slug even if their other ids differ.
func (id *Identifier) Slug() string {
	slug := fmt.Sprintf("%s|%s|%s", id.pmid, id.doi, id.pmcid)
	return strings.ReplaceAll(slug, "/", "_")
}

// two identifiers are equal iff their slugs match
func (id *Identifier) Equal(other *Identifier) bool {
	return other != nil && id.Slug() == other.Slug()
}

// true if every primary id (pmid, doi, pmcid) is populated
func (id *Identifier) IsComplete() bool {
	return id.pmid != "" && id.doi != "" && id.pmcid != ""
}

// true if no primary id is populated
func (id *Identifier) IsEmpty() bool {
	return id.pmid == "" && id.doi == "" && id.pmcid == "" && id.neurostore == ""
}

// copies fields that are populated in other but absent here
func (id *Identifier) FillFrom(other *Identifier) {
	if other == nil {
		return
	}
	if id.pmid == "" {
		id.pmid = other.pmid
	}
	if id.doi == "" {
		id.doi = other.doi
	}
	if id.pmcid == "" {
		id.pmcid = other.pmcid
	}
	if id.neurostore == "" {
		id.neurostore = other.neurostore
	}
	for key, value := range other.otherIds {
		if _, found := id.otherIds[key]; !found {
			id.SetOther(key, value)
		}
	}
}

// returns an independent copy
func (id *Identifier) Clone() *Identifier {
	clone := &Identifier{
		pmid:       id.pmid,
		doi:        id.doi,
		pmcid:      id.pmcid,
		neurostore: id.neurostore,
	}
	if len(id.otherIds) > 0 {
		clone.otherIds = make(map[string]string, len(id.otherIds))
		for key, value := range id.otherIds {
			clone.otherIds[key] = value
		}
	}
	return clone
}

// ToMap renders the identifier as a flat string mapping; primary keys use
// their canonical names and other ids appear under their own keys.
func (id *Identifier) ToMap() map[string]string {
	fields := make(map[string]string)
	if id.pmid != "" {
		fields[KeyPmid] = id.pmid
	}
	if id.doi != "" {
		fields[KeyDoi] = id.doi
	}
	if id.pmcid != "" {
		fields[KeyPmcid] = id.pmcid
	}
	if id.neurostore != "" {
		fields[KeyNeurostore] = id.neurostore
	}
	for key, value := range id.otherIds {
		fields[key] = value
	}
	return fields
}

func (id *Identifier) String() string {
	return id.Slug()
}

// wire form used for JSON (manifests, cache rows, pond trees)
type identifierRecord struct {
	Pmid       string            `json:"pmid,omitempty"`
	Doi        string            `json:"doi,omitempty"`
	Pmcid      string            `json:"pmcid,omitempty"`
	Neurostore string            `json:"neurostore,omitempty"`
	OtherIds   map[string]string `json:"other_ids,omitempty"`
}

func (id *Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(identifierRecord{
		Pmid:       id.pmid,
		Doi:        id.doi,
		Pmcid:      id.pmcid,
		Neurostore: id.neurostore,
		OtherIds:   id.otherIds,
	})
}

func (id *Identifier) UnmarshalJSON(data []byte) error {
	var record identifierRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}
	id.SetPmid(record.Pmid)
	id.SetDoi(record.Doi)
	id.SetPmcid(record.Pmcid)
	id.SetNeurostore(record.Neurostore)
	for key, value := range record.OtherIds {
		id.SetOther(key, value)
	}
	return nil
}

const pubmedUrlPrefix = "https://pubmed.ncbi.nlm.nih.gov/"

// NormalizePmid strips the PubMed URL prefix and any trailing slash from a
// raw PMID. Blank input normalizes to the empty string.
func NormalizePmid(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, pubmedUrlPrefix)
	value = strings.TrimPrefix(value, "http://pubmed.ncbi.nlm.nih.gov/")
	return strings.TrimSuffix(value, "/")
}

// NormalizeDoi reduces a raw DOI to its "10.xxxx/..." form: URL forms keep
// everything from the first "10." segment, and a leading "doi:" is dropped.
func NormalizeDoi(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(value), "http") {
		if index := strings.Index(value, "10."); index >= 0 {
			value = value[index:]
		}
	}
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "doi:") {
		value = strings.TrimSpace(value[len("doi:"):])
	}
	return value
}

// NormalizePmcid guarantees the "PMC" prefix on a raw PMC identifier.
func NormalizePmcid(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToUpper(value), "PMC") {
		return "PMC" + value[3:]
	}
	return "PMC" + value
}
